package scanner

import (
	"testing"
)

func FuzzScanner(f *testing.F) {
	f.Add([]byte("<< /Type /Page >>"))
	f.Add([]byte("[ 1 2 3 0 R ]"))
	f.Add([]byte("stream\n...data...\nendstream"))
	f.Add([]byte("(Hello \\123 World)"))
	f.Add([]byte("<AABBCC>"))
	f.Add([]byte("--.5 . 5. %%EOF"))

	f.Fuzz(func(t *testing.T, data []byte) {
		s := FromBytes(data, Config{
			MaxStringLength: 1024,
			MaxStreamLength: 1024,
			WindowSize:      64,
		})
		for i := 0; i < len(data)+1; i++ {
			start := s.Position()
			if _, err := s.Next(); err != nil {
				break
			}
			if s.Position() <= start {
				t.Fatalf("tokenizer did not advance at %d", start)
			}
		}
		_, _ = s.LastEOF()
	})
}
