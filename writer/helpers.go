package writer

import (
	"crypto/rand"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/wudi/pdfkernel/filters"
	"github.com/wudi/pdfkernel/ir/raw"
)

// WriteHeader writes the %PDF-x.y line and a binary marker comment.
func WriteHeader(o *OutputStream, cfg Config) error {
	o.WriteString("%PDF-")
	o.WriteString(pdfVersion(cfg))
	o.WriteString("\n%\xE2\xE3\xCF\xD3\n")
	return o.Err()
}

// FileID derives the two /ID strings from seed. In deterministic mode both
// are the first 16 bytes of the BLAKE2b-256 digest of seed; otherwise
// random bytes are mixed in.
func FileID(seed []byte, deterministic bool) [2][]byte {
	h, _ := blake2b.New256(nil)
	h.Write(seed)
	if !deterministic {
		var salt [16]byte
		if _, err := rand.Read(salt[:]); err == nil {
			h.Write(salt[:])
		}
	}
	id := h.Sum(nil)[:16]
	idB := make([]byte, len(id))
	copy(idB, id)
	return [2][]byte{id, idB}
}

// Trailer holds the values written into a trailer dictionary.
type Trailer struct {
	Size int
	Root raw.ObjectRef
	Info *raw.ObjectRef
	ID   [2][]byte
	// Prev is the offset of the previous section for incremental updates.
	Prev int64
}

func BuildTrailer(t Trailer) *raw.DictObj {
	trailer := raw.Dict()
	trailer.Put("Size", raw.NumberInt(int64(t.Size)))
	if t.Root.Num > 0 {
		trailer.Put("Root", t.Root.Object())
	}
	if t.Info != nil {
		trailer.Put("Info", t.Info.Object())
	}
	if t.ID[0] != nil {
		trailer.Put("ID", raw.NewArray(raw.HexStr(t.ID[0]), raw.HexStr(t.ID[1])))
	}
	if t.Prev > 0 {
		trailer.Put("Prev", raw.NumberInt(t.Prev))
	}
	return trailer
}

// CompressStream encodes an unfiltered stream with the filter selected by
// cfg. Streams that already carry /Filter are left alone. It reports
// whether the stream was changed.
func CompressStream(st *raw.StreamObj, cfg Config) (bool, error) {
	f := pickContentFilter(cfg)
	if f == FilterNone || st == nil {
		return false, nil
	}
	if st.Dict == nil {
		st.Dict = raw.Dict()
	}
	if st.Dict.Has("Filter") {
		return false, nil
	}
	data, err := filters.Encode(f.Name(), st.Data)
	if err != nil {
		return false, errors.Wrapf(err, "encode %s", f.Name())
	}
	st.Data = data
	st.Dict.Put("Filter", raw.NameLiteral(f.Name()))
	st.Dict.Put("Length", raw.NumberInt(int64(len(data))))
	return true, nil
}
