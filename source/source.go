// Package source provides random-access byte sources used to read PDF files:
// heap buffers, memory-mapped files, plain file handles and paged windows
// over large files. All sources are safe for concurrent reads.
package source

import (
	"github.com/pkg/errors"
)

// ByteSource is a read-only, random-access view over a sequence of bytes.
//
// Get returns the byte at pos (0..255), or -1 when pos is at or past the end.
// GetRange fills dst from pos and returns the number of bytes copied, which
// may be less than len(dst) near the end; it returns -1 only when pos is
// already at or past the end. Negative positions are rejected with
// ErrIllegalArgument and any read after Close fails with ErrClosed.
// Close may be called more than once.
type ByteSource interface {
	Get(pos int64) (int, error)
	GetRange(pos int64, dst []byte) (int, error)
	Length() int64
	Close() error
}

// MaxMappedLength is the largest region a single mapping may cover.
const MaxMappedLength = int64(1<<31 - 1)

var (
	// ErrClosed is returned when a source is used after Close.
	ErrClosed = errors.New("already closed")

	// ErrIllegalArgument is returned for positions or lengths outside the
	// addressable range of a source.
	ErrIllegalArgument = errors.New("illegal argument")
)

func checkPos(pos int64) error {
	if pos < 0 {
		return errors.Wrapf(ErrIllegalArgument, "negative position %d", pos)
	}
	return nil
}

// copyAt is the shared GetRange implementation for sources backed by a
// contiguous slice.
func copyAt(buf []byte, pos int64, dst []byte) int {
	if pos >= int64(len(buf)) {
		return -1
	}
	return copy(dst, buf[pos:])
}

// ReadFull reads exactly len(dst) bytes at pos, looping over short reads.
// It returns io.ErrUnexpectedEOF semantics as a wrapped error when the source
// ends early.
func ReadFull(src ByteSource, pos int64, dst []byte) error {
	read := 0
	for read < len(dst) {
		n, err := src.GetRange(pos+int64(read), dst[read:])
		if err != nil {
			return err
		}
		if n <= 0 {
			return errors.Errorf("short read at offset %d: got %d of %d bytes", pos, read, len(dst))
		}
		read += n
	}
	return nil
}

// Bytes copies the whole content of src into memory.
func Bytes(src ByteSource) ([]byte, error) {
	n := src.Length()
	if n < 0 {
		return nil, errors.Wrap(ErrIllegalArgument, "source length unknown")
	}
	out := make([]byte, n)
	if err := ReadFull(src, 0, out); err != nil {
		return nil, err
	}
	return out, nil
}
