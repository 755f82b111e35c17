package document

import "github.com/pkg/errors"

var (
	// ErrFlushed is returned when an object is read or modified after it was
	// written to the output and released.
	ErrFlushed = errors.New("object already flushed")
	// ErrReadOnly is returned by write operations on a document opened
	// without an output.
	ErrReadOnly = errors.New("document is read-only")
	ErrClosed   = errors.New("document is closed")
	ErrNotFound = errors.New("object not found")
	// ErrPageRange is returned for page numbers outside 1..NumPages.
	ErrPageRange = errors.New("page number out of range")
	// ErrEncrypted is returned when stamping an encrypted document.
	ErrEncrypted = errors.New("encrypted documents cannot be modified")
)
