package compress

import (
	"bytes"
	"io"
	"strings"
)

// OutputType is the single format every re-encoded file is written as.
const OutputType = "image/jpeg"

// File is a named, typed byte buffer. A file returned by Compress is either
// the caller's own *File (passthrough) or a freshly assembled one.
type File struct {
	Name string
	Type string
	Data []byte
}

func (f *File) Size() int {
	return len(f.Data)
}

// Open returns a new reader over the file contents. Callers must Close it.
func (f *File) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.Data)), nil
}

// IsImageType reports whether mimeType names an image media type.
func IsImageType(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}
