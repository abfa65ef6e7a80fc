package bar

import (
	"bytes"
	"io"
	"os"
)

// Content supplies the bytes of a file being written into an archive.
// Open is called once per build, possibly from a worker goroutine.
type Content interface {
	Open() (io.ReadCloser, error)
}

// ContentFunc adapts a function to the Content interface.
type ContentFunc func() (io.ReadCloser, error)

// Open calls f.
func (f ContentFunc) Open() (io.ReadCloser, error) {
	return f()
}

// BytesContent returns Content reading from b. b must not be modified
// while a build is using it.
func BytesContent(b []byte) Content {
	return ContentFunc(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	})
}

// FileContent returns Content reading the named file from disk.
func FileContent(name string) Content {
	return ContentFunc(func() (io.ReadCloser, error) {
		return os.Open(name)
	})
}

// emptyContent is used for files created without a content source.
var emptyContent = BytesContent(nil)
