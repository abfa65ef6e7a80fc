package bar

import (
	"errors"
	"io"
	"os"
)

// ByteSource provides random access to a complete archive.
//
// Implementations exist for byte slices (*bytes.Reader), local files and
// HTTP range requests (package http).
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// fileSource adapts an open file of known size to ByteSource.
type fileSource struct {
	f    *os.File
	size int64
}

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s *fileSource) Size() int64 {
	return s.size
}

// SourceID identifies the file for logging.
func (s *fileSource) SourceID() string {
	return "file:" + s.f.Name()
}

// readFullAt fills p from src at off. A short read is io.ErrUnexpectedEOF.
func readFullAt(src io.ReaderAt, p []byte, off int64) error {
	n, err := src.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// sourceError marks a failure of the backing store, as opposed to malformed
// data, so extraction can report it as an I/O error.
type sourceError struct {
	err error
}

func (e *sourceError) Error() string { return e.err.Error() }

func (e *sourceError) Unwrap() error { return e.err }

// sourceReader tags every non-EOF error from r as a sourceError.
type sourceReader struct {
	r io.Reader
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, &sourceError{err: err}
	}
	return n, err
}
