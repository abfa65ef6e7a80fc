// Package testutil provides byte sources and fixtures shared by tests.
package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

// MockByteSource implements a simple in-memory byte source for tests.
// It counts reads and can be told to fail them.
type MockByteSource struct {
	data     []byte
	sourceID string
	reads    atomic.Int64
	failErr  atomic.Pointer[error]
}

// NewMockByteSource returns a byte source backed by the provided data.
func NewMockByteSource(data []byte) *MockByteSource {
	sum := sha256.Sum256(data)
	return &MockByteSource{
		data:     data,
		sourceID: "mock:" + hex.EncodeToString(sum[:]),
	}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *MockByteSource) ReadAt(p []byte, off int64) (int, error) {
	m.reads.Add(1)
	if errp := m.failErr.Load(); errp != nil {
		return 0, *errp
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if off+int64(n) >= int64(len(m.data)) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (m *MockByteSource) Size() int64 {
	return int64(len(m.data))
}

// SourceID returns a stable identifier for the source data.
func (m *MockByteSource) SourceID() string {
	return m.sourceID
}

// Bytes returns the backing slice for tests that need to mutate data.
func (m *MockByteSource) Bytes() []byte {
	return m.data
}

// Reads returns the number of ReadAt calls so far.
func (m *MockByteSource) Reads() int64 {
	return m.reads.Load()
}

// FailReads makes every later ReadAt return err. A nil err restores reads.
func (m *MockByteSource) FailReads(err error) {
	if err == nil {
		m.failErr.Store(nil)
		return
	}
	m.failErr.Store(&err)
}

// RandomBytes returns n pseudo-random bytes determined by seed.
func RandomBytes(seed uint64, n int) []byte {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.Uint32())
	}
	return b
}

// CompressibleBytes returns n bytes of repetitive text.
func CompressibleBytes(n int) []byte {
	const line = "the quick brown fox jumps over the lazy dog\n"
	b := make([]byte, n)
	for i := range b {
		b[i] = line[i%len(line)]
	}
	return b
}

// WriteFiles creates files under dir from a map of slash-separated relative
// paths to contents, creating parent directories as needed.
func WriteFiles(tb testing.TB, dir string, files map[string][]byte) {
	tb.Helper()
	for rel, data := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			tb.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(p, data, 0o644); err != nil {
			tb.Fatalf("write %s: %v", rel, err)
		}
	}
}
