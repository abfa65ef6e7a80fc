package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compress returns src encoded with m. For None the input slice is returned as-is.
func Compress(src []byte, m Method) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	switch m.Algorithm {
	case AlgorithmNone:
		return src, nil
	case AlgorithmZstd:
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(m.zstdLevel()),
			zstd.WithEncoderConcurrency(1),
			zstd.WithZeroFrames(true),
		)
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
	}

	var buf bytes.Buffer
	buf.Grow(len(src) / 2)
	w, err := newWriter(&buf, m)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("%s: %w", m, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s: %w", m, err)
	}
	return buf.Bytes(), nil
}

// newWriter returns a streaming encoder for the stream-oriented algorithms.
func newWriter(w io.Writer, m Method) (io.WriteCloser, error) {
	switch m.Algorithm {
	case AlgorithmDeflate:
		return flate.NewWriter(w, m.flateLevel())
	case AlgorithmGzip:
		return gzip.NewWriterLevel(w, m.flateLevel())
	case AlgorithmLZ4:
		lw := lz4.NewWriter(w)
		if err := lw.Apply(lz4.CompressionLevelOption(m.lz4Level())); err != nil {
			return nil, fmt.Errorf("configure lz4: %w", err)
		}
		return lw, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, m)
	}
}
