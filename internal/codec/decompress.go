package codec

import (
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// DecoderPool hands out decompressing readers, reusing zstd decoders
// across calls to reduce allocation overhead.
type DecoderPool struct {
	zstd             sync.Pool
	maxDecoderMemory uint64
}

// NewDecoderPool creates a pool. If maxDecoderMemory is 0, zstd decoders
// are not memory-limited.
func NewDecoderPool(maxDecoderMemory uint64) *DecoderPool {
	return &DecoderPool{maxDecoderMemory: maxDecoderMemory}
}

// NewReader returns a reader yielding the decompressed form of r.
// The caller must Close the returned reader; Close does not close r.
func (p *DecoderPool) NewReader(r io.Reader, m Method) (io.ReadCloser, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	switch m.Algorithm {
	case AlgorithmNone:
		return io.NopCloser(r), nil
	case AlgorithmDeflate:
		return flate.NewReader(r), nil
	case AlgorithmGzip:
		return gzip.NewReader(r)
	case AlgorithmLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return p.zstdReader(r)
	}
}

func (p *DecoderPool) zstdReader(r io.Reader) (io.ReadCloser, error) {
	if dec, ok := p.zstd.Get().(*zstd.Decoder); ok {
		if err := dec.Reset(r); err == nil {
			return &pooledDecoder{Decoder: dec, pool: p}, nil
		}
		dec.Close()
	}

	dec, err := p.newZstdDecoder(r)
	if err != nil {
		return nil, err
	}
	return &pooledDecoder{Decoder: dec, pool: p}, nil
}

func (p *DecoderPool) newZstdDecoder(r io.Reader) (*zstd.Decoder, error) {
	opts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
	if p.maxDecoderMemory != 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(p.maxDecoderMemory))
	}
	return zstd.NewReader(r, opts...)
}

// pooledDecoder returns its decoder to the pool on Close.
type pooledDecoder struct {
	*zstd.Decoder
	pool   *DecoderPool
	closed bool
}

func (d *pooledDecoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	_ = d.Reset(nil) //nolint:errcheck // clearing state before pool return
	d.pool.zstd.Put(d.Decoder)
	return nil
}
