package codec

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allMethods() []Method {
	methods := []Method{None}
	for _, a := range []Algorithm{AlgorithmDeflate, AlgorithmGzip, AlgorithmZstd, AlgorithmLZ4} {
		for _, q := range []Quality{QualityFast, QualityMedium, QualityHigh} {
			methods = append(methods, Method{Quality: q, Algorithm: a})
		}
	}
	return methods
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Method
		wantErr bool
	}{
		{in: "none", want: None},
		{in: "NONE", want: None},
		{in: "high-gzip", want: Method{QualityHigh, AlgorithmGzip}},
		{in: "fast-deflate", want: Method{QualityFast, AlgorithmDeflate}},
		{in: "Medium-Zstd", want: Method{QualityMedium, AlgorithmZstd}},
		{in: "high-lz4", want: Method{QualityHigh, AlgorithmLZ4}},
		{in: "ultra-gzip", wantErr: true},
		{in: "high-brotli", wantErr: true},
		{in: "gzip", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownMethod)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMethodStringRoundTrip(t *testing.T) {
	t.Parallel()

	for _, m := range allMethods() {
		parsed, err := Parse(m.String())
		require.NoError(t, err, m.String())
		assert.Equal(t, m, parsed)
	}
}

func TestMethodValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, None.Validate())
	assert.ErrorIs(t, Method{Algorithm: AlgorithmGzip}.Validate(), ErrUnknownMethod)
	assert.ErrorIs(t, Method{Quality: QualityHigh, Algorithm: 42}.Validate(), ErrUnknownMethod)
}

func TestQualityLevelsAreMonotonic(t *testing.T) {
	t.Parallel()

	fast := Method{QualityFast, AlgorithmDeflate}.flateLevel()
	medium := Method{QualityMedium, AlgorithmDeflate}.flateLevel()
	high := Method{QualityHigh, AlgorithmDeflate}.flateLevel()
	assert.Less(t, fast, medium)
	assert.Less(t, medium, high)

	assert.Less(t, Method{QualityFast, AlgorithmZstd}.zstdLevel(), Method{QualityHigh, AlgorithmZstd}.zstdLevel())
	assert.Less(t, Method{QualityFast, AlgorithmLZ4}.lz4Level(), Method{QualityHigh, AlgorithmLZ4}.lz4Level())
}

func TestCompressRoundTrip(t *testing.T) {
	t.Parallel()

	src := bytes.Repeat([]byte("land down under "), 512)
	pool := NewDecoderPool(0)

	for _, m := range allMethods() {
		t.Run(m.String(), func(t *testing.T) {
			t.Parallel()

			packed, err := Compress(src, m)
			require.NoError(t, err)
			if !m.IsNone() {
				assert.Less(t, len(packed), len(src))
			}

			r, err := pool.NewReader(bytes.NewReader(packed), m)
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			assert.Equal(t, src, got)
		})
	}
}

func TestCompressEmpty(t *testing.T) {
	t.Parallel()

	pool := NewDecoderPool(0)
	for _, m := range allMethods() {
		packed, err := Compress(nil, m)
		require.NoError(t, err)
		r, err := pool.NewReader(bytes.NewReader(packed), m)
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err, m.String())
		assert.Empty(t, got)
	}
}

func TestDecompressCorrupt(t *testing.T) {
	t.Parallel()

	garbage := bytes.Repeat([]byte{0xff, 0x00, 0x13}, 64)
	pool := NewDecoderPool(0)
	for _, m := range []Method{
		{QualityHigh, AlgorithmDeflate},
		{QualityHigh, AlgorithmGzip},
		{QualityHigh, AlgorithmZstd},
		{QualityHigh, AlgorithmLZ4},
	} {
		t.Run(m.String(), func(t *testing.T) {
			t.Parallel()
			r, err := pool.NewReader(bytes.NewReader(garbage), m)
			if err != nil {
				return
			}
			defer r.Close()
			_, err = io.ReadAll(r)
			assert.Error(t, err)
		})
	}
}

func TestDecoderPoolReuse(t *testing.T) {
	t.Parallel()

	m := Method{QualityMedium, AlgorithmZstd}
	pool := NewDecoderPool(64 << 20)
	for i := range 4 {
		src := bytes.Repeat([]byte{byte('a' + i)}, 4096)
		packed, err := Compress(src, m)
		require.NoError(t, err)

		r, err := pool.NewReader(bytes.NewReader(packed), m)
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		require.NoError(t, r.Close())
		assert.Equal(t, src, got)
	}
}
