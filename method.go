package bar

import (
	"strings"

	"github.com/meigma/bar/internal/codec"
	"github.com/meigma/bar/internal/write"
)

// Re-export compression types from internal/codec for the public API.
type (
	// Method is a (quality, algorithm) compression selector; the zero value is "none".
	Method = codec.Method

	// Quality selects the speed/ratio trade-off of a Method.
	Quality = codec.Quality

	// Algorithm identifies the compression algorithm of a Method.
	Algorithm = codec.Algorithm
)

// Re-export quality and algorithm constants.
const (
	QualityFast   = codec.QualityFast
	QualityMedium = codec.QualityMedium
	QualityHigh   = codec.QualityHigh

	AlgorithmNone    = codec.AlgorithmNone
	AlgorithmDeflate = codec.AlgorithmDeflate
	AlgorithmGzip    = codec.AlgorithmGzip
	AlgorithmZstd    = codec.AlgorithmZstd
	AlgorithmLZ4     = codec.AlgorithmLZ4
)

// MethodNone stores file bytes uncompressed.
var MethodNone = codec.None

// ParseMethod parses "none" or "{fast|medium|high}-{deflate|gzip|zstd|lz4}".
func ParseMethod(s string) (Method, error) {
	m, err := codec.Parse(s)
	if err != nil {
		return MethodNone, formatErr("parse method", "", "compress_method", ErrUnknownTag, "%q", strings.TrimSpace(s))
	}
	return m, nil
}

// MustParseMethod is like ParseMethod but panics on error.
func MustParseMethod(s string) Method {
	m, err := ParseMethod(s)
	if err != nil {
		panic(err)
	}
	return m
}

// SkipCompressionFunc returns true when a file should be stored uncompressed
// even though the archive default compresses. It is called once per file and
// should be inexpensive.
type SkipCompressionFunc = write.SkipCompressionFunc

// DefaultSkipCompression returns a SkipCompressionFunc that skips files
// smaller than minSize and files with already-compressed extensions.
var DefaultSkipCompression = write.DefaultSkipCompression
