// Package codec implements the per-file compression methods of a bar archive.
//
// A method is a (quality, algorithm) pair written as "{quality}-{algorithm}",
// or the literal "none". Quality maps onto each algorithm's own level scale:
//
//	            fast           medium         high
//	deflate     1              5              9
//	gzip        1              5              9
//	zstd        SpeedFastest   SpeedDefault   SpeedBestCompression
//	lz4         Fast           Level5         Level9
package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrUnknownMethod is returned when a method string or value is not recognized.
var ErrUnknownMethod = errors.New("unknown compression method")

// Quality selects the speed/ratio trade-off of an algorithm.
type Quality uint8

const (
	QualityFast Quality = iota + 1
	QualityMedium
	QualityHigh
)

// String returns the quality name used in method strings.
func (q Quality) String() string {
	switch q {
	case QualityFast:
		return "fast"
	case QualityMedium:
		return "medium"
	case QualityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Algorithm identifies the compression algorithm of a file blob.
type Algorithm uint8

const (
	AlgorithmNone Algorithm = iota
	AlgorithmDeflate
	AlgorithmGzip
	AlgorithmZstd
	AlgorithmLZ4
)

// String returns the algorithm name used in method strings.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmDeflate:
		return "deflate"
	case AlgorithmGzip:
		return "gzip"
	case AlgorithmZstd:
		return "zstd"
	case AlgorithmLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// Method is a (quality, algorithm) pair. The zero value stores data as-is.
type Method struct {
	Quality   Quality
	Algorithm Algorithm
}

// None stores file bytes uncompressed.
var None = Method{}

// IsNone reports whether m leaves data uncompressed.
func (m Method) IsNone() bool {
	return m.Algorithm == AlgorithmNone
}

// Validate checks that m names a known algorithm at a known quality.
func (m Method) Validate() error {
	if m.IsNone() {
		return nil
	}
	if m.Algorithm > AlgorithmLZ4 {
		return fmt.Errorf("%w: algorithm %d", ErrUnknownMethod, m.Algorithm)
	}
	if m.Quality < QualityFast || m.Quality > QualityHigh {
		return fmt.Errorf("%w: quality %d", ErrUnknownMethod, m.Quality)
	}
	return nil
}

// String renders m in the header grammar, e.g. "high-gzip" or "none".
func (m Method) String() string {
	if m.IsNone() {
		return "none"
	}
	return m.Quality.String() + "-" + m.Algorithm.String()
}

// MarshalText implements encoding.TextMarshaler.
func (m Method) MarshalText() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Method) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Parse parses a method string. Matching is case-insensitive.
func Parse(s string) (Method, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "none" {
		return None, nil
	}
	quality, algorithm, ok := strings.Cut(s, "-")
	if !ok {
		return None, fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}

	var m Method
	switch quality {
	case "fast":
		m.Quality = QualityFast
	case "medium":
		m.Quality = QualityMedium
	case "high":
		m.Quality = QualityHigh
	default:
		return None, fmt.Errorf("%w: quality %q", ErrUnknownMethod, quality)
	}
	switch algorithm {
	case "deflate":
		m.Algorithm = AlgorithmDeflate
	case "gzip":
		m.Algorithm = AlgorithmGzip
	case "zstd":
		m.Algorithm = AlgorithmZstd
	case "lz4":
		m.Algorithm = AlgorithmLZ4
	default:
		return None, fmt.Errorf("%w: algorithm %q", ErrUnknownMethod, algorithm)
	}
	return m, nil
}

// flateLevel maps quality onto the deflate level scale shared by gzip.
func (m Method) flateLevel() int {
	switch m.Quality {
	case QualityFast:
		return flate.BestSpeed
	case QualityHigh:
		return flate.BestCompression
	default:
		return 5
	}
}

func (m Method) zstdLevel() zstd.EncoderLevel {
	switch m.Quality {
	case QualityFast:
		return zstd.SpeedFastest
	case QualityHigh:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func (m Method) lz4Level() lz4.CompressionLevel {
	switch m.Quality {
	case QualityFast:
		return lz4.Fast
	case QualityHigh:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}
