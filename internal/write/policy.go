// Package write holds the per-file compression policy used while building archives.
package write

import (
	"path"
	"strings"

	"github.com/meigma/bar/internal/codec"
)

// SkipCompressionFunc returns true when a file should be stored uncompressed.
// size is the uncompressed length of the file in bytes.
type SkipCompressionFunc func(path string, size int64) bool

// DefaultSkipCompression returns a SkipCompressionFunc that skips files
// smaller than minSize and known already-compressed extensions.
func DefaultSkipCompression(minSize int64) SkipCompressionFunc {
	return func(p string, size int64) bool {
		if minSize > 0 && size < minSize {
			return true
		}
		_, ok := compressedExts[strings.ToLower(path.Ext(p))]
		return ok
	}
}

// Policy resolves the compression method for each file.
type Policy struct {
	Default Method
	Skip    []SkipCompressionFunc
}

// Method is an alias for codec.Method.
type Method = codec.Method

// Resolve picks the method for a file: an explicit override wins, then any
// matching skip predicate stores the file uncompressed, then the default applies.
func (p Policy) Resolve(path string, size int64, override *Method) Method {
	if override != nil {
		return *override
	}
	if p.Default.IsNone() {
		return codec.None
	}
	for _, fn := range p.Skip {
		if fn != nil && fn(path, size) {
			return codec.None
		}
	}
	return p.Default
}

var compressedExts = map[string]struct{}{
	".7z":    {},
	".aac":   {},
	".avif":  {},
	".br":    {},
	".bz2":   {},
	".flac":  {},
	".gif":   {},
	".gz":    {},
	".heic":  {},
	".jpeg":  {},
	".jpg":   {},
	".lz4":   {},
	".m4a":   {},
	".m4v":   {},
	".mkv":   {},
	".mov":   {},
	".mp3":   {},
	".mp4":   {},
	".ogg":   {},
	".opus":  {},
	".png":   {},
	".rar":   {},
	".tgz":   {},
	".webm":  {},
	".webp":  {},
	".woff2": {},
	".xz":    {},
	".zip":   {},
	".zst":   {},
}
