package bar

import (
	"log/slog"
	"math"
)

const (
	// DefaultMaxHeaderSize is the default limit on the encoded header (64MB).
	DefaultMaxHeaderSize = 64 << 20

	// DefaultMaxFileSize is the default limit on a file's size (4GB), the
	// largest blob a file entry can record. Build and the reader share it.
	DefaultMaxFileSize = math.MaxUint32

	// DefaultMaxDecoderMemory is the default zstd decoder memory limit (256MB).
	DefaultMaxDecoderMemory = 256 << 20
)

// Option configures a Handle.
type Option func(*Handle)

// WithRevision selects the header revision the archive was built with.
// The default is RevisionTimestamp.
func WithRevision(rev Revision) Option {
	return func(h *Handle) {
		h.revision = rev
	}
}

// WithKey sets the AES key used to decrypt RevisionEncrypted archives.
// Without it the archive can be listed but not extracted.
func WithKey(key []byte) Option {
	return func(h *Handle) {
		h.key = key
	}
}

// WithMaxHeaderSize limits the size of the encoded header.
// Set limit to 0 to disable the limit.
func WithMaxHeaderSize(limit uint64) Option {
	return func(h *Handle) {
		h.maxHeaderSize = limit
	}
}

// WithMaxFileSize limits the decompressed size of an extracted file.
// Set limit to 0 to disable the limit.
func WithMaxFileSize(limit uint64) Option {
	return func(h *Handle) {
		h.maxFileSize = limit
	}
}

// WithMaxDecoderMemory limits the maximum memory used by the zstd decoder.
// Set limit to 0 to disable the limit.
func WithMaxDecoderMemory(limit uint64) Option {
	return func(h *Handle) {
		h.maxDecoderMemory = limit
	}
}

// WithLogger sets the logger for archive reads.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handle) {
		h.logger = logger
	}
}

// WithProgress sets a callback for progress updates during UnpackTo.
func WithProgress(fn ProgressFunc) Option {
	return func(h *Handle) {
		h.progress = fn
	}
}
