package bar

import (
	"log/slog"
	"time"
)

// buildConfig holds configuration for archive creation.
type buildConfig struct {
	revision        Revision
	compression     Method
	skipCompression []SkipCompressionFunc
	key             []byte
	nonce           *NonceCounter
	meta            *Meta
	workers         int
	maxFileSize     uint64
	logger          *slog.Logger
	progress        ProgressFunc
	clock           func() time.Time
}

// BuildOption configures archive creation.
type BuildOption func(*buildConfig)

// BuildWithRevision selects the header revision. The default is
// RevisionTimestamp; RevisionEncrypted requires BuildWithKey.
func BuildWithRevision(rev Revision) BuildOption {
	return func(cfg *buildConfig) {
		cfg.revision = rev
	}
}

// BuildWithCompression sets the archive default compression method.
// Files created with FileWithMethod keep their own method.
func BuildWithCompression(m Method) BuildOption {
	return func(cfg *buildConfig) {
		cfg.compression = m
	}
}

// BuildWithSkipCompression adds predicates that decide to store a file uncompressed.
// If any predicate returns true, the archive default is not applied to that file.
// These checks are on the hot path, so keep them cheap.
func BuildWithSkipCompression(fns ...SkipCompressionFunc) BuildOption {
	return func(cfg *buildConfig) {
		cfg.skipCompression = append(cfg.skipCompression, fns...)
	}
}

// BuildWithKey sets the AES key (16, 24 or 32 bytes) used by RevisionEncrypted.
// Use DeriveKey to obtain one from a passphrase.
func BuildWithKey(key []byte) BuildOption {
	return func(cfg *buildConfig) {
		cfg.key = key
	}
}

// BuildWithNonceCounter continues numbering file nonces from c, typically the
// counter of the archive being rebuilt. c itself is not modified.
// Without it, a new counter starts at zero under a random epoch.
func BuildWithNonceCounter(c *NonceCounter) BuildOption {
	return func(cfg *buildConfig) {
		cfg.nonce = c.Clone()
	}
}

// BuildWithArchiveMeta sets the archive-level metadata; Name titles the archive.
// Without it the archive is named "archive".
func BuildWithArchiveMeta(m Meta) BuildOption {
	return func(cfg *buildConfig) {
		m = m.clone()
		cfg.meta = &m
	}
}

// BuildWithWorkers sets how many files are compressed and encrypted in parallel.
// Values < 0 force serial processing. Zero uses GOMAXPROCS.
// The archive bytes do not depend on the worker count.
func BuildWithWorkers(n int) BuildOption {
	return func(cfg *buildConfig) {
		cfg.workers = n
	}
}

// BuildWithMaxFileSize limits the size of each input file. Larger files
// fail the build with ErrSizeOverflow. The default, DefaultMaxFileSize,
// matches the reader default, so every default build can be extracted
// with default options. Set limit to 0 to allow any file whose stored
// blob fits in 32 bits.
func BuildWithMaxFileSize(limit uint64) BuildOption {
	return func(cfg *buildConfig) {
		cfg.maxFileSize = limit
	}
}

// BuildWithLogger sets the logger for archive creation.
// If not set, logging is disabled.
func BuildWithLogger(logger *slog.Logger) BuildOption {
	return func(cfg *buildConfig) {
		cfg.logger = logger
	}
}

// BuildWithProgress sets a callback for progress updates during the build.
func BuildWithProgress(fn ProgressFunc) BuildOption {
	return func(cfg *buildConfig) {
		cfg.progress = fn
	}
}

// BuildWithClock sets the time source used to stamp the archive metadata in
// RevisionTimestamp archives. The default is time.Now.
func BuildWithClock(now func() time.Time) BuildOption {
	return func(cfg *buildConfig) {
		cfg.clock = now
	}
}
