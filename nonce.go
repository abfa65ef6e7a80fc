package bar

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/meigma/bar/internal/seal"
)

// DeriveKey stretches a passphrase into a 32-byte key for BuildWithKey and
// WithKey using PBKDF2-SHA256. Keep the salt with the archive; the same
// passphrase and salt always yield the same key.
var DeriveKey = seal.DeriveKey

// Revision selects one of the two mutually exclusive header layouts.
type Revision uint8

const (
	// RevisionTimestamp records a last-update time per entry and never encrypts.
	RevisionTimestamp Revision = iota
	// RevisionEncrypted records an archive nonce counter and a per-file nonce.
	RevisionEncrypted
)

// String returns the revision name.
func (r Revision) String() string {
	switch r {
	case RevisionTimestamp:
		return "timestamp"
	case RevisionEncrypted:
		return "encrypted"
	default:
		return fmt.Sprintf("revision(%d)", uint8(r))
	}
}

func (r Revision) valid() bool {
	return r == RevisionTimestamp || r == RevisionEncrypted
}

// nonceCounterSize is the encoded width of a NonceCounter.
const nonceCounterSize = 12

// NonceCounter is the archive-wide 96-bit nonce counter of the encrypted
// revision. The high 32 bits are an epoch mixed into every file's cipher
// stream; the low 64 bits hold the next unused file nonce.
//
// A NonceCounter is not safe for concurrent use.
type NonceCounter struct {
	epoch uint32
	next  uint64
}

// NewNonceCounter returns a counter whose next nonce is next.
func NewNonceCounter(epoch uint32, next uint64) *NonceCounter {
	return &NonceCounter{epoch: epoch, next: next}
}

// newRandomNonceCounter starts a fresh counter at zero under a random epoch,
// so archives sharing a key do not share cipher streams.
func newRandomNonceCounter() (*NonceCounter, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("generate nonce epoch: %w", err)
	}
	return NewNonceCounter(binary.BigEndian.Uint32(b[:]), 0), nil
}

// Epoch returns the high 32 bits of the counter.
func (c *NonceCounter) Epoch() uint32 { return c.epoch }

// Peek returns the next nonce without consuming it.
func (c *NonceCounter) Peek() uint64 { return c.next }

// Next consumes and returns the next nonce.
func (c *NonceCounter) Next() (uint64, error) {
	if c.next == math.MaxUint64 {
		return 0, formatErr("assign nonce", "", "nonce_counter", ErrSizeOverflow, "counter exhausted")
	}
	n := c.next
	c.next++
	return n, nil
}

// Clone returns an independent copy of c. Clone of nil is nil.
func (c *NonceCounter) Clone() *NonceCounter {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// MarshalBinary encodes the counter as 12 big-endian bytes: epoch then next.
func (c *NonceCounter) MarshalBinary() ([]byte, error) {
	b := make([]byte, nonceCounterSize)
	binary.BigEndian.PutUint32(b[0:4], c.epoch)
	binary.BigEndian.PutUint64(b[4:12], c.next)
	return b, nil
}

// UnmarshalBinary decodes the form written by MarshalBinary.
func (c *NonceCounter) UnmarshalBinary(b []byte) error {
	if len(b) != nonceCounterSize {
		return fmt.Errorf("%w: nonce counter is %d bytes, want %d", ErrTypeMismatch, len(b), nonceCounterSize)
	}
	c.epoch = binary.BigEndian.Uint32(b[0:4])
	c.next = binary.BigEndian.Uint64(b[4:12])
	return nil
}

// String formats the counter as epoch:next.
func (c *NonceCounter) String() string {
	return fmt.Sprintf("%08x:%016x", c.epoch, c.next)
}
