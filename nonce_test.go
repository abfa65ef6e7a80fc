package bar

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonceCounterNext(t *testing.T) {
	t.Parallel()

	c := NewNonceCounter(0xdeadbeef, 5)
	n, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)
	assert.Equal(t, uint64(6), c.Peek())
	assert.Equal(t, uint32(0xdeadbeef), c.Epoch())

	last := NewNonceCounter(0, math.MaxUint64-1)
	n, err = last.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64-1), n)
	_, err = last.Next()
	require.ErrorIs(t, err, ErrSizeOverflow)
	assert.Equal(t, uint64(math.MaxUint64), last.Peek(), "exhaustion does not advance")
}

func TestNonceCounterBinary(t *testing.T) {
	t.Parallel()

	c := NewNonceCounter(0x01020304, 0x0a0b0c0d0e0f1011)
	b, err := c.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11}, b)

	var got NonceCounter
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, *c, got)
	assert.Equal(t, "01020304:0a0b0c0d0e0f1011", got.String())

	require.ErrorIs(t, got.UnmarshalBinary(b[:11]), ErrTypeMismatch)
}

func TestNonceCounterClone(t *testing.T) {
	t.Parallel()

	var nilCounter *NonceCounter
	assert.Nil(t, nilCounter.Clone())

	c := NewNonceCounter(1, 1)
	cp := c.Clone()
	_, err := cp.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.Peek())
	assert.Equal(t, uint64(2), cp.Peek())
}

func TestRandomNonceCounter(t *testing.T) {
	t.Parallel()

	c, err := newRandomNonceCounter()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), c.Peek())
}

func TestRevisionString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "timestamp", RevisionTimestamp.String())
	assert.Equal(t, "encrypted", RevisionEncrypted.String())
	assert.Equal(t, "revision(9)", Revision(9).String())
	assert.False(t, Revision(9).valid())
}
