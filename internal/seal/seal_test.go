package seal

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestSealRoundTrip(t *testing.T) {
	t.Parallel()

	c, err := New(testKey(), 7)
	require.NoError(t, err)

	plain := bytes.Repeat([]byte("men at work "), 100)
	data := bytes.Clone(plain)
	c.Seal(3, data)
	assert.NotEqual(t, plain, data)

	got, err := io.ReadAll(c.Reader(3, bytes.NewReader(data)))
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestDistinctNoncesProduceDistinctStreams(t *testing.T) {
	t.Parallel()

	c, err := New(testKey(), 0)
	require.NoError(t, err)

	a := make([]byte, 64)
	b := make([]byte, 64)
	c.Seal(0, a)
	c.Seal(1, b)
	assert.NotEqual(t, a, b)
}

func TestDistinctEpochsProduceDistinctStreams(t *testing.T) {
	t.Parallel()

	c0, err := New(testKey(), 0)
	require.NoError(t, err)
	c1, err := New(testKey(), 1)
	require.NoError(t, err)

	a := make([]byte, 64)
	b := make([]byte, 64)
	c0.Seal(5, a)
	c1.Seal(5, b)
	assert.NotEqual(t, a, b)
}

func TestWrongNonceDoesNotDecrypt(t *testing.T) {
	t.Parallel()

	c, err := New(testKey(), 0)
	require.NoError(t, err)

	plain := []byte("land down under")
	data := bytes.Clone(plain)
	c.Seal(1, data)

	got, err := io.ReadAll(c.Reader(2, bytes.NewReader(data)))
	require.NoError(t, err)
	assert.NotEqual(t, plain, got)
}

func TestNewRejectsBadKey(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 8, 15, 33} {
		_, err := New(make([]byte, n), 0)
		assert.ErrorIs(t, err, ErrInvalidKey)
	}
	for _, n := range []int{16, 24, 32} {
		_, err := New(make([]byte, n), 0)
		assert.NoError(t, err)
	}
}

func TestDeriveKey(t *testing.T) {
	t.Parallel()

	k1 := DeriveKey([]byte("secret"), []byte("music"))
	k2 := DeriveKey([]byte("secret"), []byte("music"))
	k3 := DeriveKey([]byte("secret"), []byte("video"))
	assert.Len(t, k1, 32)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}
