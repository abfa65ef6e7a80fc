package sizing

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errOverflow = errors.New("overflow")

func TestAddUint64(t *testing.T) {
	t.Parallel()

	sum, ok := AddUint64(1, 2)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), sum)

	_, ok = AddUint64(math.MaxUint64, 1)
	assert.False(t, ok)
}

func TestWithin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		off, n, size uint64
		want         bool
	}{
		{"inside", 0, 10, 10, true},
		{"empty at end", 10, 0, 10, true},
		{"past end", 5, 6, 10, false},
		{"wraps", math.MaxUint64, 2, 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Within(tt.off, tt.n, tt.size))
		})
	}
}

func TestToUint32(t *testing.T) {
	t.Parallel()

	n, err := ToUint32(1000, errOverflow)
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), n)

	_, err = ToUint32(-1, errOverflow)
	assert.ErrorIs(t, err, errOverflow)
}

func TestToInt64(t *testing.T) {
	t.Parallel()

	_, err := ToInt64(math.MaxUint64, errOverflow)
	assert.ErrorIs(t, err, errOverflow)
}

func TestReadAllWithLimit(t *testing.T) {
	t.Parallel()

	data, err := ReadAllWithLimit(bytes.NewReader([]byte("abcd")), 4, errOverflow)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), data)

	_, err = ReadAllWithLimit(bytes.NewReader([]byte("abcde")), 4, errOverflow)
	assert.ErrorIs(t, err, errOverflow)

	data, err = ReadAllWithLimit(bytes.NewReader([]byte("abcde")), 0, errOverflow)
	require.NoError(t, err)
	assert.Len(t, data, 5)
}
