// Package sizing provides overflow-checked size arithmetic for archive offsets.
package sizing

import (
	"io"
	"math"
)

// ToInt64 converts a uint64 to int64, returning overflowErr if it doesn't fit.
func ToInt64(size uint64, overflowErr error) (int64, error) {
	if size > math.MaxInt64 {
		return 0, overflowErr
	}
	return int64(size), nil
}

// ToUint32 narrows n to the stored-size width used by file entries.
func ToUint32(n int, overflowErr error) (uint32, error) {
	if n < 0 || uint64(n) > math.MaxUint32 {
		return 0, overflowErr
	}
	return uint32(n), nil
}

// AddUint64 adds two uint64 values, returning (result, false) on overflow.
func AddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// Within reports whether [off, off+n) lies inside a region of length limit.
func Within(off, n, limit uint64) bool {
	end, ok := AddUint64(off, n)
	return ok && end <= limit
}

// ReadAllWithLimit reads everything from r, failing with overflowErr once
// more than maxSize bytes arrive. A maxSize of zero disables the limit.
func ReadAllWithLimit(r io.Reader, maxSize uint64, overflowErr error) ([]byte, error) {
	if maxSize == 0 {
		return io.ReadAll(r)
	}
	if maxSize > math.MaxInt64-1 {
		return nil, overflowErr
	}
	lr := &io.LimitedReader{R: r, N: int64(maxSize) + 1}
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) > maxSize {
		return nil, overflowErr
	}
	return data, nil
}
