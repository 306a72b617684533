package math

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeAdd(t *testing.T) {
	f := func(a, b int64) bool {
		c, overflow := SafeAddInt64(a, b)
		return overflow || (!overflow && c == a+b)
	}
	assert.True(t, f(10, 20))
	assert.True(t, f(math.MaxInt64, 1))
	assert.True(t, f(math.MinInt64, -1))
}

func TestSafeAddClip(t *testing.T) {
	assert.EqualValues(t, math.MaxInt64, SafeAddClipInt64(math.MaxInt64, 10))
	assert.EqualValues(t, math.MaxInt64, SafeAddClipInt64(math.MaxInt64, math.MaxInt64))
	assert.EqualValues(t, math.MinInt64, SafeAddClipInt64(math.MinInt64, -10))
	assert.EqualValues(t, 30, SafeAddClipInt64(10, 20))
}

func TestSafeMul(t *testing.T) {
	testCases := []struct {
		a        int64
		b        int64
		c        int64
		overflow bool
	}{
		0: {0, 0, 0, false},
		1: {1, 0, 0, false},
		2: {2, 3, 6, false},
		3: {2, -3, -6, false},
		4: {-2, -3, 6, false},
		5: {math.MaxInt64, 1, math.MaxInt64, false},
		6: {math.MaxInt64 / 2, 2, math.MaxInt64 - 1, false},
		7: {math.MaxInt64 / 2, 3, -1, true},
		8: {math.MaxInt64, 2, -1, true},
	}

	for i, tc := range testCases {
		c, overflow := SafeMulInt64(tc.a, tc.b)
		assert.Equal(t, tc.c, c, "#%d", i)
		assert.Equal(t, tc.overflow, overflow, "#%d", i)
	}
}

func TestSafeAddInt32(t *testing.T) {
	require.Equal(t, int32(3), SafeAddInt32(1, 2))
	require.Panics(t, func() { SafeAddInt32(math.MaxInt32, 1) })
	require.Panics(t, func() { SafeAddInt32(math.MinInt32, -1) })
}

func TestSafeSubInt32(t *testing.T) {
	require.Equal(t, int32(-1), SafeSubInt32(1, 2))
	require.Panics(t, func() { SafeSubInt32(math.MinInt32, 1) })
}

func TestSafeConvertInt32(t *testing.T) {
	require.Equal(t, int32(10), SafeConvertInt32(int64(10)))
	require.Panics(t, func() { SafeConvertInt32(int64(math.MaxInt32) + 1) })
	require.Panics(t, func() { SafeConvertInt32(int64(math.MinInt32) - 1) })
}
