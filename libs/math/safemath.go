package math

import (
	"errors"
	"math"
)

var ErrOverflowInt32 = errors.New("int32 overflow")
var ErrOverflowInt64 = errors.New("int64 overflow")

// SafeAddInt32 adds two int32 integers.
// If there is an overflow this will panic.
func SafeAddInt32(a, b int32) int32 {
	if b > 0 && (a > math.MaxInt32-b) {
		panic(ErrOverflowInt32)
	} else if b < 0 && (a < math.MinInt32-b) {
		panic(ErrOverflowInt32)
	}
	return a + b
}

// SafeSubInt32 subtracts two int32 integers.
// If there is an overflow this will panic.
func SafeSubInt32(a, b int32) int32 {
	if b > 0 && (a < math.MinInt32+b) {
		panic(ErrOverflowInt32)
	} else if b < 0 && (a > math.MaxInt32+b) {
		panic(ErrOverflowInt32)
	}
	return a - b
}

// SafeConvertInt32 takes an int64 and checks if it overflows int32.
// If there is an overflow this will panic.
func SafeConvertInt32(a int64) int32 {
	if a > math.MaxInt32 {
		panic(ErrOverflowInt32)
	} else if a < math.MinInt32 {
		panic(ErrOverflowInt32)
	}
	return int32(a)
}

// SafeAddInt64 adds two int64 integers, reporting overflow.
func SafeAddInt64(a, b int64) (int64, bool) {
	if b > 0 && (a > math.MaxInt64-b) {
		return -1, true
	} else if b < 0 && (a < math.MinInt64-b) {
		return -1, true
	}
	return a + b, false
}

// SafeAddClipInt64 adds two int64 integers and clips the result to the int64
// range instead of overflowing.
func SafeAddClipInt64(a, b int64) int64 {
	c, overflow := SafeAddInt64(a, b)
	if overflow {
		if b < 0 {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	return c
}

// SafeMulInt64 multiplies two int64 integers, reporting overflow. It works by
// peeling b apart bit by bit so the partial products stay checkable.
func SafeMulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, false
	}

	absOfB := b
	if b < 0 {
		absOfB = -b
	}

	absOfA := a
	if a < 0 {
		absOfA = -a
	}

	var overflow bool
	product := int64(0)
	for absOfB > 0 {
		if absOfB&1 == 1 {
			product, overflow = SafeAddInt64(product, absOfA)
			if overflow {
				return -1, true
			}
		}
		absOfB >>= 1
		if absOfB > 0 {
			if absOfA > math.MaxInt64>>1 {
				return -1, true
			}
			absOfA <<= 1
		}
	}

	if (a < 0) != (b < 0) {
		return -product, false
	}
	return product, false
}
