package math

import "golang.org/x/exp/constraints"

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// AlignUp rounds v up to the next multiple of alignment, which must be a
// power of two.
func AlignUp[T constraints.Unsigned](v, alignment T) T {
	if alignment == 0 {
		return v
	}
	return (v + alignment - 1) &^ (alignment - 1)
}

// NextPowerOfTwo returns the smallest power of two >= v, with a minimum of 1.
func NextPowerOfTwo[T constraints.Unsigned](v T) T {
	p := T(1)
	for p < v {
		p <<= 1
	}
	return p
}
