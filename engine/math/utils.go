package math

import (
	"github.com/chewxy/math32"
	"golang.org/x/exp/constraints"
)

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

// IsFinite reports whether f is neither NaN nor an infinity.
func IsFinite(f float32) bool {
	return !math32.IsNaN(f) && !math32.IsInf(f, 0)
}

// Wrap returns f wrapped into [0, length). A non-positive length or a
// non-finite f yields 0.
func Wrap(f, length float32) float32 {
	if length <= 0 || !IsFinite(f) {
		return 0
	}
	r := math32.Mod(f, length)
	if r < 0 {
		r += length
	}
	// Mod of a tiny negative value can round up to length.
	if r >= length {
		r = 0
	}
	return r
}
