package valuemath

import (
	"errors"
	"math/bits"
)

var (
	ErrOverflow     = errors.New("value arithmetic overflow")
	ErrUnderflow    = errors.New("value arithmetic underflow")
	ErrDivideByZero = errors.New("division by zero")
)

// Add returns a+b, failing instead of wrapping around.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b, failing if b > a.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrUnderflow
	}
	return diff, nil
}

// Mul returns a*b, failing instead of wrapping around.
func Mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// MulDiv returns a*b/den with truncating division. The intermediate
// product is kept at 128 bits, so a*b may exceed uint64 as long as the
// quotient fits.
func MulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, ErrDivideByZero
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		// Quotient would need more than 64 bits.
		return 0, ErrOverflow
	}
	quo, _ := bits.Div64(hi, lo, den)
	return quo, nil
}
