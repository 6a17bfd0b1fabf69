package valuemath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd(t *testing.T) {
	t.Run("should add small values", func(t *testing.T) {
		sum, err := Add(2, 3)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), sum)
	})

	t.Run("should allow sum at exactly max uint64", func(t *testing.T) {
		sum, err := Add(math.MaxUint64-1, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(math.MaxUint64), sum)
	})

	t.Run("should fail on overflow", func(t *testing.T) {
		_, err := Add(math.MaxUint64, 1)
		assert.ErrorIs(t, err, ErrOverflow)
	})
}

func TestSub(t *testing.T) {
	t.Run("should subtract smaller from larger", func(t *testing.T) {
		diff, err := Sub(10, 4)
		require.NoError(t, err)
		assert.Equal(t, uint64(6), diff)
	})

	t.Run("should allow zero result", func(t *testing.T) {
		diff, err := Sub(7, 7)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), diff)
	})

	t.Run("should fail on underflow", func(t *testing.T) {
		_, err := Sub(3, 4)
		assert.ErrorIs(t, err, ErrUnderflow)
	})
}

func TestMul(t *testing.T) {
	t.Run("should multiply small values", func(t *testing.T) {
		prod, err := Mul(6, 7)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), prod)
	})

	t.Run("should fail on overflow", func(t *testing.T) {
		_, err := Mul(math.MaxUint64, 2)
		assert.ErrorIs(t, err, ErrOverflow)
	})
}

func TestMulDiv(t *testing.T) {
	t.Run("should compute proportional share with truncation", func(t *testing.T) {
		// 99,800,000 * 1,000,000 / 100,000,000 = 998,000
		share, err := MulDiv(99_800_000, 1_000_000, 100_000_000)
		require.NoError(t, err)
		assert.Equal(t, uint64(998_000), share)
	})

	t.Run("should truncate toward zero", func(t *testing.T) {
		share, err := MulDiv(1, 3, 2)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), share)
	})

	t.Run("should survive 128-bit intermediate", func(t *testing.T) {
		// a*b overflows uint64 but the quotient fits.
		share, err := MulDiv(math.MaxUint64/2, 4, 8)
		require.NoError(t, err)
		assert.Equal(t, uint64(math.MaxUint64/4), share)
	})

	t.Run("should fail when quotient exceeds 64 bits", func(t *testing.T) {
		_, err := MulDiv(math.MaxUint64, math.MaxUint64, 2)
		assert.ErrorIs(t, err, ErrOverflow)
	})

	t.Run("should fail on zero denominator", func(t *testing.T) {
		_, err := MulDiv(1, 1, 0)
		assert.ErrorIs(t, err, ErrDivideByZero)
	})
}
