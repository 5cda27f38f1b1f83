package common

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	ErrMathOverflow   = errors.New("math: overflow")
	ErrDivideByZero   = errors.New("math: division by zero")
	ErrNegativeAmount = errors.New("math: negative operand")
)

// MulDiv computes floor(x*y/d) with a 512-bit intermediate and fails when the
// result does not fit in 256 bits.
func MulDiv(x, y, d *big.Int) (*big.Int, error) {
	ux, uy, ud, err := toUint256(x, y, d)
	if err != nil {
		return nil, err
	}
	if ud.IsZero() {
		return nil, ErrDivideByZero
	}
	out, overflow := new(uint256.Int).MulDivOverflow(ux, uy, ud)
	if overflow {
		return nil, ErrMathOverflow
	}
	return out.ToBig(), nil
}

// MulDivUp is MulDiv rounded towards positive infinity.
func MulDivUp(x, y, d *big.Int) (*big.Int, error) {
	out, err := MulDiv(x, y, d)
	if err != nil {
		return nil, err
	}
	rem := new(big.Int).Mul(x, y)
	rem.Mod(rem, d)
	if rem.Sign() != 0 {
		out.Add(out, big.NewInt(1))
		if out.BitLen() > 256 {
			return nil, ErrMathOverflow
		}
	}
	return out, nil
}

func toUint256(values ...*big.Int) (*uint256.Int, *uint256.Int, *uint256.Int, error) {
	out := make([]*uint256.Int, len(values))
	for i, v := range values {
		if v == nil {
			v = new(big.Int)
		}
		if v.Sign() < 0 {
			return nil, nil, nil, ErrNegativeAmount
		}
		u, overflow := uint256.FromBig(v)
		if overflow {
			return nil, nil, nil, ErrMathOverflow
		}
		out[i] = u
	}
	return out[0], out[1], out[2], nil
}

// Positive reports whether amount is non-nil and strictly greater than zero.
func Positive(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}

// Copy returns a fresh copy of v, treating nil as zero.
func Copy(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// Min returns the smaller of a and b as a fresh value.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return Copy(a)
	}
	return Copy(b)
}

// CopyBalances deep-copies an address keyed amount map.
func CopyBalances[K comparable](in map[K]*big.Int) map[K]*big.Int {
	out := make(map[K]*big.Int, len(in))
	for k, v := range in {
		out[k] = Copy(v)
	}
	return out
}
