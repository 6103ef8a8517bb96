package lib

import "math/big"

// MaxUint256 is the largest value representable by an unsigned 256-bit integer
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// IsUint256 reports whether v fits into an unsigned 256-bit integer
func IsUint256(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(MaxUint256) <= 0
}

// MulUint256 returns a*b, ok is false if the result does not fit into 256 bits
func MulUint256(a, b *big.Int) (res *big.Int, ok bool) {
	res = new(big.Int).Mul(a, b)
	return res, IsUint256(res)
}

// AddUint256 returns a+b, ok is false if the result does not fit into 256 bits
func AddUint256(a, b *big.Int) (res *big.Int, ok bool) {
	res = new(big.Int).Add(a, b)
	return res, IsUint256(res)
}

// SubUint256 returns a-b, ok is false if the result is negative
func SubUint256(a, b *big.Int) (res *big.Int, ok bool) {
	res = new(big.Int).Sub(a, b)
	return res, res.Sign() >= 0
}

// CopyBig returns a copy of v, nil is treated as zero
func CopyBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
