package utils

import (
	"math/big"
)

// GetIntegerConstraints returns the inclusive minimum and maximum of an integer type with the given signedness and
// bit length.
func GetIntegerConstraints(signed bool, bitLength int) (*big.Int, *big.Int) {
	if signed {
		max := new(big.Int).Lsh(big.NewInt(1), uint(bitLength-1))
		min := new(big.Int).Neg(max)
		return min, max.Sub(max, big.NewInt(1))
	}
	max := new(big.Int).Lsh(big.NewInt(1), uint(bitLength))
	return big.NewInt(0), max.Sub(max, big.NewInt(1))
}

// ConstrainIntegerToBitLength wraps b into the range of the integer type, simulating overflow and underflow. It
// returns a new integer.
func ConstrainIntegerToBitLength(b *big.Int, signed bool, bitLength int) *big.Int {
	min, max := GetIntegerConstraints(signed, bitLength)
	if b.Cmp(min) >= 0 && b.Cmp(max) <= 0 {
		return new(big.Int).Set(b)
	}
	span := new(big.Int).Lsh(big.NewInt(1), uint(bitLength))
	// Shift into [0, span), reduce, and shift back.
	shifted := new(big.Int).Sub(b, min)
	shifted.Mod(shifted, span)
	return shifted.Add(shifted, min)
}
