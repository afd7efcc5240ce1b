package valuegeneration

import (
	"math/big"

	"github.com/crytic/medusa-geth/common"
)

// ValueGenerator provides the values function arguments are populated with.
type ValueGenerator interface {
	// GenerateAddress generates or selects an address.
	GenerateAddress() common.Address
	// GenerateArrayOfLength generates or selects the length of a dynamic array.
	GenerateArrayOfLength() int
	// GenerateBool generates or selects a bool.
	GenerateBool() bool
	// GenerateBytes generates or selects a dynamic-sized byte array.
	GenerateBytes() []byte
	// GenerateFixedBytes generates or selects a byte array of the given length.
	GenerateFixedBytes(length int) []byte
	// GenerateString generates or selects a string.
	GenerateString() string
	// GenerateInteger generates or selects an integer within the bounds of the integer type.
	GenerateInteger(signed bool, bitLength int) *big.Int
}
