package valuegeneration

import (
	"math/big"

	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common"
)

// AddOutputValues adds the decoded return values of a call to the set. Mismatched types and values are ignored.
func (vs *ValueSet) AddOutputValues(outputs abi.Arguments, values []any) {
	if len(outputs) != len(values) {
		return
	}
	for i, output := range outputs {
		switch output.Type.T {
		case abi.AddressTy:
			if address, ok := values[i].(common.Address); ok {
				vs.AddAddress(address)
			}
		case abi.UintTy, abi.IntTy:
			switch value := values[i].(type) {
			case *big.Int:
				vs.AddBigInteger(value)
			case uint8, uint16, uint32, uint64, int8, int16, int32, int64:
				vs.AddBigInteger(toBig(value))
			}
		case abi.StringTy:
			if str, ok := values[i].(string); ok {
				vs.AddBytes([]byte(str))
			}
		case abi.BytesTy:
			if b, ok := values[i].([]byte); ok {
				vs.AddBytes(b)
			}
		}
	}
}

func toBig(value any) *big.Int {
	switch v := value.(type) {
	case uint8:
		return new(big.Int).SetUint64(uint64(v))
	case uint16:
		return new(big.Int).SetUint64(uint64(v))
	case uint32:
		return new(big.Int).SetUint64(uint64(v))
	case uint64:
		return new(big.Int).SetUint64(v)
	case int8:
		return big.NewInt(int64(v))
	case int16:
		return big.NewInt(int64(v))
	case int32:
		return big.NewInt(int64(v))
	case int64:
		return big.NewInt(v)
	}
	return new(big.Int)
}
