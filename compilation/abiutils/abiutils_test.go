package abiutils

import (
	"math/big"
	"strings"
	"testing"

	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAbi = `[
	{"type":"function","name":"set","inputs":[{"name":"x","type":"uint256"},{"name":"who","type":"address"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"get","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"deposit","inputs":[],"outputs":[],"stateMutability":"payable"},
	{"type":"event","name":"Moved","inputs":[{"name":"from","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"error","name":"TooLow","inputs":[{"name":"have","type":"uint256"}]}
]`

func parseTestAbi(t *testing.T) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(testAbi))
	require.NoError(t, err)
	return parsed
}

// TestContractEncodeDecode verifies calldata round trips through the ABI capability and methods are classified.
func TestContractEncodeDecode(t *testing.T) {
	contract := NewContract(parseTestAbi(t))
	set := contract.ABI().Methods["set"]
	who := common.HexToAddress("0x1234")

	calldata, err := contract.Encode(set.ID, []any{big.NewInt(42), who})
	require.NoError(t, err)
	assert.Len(t, calldata, 4+64)
	assert.Equal(t, set.ID, calldata[:4])

	method, args, err := contract.Decode(calldata)
	require.NoError(t, err)
	assert.Equal(t, "set", method.Name)
	assert.Equal(t, 0, big.NewInt(42).Cmp(args[0].(*big.Int)))
	assert.Equal(t, who, args[1].(common.Address))

	_, err = contract.MethodBySelector([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.Error(t, err)
	_, err = contract.MethodBySelector([]byte{0x01})
	assert.Error(t, err)

	get := contract.ABI().Methods["get"]
	deposit := contract.ABI().Methods["deposit"]
	assert.True(t, IsStatic(&get))
	assert.False(t, IsStatic(&set))
	assert.True(t, IsPayable(&deposit))

	output, err := get.Outputs.Pack(big.NewInt(7))
	require.NoError(t, err)
	values, err := contract.DecodeOutputs(&get, output)
	require.NoError(t, err)
	assert.Equal(t, int64(7), values[0].(*big.Int).Int64())
}

// TestRevertDecoding verifies panics, error strings and custom errors are described.
func TestRevertDecoding(t *testing.T) {
	contractAbi := parseTestAbi(t)

	panicData, err := panicMethod.Inputs.Pack(big.NewInt(PanicCodeAssertFailed))
	require.NoError(t, err)
	panicData = append(append([]byte{}, panicMethod.ID...), panicData...)
	assert.Equal(t, "panic: assertion failed", DescribeRevert(nil, panicData))

	errorData, err := errorMethod.Inputs.Pack("nope")
	require.NoError(t, err)
	errorData = append(append([]byte{}, errorMethod.ID...), errorData...)
	assert.Equal(t, "error: nope", DescribeRevert(nil, errorData))

	tooLow := contractAbi.Errors["TooLow"]
	customData, err := tooLow.Inputs.Pack(big.NewInt(3))
	require.NoError(t, err)
	customData = append(append([]byte{}, tooLow.ID.Bytes()[:4]...), customData...)
	assert.Equal(t, "error: TooLow[3]", DescribeRevert(&contractAbi, customData))

	assert.Equal(t, "revert", DescribeRevert(nil, nil))
	assert.Equal(t, "revert: 0x0102", DescribeRevert(nil, []byte{1, 2}))
}

// TestUnpackEvent verifies indexed and un-indexed event arguments are merged in declaration order.
func TestUnpackEvent(t *testing.T) {
	contractAbi := parseTestAbi(t)
	moved := contractAbi.Events["Moved"]
	from := common.HexToAddress("0xbeef")

	data, err := abi.Arguments{{Type: moved.Inputs[1].Type}}.Pack(big.NewInt(9))
	require.NoError(t, err)
	topics := []common.Hash{moved.ID, common.BytesToHash(from.Bytes())}

	event, values := UnpackEventAndValues(&contractAbi, topics, data)
	require.NotNil(t, event)
	assert.Equal(t, "Moved", event.Name)
	assert.Equal(t, from, values[0].(common.Address))
	assert.Equal(t, int64(9), values[1].(*big.Int).Int64())

	event, _ = UnpackEventAndValues(&contractAbi, topics[:1], data)
	assert.Nil(t, event)
}
