package valuegeneration

import (
	"math/rand"
	"testing"

	"github.com/crytic/hydra/chain/state"
	"github.com/crytic/hydra/compilation/abiutils"
	"github.com/crytic/hydra/fuzzing/calls"
	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common"
	evm "github.com/crytic/medusa-geth/core/vm"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sender   = common.HexToAddress("0x10000")
	attacker = common.HexToAddress("0x10001")
	target   = common.HexToAddress("0x20000")
)

// TestGenerateAbiValuePacks verifies generated values of every supported type are accepted by the ABI packer.
func TestGenerateAbiValuePacks(t *testing.T) {
	valueSet := NewValueSet()
	valueSet.AddAddress(sender)
	valueSet.AddInteger(uint256.NewInt(7))
	generator := NewRandomValueGenerator(DefaultRandomValueGeneratorConfig(), valueSet, rand.New(rand.NewSource(1)))

	typeNames := []string{
		"address", "bool", "string", "bytes", "bytes1", "bytes4", "bytes32",
		"uint8", "uint16", "uint32", "uint64", "uint128", "uint256",
		"int8", "int16", "int32", "int64", "int128", "int256",
		"uint256[3]", "address[]", "bytes32[2][]",
	}
	for _, typeName := range typeNames {
		abiType, err := abi.NewType(typeName, "", nil)
		require.NoError(t, err, typeName)
		args := abi.Arguments{{Type: abiType}}
		for i := 0; i < 10; i++ {
			value := GenerateAbiValue(generator, &abiType)
			packed, err := args.Pack(value)
			require.NoError(t, err, typeName)
			unpacked, err := args.Unpack(packed)
			require.NoError(t, err, typeName)
			assert.Len(t, unpacked, 1)
		}
	}
}

// TestGenerateCalldata verifies calldata starts with the method selector.
func TestGenerateCalldata(t *testing.T) {
	uintType, _ := abi.NewType("uint256", "", nil)
	addressType, _ := abi.NewType("address", "", nil)
	method := abi.NewMethod("transfer", "transfer", abi.Function, "nonpayable", false, false,
		abi.Arguments{{Name: "to", Type: addressType}, {Name: "amount", Type: uintType}}, nil)
	generator := NewRandomValueGenerator(DefaultRandomValueGeneratorConfig(), NewValueSet(), rand.New(rand.NewSource(1)))

	data, err := GenerateCalldata(generator, &method)
	require.NoError(t, err)
	assert.Equal(t, method.ID, data[:4])
	assert.Len(t, data, 4+64)
}

// TestValueSet verifies values are deduplicated, kept in insertion order, and bounded.
func TestValueSet(t *testing.T) {
	vs := NewValueSet()
	vs.AddInteger(uint256.NewInt(5))
	vs.AddInteger(uint256.NewInt(3))
	vs.AddInteger(uint256.NewInt(5))
	assert.Equal(t, []*uint256.Int{uint256.NewInt(5), uint256.NewInt(3)}, vs.Integers())

	vs.AddHint(uint256.NewInt(0x1337))
	assert.Contains(t, vs.Integers(), uint256.NewInt(0x1336))
	assert.Contains(t, vs.Integers(), uint256.NewInt(0x1338))

	vs.AddBytes([]byte("abc"))
	vs.AddBytes([]byte("abc"))
	assert.Len(t, vs.Bytes(), 1)

	for i := 0; i < MaxValues+10; i++ {
		vs.AddInteger(uint256.NewInt(uint64(1000 + i)))
	}
	assert.Len(t, vs.Integers(), MaxValues)
	assert.NotContains(t, vs.Integers(), uint256.NewInt(5), "the oldest values are evicted first")
}

// TestValueSetCodeConstants verifies PUSH operands are collected, and 20-byte ones as addresses.
func TestValueSetCodeConstants(t *testing.T) {
	code := []byte{byte(evm.PUSH2), 0x13, 0x37, byte(evm.PUSH20)}
	code = append(code, target[:]...)
	code = append(code, byte(evm.ADD), byte(evm.PUSH4), 0xff)

	vs := NewValueSet()
	vs.AddCodeConstants(code)
	assert.Contains(t, vs.Integers(), uint256.NewInt(0x1337))
	assert.Contains(t, vs.Integers(), uint256.NewInt(0xff), "truncated push data is still read")
	assert.Equal(t, []common.Address{target}, vs.Addresses())
}

func newTestMutator(seed int64, config MutatorConfig, valueSet *ValueSet) *Mutator {
	return NewMutator(config, valueSet, []common.Address{sender, attacker}, map[common.Address]*abiutils.Contract{}, rand.New(rand.NewSource(seed)))
}

func guessInput() *calls.Input {
	data := append(common.FromHex("0x12345678"), make([]byte, 64)...)
	return calls.NewInput(sender, target, data, nil)
}

// TestMutatorPreservesSelector verifies mutated calls keep their selector and shape.
func TestMutatorPreservesSelector(t *testing.T) {
	mutator := newTestMutator(1, DefaultMutatorConfig(), NewValueSet())
	input := guessInput()
	for i := 0; i < 500; i++ {
		mutated := mutator.Mutate(input, state.NewEVMState())
		require.False(t, mutated.Resume)
		assert.Equal(t, input.Selector(), mutated.Selector())
		assert.Len(t, mutated.Data, len(input.Data))
		assert.Equal(t, target, mutated.Contract)
		assert.GreaterOrEqual(t, mutated.Executions(), uint64(1))
	}
	assert.Equal(t, make([]byte, 64), input.Data[4:], "the corpus input is never modified")
}

// TestMutatorDeterminism verifies equal seeds produce equal mutations.
func TestMutatorDeterminism(t *testing.T) {
	first := newTestMutator(42, DefaultMutatorConfig(), NewValueSet())
	second := newTestMutator(42, DefaultMutatorConfig(), NewValueSet())
	for i := 0; i < 100; i++ {
		a, b := first.Mutate(guessInput(), nil), second.Mutate(guessInput(), nil)
		assert.True(t, a.Equal(b), "mutation %d diverged", i)
	}
}

// TestMutatorUsesDictionary verifies dictionary values reach the arguments.
func TestMutatorUsesDictionary(t *testing.T) {
	hidden := new(uint256.Int).SetBytes(common.FromHex("0xdeadbeefcafebabe0011223344556677"))
	valueSet := NewValueSet()
	valueSet.AddHint(hidden)
	mutator := newTestMutator(7, DefaultMutatorConfig(), valueSet)

	expected := hidden.Bytes32()
	found := false
	for i := 0; i < 2000 && !found; i++ {
		mutated := mutator.Mutate(guessInput(), nil)
		found = common.BytesToHash(mutated.Data[4:36]) == common.Hash(expected)
	}
	assert.True(t, found)
}

// TestMutatorResume verifies seeds with pending leaks produce resumes from the account that received control.
func TestMutatorResume(t *testing.T) {
	config := DefaultMutatorConfig()
	config.ResumeProbability = 1
	mutator := newTestMutator(1, config, NewValueSet())

	seed := state.NewEVMState()
	seed.PushLeak(&state.PostExecutionContext{LeakedFrom: target, LeakedTo: attacker})
	mutated := mutator.Mutate(guessInput(), seed)
	assert.True(t, mutated.Resume)
	assert.Equal(t, attacker, mutated.Caller)
	assert.Nil(t, mutated.Selector())

	mutated = mutator.Mutate(guessInput(), state.NewEVMState())
	assert.False(t, mutated.Resume, "nothing to resume")
}

// TestMutatorResumeBlock verifies resumes start from the block of the leaking transaction, whatever the block of the
// input they were derived from.
func TestMutatorResumeBlock(t *testing.T) {
	config := DefaultMutatorConfig()
	config.ResumeProbability = 1
	mutator := newTestMutator(3, config, NewValueSet())

	seed := state.NewEVMState()
	seed.PushLeak(&state.PostExecutionContext{LeakedFrom: target, LeakedTo: attacker, BlockNumber: 500, Timestamp: 9000})
	for i := 0; i < 50; i++ {
		base := guessInput()
		base.Env.BlockNumber = 1
		base.Env.Timestamp = 1
		mutated := mutator.Mutate(base, seed)
		require.True(t, mutated.Resume)
		assert.GreaterOrEqual(t, mutated.Env.BlockNumber, uint64(500))
		assert.GreaterOrEqual(t, mutated.Env.Timestamp, uint64(9000))
	}
}

// TestMutatorResumeBase verifies a resume is rebuilt for the seed's pending leak and left a resume without one.
func TestMutatorResumeBase(t *testing.T) {
	mutator := newTestMutator(5, DefaultMutatorConfig(), NewValueSet())
	base := calls.NewResumeInput(sender, nil)

	seed := state.NewEVMState()
	seed.PushLeak(&state.PostExecutionContext{LeakedFrom: target, LeakedTo: attacker, BlockNumber: 20})
	mutated := mutator.Mutate(base, seed)
	assert.True(t, mutated.Resume)
	assert.Equal(t, attacker, mutated.Caller)
	assert.GreaterOrEqual(t, mutated.Env.BlockNumber, uint64(20))

	mutated = mutator.Mutate(base, state.NewEVMState())
	assert.True(t, mutated.Resume)
	assert.Equal(t, sender, mutated.Caller)
	assert.NotSame(t, base, mutated)
}
