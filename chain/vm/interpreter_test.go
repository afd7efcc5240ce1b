package vm_test

import (
	"encoding/json"
	"testing"

	"github.com/crytic/hydra/chain/vm"
	"github.com/crytic/hydra/utils/testutils"
	"github.com/crytic/medusa-geth/common"
	evm "github.com/crytic/medusa-geth/core/vm"
	"github.com/crytic/medusa-geth/crypto"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryHost is a journaled in-memory Host.
type memoryHost struct {
	storage  map[common.Address]map[common.Hash]common.Hash
	balances map[common.Address]*uint256.Int
	code     map[common.Address][]byte
	nonces   map[common.Address]uint64
	leakTo   map[common.Address]bool
	journal  []func()
}

func newMemoryHost() *memoryHost {
	return &memoryHost{
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
		balances: make(map[common.Address]*uint256.Int),
		code:     make(map[common.Address][]byte),
		nonces:   make(map[common.Address]uint64),
		leakTo:   make(map[common.Address]bool),
	}
}

func (h *memoryHost) GetStorage(address common.Address, key common.Hash) common.Hash {
	return h.storage[address][key]
}

func (h *memoryHost) SetStorage(address common.Address, key, value common.Hash) {
	prev, existed := h.storage[address][key]
	h.journal = append(h.journal, func() {
		if existed {
			h.storage[address][key] = prev
		} else {
			delete(h.storage[address], key)
		}
	})
	if h.storage[address] == nil {
		h.storage[address] = make(map[common.Hash]common.Hash)
	}
	h.storage[address][key] = value
}

func (h *memoryHost) GetBalance(address common.Address) *uint256.Int {
	if b, ok := h.balances[address]; ok {
		return b
	}
	return new(uint256.Int)
}

func (h *memoryHost) setBalance(address common.Address, value *uint256.Int) {
	prev := new(uint256.Int).Set(h.GetBalance(address))
	h.journal = append(h.journal, func() { h.balances[address] = prev })
	h.balances[address] = value
}

func (h *memoryHost) Transfer(from, to common.Address, value *uint256.Int) error {
	if h.GetBalance(from).Lt(value) {
		return errors.New("insufficient balance")
	}
	h.setBalance(from, new(uint256.Int).Sub(h.GetBalance(from), value))
	h.setBalance(to, new(uint256.Int).Add(h.GetBalance(to), value))
	return nil
}

func (h *memoryHost) GetCode(address common.Address) []byte { return h.code[address] }

func (h *memoryHost) SetCode(address common.Address, code []byte) {
	prev := h.code[address]
	h.journal = append(h.journal, func() { h.code[address] = prev })
	h.code[address] = code
}

func (h *memoryHost) CreateAddress(creator common.Address) common.Address {
	nonce := h.nonces[creator]
	h.nonces[creator]++
	return crypto.CreateAddress(creator, nonce)
}

func (h *memoryHost) Snapshot() int { return len(h.journal) }

func (h *memoryHost) RevertToSnapshot(id int) {
	for i := len(h.journal) - 1; i >= id; i-- {
		h.journal[i]()
	}
	h.journal = h.journal[:id]
}

func (h *memoryHost) SelfDestruct(address, beneficiary common.Address) {
	balance := new(uint256.Int).Set(h.GetBalance(address))
	_ = h.Transfer(address, beneficiary, balance)
}

func (h *memoryHost) ShouldLeak(caller, target common.Address, value *uint256.Int, input []byte) bool {
	return h.leakTo[target]
}

func (h *memoryHost) BlockContext() vm.BlockContext {
	return vm.BlockContext{Number: 100, Timestamp: 1000, ChainID: 1, GasLimit: 30_000_000}
}

func (h *memoryHost) Origin() common.Address { return sender }

var (
	sender   = common.HexToAddress("0x10000")
	contract = common.HexToAddress("0x20000")
	other    = common.HexToAddress("0x30000")
)

const testGas = 10_000_000

func word(v uint64) []byte {
	return common.LeftPadBytes(new(uint256.Int).SetUint64(v).Bytes(), 32)
}

// TestArithmetic checks basic opcode semantics, including wraparound and division by zero.
func TestArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		asm      *testutils.Assembler
		expected []byte
	}{
		{"add", testutils.NewAssembler().Push(2).Push(3).Op(evm.ADD), word(5)},
		{"sub", testutils.NewAssembler().Push(3).Push(10).Op(evm.SUB), word(7)},
		{"mul", testutils.NewAssembler().Push(6).Push(7).Op(evm.MUL), word(42)},
		{"div by zero", testutils.NewAssembler().Push(0).Push(7).Op(evm.DIV), word(0)},
		{"lt", testutils.NewAssembler().Push(2).Push(1).Op(evm.LT), word(1)},
		{"exp", testutils.NewAssembler().Push(10).Push(2).Op(evm.EXP), word(1024)},
		{"shl", testutils.NewAssembler().Push(1).Push(4).Op(evm.SHL), word(16)},
		{"underflow wraps", testutils.NewAssembler().Push(1).Push(0).Op(evm.SUB),
			common.Hex2Bytes("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			host := newMemoryHost()
			host.code[contract] = tc.asm.ReturnTop().Bytes()
			result := vm.NewInterpreter(host, nil).Call(sender, contract, nil, nil, testGas)
			require.Equal(t, vm.StatusCompleted, result.Status, "err: %v", result.Err)
			assert.Equal(t, tc.expected, result.Output)
		})
	}
}

// TestStorageAndRevert checks that a reverted call leaves storage untouched.
func TestStorageAndRevert(t *testing.T) {
	host := newMemoryHost()
	host.code[contract] = testutils.NewAssembler().
		Push(42).Push(1).Op(evm.SSTORE).
		Arg(0).JumpIf("revert").
		Op(evm.STOP).
		Label("revert").Revert().
		Bytes()

	in := vm.NewInterpreter(host, nil)
	result := in.Call(sender, contract, nil, append(testutils.Selector("f(uint256)"), word(1)...), testGas)
	assert.Equal(t, vm.StatusReverted, result.Status)
	assert.ErrorIs(t, result.Err, vm.ErrExecutionReverted)
	assert.Empty(t, host.storage[contract])

	result = in.Call(sender, contract, nil, append(testutils.Selector("f(uint256)"), word(0)...), testGas)
	assert.Equal(t, vm.StatusCompleted, result.Status)
	assert.Equal(t, common.BigToHash(uint256.NewInt(42).ToBig()), host.storage[contract][common.BigToHash(uint256.NewInt(1).ToBig())])
}

// TestFaults checks invalid jumps, stack underflow and out of gas.
func TestFaults(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		gas  uint64
		err  error
	}{
		{"invalid jump", testutils.NewAssembler().Push(3).Op(evm.JUMP).Bytes(), testGas, vm.ErrInvalidJump},
		{"underflow", testutils.NewAssembler().Op(evm.ADD).Bytes(), testGas, vm.ErrStackUnderflow},
		{"out of gas", testutils.NewAssembler().Push(1).Push(1).Op(evm.SSTORE).Bytes(), 3000, vm.ErrOutOfGas},
		{"invalid opcode", []byte{0xfe}, testGas, vm.ErrInvalidOpcode},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			host := newMemoryHost()
			host.code[contract] = tc.code
			result := vm.NewInterpreter(host, nil).Call(sender, contract, nil, nil, tc.gas)
			assert.Equal(t, vm.StatusReverted, result.Status)
			assert.ErrorIs(t, result.Err, tc.err)
		})
	}
}

// TestNestedCallRevert checks a reverting child only rolls back its own writes.
func TestNestedCallRevert(t *testing.T) {
	host := newMemoryHost()
	host.code[other] = testutils.NewAssembler().Push(7).Push(0).Op(evm.SSTORE).Revert().Bytes()
	host.code[contract] = testutils.NewAssembler().
		Push(1).Push(0).Op(evm.SSTORE).
		Push(0).Push(0).Push(0).Push(0).Push(0).PushAddress(other).Op(evm.GAS).Op(evm.CALL).
		ReturnTop().
		Bytes()

	result := vm.NewInterpreter(host, nil).Call(sender, contract, nil, nil, testGas)
	require.Equal(t, vm.StatusCompleted, result.Status)
	assert.Equal(t, word(0), result.Output, "the child call should report failure")
	assert.Len(t, host.storage[contract], 1)
	assert.Empty(t, host.storage[other])
}

// TestCreate deploys a contract through the top-level create path and calls it.
func TestCreate(t *testing.T) {
	host := newMemoryHost()
	runtime := testutils.NewAssembler().Push(99).ReturnTop().Bytes()
	in := vm.NewInterpreter(host, nil)

	result := in.Create(sender, nil, testutils.DeployCode(runtime), testGas)
	require.Equal(t, vm.StatusCompleted, result.Status, "err: %v", result.Err)
	assert.Equal(t, crypto.CreateAddress(sender, 0), result.CreatedAddress)
	assert.Equal(t, runtime, host.code[result.CreatedAddress])

	result = in.Call(sender, result.CreatedAddress, nil, nil, testGas)
	assert.Equal(t, word(99), result.Output)
}

// TestHooks checks that jump, compare, overflow and log hooks fire with the right operands.
func TestHooks(t *testing.T) {
	host := newMemoryHost()
	host.code[contract] = testutils.NewAssembler().
		Arg(0).Push(0x1337).Op(evm.EQ).JumpIf("hit").
		Op(evm.STOP).
		Label("hit").
		Bug().
		Push(1).Push(0).Op(evm.NOT).Op(evm.ADD).Op(evm.POP).
		Op(evm.STOP).
		Bytes()

	var jumps []bool
	var compares [][2]uint64
	var overflows int
	var logs [][]common.Hash
	hooks := &vm.Hooks{
		OnJump: func(_ common.Address, _, _ uint64, taken bool) { jumps = append(jumps, taken) },
		OnCompare: func(_ common.Address, _ uint64, _ byte, a, b *uint256.Int) {
			compares = append(compares, [2]uint64{a.Uint64(), b.Uint64()})
		},
		OnOverflow: func(common.Address, uint64, byte) { overflows++ },
		OnLog: func(_ common.Address, _ uint64, topics []common.Hash, _ []byte) {
			logs = append(logs, topics)
		},
	}
	input := append(testutils.Selector("f(uint256)"), word(0x1337)...)
	result := vm.NewInterpreter(host, hooks).Call(sender, contract, nil, input, testGas)
	require.Equal(t, vm.StatusCompleted, result.Status, "err: %v", result.Err)

	assert.Equal(t, []bool{true}, jumps)
	assert.Equal(t, [][2]uint64{{0x1337, 0x1337}}, compares)
	assert.Equal(t, 1, overflows)
	require.Len(t, logs, 1)
	assert.Equal(t, crypto.Keccak256Hash([]byte("bug()")), logs[0][0])
}

// TestLeakAndResume suspends a call to a controlled account, serializes the frames and resumes them.
func TestLeakAndResume(t *testing.T) {
	host := newMemoryHost()
	host.leakTo[sender] = true
	host.balances[contract] = uint256.NewInt(100)
	// Send 10 wei to the caller, then record the call's success flag in slot 5.
	host.code[contract] = testutils.NewAssembler().
		Push(0).Push(0).Push(0).Push(0).Push(10).Op(evm.CALLER).Op(evm.GAS).Op(evm.CALL).
		Push(5).Op(evm.SSTORE).
		Push(77).ReturnTop().
		Bytes()

	in := vm.NewInterpreter(host, nil)
	result := in.Call(sender, contract, nil, nil, testGas)
	require.Equal(t, vm.StatusLeaked, result.Status)
	require.NotNil(t, result.Leak)
	assert.Equal(t, sender, result.Leak.Target)
	assert.Equal(t, uint64(10), result.Leak.Value.Uint64())
	assert.Equal(t, uint64(90), host.GetBalance(contract).Uint64(), "value moves before the leak")
	assert.Empty(t, host.storage[contract])

	encoded, err := json.Marshal(result.Leak.Frames)
	require.NoError(t, err)
	var frames []*vm.Frame
	require.NoError(t, json.Unmarshal(encoded, &frames))
	require.Len(t, frames, 1)
	assert.Equal(t, result.Leak.Frames[0].PC, frames[0].PC)
	assert.Equal(t, result.Leak.Frames[0].Stack.Data(), frames[0].Stack.Data())

	resumed := in.Resume(frames, nil)
	require.Equal(t, vm.StatusCompleted, resumed.Status, "err: %v", resumed.Err)
	assert.Equal(t, word(77), resumed.Output)
	assert.Equal(t, common.BytesToHash(word(1)), host.storage[contract][common.BytesToHash(word(5))])
}

// TestLeakTransferFailure checks that a leak is not taken when the value transfer fails.
func TestLeakTransferFailure(t *testing.T) {
	host := newMemoryHost()
	host.leakTo[sender] = true
	host.code[contract] = testutils.NewAssembler().
		Push(0).Push(0).Push(0).Push(0).Push(10).Op(evm.CALLER).Op(evm.GAS).Op(evm.CALL).
		ReturnTop().
		Bytes()

	result := vm.NewInterpreter(host, nil).Call(sender, contract, nil, nil, testGas)
	require.Equal(t, vm.StatusCompleted, result.Status)
	assert.Equal(t, word(0), result.Output)
}

// TestStaticCallWriteProtection checks state writes fail inside static frames.
func TestStaticCallWriteProtection(t *testing.T) {
	host := newMemoryHost()
	host.code[contract] = testutils.NewAssembler().Push(1).Push(1).Op(evm.SSTORE).Op(evm.STOP).Bytes()
	result := vm.NewInterpreter(host, nil).StaticCall(sender, contract, nil, testGas)
	assert.Equal(t, vm.StatusReverted, result.Status)
	assert.ErrorIs(t, result.Err, vm.ErrWriteProtection)
}
