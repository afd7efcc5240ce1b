package executor

import (
	"testing"

	"github.com/crytic/hydra/chain/state"
	"github.com/crytic/hydra/chain/vm"
	"github.com/crytic/hydra/fuzzing/calls"
	"github.com/crytic/hydra/fuzzing/coverage"
	"github.com/crytic/hydra/utils/testutils"
	"github.com/crytic/medusa-geth/common"
	evm "github.com/crytic/medusa-geth/core/vm"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sender   = common.HexToAddress("0x10000")
	target   = common.HexToAddress("0x20000")
	deployer = common.HexToAddress("0x8b21e662154b4bbc1ec0754d0238875fe3d22fa6")
)

// storageContract stores its argument, reverts after storing, or increments a counter.
func storageContract() []byte {
	return testutils.NewAssembler().
		Dispatch("set(uint256)", "set").
		Dispatch("fail(uint256)", "fail").
		Dispatch("increment()", "increment").
		Dispatch("guess(uint256)", "guess").
		Dispatch("forward(address)", "forward").
		Dispatch("markers()", "markers").
		Revert().
		Label("set").Arg(0).Push(0).Op(evm.SSTORE).Op(evm.STOP).
		Label("fail").Arg(0).Push(0).Op(evm.SSTORE).Revert().
		Label("increment").Push(0).Op(evm.SLOAD).Push(1).Op(evm.ADD).Push(0).Op(evm.SSTORE).Op(evm.STOP).
		Label("guess").Arg(0).Push(0x1337).Op(evm.EQ).JumpIf("win").Op(evm.STOP).
		Label("win").Bug().Op(evm.STOP).
		Label("forward").Push(0).Push(0).Push(0).Push(0).Push(0).Arg(0).Op(evm.GAS, evm.CALL, evm.STOP).
		Label("markers").TypedBug("drained").Op(evm.STOP).
		Bytes()
}

// vaultContract pays out the balance recorded in slot 0 to the caller before clearing it.
func vaultContract() []byte {
	return testutils.NewAssembler().
		Push(0).Push(0).Push(0).Push(0).
		Push(0).Op(evm.SLOAD).
		Op(evm.CALLER, evm.GAS, evm.CALL, evm.POP).
		Push(0).Push(0).Op(evm.SSTORE).
		Op(evm.STOP).
		Bytes()
}

func word(v uint64) []byte {
	return common.LeftPadBytes(uint256.NewInt(v).Bytes(), 32)
}

func call(signature string, args ...[]byte) []byte {
	data := testutils.Selector(signature)
	for _, arg := range args {
		data = append(data, arg...)
	}
	return data
}

func newTestExecutor(t *testing.T, controlLeak bool) (*Executor, *state.EVMState, *coverage.FeedbackMaps) {
	t.Helper()
	maps := coverage.NewFeedbackMaps()
	e := NewExecutor(Config{ControlLeak: controlLeak, Block: vm.BlockContext{Number: 1, Timestamp: 1, ChainID: 1}}, maps, []common.Address{sender}, nil)
	st := state.NewEVMState()
	st.SetBalance(sender, uint256.NewInt(1_000_000))
	return e, st, maps
}

// TestExecuteStateTransitions verifies completed calls produce a new state and reverted ones leave the pre state.
func TestExecuteStateTransitions(t *testing.T) {
	e, st, _ := newTestExecutor(t, false)
	st.SetCode(target, storageContract())

	result, err := e.Execute(st, calls.NewInput(sender, target, call("set(uint256)", word(7)), nil))
	require.NoError(t, err)
	assert.Equal(t, vm.StatusCompleted, result.Status)
	assert.Equal(t, common.BytesToHash(word(7)), result.State.ReadSlot(target, common.Hash{}))
	assert.Equal(t, common.Hash{}, st.ReadSlot(target, common.Hash{}), "the input state must not change")

	reverted, err := e.Execute(result.State, calls.NewInput(sender, target, call("fail(uint256)", word(9)), nil))
	require.NoError(t, err)
	assert.True(t, reverted.Reverted())
	assert.ErrorIs(t, reverted.Err, vm.ErrExecutionReverted)
	assert.Equal(t, result.State.Hash(), reverted.State.Hash())
	assert.Equal(t, TraceReverted, reverted.Trace.Status)
}

// TestExecuteRepeat verifies repeated inputs run atomically one after another.
func TestExecuteRepeat(t *testing.T) {
	e, st, _ := newTestExecutor(t, false)
	st.SetCode(target, storageContract())

	input := calls.NewInput(sender, target, call("increment()"), nil)
	input.Repeat = 3
	result, err := e.Execute(st, input)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), result.Executions)
	assert.Equal(t, common.BytesToHash(word(3)), result.State.ReadSlot(target, common.Hash{}))

	// A value the caller cannot cover fails the transfer, and with it the first repetition.
	input.Value.SetUint64(10_000_000)
	result, err = e.Execute(st, input)
	require.NoError(t, err)
	assert.True(t, result.Reverted())
	assert.Equal(t, uint64(1), result.Executions)
	assert.ErrorIs(t, result.Err, state.ErrInsufficientBalance)
}

// TestLeakAndResume verifies a call into a controlled account suspends, resumes once, and is then exhausted.
func TestLeakAndResume(t *testing.T) {
	e, st, _ := newTestExecutor(t, true)
	st.SetCode(target, vaultContract())
	st.SetBalance(target, uint256.NewInt(10))
	st.ImportSlot(target, common.Hash{}, common.BytesToHash(word(5)))

	leaked, err := e.Execute(st, calls.NewInput(sender, target, nil, nil))
	require.NoError(t, err)
	require.Equal(t, vm.StatusLeaked, leaked.Status)
	require.NotNil(t, leaked.Leak)
	assert.Equal(t, 1, leaked.State.PendingLeaks())
	assert.Equal(t, target, leaked.Leak.LeakedFrom)
	assert.Equal(t, sender, leaked.Leak.LeakedTo)
	assert.True(t, leaked.Leak.WasRead(target, common.Hash{}))
	assert.Equal(t, uint64(5), leaked.State.Balance(target).Uint64())
	assert.Equal(t, TraceLeaked, leaked.Trace.Status)

	resumed, err := e.Execute(leaked.State, calls.NewResumeInput(sender, nil))
	require.NoError(t, err)
	assert.Equal(t, vm.StatusCompleted, resumed.Status)
	assert.Equal(t, 0, resumed.State.PendingLeaks())
	assert.Equal(t, common.Hash{}, resumed.State.ReadSlot(target, common.Hash{}))
	require.Len(t, resumed.State.Observations.Reentrancies, 1)
	assert.Equal(t, target, resumed.State.Observations.Reentrancies[0].Address)
	assert.False(t, resumed.State.Balance(target).Gt(uint256.NewInt(10)))

	_, err = e.Execute(resumed.State, calls.NewResumeInput(sender, nil))
	assert.ErrorIs(t, err, ErrNoPendingLeak)
}

// TestLeakStackIsLIFO verifies n leaks resume exactly n times.
func TestLeakStackIsLIFO(t *testing.T) {
	e, st, _ := newTestExecutor(t, true)
	st.SetCode(target, vaultContract())
	st.SetBalance(target, uint256.NewInt(100))
	st.ImportSlot(target, common.Hash{}, common.BytesToHash(word(5)))

	current := st
	for i := 0; i < 3; i++ {
		result, err := e.Execute(current, calls.NewInput(sender, target, nil, nil))
		require.NoError(t, err)
		require.Equal(t, vm.StatusLeaked, result.Status)
		current = result.State
	}
	assert.Equal(t, 3, current.PendingLeaks())

	for i := 0; i < 3; i++ {
		result, err := e.Execute(current, calls.NewResumeInput(sender, nil))
		require.NoError(t, err)
		current = result.State
	}
	_, err := e.Execute(current, calls.NewResumeInput(sender, nil))
	assert.ErrorIs(t, err, ErrNoPendingLeak)
}

// TestBlockContextNeverRewinds verifies an input's environment cannot move the block below the base block.
func TestBlockContextNeverRewinds(t *testing.T) {
	maps := coverage.NewFeedbackMaps()
	e := NewExecutor(Config{Block: vm.BlockContext{Number: 100, Timestamp: 5000, ChainID: 1}}, maps, []common.Address{sender}, nil)
	st := state.NewEVMState()
	st.SetCode(target, testutils.NewAssembler().Op(evm.NUMBER).ReturnTop().Bytes())
	assert.Equal(t, uint64(100), e.Block().Number)

	input := calls.NewInput(sender, target, nil, nil)
	input.Env.BlockNumber = 1
	input.Env.Timestamp = 1
	result, err := e.Execute(st, input)
	require.NoError(t, err)
	require.Equal(t, vm.StatusCompleted, result.Status)
	assert.Equal(t, uint64(100), new(uint256.Int).SetBytes(result.Output).Uint64())

	input.Env.BlockNumber = 150
	result, err = e.Execute(st, input)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), new(uint256.Int).SetBytes(result.Output).Uint64())

	st.SetCode(target, testutils.NewAssembler().Op(evm.TIMESTAMP).ReturnTop().Bytes())
	input.Env.Timestamp = 10
	result, err = e.Execute(st, input)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), new(uint256.Int).SetBytes(result.Output).Uint64())
}

// TestResumeKeepsLeakBlock verifies a resumed execution never sees a block older than the one it leaked in.
func TestResumeKeepsLeakBlock(t *testing.T) {
	e, st, _ := newTestExecutor(t, true)
	// Hands control to the caller, then records the block number in slot 1.
	st.SetCode(target, testutils.NewAssembler().
		Push(0).Push(0).Push(0).Push(0).Push(0).
		Op(evm.CALLER, evm.GAS, evm.CALL, evm.POP).
		Op(evm.NUMBER).Push(1).Op(evm.SSTORE).
		Op(evm.STOP).
		Bytes())

	input := calls.NewInput(sender, target, nil, nil)
	input.Env.BlockNumber = 50
	input.Env.Timestamp = 700
	leaked, err := e.Execute(st, input)
	require.NoError(t, err)
	require.Equal(t, vm.StatusLeaked, leaked.Status)
	assert.Equal(t, uint64(50), leaked.Leak.BlockNumber)
	assert.Equal(t, uint64(700), leaked.Leak.Timestamp)

	resumed, err := e.Execute(leaked.State, calls.NewResumeInput(sender, nil))
	require.NoError(t, err)
	require.Equal(t, vm.StatusCompleted, resumed.Status)
	assert.Equal(t, common.BytesToHash(word(50)), resumed.State.ReadSlot(target, common.Hash{1}))
}

// TestResumeRejectsEmptyFrames verifies a suspended execution without frames is an error, not a panic.
func TestResumeRejectsEmptyFrames(t *testing.T) {
	e, st, _ := newTestExecutor(t, true)
	st.PushLeak(&state.PostExecutionContext{LeakedTo: sender})

	_, err := e.Execute(st, calls.NewResumeInput(sender, nil))
	assert.ErrorIs(t, err, ErrMalformedLeak)
	assert.Equal(t, 1, st.PendingLeaks())
}

// TestExecuteFeedback verifies branches and comparisons reach the feedback maps.
func TestExecuteFeedback(t *testing.T) {
	e, st, maps := newTestExecutor(t, false)
	st.SetCode(target, storageContract())

	_, err := e.Execute(st, calls.NewInput(sender, target, call("guess(uint256)", word(0x1300)), nil))
	require.NoError(t, err)
	assert.Greater(t, maps.EdgeCount(), 0)

	found := false
	for _, record := range maps.CompareRecords() {
		if record.Op == byte(evm.EQ) && record.Distance.Uint64() == 0x37 {
			found = true
		}
	}
	assert.True(t, found, "the distance to the hidden constant must be recorded")
}

// TestExecuteObservations verifies marker events and arbitrary calls are observed.
func TestExecuteObservations(t *testing.T) {
	e, st, _ := newTestExecutor(t, false)
	st.SetCode(target, storageContract())

	result, err := e.Execute(st, calls.NewInput(sender, target, call("guess(uint256)", word(0x1337)), nil))
	require.NoError(t, err)
	assert.True(t, result.State.Observations.BugHit)

	result, err = e.Execute(st, calls.NewInput(sender, target, call("markers()"), nil))
	require.NoError(t, err)
	require.Len(t, result.State.Observations.TypedBugs, 1)
	assert.Equal(t, "drained", result.State.Observations.TypedBugs[0].Name)

	victim := common.HexToAddress("0xdeadbeef")
	result, err = e.Execute(st, calls.NewInput(sender, target, call("forward(address)", common.LeftPadBytes(victim[:], 32)), nil))
	require.NoError(t, err)
	require.Len(t, result.State.Observations.ArbitraryCalls, 1)
	assert.Equal(t, victim, result.State.Observations.ArbitraryCalls[0].Target)

	// Small integers are not treated as addresses.
	result, err = e.Execute(st, calls.NewInput(sender, target, call("forward(address)", word(4)), nil))
	require.NoError(t, err)
	assert.Empty(t, result.State.Observations.ArbitraryCalls)
}

// TestDeployAndStaticCall verifies deployment installs runtime code and static calls leave the state alone.
func TestDeployAndStaticCall(t *testing.T) {
	e, st, maps := newTestExecutor(t, false)
	runtime := testutils.NewAssembler().Push(0).Op(evm.SLOAD).Push(1).Op(evm.ADD).ReturnTop().Bytes()

	result, err := e.Deploy(st, deployer, testutils.DeployCode(runtime), nil)
	require.NoError(t, err)
	deployed := result.CreatedAddress
	assert.Equal(t, runtime, st.GetCode(deployed))
	assert.Equal(t, deployed, result.Trace.To)

	maps.ResetExecution()
	static, err := e.StaticCall(st, sender, deployed, nil)
	require.NoError(t, err)
	assert.Equal(t, word(1), static.Output)
	assert.Zero(t, maps.EdgeCount())

	_, err = e.Deploy(st, deployer, testutils.NewAssembler().Revert().Bytes(), nil)
	assert.Error(t, err)
}

// TestTraceRender verifies the human-readable trace shows nested calls and outcomes.
func TestTraceRender(t *testing.T) {
	e, st, _ := newTestExecutor(t, false)
	st.SetCode(target, storageContract())
	callee := common.HexToAddress("0xdeadbeef")
	st.SetCode(callee, testutils.NewAssembler().Revert().Bytes())

	result, err := e.Execute(st, calls.NewInput(sender, target, call("forward(address)", common.LeftPadBytes(callee[:], 32)), nil))
	require.NoError(t, err)
	require.Len(t, result.Trace.Children, 1)
	assert.Equal(t, TraceReverted, result.Trace.Children[0].Status)

	rendered := result.Trace.String()
	assert.Contains(t, rendered, "[CALL]")
	assert.Contains(t, rendered, "[revert]")
	assert.Contains(t, rendered, "[return]")
}
