package executor

import (
	"github.com/crytic/hydra/chain/fork"
	"github.com/crytic/hydra/chain/state"
	"github.com/crytic/hydra/chain/vm"
	"github.com/crytic/hydra/fuzzing/calls"
	"github.com/crytic/hydra/fuzzing/coverage"
	"github.com/crytic/hydra/logging"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/crypto"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// ErrNoPendingLeak is returned when a resume input targets a state without suspended executions.
var ErrNoPendingLeak = errors.New("no pending leak to resume")

// ErrMalformedLeak is returned when the suspended execution being resumed has no frames.
var ErrMalformedLeak = errors.New("suspended execution has no frames")

var (
	// BugTopic is the topic of the bug() marker event.
	BugTopic = common.BytesToHash(crypto.Keccak256([]byte("bug()")))
	// TypedBugTopic is the topic of the typed_bug(string) marker event, whose data is the bug name.
	TypedBugTopic = common.BytesToHash(crypto.Keccak256([]byte("typed_bug(string)")))
)

// Config describes how the executor runs transactions.
type Config struct {
	// GasLimit is the gas available to each transaction.
	GasLimit uint64
	// ControlLeak suspends calls into fuzzer-controlled accounts instead of completing them.
	ControlLeak bool
	// Block is the base block context. An input's block number and timestamp are raised to at least its values;
	// the other non-zero fields of an input's environment override it.
	Block vm.BlockContext
}

// ExecutionResult is the outcome of one input.
type ExecutionResult struct {
	// Status is the status of the last execution. Repeated inputs stop at the first one which did not complete.
	Status vm.Status
	// State is the state after the input. It equals the pre state when the input reverted.
	State *state.EVMState
	// Output is the return or revert data of the last execution.
	Output []byte
	// Err is the fault which ended the last execution, if any.
	Err error
	// GasUsed totals the gas of every execution.
	GasUsed uint64
	// Executions is the number of times the call ran.
	Executions uint64
	// Trace is the call trace of the last execution.
	Trace *CallTrace
	// CreatedAddress is set for deployments.
	CreatedAddress common.Address
	// Leak is the suspended execution pushed by this input, if it leaked.
	Leak *state.PostExecutionContext
	// NewInstructions is set when the input executed an instruction for the first time in the run.
	NewInstructions bool
}

// Reverted reports whether the input's last execution reverted or faulted.
func (r *ExecutionResult) Reverted() bool {
	return r.Status == vm.StatusReverted
}

// Executor runs inputs against EVM states, recording feedback into the maps it was given.
type Executor struct {
	config Config

	maps                *coverage.FeedbackMaps
	instructionCoverage *coverage.InstructionCoverage

	// controlled are the fuzzer-controlled accounts, which receive leaked calls.
	controlled map[common.Address]bool

	backend fork.Backend
	scope   *onchainScope

	logger *logging.Logger
}

// NewExecutor creates an executor writing feedback into maps. controlled are the accounts the fuzzer sends
// transactions from. backend may be nil to disable on-chain lookups.
func NewExecutor(config Config, maps *coverage.FeedbackMaps, controlled []common.Address, backend fork.Backend) *Executor {
	e := &Executor{
		config:     config,
		maps:       maps,
		controlled: make(map[common.Address]bool, len(controlled)),
		backend:    backend,
		scope:      newOnchainScope(),
		logger:     logging.GlobalLogger.NewSubLogger("module", logging.EXECUTOR_SERVICE),
	}
	for _, address := range controlled {
		e.controlled[address] = true
	}
	if e.config.GasLimit == 0 {
		e.config.GasLimit = 30_000_000
	}
	return e
}

// SetInstructionCoverage installs the instruction coverage updated by every execution.
func (e *Executor) SetInstructionCoverage(instructionCoverage *coverage.InstructionCoverage) {
	e.instructionCoverage = instructionCoverage
}

// AddOnchainAddresses resolves the accounts on chain when the state is missing their data.
func (e *Executor) AddOnchainAddresses(addresses ...common.Address) {
	for _, address := range addresses {
		e.scope.onchain[address] = true
	}
}

// MarkLocal prevents on-chain lookups for an account, for example one deployed by the fuzzer.
func (e *Executor) MarkLocal(addresses ...common.Address) {
	for _, address := range addresses {
		e.scope.local[address] = true
	}
}

// OnchainAddresses returns the accounts currently resolved on chain.
func (e *Executor) OnchainAddresses() []common.Address {
	addresses := make([]common.Address, 0, len(e.scope.onchain))
	for address := range e.scope.onchain {
		addresses = append(addresses, address)
	}
	return addresses
}

// blockContext merges the input environment into the default block context.
func (e *Executor) blockContext(env calls.Environment) vm.BlockContext {
	block := e.config.Block
	block.Number = max(block.Number, env.BlockNumber)
	block.Timestamp = max(block.Timestamp, env.Timestamp)
	if env.Coinbase != (common.Address{}) {
		block.Coinbase = env.Coinbase
	}
	if env.GasLimit != 0 {
		block.GasLimit = env.GasLimit
	}
	if env.ChainID != 0 {
		block.ChainID = env.ChainID
	}
	return block
}

// Block returns the base block context inputs execute in.
func (e *Executor) Block() vm.BlockContext {
	return e.config.Block
}

// run is the bookkeeping of one execution.
type run struct {
	executor *Executor
	state    *state.EVMState
	host     *FuzzHost
	trace    *traceBuilder
	caller   common.Address
	block    vm.BlockContext

	// resumed is the suspended execution being continued, if any.
	resumed *state.PostExecutionContext
	// reads are the slots read, in order, for the leak context.
	reads []state.SlotRef
	// newInstructions is set once an instruction is covered for the first time.
	newInstructions bool
}

func (e *Executor) newRun(st *state.EVMState, caller common.Address, block vm.BlockContext, trace *traceBuilder) *run {
	return &run{
		executor: e,
		state:    st,
		host:     newFuzzHost(st, block, caller, e),
		trace:    trace,
		caller:   caller,
		block:    block,
	}
}

func (r *run) recordRead(address common.Address, slot common.Hash) {
	ref := state.SlotRef{Address: address, Slot: slot}
	for _, read := range r.reads {
		if read == ref {
			return
		}
	}
	r.reads = append(r.reads, ref)
}

// hooks wires the interpreter callbacks into the feedback maps, the state's observations and the trace.
func (r *run) hooks(feedback bool) *vm.Hooks {
	e := r.executor
	hooks := &vm.Hooks{
		OnEnter: r.trace.enter,
		OnExit: func(output []byte, gasUsed uint64, err error, reverted bool, depth int) {
			r.trace.exit(output, gasUsed, err, reverted)
		},
		OnLog: func(address common.Address, pc uint64, topics []common.Hash, data []byte) {
			r.trace.log(address, topics, data)
			if len(topics) == 0 {
				return
			}
			switch topics[0] {
			case BugTopic:
				r.state.RecordBug()
			case TypedBugTopic:
				r.state.RecordTypedBug(string(data), address, pc)
			}
		},
		OnStorageRead: func(address common.Address, pc uint64, key common.Hash) {
			r.recordRead(address, key)
			if feedback {
				e.maps.RecordRead(address, key)
			}
		},
		OnStorageWrite: func(address common.Address, pc uint64, key, value common.Hash) {
			if r.resumed != nil && r.resumed.WasRead(address, key) {
				r.state.RecordReentrancy(address, pc, key)
			}
		},
		OnOverflow: func(address common.Address, pc uint64, op byte) {
			r.state.RecordIntegerOverflow(address, pc, op)
		},
		OnSelfDestruct: func(address common.Address, pc uint64, beneficiary common.Address) {
			r.state.RecordSelfDestruct(address, pc)
		},
		OnCallTarget: func(frame *vm.Frame, kind vm.CallKind, target common.Address) {
			if kind != vm.CallKindStaticCall && r.isArbitraryTarget(frame, target) {
				r.state.RecordArbitraryCall(frame.Address, target, frame.PC-1)
			}
		},
		OnLeak: func(frame *vm.Frame, target common.Address, value *uint256.Int, input []byte) {
			e.logger.Trace("Call from ", frame.Address.Hex(), " to ", target.Hex(), " leaked control")
		},
	}
	if !feedback {
		return hooks
	}
	hooks.OnJump = func(codeAddress common.Address, pc, dest uint64, taken bool) {
		e.maps.RecordJump(codeAddress, pc, dest)
	}
	hooks.OnCompare = func(codeAddress common.Address, pc uint64, op byte, a, b *uint256.Int) {
		e.maps.RecordCompare(codeAddress, pc, op, a, b)
	}
	if e.instructionCoverage != nil {
		hooks.OnStep = func(frame *vm.Frame, op byte) {
			if e.instructionCoverage.Hit(frame.CodeAddress, frame.PC) {
				r.newInstructions = true
			}
		}
	}
	return hooks
}

// isArbitraryTarget reports whether the target of a call was supplied verbatim as an argument word of the calling
// frame's calldata. Low addresses are skipped, since small integer arguments would match them.
func (r *run) isArbitraryTarget(frame *vm.Frame, target common.Address) bool {
	if target == r.caller || new(uint256.Int).SetBytes20(target[:]).LtUint64(0x100) {
		return false
	}
	word := common.BytesToHash(target[:])
	for offset := 4; offset+32 <= len(frame.Input); offset += 32 {
		if common.BytesToHash(frame.Input[offset:offset+32]) == word {
			return true
		}
	}
	return false
}

// Execute runs input against a clone of st. Execution faults are reported through the result; errors are returned
// only for inputs which cannot run at all, such as a resume without a pending leak.
func (e *Executor) Execute(st *state.EVMState, input *calls.Input) (*ExecutionResult, error) {
	if input.Resume {
		return e.resume(st, input)
	}

	post := st.Clone()
	post.ResetObservations()
	e.maps.ResetExecution()
	post.SetWriteObserver(e.maps.RecordWrite)
	defer post.SetWriteObserver(nil)

	block := e.blockContext(input.Env)
	result := &ExecutionResult{State: post}
	for i := uint64(0); i < input.Executions(); i++ {
		root := &CallTrace{Kind: vm.CallKindCall, From: input.Caller, To: input.Contract, Input: input.Data, Status: TracePending}
		root.Value.Set(&input.Value)
		r := e.newRun(post, input.Caller, block, newTraceBuilder(root))

		observations := post.Observations
		res := vm.NewInterpreter(r.host, r.hooks(true)).Call(input.Caller, input.Contract, &input.Value, input.Data, e.config.GasLimit)
		if res.Status == vm.StatusReverted {
			post.Observations = observations
		}

		result.Executions++
		e.collect(result, r, res)
		if res.Status != vm.StatusCompleted {
			break
		}
	}
	return result, nil
}

// resume pops the newest suspended execution of st and continues it, returning input.Data to the leaked call.
func (e *Executor) resume(st *state.EVMState, input *calls.Input) (*ExecutionResult, error) {
	post := st.Clone()
	post.ResetObservations()
	ctx, ok := post.PopLeak()
	if !ok {
		return nil, errors.WithStack(ErrNoPendingLeak)
	}
	if len(ctx.Frames) == 0 {
		return nil, errors.WithStack(ErrMalformedLeak)
	}
	e.maps.ResetExecution()
	post.SetWriteObserver(e.maps.RecordWrite)
	defer post.SetWriteObserver(nil)

	block := e.blockContext(input.Env)
	block.Number = max(block.Number, ctx.BlockNumber)
	block.Timestamp = max(block.Timestamp, ctx.Timestamp)

	frames := vm.CloneFrames(ctx.Frames)
	r := e.newRun(post, ctx.Frames[0].Caller, block, newResumeTraceBuilder(frames))
	r.resumed = ctx
	r.reads = append(r.reads, ctx.ReadSlots...)

	res := vm.NewInterpreter(r.host, r.hooks(true)).Resume(frames, input.Data)
	result := &ExecutionResult{State: post, Executions: 1}
	if res.Status == vm.StatusReverted {
		// The suspended execution stays pending, so it can be resumed with other data.
		post.ResetObservations()
		post.PushLeak(ctx)
	}
	e.collect(result, r, res)
	return result, nil
}

// collect folds one interpreter result into the input's result, pushing a leak context when execution suspended.
func (e *Executor) collect(result *ExecutionResult, r *run, res *vm.Result) {
	result.Status = res.Status
	result.Output = res.Output
	result.Err = res.Err
	result.GasUsed += res.GasUsed
	result.CreatedAddress = res.CreatedAddress
	result.Trace = r.trace.finish(res)
	result.NewInstructions = result.NewInstructions || r.newInstructions

	if res.Status != vm.StatusLeaked {
		return
	}
	top := res.Leak.Frames[len(res.Leak.Frames)-1]
	ctx := &state.PostExecutionContext{
		Frames:     res.Leak.Frames,
		LeakedFrom: top.Address,
		LeakedTo:   res.Leak.Target,
		Value:      new(uint256.Int).Set(&res.Leak.Value),
		Input:      common.CopyBytes(res.Leak.Input),
		ReadSlots:  r.reads,

		BlockNumber: r.block.Number,
		Timestamp:   r.block.Timestamp,
	}
	r.state.PushLeak(ctx)
	result.Leak = ctx
}

// StaticCall runs a read-only call against a clone of st without recording feedback.
func (e *Executor) StaticCall(st *state.EVMState, from, to common.Address, data []byte) (*ExecutionResult, error) {
	clone := st.Clone()
	clone.ResetObservations()
	root := &CallTrace{Kind: vm.CallKindStaticCall, From: from, To: to, Input: data, Status: TracePending}
	r := e.newRun(clone, from, e.config.Block, newTraceBuilder(root))

	res := vm.NewInterpreter(r.host, r.hooks(false)).StaticCall(from, to, data, e.config.GasLimit)
	if res.Status == vm.StatusLeaked {
		return nil, errors.Errorf("static call to %s leaked control", to.Hex())
	}
	result := &ExecutionResult{State: clone, Executions: 1}
	e.collect(result, r, res)
	return result, nil
}

// Deploy runs initCode from deployer against st in place and returns the deployment result. A failed deployment
// is an error, since nothing can be fuzzed without the contract.
func (e *Executor) Deploy(st *state.EVMState, deployer common.Address, initCode []byte, value *uint256.Int) (*ExecutionResult, error) {
	root := &CallTrace{Kind: vm.CallKindCreate, From: deployer, Status: TracePending}
	if value != nil {
		root.Value.Set(value)
	}
	r := e.newRun(st, deployer, e.config.Block, newTraceBuilder(root))

	res := vm.NewInterpreter(r.host, r.hooks(false)).Create(deployer, value, initCode, e.config.GasLimit)
	result := &ExecutionResult{State: st, Executions: 1}
	e.collect(result, r, res)
	root.To = res.CreatedAddress
	if res.Status != vm.StatusCompleted {
		return result, errors.Errorf("deployment from %s failed: %v", deployer.Hex(), res.Err)
	}
	e.MarkLocal(res.CreatedAddress)
	return result, nil
}
