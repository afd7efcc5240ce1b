package vm

import (
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/crypto"
	"github.com/holiman/uint256"
)

// Status is the outcome of running a frame stack.
type Status int

const (
	// StatusCompleted means the root frame halted successfully.
	StatusCompleted Status = iota
	// StatusReverted means the root frame reverted or faulted. Its state changes were rolled back.
	StatusReverted
	// StatusLeaked means a call handed control to a fuzzer-controlled account. Execution is suspended and can be
	// continued with Interpreter.Resume.
	StatusLeaked
)

// String returns a readable status name.
func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusReverted:
		return "reverted"
	case StatusLeaked:
		return "leaked"
	default:
		return "unknown"
	}
}

// Leak describes a suspended execution.
type Leak struct {
	// Frames is the suspended frame stack, root first. The last frame is the one that issued the call.
	Frames []*Frame
	// Target, Value and Input describe the leaked call.
	Target common.Address
	Value  uint256.Int
	Input  []byte
}

// Result is the outcome of Call, Create or Resume.
type Result struct {
	Status  Status
	Output  []byte
	GasUsed uint64
	// Err is the fault which ended the root frame, if any. Reverts carry ErrExecutionReverted.
	Err error
	// Leak is set when Status is StatusLeaked.
	Leak *Leak
	// CreatedAddress is set for successful deployments.
	CreatedAddress common.Address
}

// Failed reports whether the root frame reverted or faulted.
func (r *Result) Failed() bool {
	return r.Status == StatusReverted
}

// callRequest describes a frame about to be entered.
type callRequest struct {
	kind        CallKind
	caller      common.Address
	address     common.Address
	codeAddress common.Address
	value       uint256.Int
	transfer    bool
	input       []byte
	gas         uint64
	depth       int
	static      bool
	salt        *uint256.Int
}

// frameHalt describes how a frame ended.
type frameHalt struct {
	output   []byte
	err      error
	reverted bool
	gasLeft  uint64
	created  common.Address
}

func (h *frameHalt) success() bool {
	return h.err == nil && !h.reverted
}

// Interpreter executes EVM bytecode against a Host. The call stack is an explicit slice of frames, so execution can
// stop at any call and be picked up again later from a copy of the frames.
type Interpreter struct {
	host      Host
	hooks     Hooks
	transient map[common.Address]map[common.Hash]common.Hash
}

// NewInterpreter creates an interpreter over host. hooks may be nil.
func NewInterpreter(host Host, hooks *Hooks) *Interpreter {
	in := &Interpreter{host: host}
	if hooks != nil {
		in.hooks = *hooks
	}
	return in
}

// Call runs a message call from caller to to as the root of a transaction.
func (in *Interpreter) Call(caller, to common.Address, value *uint256.Int, input []byte, gas uint64) *Result {
	req := &callRequest{
		kind:        CallKindCall,
		caller:      caller,
		address:     to,
		codeAddress: to,
		transfer:    true,
		input:       input,
		gas:         gas,
	}
	if value != nil {
		req.value.Set(value)
	}
	return in.start(req)
}

// StaticCall runs a read-only call from caller to to as the root of a transaction.
func (in *Interpreter) StaticCall(caller, to common.Address, input []byte, gas uint64) *Result {
	return in.start(&callRequest{
		kind:        CallKindStaticCall,
		caller:      caller,
		address:     to,
		codeAddress: to,
		input:       input,
		gas:         gas,
		static:      true,
	})
}

// Create deploys initCode from caller as the root of a transaction.
func (in *Interpreter) Create(caller common.Address, value *uint256.Int, initCode []byte, gas uint64) *Result {
	req := &callRequest{
		kind:     CallKindCreate,
		caller:   caller,
		transfer: true,
		input:    initCode,
		gas:      gas,
	}
	if value != nil {
		req.value.Set(value)
	}
	return in.start(req)
}

// Resume continues a suspended frame stack as if the leaked call had returned successfully with returnData.
func (in *Interpreter) Resume(frames []*Frame, returnData []byte) *Result {
	if len(frames) == 0 {
		return &Result{Status: StatusCompleted}
	}
	in.transient = make(map[common.Address]map[common.Hash]common.Hash)
	snapshot := in.host.Snapshot()
	for _, frame := range frames {
		frame.snapshot = snapshot
	}
	top := frames[len(frames)-1]
	in.returnToParent(top, CallKindCall, &frameHalt{output: returnData, gasLeft: top.ChildGas})

	var startGas uint64
	for _, frame := range frames {
		startGas += frame.Gas
	}
	return in.run(frames, startGas)
}

func (in *Interpreter) start(req *callRequest) *Result {
	in.transient = make(map[common.Address]map[common.Hash]common.Hash)
	root, immediate, leaked := in.enter(req)
	if leaked {
		// The root of a transaction never leaks. Treat it as a plain transfer.
		return &Result{Status: StatusCompleted}
	}
	if immediate != nil {
		result := &Result{Status: StatusCompleted, Output: immediate.output, CreatedAddress: immediate.created}
		if !immediate.success() {
			result.Status = StatusReverted
			result.Err = immediate.err
		}
		result.GasUsed = req.gas - immediate.gasLeft
		return result
	}
	return in.run([]*Frame{root}, req.gas)
}

// enter prepares the frame described by req. It returns a halt instead when the call completes without running code,
// and leaked when the call should suspend execution.
func (in *Interpreter) enter(req *callRequest) (*Frame, *frameHalt, bool) {
	if req.depth > MaxCallDepth {
		return nil, &frameHalt{err: ErrDepth, gasLeft: req.gas}, false
	}
	snapshot := in.host.Snapshot()

	var code []byte
	input := req.input
	if req.kind.IsCreate() {
		var address common.Address
		if req.kind == CallKindCreate2 {
			salt := req.salt.Bytes32()
			address = crypto.CreateAddress2(req.caller, salt, crypto.Keccak256(req.input))
		} else {
			address = in.host.CreateAddress(req.caller)
		}
		if len(in.host.GetCode(address)) != 0 {
			return nil, &frameHalt{err: ErrCodeCollision}, false
		}
		req.address, req.codeAddress = address, address
		code, input = req.input, nil
	} else {
		code = in.host.GetCode(req.codeAddress)
	}

	leaked := req.kind == CallKindCall && len(code) == 0 && req.depth > 0 &&
		in.host.ShouldLeak(req.caller, req.address, &req.value, input)

	if req.transfer && !req.value.IsZero() {
		if err := in.host.Transfer(req.caller, req.address, &req.value); err != nil {
			in.host.RevertToSnapshot(snapshot)
			return nil, &frameHalt{err: err, gasLeft: req.gas}, false
		}
	}
	if leaked {
		return nil, nil, true
	}
	if len(code) == 0 {
		halt := &frameHalt{gasLeft: req.gas}
		if req.kind.IsCreate() {
			halt.created = req.address
		}
		return nil, halt, false
	}

	frame := NewFrame(req.kind, req.caller, req.address, req.codeAddress, &req.value, input, code, req.gas)
	frame.Static = req.static
	frame.Depth = req.depth
	frame.snapshot = snapshot
	return frame, nil, false
}

// run executes frames until the root halts or a call leaks.
func (in *Interpreter) run(frames []*Frame, startGas uint64) *Result {
	for {
		frame := frames[len(frames)-1]
		req, halt := in.execute(frame)

		if req != nil {
			if in.hooks.OnEnter != nil {
				in.hooks.OnEnter(req.kind, req.caller, req.address, req.input, &req.value, req.depth)
			}
			child, immediate, leaked := in.enter(req)
			if leaked {
				if in.hooks.OnLeak != nil {
					in.hooks.OnLeak(frame, req.address, &req.value, req.input)
				}
				leak := &Leak{Frames: frames, Target: req.address, Input: common.CopyBytes(req.input)}
				leak.Value.Set(&req.value)
				return &Result{Status: StatusLeaked, Leak: leak, GasUsed: startGas - remainingGas(frames)}
			}
			if immediate != nil {
				if in.hooks.OnExit != nil {
					in.hooks.OnExit(immediate.output, req.gas-immediate.gasLeft, immediate.err, false, req.depth)
				}
				in.returnToParent(frame, req.kind, immediate)
				continue
			}
			frames = append(frames, child)
			continue
		}

		frames = frames[:len(frames)-1]
		halt = in.finish(frame, halt)
		if len(frames) == 0 {
			result := &Result{
				Status:         StatusCompleted,
				Output:         halt.output,
				GasUsed:        startGas - halt.gasLeft,
				CreatedAddress: halt.created,
			}
			if !halt.success() {
				result.Status = StatusReverted
				result.Err = halt.err
				if halt.reverted {
					result.Err = ErrExecutionReverted
				}
			}
			return result
		}
		if in.hooks.OnExit != nil {
			var gasUsed uint64
			if parent := frames[len(frames)-1]; parent.ChildGas > halt.gasLeft {
				gasUsed = parent.ChildGas - halt.gasLeft
			}
			in.hooks.OnExit(halt.output, gasUsed, halt.err, halt.reverted, frame.Depth)
		}
		in.returnToParent(frames[len(frames)-1], frame.Kind, halt)
	}
}

func remainingGas(frames []*Frame) uint64 {
	var gas uint64
	for _, frame := range frames {
		gas += frame.Gas
	}
	return gas
}

// finish completes a halted frame: deposits created code and rolls back state on failure.
func (in *Interpreter) finish(frame *Frame, halt *frameHalt) *frameHalt {
	if halt.success() && frame.Kind.IsCreate() {
		if err := frame.useGas(GasCodeDeposit * uint64(len(halt.output))); err != nil {
			halt.err = err
		} else {
			in.host.SetCode(frame.Address, halt.output)
			halt.created = frame.Address
			halt.output = nil
		}
	}
	if !halt.success() {
		if halt.err != nil {
			frame.Gas = 0
		}
		in.host.RevertToSnapshot(frame.snapshot)
	}
	halt.gasLeft = frame.Gas
	return halt
}

// returnToParent delivers a child's outcome to the frame that issued the call.
func (in *Interpreter) returnToParent(parent *Frame, kind CallKind, halt *frameHalt) {
	parent.Gas += halt.gasLeft
	parent.ChildGas = 0

	var flag uint256.Int
	if kind.IsCreate() {
		if halt.success() {
			flag.SetBytes20(halt.created[:])
			parent.ReturnData = nil
		} else {
			parent.ReturnData = halt.output
		}
	} else {
		if halt.success() {
			flag.SetOne()
		}
		parent.ReturnData = halt.output
		size := parent.ReturnSize
		if uint64(len(halt.output)) < size {
			size = uint64(len(halt.output))
		}
		if size > 0 {
			parent.Memory.set(parent.ReturnOffset, halt.output[:size])
		}
	}
	parent.ReturnOffset, parent.ReturnSize = 0, 0
	parent.Stack.push(&flag)
}

// getData returns size bytes of data starting at start, zero padded.
func getData(data []byte, start, size uint64) []byte {
	length := uint64(len(data))
	if start > length {
		start = length
	}
	end := start + size
	if end > length || end < start {
		end = length
	}
	out := make([]byte, size)
	copy(out, data[start:end])
	return out
}
