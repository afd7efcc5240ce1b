package vm

import (
	"encoding/json"

	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// CallKind describes how a frame was entered.
type CallKind int

const (
	CallKindCall CallKind = iota
	CallKindStaticCall
	CallKindDelegateCall
	CallKindCallCode
	CallKindCreate
	CallKindCreate2
)

// String returns the opcode-style name of the call kind.
func (k CallKind) String() string {
	switch k {
	case CallKindCall:
		return "CALL"
	case CallKindStaticCall:
		return "STATICCALL"
	case CallKindDelegateCall:
		return "DELEGATECALL"
	case CallKindCallCode:
		return "CALLCODE"
	case CallKindCreate:
		return "CREATE"
	case CallKindCreate2:
		return "CREATE2"
	default:
		return "UNKNOWN"
	}
}

// IsCreate reports whether the kind deploys code.
func (k CallKind) IsCreate() bool {
	return k == CallKindCreate || k == CallKindCreate2
}

// Frame is one call frame of the interpreter. All execution state lives here rather than on the Go call stack, so a
// suspended stack of frames can be cloned, serialized and resumed later.
type Frame struct {
	// Kind describes how this frame was entered.
	Kind CallKind
	// Address is the account whose storage and balance the frame operates on.
	Address common.Address
	// CodeAddress is the account the executing code was loaded from. It differs from Address for delegate calls.
	CodeAddress common.Address
	// Caller is the CALLER of this frame.
	Caller common.Address
	// Value is the CALLVALUE of this frame.
	Value uint256.Int
	// Input is the calldata of this frame. It is empty for create frames.
	Input []byte
	// Code is the code being executed.
	Code []byte
	// Static is set for frames which may not modify state.
	Static bool
	// Depth is the call depth, zero for the transaction's root frame.
	Depth int

	// PC is the program counter of the next instruction.
	PC uint64
	// Gas is the gas remaining to this frame.
	Gas uint64
	// Stack and Memory are the frame's operand stack and memory.
	Stack  *Stack
	Memory *Memory
	// ReturnData holds the output of the most recent child call.
	ReturnData []byte

	// ReturnOffset and ReturnSize describe the memory region receiving a pending child call's output.
	ReturnOffset uint64
	ReturnSize   uint64
	// ChildGas is the gas forwarded to a pending child call. It is refunded when a leaked call is resumed.
	ChildGas uint64

	// snapshot is the host journal id taken when this frame was entered.
	snapshot int
	// jumpdests caches the valid jump destinations of Code.
	jumpdests []bool
}

// NewFrame creates a frame ready to execute code from its first instruction.
func NewFrame(kind CallKind, caller, address, codeAddress common.Address, value *uint256.Int, input, code []byte, gas uint64) *Frame {
	frame := &Frame{
		Kind:        kind,
		Address:     address,
		CodeAddress: codeAddress,
		Caller:      caller,
		Input:       common.CopyBytes(input),
		Code:        code,
		Static:      kind == CallKindStaticCall,
		Gas:         gas,
		Stack:       newStack(),
		Memory:      newMemory(),
	}
	if value != nil {
		frame.Value.Set(value)
	}
	return frame
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	clone := *f
	clone.Input = common.CopyBytes(f.Input)
	clone.Code = common.CopyBytes(f.Code)
	clone.ReturnData = common.CopyBytes(f.ReturnData)
	clone.Stack = f.Stack.clone()
	clone.Memory = f.Memory.clone()
	clone.jumpdests = nil
	return &clone
}

// CloneFrames deep copies a frame stack.
func CloneFrames(frames []*Frame) []*Frame {
	clones := make([]*Frame, len(frames))
	for i, frame := range frames {
		clones[i] = frame.Clone()
	}
	return clones
}

func (f *Frame) useGas(amount uint64) error {
	if f.Gas < amount {
		f.Gas = 0
		return ErrOutOfGas
	}
	f.Gas -= amount
	return nil
}

// validJump reports whether dest is a JUMPDEST outside of push data.
func (f *Frame) validJump(dest uint64) bool {
	if f.jumpdests == nil {
		f.jumpdests = analyzeJumpdests(f.Code)
	}
	return dest < uint64(len(f.jumpdests)) && f.jumpdests[dest]
}

func analyzeJumpdests(code []byte) []bool {
	dests := make([]bool, len(code))
	for pc := 0; pc < len(code); pc++ {
		op := code[pc]
		if op == 0x5b {
			dests[pc] = true
		} else if op >= 0x60 && op <= 0x7f {
			pc += int(op-0x60) + 1
		}
	}
	return dests
}

// frameJSON is the serialized form of a Frame.
type frameJSON struct {
	Kind         CallKind       `json:"kind"`
	Address      common.Address `json:"address"`
	CodeAddress  common.Address `json:"codeAddress"`
	Caller       common.Address `json:"caller"`
	Value        string         `json:"value"`
	Input        hexutil.Bytes  `json:"input"`
	Code         hexutil.Bytes  `json:"code"`
	Static       bool           `json:"static"`
	Depth        int            `json:"depth"`
	PC           uint64         `json:"pc"`
	Gas          uint64         `json:"gas"`
	Stack        []string       `json:"stack"`
	Memory       hexutil.Bytes  `json:"memory"`
	ReturnData   hexutil.Bytes  `json:"returnData"`
	ReturnOffset uint64         `json:"returnOffset"`
	ReturnSize   uint64         `json:"returnSize"`
	ChildGas     uint64         `json:"childGas"`
}

// MarshalJSON encodes the frame with stack words as hex strings.
func (f *Frame) MarshalJSON() ([]byte, error) {
	stack := make([]string, len(f.Stack.data))
	for i := range f.Stack.data {
		stack[i] = f.Stack.data[i].Hex()
	}
	return json.Marshal(frameJSON{
		Kind:         f.Kind,
		Address:      f.Address,
		CodeAddress:  f.CodeAddress,
		Caller:       f.Caller,
		Value:        f.Value.Hex(),
		Input:        f.Input,
		Code:         f.Code,
		Static:       f.Static,
		Depth:        f.Depth,
		PC:           f.PC,
		Gas:          f.Gas,
		Stack:        stack,
		Memory:       f.Memory.store,
		ReturnData:   f.ReturnData,
		ReturnOffset: f.ReturnOffset,
		ReturnSize:   f.ReturnSize,
		ChildGas:     f.ChildGas,
	})
}

// UnmarshalJSON decodes a frame produced by MarshalJSON.
func (f *Frame) UnmarshalJSON(b []byte) error {
	var decoded frameJSON
	if err := json.Unmarshal(b, &decoded); err != nil {
		return errors.WithStack(err)
	}
	value, err := uint256.FromHex(decoded.Value)
	if err != nil {
		return errors.Wrap(err, "invalid frame value")
	}
	stack := newStack()
	for _, item := range decoded.Stack {
		word, err := uint256.FromHex(item)
		if err != nil {
			return errors.Wrap(err, "invalid frame stack item")
		}
		stack.push(word)
	}
	*f = Frame{
		Kind:         decoded.Kind,
		Address:      decoded.Address,
		CodeAddress:  decoded.CodeAddress,
		Caller:       decoded.Caller,
		Value:        *value,
		Input:        decoded.Input,
		Code:         decoded.Code,
		Static:       decoded.Static,
		Depth:        decoded.Depth,
		PC:           decoded.PC,
		Gas:          decoded.Gas,
		Stack:        stack,
		Memory:       &Memory{store: decoded.Memory},
		ReturnData:   decoded.ReturnData,
		ReturnOffset: decoded.ReturnOffset,
		ReturnSize:   decoded.ReturnSize,
		ChildGas:     decoded.ChildGas,
	}
	if f.Memory.store == nil {
		f.Memory.store = make([]byte, 0)
	}
	return nil
}
