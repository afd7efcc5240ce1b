package testutils

import (
	"encoding/binary"
	"fmt"

	"github.com/crytic/medusa-geth/common"
	evm "github.com/crytic/medusa-geth/core/vm"
	"github.com/crytic/medusa-geth/crypto"
	"github.com/holiman/uint256"
)

// Assembler builds EVM bytecode for tests. Labels are emitted as JUMPDEST and referenced with PushLabel, which always
// encodes a PUSH2 so code offsets are stable before labels are resolved.
type Assembler struct {
	code   []byte
	labels map[string]int
	fixups map[int]string
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{
		code:   make([]byte, 0),
		labels: make(map[string]int),
		fixups: make(map[int]string),
	}
}

// Op appends raw opcodes.
func (a *Assembler) Op(ops ...evm.OpCode) *Assembler {
	for _, op := range ops {
		a.code = append(a.code, byte(op))
	}
	return a
}

// Push appends the shortest push of v.
func (a *Assembler) Push(v uint64) *Assembler {
	if v == 0 {
		return a.Op(evm.PUSH0)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	for len(buf) > 1 && buf[0] == 0 {
		buf = buf[1:]
	}
	return a.PushBytes(buf)
}

// PushWord appends a PUSH32 of v.
func (a *Assembler) PushWord(v *uint256.Int) *Assembler {
	word := v.Bytes32()
	return a.PushBytes(word[:])
}

// PushBytes appends a push of b, which must be 1 to 32 bytes long.
func (a *Assembler) PushBytes(b []byte) *Assembler {
	if len(b) == 0 || len(b) > 32 {
		panic(fmt.Sprintf("invalid push size %d", len(b)))
	}
	a.code = append(a.code, byte(evm.PUSH1)+byte(len(b)-1))
	a.code = append(a.code, b...)
	return a
}

// PushAddress appends a PUSH20 of address.
func (a *Assembler) PushAddress(address common.Address) *Assembler {
	return a.PushBytes(address[:])
}

// PushSelector appends a PUSH4 of the selector of signature.
func (a *Assembler) PushSelector(signature string) *Assembler {
	return a.PushBytes(Selector(signature))
}

// PushLabel appends a PUSH2 of the label's offset.
func (a *Assembler) PushLabel(name string) *Assembler {
	a.code = append(a.code, byte(evm.PUSH2))
	a.fixups[len(a.code)] = name
	a.code = append(a.code, 0, 0)
	return a
}

// Label marks the current offset and appends a JUMPDEST.
func (a *Assembler) Label(name string) *Assembler {
	a.labels[name] = len(a.code)
	return a.Op(evm.JUMPDEST)
}

// JumpTo jumps unconditionally to a label.
func (a *Assembler) JumpTo(name string) *Assembler {
	return a.PushLabel(name).Op(evm.JUMP)
}

// JumpIf pops a condition and jumps to a label when it is non-zero.
func (a *Assembler) JumpIf(name string) *Assembler {
	return a.PushLabel(name).Op(evm.JUMPI)
}

// Dispatch jumps to label when the calldata selector matches signature.
func (a *Assembler) Dispatch(signature, label string) *Assembler {
	return a.Push(0).Op(evm.CALLDATALOAD).Push(0xe0).Op(evm.SHR).
		PushSelector(signature).Op(evm.EQ).JumpIf(label)
}

// Arg pushes the n-th 32-byte calldata argument.
func (a *Assembler) Arg(n uint64) *Assembler {
	return a.Push(4 + 32*n).Op(evm.CALLDATALOAD)
}

// Revert appends REVERT(0, 0).
func (a *Assembler) Revert() *Assembler {
	return a.Push(0).Push(0).Op(evm.REVERT)
}

// ReturnTop stores the top of stack at memory 0 and returns it as a word.
func (a *Assembler) ReturnTop() *Assembler {
	return a.Push(0).Op(evm.MSTORE).Push(32).Push(0).Op(evm.RETURN)
}

// Bug emits the bug() marker event.
func (a *Assembler) Bug() *Assembler {
	return a.PushBytes(crypto.Keccak256([]byte("bug()"))).Push(0).Push(0).Op(evm.LOG1)
}

// TypedBug emits the typed_bug(string) marker event with name as data.
func (a *Assembler) TypedBug(name string) *Assembler {
	data := common.RightPadBytes([]byte(name), 32)
	return a.PushBytes(data).Push(0).Op(evm.MSTORE).
		PushBytes(crypto.Keccak256([]byte("typed_bug(string)"))).
		Push(uint64(len(name))).Push(0).Op(evm.LOG1)
}

// Selector returns the 4-byte selector of a function signature.
func Selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// Bytes resolves labels and returns the assembled code.
func (a *Assembler) Bytes() []byte {
	out := make([]byte, len(a.code))
	copy(out, a.code)
	for offset, name := range a.fixups {
		target, ok := a.labels[name]
		if !ok {
			panic(fmt.Sprintf("unknown label %q", name))
		}
		binary.BigEndian.PutUint16(out[offset:], uint16(target))
	}
	return out
}

// DeployCode wraps runtime in init code which returns it.
func DeployCode(runtime []byte) []byte {
	const initSize = 12
	init := NewAssembler().
		PushBytes([]byte{byte(len(runtime) >> 8), byte(len(runtime))}).
		Op(evm.DUP1).
		PushBytes([]byte{initSize}).
		PushBytes([]byte{0}).
		Op(evm.CODECOPY).
		PushBytes([]byte{0}).
		Op(evm.RETURN).
		Bytes()
	return append(init, runtime...)
}
