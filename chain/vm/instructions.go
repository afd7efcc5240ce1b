package vm

import (
	"github.com/crytic/medusa-geth/common"
	evm "github.com/crytic/medusa-geth/core/vm"
	"github.com/crytic/medusa-geth/crypto"
	"github.com/holiman/uint256"
)

// execute runs frame until it halts or issues a call. Exactly one of the return values is non-nil.
func (in *Interpreter) execute(frame *Frame) (*callRequest, *frameHalt) {
	for {
		if frame.PC >= uint64(len(frame.Code)) {
			return nil, &frameHalt{}
		}
		op := frame.Code[frame.PC]
		info := &opTable[op]
		if !info.valid {
			return nil, &frameHalt{err: ErrInvalidOpcode}
		}
		if frame.Stack.Len() < info.pops {
			return nil, &frameHalt{err: ErrStackUnderflow}
		}
		if frame.Stack.Len()-info.pops+info.pushes > stackLimit {
			return nil, &frameHalt{err: ErrStackOverflow}
		}
		if err := frame.useGas(info.gas); err != nil {
			return nil, &frameHalt{err: err}
		}
		if in.hooks.OnStep != nil {
			in.hooks.OnStep(frame, op)
		}

		req, halt, err := in.step(frame, evm.OpCode(op))
		if err != nil {
			return nil, &frameHalt{err: err}
		}
		if req != nil || halt != nil {
			return req, halt
		}
	}
}

// useMemory charges for and performs memory expansion over [offset, offset+size).
func (in *Interpreter) useMemory(frame *Frame, offset, size *uint256.Int) (uint64, uint64, error) {
	if size.IsZero() {
		return 0, 0, nil
	}
	if !offset.IsUint64() || !size.IsUint64() {
		return 0, 0, ErrMemoryLimit
	}
	o, s := offset.Uint64(), size.Uint64()
	cost, newSize, err := frame.Memory.expansionCost(o, s)
	if err != nil {
		return 0, 0, err
	}
	if err := frame.useGas(cost); err != nil {
		return 0, 0, err
	}
	frame.Memory.resize(newSize)
	return o, s, nil
}

func clampUint64(v *uint256.Int) uint64 {
	if !v.IsUint64() {
		return ^uint64(0)
	}
	return v.Uint64()
}

func addressWord(address common.Address) *uint256.Int {
	return new(uint256.Int).SetBytes20(address[:])
}

// step executes the instruction at frame.PC and advances the program counter.
func (in *Interpreter) step(frame *Frame, op evm.OpCode) (*callRequest, *frameHalt, error) {
	stack := frame.Stack
	pc := frame.PC

	switch {
	case op >= evm.PUSH1 && op <= evm.PUSH32:
		n := uint64(op-evm.PUSH1) + 1
		stack.push(new(uint256.Int).SetBytes(getData(frame.Code, pc+1, n)))
		frame.PC += n + 1
		return nil, nil, nil
	case op >= evm.DUP1 && op <= evm.DUP16:
		stack.dup(int(op-evm.DUP1) + 1)
		frame.PC++
		return nil, nil, nil
	case op >= evm.SWAP1 && op <= evm.SWAP16:
		stack.swap(int(op-evm.SWAP1) + 1)
		frame.PC++
		return nil, nil, nil
	case op >= evm.LOG0 && op <= evm.LOG4:
		if frame.Static {
			return nil, nil, ErrWriteProtection
		}
		offset, size := stack.pop(), stack.pop()
		topics := make([]common.Hash, int(op-evm.LOG0))
		for i := range topics {
			topic := stack.pop()
			topics[i] = topic.Bytes32()
		}
		o, s, err := in.useMemory(frame, &offset, &size)
		if err != nil {
			return nil, nil, err
		}
		if err := frame.useGas(GasLogData * s); err != nil {
			return nil, nil, err
		}
		if in.hooks.OnLog != nil {
			in.hooks.OnLog(frame.Address, pc, topics, frame.Memory.get(o, s))
		}
		frame.PC++
		return nil, nil, nil
	}

	switch op {
	case evm.STOP:
		return nil, &frameHalt{}, nil

	case evm.ADD:
		x, y := stack.pop(), stack.peek()
		if _, overflow := y.AddOverflow(&x, y); overflow && in.hooks.OnOverflow != nil {
			in.hooks.OnOverflow(frame.Address, pc, byte(op))
		}
	case evm.SUB:
		x, y := stack.pop(), stack.peek()
		if _, overflow := y.SubOverflow(&x, y); overflow && in.hooks.OnOverflow != nil {
			in.hooks.OnOverflow(frame.Address, pc, byte(op))
		}
	case evm.MUL:
		x, y := stack.pop(), stack.peek()
		if _, overflow := y.MulOverflow(&x, y); overflow && in.hooks.OnOverflow != nil {
			in.hooks.OnOverflow(frame.Address, pc, byte(op))
		}
	case evm.DIV:
		x, y := stack.pop(), stack.peek()
		y.Div(&x, y)
	case evm.SDIV:
		x, y := stack.pop(), stack.peek()
		y.SDiv(&x, y)
	case evm.MOD:
		x, y := stack.pop(), stack.peek()
		y.Mod(&x, y)
	case evm.SMOD:
		x, y := stack.pop(), stack.peek()
		y.SMod(&x, y)
	case evm.ADDMOD:
		x, y, z := stack.pop(), stack.pop(), stack.peek()
		z.AddMod(&x, &y, z)
	case evm.MULMOD:
		x, y, z := stack.pop(), stack.pop(), stack.peek()
		z.MulMod(&x, &y, z)
	case evm.EXP:
		base, exponent := stack.pop(), stack.peek()
		if err := frame.useGas(GasExpByte * uint64((exponent.BitLen()+7)/8)); err != nil {
			return nil, nil, err
		}
		exponent.Exp(&base, exponent)
	case evm.SIGNEXTEND:
		back, num := stack.pop(), stack.peek()
		num.ExtendSign(num, &back)

	case evm.LT, evm.GT, evm.SLT, evm.SGT, evm.EQ:
		x, y := stack.pop(), stack.peek()
		if in.hooks.OnCompare != nil {
			in.hooks.OnCompare(frame.CodeAddress, pc, byte(op), &x, y)
		}
		var result bool
		switch op {
		case evm.LT:
			result = x.Lt(y)
		case evm.GT:
			result = x.Gt(y)
		case evm.SLT:
			result = x.Slt(y)
		case evm.SGT:
			result = x.Sgt(y)
		default:
			result = x.Eq(y)
		}
		if result {
			y.SetOne()
		} else {
			y.Clear()
		}
	case evm.ISZERO:
		x := stack.peek()
		if x.IsZero() {
			x.SetOne()
		} else {
			x.Clear()
		}
	case evm.AND:
		x, y := stack.pop(), stack.peek()
		y.And(&x, y)
	case evm.OR:
		x, y := stack.pop(), stack.peek()
		y.Or(&x, y)
	case evm.XOR:
		x, y := stack.pop(), stack.peek()
		y.Xor(&x, y)
	case evm.NOT:
		x := stack.peek()
		x.Not(x)
	case evm.BYTE:
		th, val := stack.pop(), stack.peek()
		val.Byte(&th)
	case evm.SHL:
		shift, value := stack.pop(), stack.peek()
		if shift.LtUint64(256) {
			value.Lsh(value, uint(shift.Uint64()))
		} else {
			value.Clear()
		}
	case evm.SHR:
		shift, value := stack.pop(), stack.peek()
		if shift.LtUint64(256) {
			value.Rsh(value, uint(shift.Uint64()))
		} else {
			value.Clear()
		}
	case evm.SAR:
		shift, value := stack.pop(), stack.peek()
		if shift.GtUint64(255) {
			if value.Sign() >= 0 {
				value.Clear()
			} else {
				value.SetAllOne()
			}
		} else {
			value.SRsh(value, uint(shift.Uint64()))
		}
	case evm.KECCAK256:
		offset, size := stack.pop(), stack.peek()
		o, s, err := in.useMemory(frame, &offset, size)
		if err != nil {
			return nil, nil, err
		}
		if err := frame.useGas(GasKeccak256Word * toWords(s)); err != nil {
			return nil, nil, err
		}
		size.SetBytes(crypto.Keccak256(frame.Memory.get(o, s)))

	case evm.ADDRESS:
		stack.push(addressWord(frame.Address))
	case evm.BALANCE:
		slot := stack.peek()
		slot.Set(in.host.GetBalance(common.Address(slot.Bytes20())))
	case evm.SELFBALANCE:
		stack.push(new(uint256.Int).Set(in.host.GetBalance(frame.Address)))
	case evm.ORIGIN:
		stack.push(addressWord(in.host.Origin()))
	case evm.CALLER:
		stack.push(addressWord(frame.Caller))
	case evm.CALLVALUE:
		stack.push(new(uint256.Int).Set(&frame.Value))
	case evm.CALLDATALOAD:
		x := stack.peek()
		if offset, overflow := x.Uint64WithOverflow(); !overflow {
			x.SetBytes(getData(frame.Input, offset, 32))
		} else {
			x.Clear()
		}
	case evm.CALLDATASIZE:
		stack.push(new(uint256.Int).SetUint64(uint64(len(frame.Input))))
	case evm.CALLDATACOPY, evm.CODECOPY:
		memOffset, dataOffset, length := stack.pop(), stack.pop(), stack.pop()
		if err := in.copyToMemory(frame, &memOffset, &length, op, frame.Input, frame.Code, clampUint64(&dataOffset)); err != nil {
			return nil, nil, err
		}
	case evm.CODESIZE:
		stack.push(new(uint256.Int).SetUint64(uint64(len(frame.Code))))
	case evm.GASPRICE, evm.BASEFEE:
		stack.push(new(uint256.Int).SetUint64(in.host.BlockContext().BaseFee))
	case evm.EXTCODESIZE:
		slot := stack.peek()
		slot.SetUint64(uint64(len(in.host.GetCode(common.Address(slot.Bytes20())))))
	case evm.EXTCODECOPY:
		address, memOffset, codeOffset, length := stack.pop(), stack.pop(), stack.pop(), stack.pop()
		code := in.host.GetCode(common.Address(address.Bytes20()))
		if err := in.copyToMemory(frame, &memOffset, &length, evm.CODECOPY, nil, code, clampUint64(&codeOffset)); err != nil {
			return nil, nil, err
		}
	case evm.EXTCODEHASH:
		slot := stack.peek()
		code := in.host.GetCode(common.Address(slot.Bytes20()))
		if len(code) == 0 {
			slot.Clear()
		} else {
			slot.SetBytes(crypto.Keccak256(code))
		}
	case evm.RETURNDATASIZE:
		stack.push(new(uint256.Int).SetUint64(uint64(len(frame.ReturnData))))
	case evm.RETURNDATACOPY:
		memOffset, dataOffset, length := stack.pop(), stack.pop(), stack.pop()
		offset, overflow := dataOffset.Uint64WithOverflow()
		if overflow {
			return nil, nil, ErrReturnDataBounds
		}
		end, overflow := new(uint256.Int).AddOverflow(&dataOffset, &length)
		if overflow || !end.IsUint64() || end.Uint64() > uint64(len(frame.ReturnData)) {
			return nil, nil, ErrReturnDataBounds
		}
		if err := in.copyToMemory(frame, &memOffset, &length, evm.CODECOPY, nil, frame.ReturnData, offset); err != nil {
			return nil, nil, err
		}

	case evm.BLOCKHASH:
		num := stack.peek()
		current := in.host.BlockContext().Number
		n, overflow := num.Uint64WithOverflow()
		var lower uint64
		if current > 256 {
			lower = current - 256
		}
		if !overflow && n >= lower && n < current {
			num.SetBytes(crypto.Keccak256(common.BigToHash(num.ToBig()).Bytes()))
		} else {
			num.Clear()
		}
	case evm.COINBASE:
		stack.push(addressWord(in.host.BlockContext().Coinbase))
	case evm.TIMESTAMP:
		stack.push(new(uint256.Int).SetUint64(in.host.BlockContext().Timestamp))
	case evm.NUMBER:
		stack.push(new(uint256.Int).SetUint64(in.host.BlockContext().Number))
	case evm.DIFFICULTY:
		randao := in.host.BlockContext().PrevRandao
		stack.push(new(uint256.Int).SetBytes(randao[:]))
	case evm.GASLIMIT:
		stack.push(new(uint256.Int).SetUint64(in.host.BlockContext().GasLimit))
	case evm.CHAINID:
		stack.push(new(uint256.Int).SetUint64(in.host.BlockContext().ChainID))

	case evm.POP:
		stack.pop()
	case evm.MLOAD:
		offset := stack.peek()
		o, _, err := in.useMemory(frame, offset, uint256.NewInt(32))
		if err != nil {
			return nil, nil, err
		}
		offset.SetBytes(frame.Memory.get(o, 32))
	case evm.MSTORE:
		offset, value := stack.pop(), stack.pop()
		o, _, err := in.useMemory(frame, &offset, uint256.NewInt(32))
		if err != nil {
			return nil, nil, err
		}
		word := value.Bytes32()
		frame.Memory.set(o, word[:])
	case evm.MSTORE8:
		offset, value := stack.pop(), stack.pop()
		o, _, err := in.useMemory(frame, &offset, uint256.NewInt(1))
		if err != nil {
			return nil, nil, err
		}
		frame.Memory.set(o, []byte{byte(value.Uint64())})
	case evm.SLOAD:
		slot := stack.peek()
		key := common.Hash(slot.Bytes32())
		if in.hooks.OnStorageRead != nil {
			in.hooks.OnStorageRead(frame.Address, pc, key)
		}
		value := in.host.GetStorage(frame.Address, key)
		slot.SetBytes32(value[:])
	case evm.SSTORE:
		if frame.Static {
			return nil, nil, ErrWriteProtection
		}
		if frame.Gas <= GasSstoreStipend {
			return nil, nil, ErrOutOfGas
		}
		slot, value := stack.pop(), stack.pop()
		key, val := common.Hash(slot.Bytes32()), common.Hash(value.Bytes32())
		current := in.host.GetStorage(frame.Address, key)
		cost := GasWarmAccess
		if current != val {
			if current == (common.Hash{}) {
				cost = GasSstoreSet
			} else {
				cost = GasSstoreReset
			}
		}
		if err := frame.useGas(cost); err != nil {
			return nil, nil, err
		}
		if in.hooks.OnStorageWrite != nil {
			in.hooks.OnStorageWrite(frame.Address, pc, key, val)
		}
		in.host.SetStorage(frame.Address, key, val)
	case evm.TLOAD:
		slot := stack.peek()
		value := in.transient[frame.Address][common.Hash(slot.Bytes32())]
		slot.SetBytes32(value[:])
	case evm.TSTORE:
		if frame.Static {
			return nil, nil, ErrWriteProtection
		}
		slot, value := stack.pop(), stack.pop()
		if in.transient[frame.Address] == nil {
			in.transient[frame.Address] = make(map[common.Hash]common.Hash)
		}
		in.transient[frame.Address][common.Hash(slot.Bytes32())] = value.Bytes32()

	case evm.JUMP:
		dest := stack.pop()
		if !dest.IsUint64() || !frame.validJump(dest.Uint64()) {
			return nil, nil, ErrInvalidJump
		}
		frame.PC = dest.Uint64()
		return nil, nil, nil
	case evm.JUMPI:
		dest, cond := stack.pop(), stack.pop()
		taken := !cond.IsZero()
		if in.hooks.OnJump != nil {
			target := pc + 1
			if taken {
				target = clampUint64(&dest)
			}
			in.hooks.OnJump(frame.CodeAddress, pc, target, taken)
		}
		if taken {
			if !dest.IsUint64() || !frame.validJump(dest.Uint64()) {
				return nil, nil, ErrInvalidJump
			}
			frame.PC = dest.Uint64()
			return nil, nil, nil
		}
	case evm.JUMPDEST:
	case evm.PC:
		stack.push(new(uint256.Int).SetUint64(pc))
	case evm.MSIZE:
		stack.push(new(uint256.Int).SetUint64(uint64(frame.Memory.Len())))
	case evm.GAS:
		stack.push(new(uint256.Int).SetUint64(frame.Gas))
	case evm.MCOPY:
		dst, src, length := stack.pop(), stack.pop(), stack.pop()
		d, l, err := in.useMemory(frame, &dst, &length)
		if err != nil {
			return nil, nil, err
		}
		s, _, err := in.useMemory(frame, &src, &length)
		if err != nil {
			return nil, nil, err
		}
		if err := frame.useGas(GasCopyWord * toWords(l)); err != nil {
			return nil, nil, err
		}
		if l > 0 {
			copy(frame.Memory.store[d:d+l], frame.Memory.store[s:s+l])
		}
	case evm.PUSH0:
		stack.push(new(uint256.Int))

	case evm.CREATE, evm.CREATE2:
		return in.create(frame, op)
	case evm.CALL, evm.CALLCODE, evm.DELEGATECALL, evm.STATICCALL:
		return in.call(frame, op)

	case evm.RETURN, evm.REVERT:
		offset, size := stack.pop(), stack.pop()
		o, s, err := in.useMemory(frame, &offset, &size)
		if err != nil {
			return nil, nil, err
		}
		return nil, &frameHalt{output: frame.Memory.get(o, s), reverted: op == evm.REVERT}, nil
	case evm.SELFDESTRUCT:
		if frame.Static {
			return nil, nil, ErrWriteProtection
		}
		beneficiary := stack.pop()
		to := common.Address(beneficiary.Bytes20())
		if in.hooks.OnSelfDestruct != nil {
			in.hooks.OnSelfDestruct(frame.Address, pc, to)
		}
		in.host.SelfDestruct(frame.Address, to)
		return nil, &frameHalt{}, nil

	default:
		return nil, nil, ErrInvalidOpcode
	}

	frame.PC++
	return nil, nil, nil
}

// copyToMemory implements the *COPY family. CALLDATACOPY reads from input, everything else from code.
func (in *Interpreter) copyToMemory(frame *Frame, memOffset, length *uint256.Int, op evm.OpCode, input, code []byte, srcOffset uint64) error {
	o, l, err := in.useMemory(frame, memOffset, length)
	if err != nil {
		return err
	}
	if err := frame.useGas(GasCopyWord * toWords(l)); err != nil {
		return err
	}
	src := code
	if op == evm.CALLDATACOPY {
		src = input
	}
	frame.Memory.setPadded(o, l, src, srcOffset)
	return nil
}

// create builds the request for CREATE and CREATE2.
func (in *Interpreter) create(frame *Frame, op evm.OpCode) (*callRequest, *frameHalt, error) {
	if frame.Static {
		return nil, nil, ErrWriteProtection
	}
	stack := frame.Stack
	value, offset, size := stack.pop(), stack.pop(), stack.pop()
	var salt *uint256.Int
	if op == evm.CREATE2 {
		s := stack.pop()
		salt = &s
	}
	o, s, err := in.useMemory(frame, &offset, &size)
	if err != nil {
		return nil, nil, err
	}
	words := toWords(s)
	cost := GasInitCodeWord * words
	if op == evm.CREATE2 {
		cost += GasKeccak256Word * words
	}
	if err := frame.useGas(cost); err != nil {
		return nil, nil, err
	}

	gas := frame.Gas - frame.Gas/64
	frame.Gas -= gas
	frame.ChildGas = gas
	frame.ReturnOffset, frame.ReturnSize = 0, 0
	frame.PC++

	kind := CallKindCreate
	if op == evm.CREATE2 {
		kind = CallKindCreate2
	}
	req := &callRequest{
		kind:     kind,
		caller:   frame.Address,
		transfer: true,
		input:    frame.Memory.get(o, s),
		gas:      gas,
		depth:    frame.Depth + 1,
		salt:     salt,
	}
	req.value.Set(&value)
	return req, nil, nil
}

// call builds the request for the CALL family.
func (in *Interpreter) call(frame *Frame, op evm.OpCode) (*callRequest, *frameHalt, error) {
	stack := frame.Stack
	requested, target := stack.pop(), stack.pop()
	var value uint256.Int
	if op == evm.CALL || op == evm.CALLCODE {
		value = stack.pop()
	}
	inOffset, inSize, retOffset, retSize := stack.pop(), stack.pop(), stack.pop(), stack.pop()

	if op == evm.CALL && frame.Static && !value.IsZero() {
		return nil, nil, ErrWriteProtection
	}
	inO, inS, err := in.useMemory(frame, &inOffset, &inSize)
	if err != nil {
		return nil, nil, err
	}
	retO, retS, err := in.useMemory(frame, &retOffset, &retSize)
	if err != nil {
		return nil, nil, err
	}
	if !value.IsZero() {
		if err := frame.useGas(GasCallValue); err != nil {
			return nil, nil, err
		}
	}

	gas := frame.Gas - frame.Gas/64
	if requested.IsUint64() && requested.Uint64() < gas {
		gas = requested.Uint64()
	}
	frame.Gas -= gas
	if !value.IsZero() {
		gas += GasCallStipend
	}
	frame.ChildGas = gas
	frame.ReturnOffset, frame.ReturnSize = retO, retS
	frame.PC++

	to := common.Address(target.Bytes20())
	if in.hooks.OnCallTarget != nil {
		kind := map[evm.OpCode]CallKind{
			evm.CALL:         CallKindCall,
			evm.CALLCODE:     CallKindCallCode,
			evm.DELEGATECALL: CallKindDelegateCall,
			evm.STATICCALL:   CallKindStaticCall,
		}[op]
		in.hooks.OnCallTarget(frame, kind, to)
	}

	req := &callRequest{
		input:  frame.Memory.get(inO, inS),
		gas:    gas,
		depth:  frame.Depth + 1,
		static: frame.Static,
	}
	switch op {
	case evm.CALL:
		req.kind = CallKindCall
		req.caller, req.address, req.codeAddress = frame.Address, to, to
		req.value.Set(&value)
		req.transfer = true
	case evm.CALLCODE:
		req.kind = CallKindCallCode
		req.caller, req.address, req.codeAddress = frame.Address, frame.Address, to
		req.value.Set(&value)
		req.transfer = true
	case evm.DELEGATECALL:
		req.kind = CallKindDelegateCall
		req.caller, req.address, req.codeAddress = frame.Caller, frame.Address, to
		req.value.Set(&frame.Value)
	case evm.STATICCALL:
		req.kind = CallKindStaticCall
		req.caller, req.address, req.codeAddress = frame.Address, to, to
		req.static = true
	}
	return req, nil, nil
}
