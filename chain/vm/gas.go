package vm

import (
	evm "github.com/crytic/medusa-geth/core/vm"
)

// Gas constants of the simplified cost model.
const (
	GasQuickStep   uint64 = 2
	GasFastestStep uint64 = 3
	GasFastStep    uint64 = 5
	GasMidStep     uint64 = 8
	GasSlowStep    uint64 = 10

	GasKeccak256     uint64 = 30
	GasKeccak256Word uint64 = 6
	GasCopyWord      uint64 = 3
	GasExpByte       uint64 = 50
	GasWarmAccess    uint64 = 100
	GasSstoreSet     uint64 = 20000
	GasSstoreReset   uint64 = 2900
	GasSstoreStipend uint64 = 2300
	GasLog           uint64 = 375
	GasLogTopic      uint64 = 375
	GasLogData       uint64 = 8
	GasCallValue     uint64 = 9000
	GasCallStipend   uint64 = 2300
	GasCreate        uint64 = 32000
	GasInitCodeWord  uint64 = 2
	GasCodeDeposit   uint64 = 200
	GasSelfDestruct  uint64 = 5000
	GasBlockhash     uint64 = 20

	// MaxCallDepth bounds nested calls.
	MaxCallDepth = 1024
)

// opInfo holds the static properties of an opcode.
type opInfo struct {
	gas    uint64
	pops   int
	pushes int
	valid  bool
}

var opTable [256]opInfo

func define(op evm.OpCode, gas uint64, pops, pushes int) {
	opTable[op] = opInfo{gas: gas, pops: pops, pushes: pushes, valid: true}
}

func init() {
	define(evm.STOP, 0, 0, 0)
	define(evm.ADD, GasFastestStep, 2, 1)
	define(evm.MUL, GasFastStep, 2, 1)
	define(evm.SUB, GasFastestStep, 2, 1)
	define(evm.DIV, GasFastStep, 2, 1)
	define(evm.SDIV, GasFastStep, 2, 1)
	define(evm.MOD, GasFastStep, 2, 1)
	define(evm.SMOD, GasFastStep, 2, 1)
	define(evm.ADDMOD, GasMidStep, 3, 1)
	define(evm.MULMOD, GasMidStep, 3, 1)
	define(evm.EXP, GasSlowStep, 2, 1)
	define(evm.SIGNEXTEND, GasFastStep, 2, 1)

	define(evm.LT, GasFastestStep, 2, 1)
	define(evm.GT, GasFastestStep, 2, 1)
	define(evm.SLT, GasFastestStep, 2, 1)
	define(evm.SGT, GasFastestStep, 2, 1)
	define(evm.EQ, GasFastestStep, 2, 1)
	define(evm.ISZERO, GasFastestStep, 1, 1)
	define(evm.AND, GasFastestStep, 2, 1)
	define(evm.OR, GasFastestStep, 2, 1)
	define(evm.XOR, GasFastestStep, 2, 1)
	define(evm.NOT, GasFastestStep, 1, 1)
	define(evm.BYTE, GasFastestStep, 2, 1)
	define(evm.SHL, GasFastestStep, 2, 1)
	define(evm.SHR, GasFastestStep, 2, 1)
	define(evm.SAR, GasFastestStep, 2, 1)
	define(evm.KECCAK256, GasKeccak256, 2, 1)

	define(evm.ADDRESS, GasQuickStep, 0, 1)
	define(evm.BALANCE, GasWarmAccess, 1, 1)
	define(evm.ORIGIN, GasQuickStep, 0, 1)
	define(evm.CALLER, GasQuickStep, 0, 1)
	define(evm.CALLVALUE, GasQuickStep, 0, 1)
	define(evm.CALLDATALOAD, GasFastestStep, 1, 1)
	define(evm.CALLDATASIZE, GasQuickStep, 0, 1)
	define(evm.CALLDATACOPY, GasFastestStep, 3, 0)
	define(evm.CODESIZE, GasQuickStep, 0, 1)
	define(evm.CODECOPY, GasFastestStep, 3, 0)
	define(evm.GASPRICE, GasQuickStep, 0, 1)
	define(evm.EXTCODESIZE, GasWarmAccess, 1, 1)
	define(evm.EXTCODECOPY, GasWarmAccess, 4, 0)
	define(evm.RETURNDATASIZE, GasQuickStep, 0, 1)
	define(evm.RETURNDATACOPY, GasFastestStep, 3, 0)
	define(evm.EXTCODEHASH, GasWarmAccess, 1, 1)

	define(evm.BLOCKHASH, GasBlockhash, 1, 1)
	define(evm.COINBASE, GasQuickStep, 0, 1)
	define(evm.TIMESTAMP, GasQuickStep, 0, 1)
	define(evm.NUMBER, GasQuickStep, 0, 1)
	define(evm.DIFFICULTY, GasQuickStep, 0, 1)
	define(evm.GASLIMIT, GasQuickStep, 0, 1)
	define(evm.CHAINID, GasQuickStep, 0, 1)
	define(evm.SELFBALANCE, GasFastStep, 0, 1)
	define(evm.BASEFEE, GasQuickStep, 0, 1)

	define(evm.POP, GasQuickStep, 1, 0)
	define(evm.MLOAD, GasFastestStep, 1, 1)
	define(evm.MSTORE, GasFastestStep, 2, 0)
	define(evm.MSTORE8, GasFastestStep, 2, 0)
	define(evm.SLOAD, GasWarmAccess, 1, 1)
	define(evm.SSTORE, 0, 2, 0)
	define(evm.JUMP, GasMidStep, 1, 0)
	define(evm.JUMPI, GasSlowStep, 2, 0)
	define(evm.PC, GasQuickStep, 0, 1)
	define(evm.MSIZE, GasQuickStep, 0, 1)
	define(evm.GAS, GasQuickStep, 0, 1)
	define(evm.JUMPDEST, 1, 0, 0)
	define(evm.TLOAD, GasWarmAccess, 1, 1)
	define(evm.TSTORE, GasWarmAccess, 2, 0)
	define(evm.MCOPY, GasFastestStep, 3, 0)
	define(evm.PUSH0, GasQuickStep, 0, 1)

	for i := 0; i < 32; i++ {
		define(evm.PUSH1+evm.OpCode(i), GasFastestStep, 0, 1)
	}
	for i := 0; i < 16; i++ {
		define(evm.DUP1+evm.OpCode(i), GasFastestStep, i+1, i+2)
		define(evm.SWAP1+evm.OpCode(i), GasFastestStep, i+2, i+2)
	}
	for i := 0; i < 5; i++ {
		define(evm.LOG0+evm.OpCode(i), GasLog+uint64(i)*GasLogTopic, i+2, 0)
	}

	define(evm.CREATE, GasCreate, 3, 1)
	define(evm.CALL, GasWarmAccess, 7, 1)
	define(evm.CALLCODE, GasWarmAccess, 7, 1)
	define(evm.RETURN, 0, 2, 0)
	define(evm.DELEGATECALL, GasWarmAccess, 6, 1)
	define(evm.CREATE2, GasCreate, 4, 1)
	define(evm.STATICCALL, GasWarmAccess, 6, 1)
	define(evm.REVERT, 0, 2, 0)
	define(evm.SELFDESTRUCT, GasSelfDestruct, 1, 0)
}

// toWords rounds a byte size up to 32-byte words.
func toWords(size uint64) uint64 {
	if size > (1<<64)-32 {
		return (1 << 64) / 32
	}
	return (size + 31) / 32
}
