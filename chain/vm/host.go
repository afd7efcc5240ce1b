package vm

import (
	"github.com/crytic/medusa-geth/common"
	"github.com/holiman/uint256"
)

// BlockContext describes the block a transaction executes in.
type BlockContext struct {
	Number     uint64
	Timestamp  uint64
	Coinbase   common.Address
	GasLimit   uint64
	ChainID    uint64
	BaseFee    uint64
	PrevRandao common.Hash
}

// Host provides world state to the interpreter. Implementations keep a journal so the interpreter can roll back
// reverted frames with Snapshot and RevertToSnapshot.
type Host interface {
	GetStorage(address common.Address, key common.Hash) common.Hash
	SetStorage(address common.Address, key, value common.Hash)
	GetBalance(address common.Address) *uint256.Int
	// Transfer moves value between accounts, failing without side effects when from cannot cover it.
	Transfer(from, to common.Address, value *uint256.Int) error
	GetCode(address common.Address) []byte
	SetCode(address common.Address, code []byte)
	// CreateAddress returns the address of the next contract deployed by creator. Each call advances the nonce.
	CreateAddress(creator common.Address) common.Address
	Snapshot() int
	RevertToSnapshot(id int)
	// SelfDestruct moves the balance of address to beneficiary.
	SelfDestruct(address, beneficiary common.Address)
	// ShouldLeak reports whether a call from caller to a code-less target should suspend execution and hand control
	// to the caller of the transaction.
	ShouldLeak(caller, target common.Address, value *uint256.Int, input []byte) bool
	BlockContext() BlockContext
	Origin() common.Address
}

// Hooks are optional callbacks invoked while executing. Nil fields are skipped.
type Hooks struct {
	// OnStep is invoked before each instruction.
	OnStep func(frame *Frame, op byte)
	// OnJump is invoked for each JUMPI with the destination and whether the branch was taken.
	OnJump func(codeAddress common.Address, pc, dest uint64, taken bool)
	// OnCompare is invoked for EQ, LT, GT, SLT and SGT with both operands.
	OnCompare func(codeAddress common.Address, pc uint64, op byte, a, b *uint256.Int)
	// OnOverflow is invoked when ADD, SUB or MUL wraps around.
	OnOverflow func(address common.Address, pc uint64, op byte)
	// OnStorageRead and OnStorageWrite are invoked for SLOAD and SSTORE.
	OnStorageRead  func(address common.Address, pc uint64, key common.Hash)
	OnStorageWrite func(address common.Address, pc uint64, key, value common.Hash)
	// OnCallTarget is invoked for every outgoing message call before it is entered.
	OnCallTarget func(frame *Frame, kind CallKind, target common.Address)
	// OnEnter and OnExit wrap each child frame, including leaked calls.
	OnEnter func(kind CallKind, from, to common.Address, input []byte, value *uint256.Int, depth int)
	OnExit  func(output []byte, gasUsed uint64, err error, reverted bool, depth int)
	// OnLeak is invoked when a call suspends execution.
	OnLeak func(frame *Frame, target common.Address, value *uint256.Int, input []byte)
	// OnLog is invoked for LOG0 through LOG4.
	OnLog func(address common.Address, pc uint64, topics []common.Hash, data []byte)
	// OnSelfDestruct is invoked for SELFDESTRUCT.
	OnSelfDestruct func(address common.Address, pc uint64, beneficiary common.Address)
}
