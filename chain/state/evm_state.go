package state

import (
	"bytes"
	"encoding/binary"

	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ErrInsufficientBalance is returned when a debit exceeds the account balance.
var ErrInsufficientBalance = errors.New("insufficient balance")

// WriteObserver is notified of every storage write made through WriteSlot.
type WriteObserver func(address common.Address, slot, value common.Hash)

// EVMState is the world state one fuzzing sequence operates on: storage, balances, deployed code, and the stack of
// executions suspended by control leaks.
type EVMState struct {
	// Storage maps contract addresses to their storage. Absent slots read as zero.
	Storage map[common.Address]map[common.Hash]common.Hash `json:"storage"`
	// Balances maps accounts to their native balance. Absent accounts hold zero.
	Balances map[common.Address]*uint256.Int `json:"balances"`
	// Code maps contract addresses to their runtime code.
	Code map[common.Address]hexutil.Bytes `json:"code"`
	// Nonces tracks contract creation nonces.
	Nonces map[common.Address]uint64 `json:"nonces"`
	// PostExecution is a LIFO stack of suspended executions, newest last.
	PostExecution []*PostExecutionContext `json:"postExecution"`

	// Observations hold the facts recorded during the current execution.
	Observations Observations `json:"-"`

	writeObserver WriteObserver
}

// NewEVMState creates an empty state.
func NewEVMState() *EVMState {
	return &EVMState{
		Storage:       make(map[common.Address]map[common.Hash]common.Hash),
		Balances:      make(map[common.Address]*uint256.Int),
		Code:          make(map[common.Address]hexutil.Bytes),
		Nonces:        make(map[common.Address]uint64),
		PostExecution: make([]*PostExecutionContext, 0),
	}
}

// SetWriteObserver installs the observer notified of storage writes. A nil observer removes it.
func (s *EVMState) SetWriteObserver(observer WriteObserver) {
	s.writeObserver = observer
}

// ReadSlot returns the value of a slot, zero when absent. It never allocates.
func (s *EVMState) ReadSlot(address common.Address, slot common.Hash) common.Hash {
	return s.Storage[address][slot]
}

// HasSlot reports whether a slot has been written or imported.
func (s *EVMState) HasSlot(address common.Address, slot common.Hash) bool {
	_, ok := s.Storage[address][slot]
	return ok
}

// WriteSlot stores a value and notifies the write observer.
func (s *EVMState) WriteSlot(address common.Address, slot, value common.Hash) {
	s.ImportSlot(address, slot, value)
	if s.writeObserver != nil {
		s.writeObserver(address, slot, value)
	}
}

// ImportSlot stores a value without notifying the write observer, for values fetched from chain.
func (s *EVMState) ImportSlot(address common.Address, slot, value common.Hash) {
	accountStorage, ok := s.Storage[address]
	if !ok {
		accountStorage = make(map[common.Hash]common.Hash)
		s.Storage[address] = accountStorage
	}
	accountStorage[slot] = value
}

// DeleteSlot removes a slot, so it reads as absent again.
func (s *EVMState) DeleteSlot(address common.Address, slot common.Hash) {
	if accountStorage, ok := s.Storage[address]; ok {
		delete(accountStorage, slot)
		if len(accountStorage) == 0 {
			delete(s.Storage, address)
		}
	}
}

// HasBalance reports whether a balance was set for the account.
func (s *EVMState) HasBalance(address common.Address) bool {
	_, ok := s.Balances[address]
	return ok
}

// Balance returns a copy of the account's balance.
func (s *EVMState) Balance(address common.Address) *uint256.Int {
	if balance, ok := s.Balances[address]; ok {
		return new(uint256.Int).Set(balance)
	}
	return new(uint256.Int)
}

// SetBalance overwrites the account's balance.
func (s *EVMState) SetBalance(address common.Address, amount *uint256.Int) {
	s.Balances[address] = new(uint256.Int).Set(amount)
}

// Credit adds amount to the account's balance, saturating at the maximum word.
func (s *EVMState) Credit(address common.Address, amount *uint256.Int) {
	balance, overflow := new(uint256.Int).AddOverflow(s.Balance(address), amount)
	if overflow {
		balance.SetAllOne()
	}
	s.Balances[address] = balance
}

// Debit subtracts amount from the account's balance. It fails with ErrInsufficientBalance, leaving the balance
// untouched, when the account cannot cover it.
func (s *EVMState) Debit(address common.Address, amount *uint256.Int) error {
	balance := s.Balance(address)
	if balance.Lt(amount) {
		return errors.Wrapf(ErrInsufficientBalance, "%s holds %s, needs %s", address, balance.Dec(), amount.Dec())
	}
	s.Balances[address] = balance.Sub(balance, amount)
	return nil
}

// GetCode returns the account's runtime code.
func (s *EVMState) GetCode(address common.Address) []byte {
	return s.Code[address]
}

// HasCode reports whether code was set for the account, including empty code.
func (s *EVMState) HasCode(address common.Address) bool {
	_, ok := s.Code[address]
	return ok
}

// SetCode sets the account's runtime code.
func (s *EVMState) SetCode(address common.Address, code []byte) {
	s.Code[address] = code
}

// PushLeak pushes a suspended execution.
func (s *EVMState) PushLeak(ctx *PostExecutionContext) {
	s.PostExecution = append(s.PostExecution, ctx)
}

// PopLeak removes and returns the newest suspended execution.
func (s *EVMState) PopLeak() (*PostExecutionContext, bool) {
	if len(s.PostExecution) == 0 {
		return nil, false
	}
	ctx := s.PostExecution[len(s.PostExecution)-1]
	s.PostExecution = s.PostExecution[:len(s.PostExecution)-1]
	return ctx, true
}

// PeekLeak returns the newest suspended execution without removing it.
func (s *EVMState) PeekLeak() (*PostExecutionContext, bool) {
	if len(s.PostExecution) == 0 {
		return nil, false
	}
	return s.PostExecution[len(s.PostExecution)-1], true
}

// PendingLeaks returns the number of suspended executions.
func (s *EVMState) PendingLeaks() int {
	return len(s.PostExecution)
}

// Clone returns a deep copy of the state. Observations and the write observer are not copied.
func (s *EVMState) Clone() *EVMState {
	clone := &EVMState{
		Storage:       make(map[common.Address]map[common.Hash]common.Hash, len(s.Storage)),
		Balances:      make(map[common.Address]*uint256.Int, len(s.Balances)),
		Code:          maps.Clone(s.Code),
		Nonces:        maps.Clone(s.Nonces),
		PostExecution: make([]*PostExecutionContext, len(s.PostExecution)),
	}
	for address, accountStorage := range s.Storage {
		clone.Storage[address] = maps.Clone(accountStorage)
	}
	for address, balance := range s.Balances {
		clone.Balances[address] = new(uint256.Int).Set(balance)
	}
	for i, ctx := range s.PostExecution {
		clone.PostExecution[i] = ctx.Clone()
	}
	if clone.Code == nil {
		clone.Code = make(map[common.Address]hexutil.Bytes)
	}
	if clone.Nonces == nil {
		clone.Nonces = make(map[common.Address]uint64)
	}
	return clone
}

func sortedAddresses[V any](m map[common.Address]V) []common.Address {
	keys := make([]common.Address, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b common.Address) int {
		return bytes.Compare(a[:], b[:])
	})
	return keys
}

func sortHashes(hashes []common.Hash) {
	slices.SortFunc(hashes, func(a, b common.Hash) int {
		return bytes.Compare(a[:], b[:])
	})
}

// Hash returns a digest of storage, balances, code and the number of pending leaks. Equal states hash equally
// regardless of map iteration order, and zero-valued entries are ignored.
func (s *EVMState) Hash() common.Hash {
	hasher := sha3.NewLegacyKeccak256()
	buf := make([]byte, 8)

	hasher.Write([]byte("storage"))
	for _, address := range sortedAddresses(s.Storage) {
		accountStorage := s.Storage[address]
		for _, slot := range sortedHashes(accountStorage) {
			value := accountStorage[slot]
			if value == (common.Hash{}) {
				continue
			}
			hasher.Write(address[:])
			hasher.Write(slot[:])
			hasher.Write(value[:])
		}
	}

	hasher.Write([]byte("balances"))
	for _, address := range sortedAddresses(s.Balances) {
		balance := s.Balances[address]
		if balance.IsZero() {
			continue
		}
		word := balance.Bytes32()
		hasher.Write(address[:])
		hasher.Write(word[:])
	}

	hasher.Write([]byte("code"))
	for _, address := range sortedAddresses(s.Code) {
		if len(s.Code[address]) == 0 {
			continue
		}
		hasher.Write(address[:])
		hasher.Write(s.Code[address])
	}

	binary.BigEndian.PutUint64(buf, uint64(len(s.PostExecution)))
	hasher.Write(buf)

	var digest common.Hash
	hasher.Sum(digest[:0])
	return digest
}
