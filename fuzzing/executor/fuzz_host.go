package executor

import (
	"github.com/crytic/hydra/chain/fork"
	"github.com/crytic/hydra/chain/state"
	"github.com/crytic/hydra/chain/vm"
	"github.com/crytic/hydra/logging"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/crypto"
	"github.com/holiman/uint256"
)

// journalKind identifies the kind of change a journal entry undoes.
type journalKind int

const (
	journalStorage journalKind = iota
	journalBalance
	journalCode
	journalNonce
)

// journalEntry records the value a change replaced.
type journalEntry struct {
	kind    journalKind
	address common.Address
	slot    common.Hash

	existed bool
	value   common.Hash
	balance *uint256.Int
	code    []byte
	nonce   uint64
}

// FuzzHost is the vm.Host over one EVMState. Every change is journaled so reverted frames can be rolled back. Accounts
// unknown to the state are looked up through the on-chain backend, when one is configured.
type FuzzHost struct {
	state   *state.EVMState
	journal []journalEntry

	block  vm.BlockContext
	origin common.Address

	controlLeak bool
	controlled  map[common.Address]bool

	backend fork.Backend
	scope   *onchainScope
	logger  *logging.Logger
}

// onchainScope tracks which accounts are resolved on chain. Accounts created or funded locally are never fetched.
type onchainScope struct {
	local   map[common.Address]bool
	onchain map[common.Address]bool
}

func newOnchainScope() *onchainScope {
	return &onchainScope{local: make(map[common.Address]bool), onchain: make(map[common.Address]bool)}
}

func newFuzzHost(st *state.EVMState, block vm.BlockContext, origin common.Address, e *Executor) *FuzzHost {
	return &FuzzHost{
		state:       st,
		block:       block,
		origin:      origin,
		controlLeak: e.config.ControlLeak,
		controlled:  e.controlled,
		backend:     e.backend,
		scope:       e.scope,
		logger:      e.logger,
	}
}

// fetchable reports whether account data missing from the state should be fetched on chain.
func (h *FuzzHost) fetchable(address common.Address) bool {
	return h.backend != nil && h.scope.onchain[address] && !h.scope.local[address]
}

// GetStorage implements vm.Host.
func (h *FuzzHost) GetStorage(address common.Address, key common.Hash) common.Hash {
	if !h.state.HasSlot(address, key) && h.fetchable(address) {
		value, err := h.backend.GetStorageAt(address, key)
		if err != nil {
			h.logger.Warn("Could not fetch storage of ", address.Hex(), ", treating it as zero", err)
		}
		h.state.ImportSlot(address, key, value)
	}
	return h.state.ReadSlot(address, key)
}

// SetStorage implements vm.Host.
func (h *FuzzHost) SetStorage(address common.Address, key, value common.Hash) {
	h.journal = append(h.journal, journalEntry{
		kind:    journalStorage,
		address: address,
		slot:    key,
		existed: h.state.HasSlot(address, key),
		value:   h.state.ReadSlot(address, key),
	})
	h.state.WriteSlot(address, key, value)
}

// GetBalance implements vm.Host.
func (h *FuzzHost) GetBalance(address common.Address) *uint256.Int {
	if !h.state.HasBalance(address) && h.fetchable(address) {
		balance, err := h.backend.GetBalance(address)
		if err != nil {
			h.logger.Warn("Could not fetch balance of ", address.Hex(), ", treating it as zero", err)
			balance = new(uint256.Int)
		}
		h.state.SetBalance(address, balance)
	}
	return h.state.Balance(address)
}

func (h *FuzzHost) journalBalance(address common.Address) {
	entry := journalEntry{kind: journalBalance, address: address, existed: h.state.HasBalance(address)}
	entry.balance = h.state.Balance(address)
	h.journal = append(h.journal, entry)
}

// Transfer implements vm.Host. It fails with state.ErrInsufficientBalance, changing nothing, when from cannot cover
// value.
func (h *FuzzHost) Transfer(from, to common.Address, value *uint256.Int) error {
	h.GetBalance(from)
	h.GetBalance(to)
	h.journalBalance(from)
	if err := h.state.Debit(from, value); err != nil {
		h.journal = h.journal[:len(h.journal)-1]
		return err
	}
	h.journalBalance(to)
	h.state.Credit(to, value)
	return nil
}

// GetCode implements vm.Host.
func (h *FuzzHost) GetCode(address common.Address) []byte {
	if !h.state.HasCode(address) && h.backend != nil && !h.scope.local[address] && !h.controlled[address] {
		code, err := h.backend.GetCode(address)
		if err != nil {
			h.logger.Warn("Could not fetch code of ", address.Hex(), ", treating it as empty", err)
		}
		if len(code) > 0 {
			h.scope.onchain[address] = true
		}
		h.state.SetCode(address, code)
	}
	return h.state.GetCode(address)
}

// SetCode implements vm.Host.
func (h *FuzzHost) SetCode(address common.Address, code []byte) {
	h.journal = append(h.journal, journalEntry{
		kind:    journalCode,
		address: address,
		existed: h.state.HasCode(address),
		code:    h.state.GetCode(address),
	})
	h.state.SetCode(address, code)
}

// CreateAddress implements vm.Host.
func (h *FuzzHost) CreateAddress(creator common.Address) common.Address {
	nonce := h.state.Nonces[creator]
	h.journal = append(h.journal, journalEntry{kind: journalNonce, address: creator, nonce: nonce})
	h.state.Nonces[creator] = nonce + 1
	address := crypto.CreateAddress(creator, nonce)
	h.scope.local[address] = true
	return address
}

// Snapshot implements vm.Host.
func (h *FuzzHost) Snapshot() int {
	return len(h.journal)
}

// RevertToSnapshot implements vm.Host.
func (h *FuzzHost) RevertToSnapshot(id int) {
	for i := len(h.journal) - 1; i >= id; i-- {
		entry := h.journal[i]
		switch entry.kind {
		case journalStorage:
			if entry.existed {
				h.state.ImportSlot(entry.address, entry.slot, entry.value)
			} else {
				h.state.DeleteSlot(entry.address, entry.slot)
			}
		case journalBalance:
			if entry.existed {
				h.state.SetBalance(entry.address, entry.balance)
			} else {
				delete(h.state.Balances, entry.address)
			}
		case journalCode:
			if entry.existed {
				h.state.SetCode(entry.address, entry.code)
			} else {
				delete(h.state.Code, entry.address)
			}
		case journalNonce:
			h.state.Nonces[entry.address] = entry.nonce
		}
	}
	if id < len(h.journal) {
		h.journal = h.journal[:id]
	}
}

// SelfDestruct implements vm.Host.
func (h *FuzzHost) SelfDestruct(address, beneficiary common.Address) {
	balance := h.GetBalance(address)
	if balance.IsZero() || address == beneficiary {
		return
	}
	h.journalBalance(address)
	h.journalBalance(beneficiary)
	h.state.SetBalance(address, new(uint256.Int))
	h.state.Credit(beneficiary, balance)
}

// ShouldLeak implements vm.Host. Calls carrying value or data to a fuzzer-controlled account hand control back to
// the fuzzer.
func (h *FuzzHost) ShouldLeak(caller, target common.Address, value *uint256.Int, input []byte) bool {
	if !h.controlLeak || !h.controlled[target] {
		return false
	}
	return !value.IsZero() || len(input) > 0
}

// BlockContext implements vm.Host.
func (h *FuzzHost) BlockContext() vm.BlockContext {
	return h.block
}

// Origin implements vm.Host.
func (h *FuzzHost) Origin() common.Address {
	return h.origin
}
