package state

import (
	"github.com/crytic/hydra/chain/vm"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/common/hexutil"
	"github.com/holiman/uint256"
	"golang.org/x/exp/slices"
)

// SlotRef names one storage slot.
type SlotRef struct {
	Address common.Address `json:"address"`
	Slot    common.Hash    `json:"slot"`
}

// PostExecutionContext is a suspended execution: the frame stack of a transaction that handed control to a
// fuzzer-controlled account. Resuming it continues the leaking contract as if the external call returned.
type PostExecutionContext struct {
	// Frames is the suspended frame stack, root first.
	Frames []*vm.Frame `json:"frames"`
	// LeakedFrom is the contract which issued the leaked call.
	LeakedFrom common.Address `json:"leakedFrom"`
	// LeakedTo is the fuzzer-controlled account which received control.
	LeakedTo common.Address `json:"leakedTo"`
	// Value and Input describe the leaked call.
	Value *uint256.Int  `json:"value"`
	Input hexutil.Bytes `json:"input"`
	// ReadSlots are the slots the suspended transaction read before leaking.
	ReadSlots []SlotRef `json:"readSlots"`
	// BlockNumber and Timestamp are the block the transaction leaked in. A resume never runs in an earlier block.
	BlockNumber uint64 `json:"blockNumber,omitempty"`
	Timestamp   uint64 `json:"timestamp,omitempty"`
}

// Clone returns a deep copy of the context.
func (c *PostExecutionContext) Clone() *PostExecutionContext {
	clone := &PostExecutionContext{
		Frames:     vm.CloneFrames(c.Frames),
		LeakedFrom: c.LeakedFrom,
		LeakedTo:   c.LeakedTo,
		Input:      common.CopyBytes(c.Input),
		ReadSlots:  slices.Clone(c.ReadSlots),

		BlockNumber: c.BlockNumber,
		Timestamp:   c.Timestamp,
	}
	if c.Value != nil {
		clone.Value = new(uint256.Int).Set(c.Value)
	}
	return clone
}

// WasRead reports whether the suspended transaction read the slot before leaking.
func (c *PostExecutionContext) WasRead(address common.Address, slot common.Hash) bool {
	return slices.Contains(c.ReadSlots, SlotRef{Address: address, Slot: slot})
}
