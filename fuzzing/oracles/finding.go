package oracles

import (
	"fmt"

	"github.com/crytic/medusa-geth/common"
)

// Kind classifies a finding.
type Kind string

const (
	KindReentrancy         Kind = "reentrancy"
	KindIntegerOverflow    Kind = "integer-overflow"
	KindArbitraryCall      Kind = "arbitrary-call"
	KindSelfDestruct       Kind = "self-destruct"
	KindTypedBug           Kind = "typed-bug"
	KindInvariantViolation Kind = "invariant-violation"
	KindProfit             Kind = "profit"
)

// Finding is a bug reported by an oracle.
type Finding struct {
	// Kind classifies the bug.
	Kind Kind `json:"kind"`
	// Address is the contract the bug was found in.
	Address common.Address `json:"address"`
	// PC is the program counter of the offending instruction, when there is one.
	PC uint64 `json:"pc"`
	// Name distinguishes findings of one kind at one location, such as the name of a typed bug or invariant.
	Name string `json:"name,omitempty"`
	// Message describes the bug.
	Message string `json:"message"`
	// Detail holds additional context, such as a decoded revert reason.
	Detail string `json:"detail,omitempty"`
}

// ID identifies the bug. Findings with equal ids are reported once per run.
func (f Finding) ID() string {
	return fmt.Sprintf("%s/%s/%d/%s", f.Kind, f.Address.Hex(), f.PC, f.Name)
}

// String returns the one-line description of the finding.
func (f Finding) String() string {
	if f.Detail != "" {
		return fmt.Sprintf("[%s] %s (%s)", f.Kind, f.Message, f.Detail)
	}
	return fmt.Sprintf("[%s] %s", f.Kind, f.Message)
}
