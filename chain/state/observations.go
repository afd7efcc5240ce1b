package state

import (
	"github.com/crytic/medusa-geth/common"
	"golang.org/x/exp/slices"
)

// SelfDestructObservation records a SELFDESTRUCT.
type SelfDestructObservation struct {
	Address common.Address
	PC      uint64
}

// TypedBugObservation records a typed_bug(string) marker event.
type TypedBugObservation struct {
	Name    string
	Address common.Address
	PC      uint64
}

// ArbitraryCallObservation records an outgoing call whose target came from calldata.
type ArbitraryCallObservation struct {
	Caller common.Address
	Target common.Address
	PC     uint64
}

// IntegerOverflowObservation records a wrapping ADD, SUB or MUL.
type IntegerOverflowObservation struct {
	Address common.Address
	PC      uint64
	Op      byte
}

// ReentrancyObservation records a write, after a resume, to a slot the suspended transaction read before leaking.
type ReentrancyObservation struct {
	Address common.Address
	PC      uint64
	Slot    common.Hash
}

// Observations are the per-execution facts the oracles inspect. They are never cloned or serialized.
type Observations struct {
	BugHit           bool
	SelfDestructs    []SelfDestructObservation
	TypedBugs        []TypedBugObservation
	ArbitraryCalls   []ArbitraryCallObservation
	IntegerOverflows []IntegerOverflowObservation
	Reentrancies     []ReentrancyObservation
}

// Empty reports whether nothing was observed.
func (o *Observations) Empty() bool {
	return !o.BugHit && len(o.SelfDestructs) == 0 && len(o.TypedBugs) == 0 && len(o.ArbitraryCalls) == 0 &&
		len(o.IntegerOverflows) == 0 && len(o.Reentrancies) == 0
}

// appendUnique appends item to items unless it is already present.
func appendUnique[T comparable](items []T, item T) []T {
	if slices.Contains(items, item) {
		return items
	}
	return append(items, item)
}

// RecordBug records a bug() marker.
func (s *EVMState) RecordBug() {
	s.Observations.BugHit = true
}

// RecordTypedBug records a typed bug marker.
func (s *EVMState) RecordTypedBug(name string, address common.Address, pc uint64) {
	s.Observations.TypedBugs = appendUnique(s.Observations.TypedBugs, TypedBugObservation{Name: name, Address: address, PC: pc})
}

// RecordSelfDestruct records a SELFDESTRUCT.
func (s *EVMState) RecordSelfDestruct(address common.Address, pc uint64) {
	s.Observations.SelfDestructs = appendUnique(s.Observations.SelfDestructs, SelfDestructObservation{Address: address, PC: pc})
}

// RecordArbitraryCall records a call to a calldata-controlled target.
func (s *EVMState) RecordArbitraryCall(caller, target common.Address, pc uint64) {
	s.Observations.ArbitraryCalls = appendUnique(s.Observations.ArbitraryCalls, ArbitraryCallObservation{Caller: caller, Target: target, PC: pc})
}

// RecordIntegerOverflow records an arithmetic wraparound.
func (s *EVMState) RecordIntegerOverflow(address common.Address, pc uint64, op byte) {
	s.Observations.IntegerOverflows = appendUnique(s.Observations.IntegerOverflows, IntegerOverflowObservation{Address: address, PC: pc, Op: op})
}

// RecordReentrancy records a write to a slot read before a leak.
func (s *EVMState) RecordReentrancy(address common.Address, pc uint64, slot common.Hash) {
	s.Observations.Reentrancies = appendUnique(s.Observations.Reentrancies, ReentrancyObservation{Address: address, PC: pc, Slot: slot})
}

// ResetObservations clears all transient observations.
func (s *EVMState) ResetObservations() {
	s.Observations = Observations{}
}
