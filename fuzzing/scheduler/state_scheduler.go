package scheduler

import (
	"math/big"
	"math/rand"

	"github.com/crytic/hydra/chain/state"
	"github.com/crytic/hydra/fuzzing/calls"
	"github.com/crytic/hydra/utils/randomutils"
	"github.com/crytic/medusa-geth/common"
	"github.com/pkg/errors"
)

// StateEntry is one infant state: a state reached while fuzzing and the sequence that reached it.
type StateEntry struct {
	ID       uint64
	State    *state.EVMState
	Sequence calls.Sequence
	Votes    uint64
	hash     common.Hash
}

// Outcome is the result of one execution seeded from a stored state.
type Outcome struct {
	NewCoverage bool
	NewBug      bool
}

// StateScheduler keeps a bounded corpus of infant states. States that keep producing coverage or bugs gain votes and
// are picked more often. When full, the entry with the fewest votes is evicted, the oldest among ties.
type StateScheduler struct {
	randomProvider *rand.Rand
	capacity       int

	entries []*StateEntry
	byID    map[uint64]*StateEntry
	byHash  map[common.Hash]uint64
	nextID  uint64
}

// NewStateScheduler creates a scheduler holding at most capacity states.
func NewStateScheduler(randomProvider *rand.Rand, capacity int) (*StateScheduler, error) {
	if capacity < 1 {
		return nil, errors.Errorf("infant state capacity must be at least 1, got %d", capacity)
	}
	return &StateScheduler{
		randomProvider: randomProvider,
		capacity:       capacity,
		entries:        make([]*StateEntry, 0, capacity),
		byID:           make(map[uint64]*StateEntry),
		byHash:         make(map[common.Hash]uint64),
	}, nil
}

// Add stores a copy of the state and its sequence. It returns the new id and the ids evicted to make room, which hold
// at most one entry.
func (s *StateScheduler) Add(st *state.EVMState, sequence calls.Sequence) (uint64, []uint64) {
	evicted := make([]uint64, 0, 1)
	if len(s.entries) >= s.capacity {
		evicted = append(evicted, s.evict())
	}
	entry := &StateEntry{
		ID:       s.nextID,
		State:    st.Clone(),
		Sequence: sequence.Clone(),
		hash:     st.Hash(),
	}
	s.nextID++
	s.entries = append(s.entries, entry)
	s.byID[entry.ID] = entry
	s.byHash[entry.hash] = entry.ID
	return entry.ID, evicted
}

// evict removes the entry with the fewest votes, the oldest among ties, and returns its id.
func (s *StateScheduler) evict() uint64 {
	lowest := 0
	for i, entry := range s.entries {
		if entry.Votes < s.entries[lowest].Votes {
			lowest = i
		}
	}
	entry := s.entries[lowest]
	s.entries = append(s.entries[:lowest], s.entries[lowest+1:]...)
	delete(s.byID, entry.ID)
	if s.byHash[entry.hash] == entry.ID {
		delete(s.byHash, entry.hash)
	}
	return entry.ID
}

// Next picks a state id with probability proportional to its votes plus one.
func (s *StateScheduler) Next() (uint64, error) {
	if len(s.entries) == 0 {
		return 0, ErrEmptyCorpus
	}
	chooser := randomutils.NewWeightedRandomChooser[uint64](s.randomProvider)
	for _, entry := range s.entries {
		chooser.AddChoices(randomutils.NewWeightedRandomChoice(entry.ID, new(big.Int).SetUint64(entry.Votes+1)))
	}
	id, err := chooser.Choose()
	if err != nil {
		return 0, err
	}
	return *id, nil
}

// Get returns a copy of the entry stored under id, or nil. The state and sequence of the copy may be mutated freely.
func (s *StateScheduler) Get(id uint64) *StateEntry {
	entry, ok := s.byID[id]
	if !ok {
		return nil
	}
	return &StateEntry{
		ID:       entry.ID,
		State:    entry.State.Clone(),
		Sequence: entry.Sequence.Clone(),
		Votes:    entry.Votes,
		hash:     entry.hash,
	}
}

// Contains reports whether a state with the given hash is stored.
func (s *StateScheduler) Contains(hash common.Hash) bool {
	_, ok := s.byHash[hash]
	return ok
}

// OnResult votes for the state stored under id: up when the execution it seeded was productive, down otherwise.
// Votes never go below zero.
func (s *StateScheduler) OnResult(id uint64, outcome Outcome) {
	entry, ok := s.byID[id]
	if !ok {
		return
	}
	if outcome.NewCoverage || outcome.NewBug {
		entry.Votes++
	} else if entry.Votes > 0 {
		entry.Votes--
	}
}

// Len returns the number of stored states.
func (s *StateScheduler) Len() int {
	return len(s.entries)
}

// Capacity returns the maximum number of stored states.
func (s *StateScheduler) Capacity() int {
	return s.capacity
}

// IDs returns the stored ids in insertion order.
func (s *StateScheduler) IDs() []uint64 {
	ids := make([]uint64, len(s.entries))
	for i, entry := range s.entries {
		ids[i] = entry.ID
	}
	return ids
}
