package scheduler

import (
	"math/big"
	"math/rand"

	"github.com/crytic/hydra/fuzzing/calls"
	"github.com/crytic/hydra/utils/randomutils"
	"github.com/pkg/errors"
)

// ErrEmptyCorpus is returned when selecting from a scheduler holding no entries.
var ErrEmptyCorpus = errors.New("corpus is empty")

const (
	// BaselineScore is the score every transaction input starts with.
	BaselineScore = 100
	// EdgeGain is the score an input gains per new edge on its first trial. Later trials gain proportionally less.
	EdgeGain = 1000
)

// WeightFunc returns the extra starting score of an input, such as its argument count.
type WeightFunc func(input *calls.Input) uint64

// transactionEntry is one input in the transaction corpus.
type transactionEntry struct {
	id     uint64
	input  *calls.Input
	score  uint64
	trials uint64
}

// TransactionScheduler selects transaction inputs by a power schedule: inputs that found new edges on few trials
// are picked more often. Selection weight is divided by the size of the input's (contract, selector) bucket, so
// functions with many stored inputs do not crowd out the others.
type TransactionScheduler struct {
	randomProvider *rand.Rand
	weightFunc     WeightFunc

	// entries are kept in insertion order, which fixes the order the weighted chooser walks.
	entries []*transactionEntry
	byID    map[uint64]*transactionEntry
	buckets map[calls.Bucket]uint64
	nextID  uint64
}

// NewTransactionScheduler creates a scheduler drawing from randomProvider. weightFunc may be nil.
func NewTransactionScheduler(randomProvider *rand.Rand, weightFunc WeightFunc) *TransactionScheduler {
	return &TransactionScheduler{
		randomProvider: randomProvider,
		weightFunc:     weightFunc,
		entries:        make([]*transactionEntry, 0),
		byID:           make(map[uint64]*transactionEntry),
		buckets:        make(map[calls.Bucket]uint64),
	}
}

// Add stores a copy of input and returns its id.
func (s *TransactionScheduler) Add(input *calls.Input) uint64 {
	entry := &transactionEntry{id: s.nextID, input: input.Clone(), score: BaselineScore}
	if s.weightFunc != nil {
		entry.score += s.weightFunc(input)
	}
	s.nextID++
	s.entries = append(s.entries, entry)
	s.byID[entry.id] = entry
	s.buckets[input.Bucket()]++
	return entry.id
}

// Next picks an input id by weighted random choice over the entries' scores.
func (s *TransactionScheduler) Next() (uint64, error) {
	if len(s.entries) == 0 {
		return 0, ErrEmptyCorpus
	}
	chooser := randomutils.NewWeightedRandomChooser[uint64](s.randomProvider)
	for _, entry := range s.entries {
		chooser.AddChoices(randomutils.NewWeightedRandomChoice(entry.id, new(big.Int).SetUint64(s.weight(entry))))
	}
	id, err := chooser.Choose()
	if err != nil {
		return 0, err
	}
	return *id, nil
}

// weight returns the selection weight of an entry. It is never zero.
func (s *TransactionScheduler) weight(entry *transactionEntry) uint64 {
	return max(entry.score/max(s.buckets[entry.input.Bucket()], 1), 1)
}

// Get returns a copy of the input stored under id, or nil.
func (s *TransactionScheduler) Get(id uint64) *calls.Input {
	if entry, ok := s.byID[id]; ok {
		return entry.input.Clone()
	}
	return nil
}

// OnResult records one trial of the input stored under id, which discovered newEdges edges.
func (s *TransactionScheduler) OnResult(id uint64, newEdges int) {
	entry, ok := s.byID[id]
	if !ok {
		return
	}
	if newEdges > 0 {
		entry.score += uint64(newEdges) * EdgeGain / (1 + entry.trials)
	}
	entry.trials++
}

// Score returns the current score of the input stored under id.
func (s *TransactionScheduler) Score(id uint64) uint64 {
	if entry, ok := s.byID[id]; ok {
		return entry.score
	}
	return 0
}

// Len returns the number of stored inputs.
func (s *TransactionScheduler) Len() int {
	return len(s.entries)
}

// Inputs returns copies of the stored inputs in insertion order.
func (s *TransactionScheduler) Inputs() []*calls.Input {
	inputs := make([]*calls.Input, len(s.entries))
	for i, entry := range s.entries {
		inputs[i] = entry.input.Clone()
	}
	return inputs
}

// ArgumentWeight is a WeightFunc favoring inputs with more ABI argument words.
func ArgumentWeight(input *calls.Input) uint64 {
	if input.Resume || len(input.Data) < 4 {
		return 0
	}
	return uint64(len(input.Data)-4) / 32 * 10
}
