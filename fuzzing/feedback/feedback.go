package feedback

import (
	"github.com/crytic/hydra/fuzzing/coverage"
	"github.com/holiman/uint256"
)

// Judge decides whether an execution is worth keeping from one kind of signal. IsInteresting inspects the maps
// without changing the judge's history; Commit folds the signal of the last inspected execution into it.
type Judge interface {
	Name() string
	IsInteresting(maps *coverage.FeedbackMaps) bool
	Commit()
}

// HintSink receives comparison operands worth trying as argument values.
type HintSink interface {
	AddHint(value *uint256.Int)
}

// pendingBucket is a history update held until Commit.
type pendingBucket struct {
	index  int
	bucket uint8
}

// CoverageFeedback accepts executions hitting an edge never seen before. It keeps the running max of hit buckets per
// edge; a higher bucket on a known edge is recorded on commit but does not make an execution interesting.
type CoverageFeedback struct {
	history [coverage.MapSize]uint8
	edges   int

	pending  []pendingBucket
	newEdges int
}

// NewCoverageFeedback creates a coverage judge with no edges seen.
func NewCoverageFeedback() *CoverageFeedback {
	return &CoverageFeedback{}
}

// Name implements Judge.
func (f *CoverageFeedback) Name() string { return "coverage" }

// IsInteresting implements Judge.
func (f *CoverageFeedback) IsInteresting(maps *coverage.FeedbackMaps) bool {
	f.pending = f.pending[:0]
	f.newEdges = 0
	for _, i := range maps.Touched() {
		bucket := maps.HitBucket(i)
		if bucket <= f.history[i] {
			continue
		}
		if f.history[i] == 0 {
			f.newEdges++
		}
		f.pending = append(f.pending, pendingBucket{index: i, bucket: bucket})
	}
	return f.newEdges > 0
}

// Commit implements Judge.
func (f *CoverageFeedback) Commit() {
	f.edges += f.newEdges
	for _, p := range f.pending {
		f.history[p.index] = p.bucket
	}
	f.pending = f.pending[:0]
	f.newEdges = 0
}

// NewEdges returns the number of unseen edges hit by the last inspected execution.
func (f *CoverageFeedback) NewEdges() int {
	return f.newEdges
}

// Edges returns the number of distinct edges committed so far.
func (f *CoverageFeedback) Edges() int {
	return f.edges
}

// Seen reports whether the edge at index was committed.
func (f *CoverageFeedback) Seen(index int) bool {
	return f.history[index] != 0
}

// ComparisonFeedback accepts executions which brought the operands of some comparison strictly closer than ever
// before. On commit the operands of the improved comparisons are published to the hint sink.
type ComparisonFeedback struct {
	history [coverage.MapSize]uint256.Int
	sink    HintSink

	pending []pendingDistance
	records []coverage.CompareRecord
}

// pendingDistance is a compare history update held until Commit.
type pendingDistance struct {
	index    int
	distance uint256.Int
}

// NewComparisonFeedback creates a comparison judge. sink may be nil.
func NewComparisonFeedback(sink HintSink) *ComparisonFeedback {
	f := &ComparisonFeedback{sink: sink}
	for i := range f.history {
		f.history[i].SetAllOne()
	}
	return f
}

// Name implements Judge.
func (f *ComparisonFeedback) Name() string { return "comparison" }

// IsInteresting implements Judge.
func (f *ComparisonFeedback) IsInteresting(maps *coverage.FeedbackMaps) bool {
	f.pending = f.pending[:0]
	f.records = nil
	for _, i := range maps.Touched() {
		if maps.CmpMap[i].Lt(&f.history[i]) {
			f.pending = append(f.pending, pendingDistance{index: i, distance: maps.CmpMap[i]})
		}
	}
	if len(f.pending) == 0 {
		return false
	}
	f.records = maps.CompareRecords()
	return true
}

// Commit implements Judge.
func (f *ComparisonFeedback) Commit() {
	improved := make(map[int]struct{}, len(f.pending))
	for _, p := range f.pending {
		f.history[p.index] = p.distance
		improved[p.index] = struct{}{}
	}
	if f.sink != nil {
		for i := range f.records {
			record := &f.records[i]
			if _, ok := improved[coverage.CompareIndex(record.Address, record.PC)]; ok {
				f.sink.AddHint(&record.A)
				f.sink.AddHint(&record.B)
			}
		}
	}
	f.pending = f.pending[:0]
	f.records = nil
}

// Distance returns the smallest committed distance at a compare map index.
func (f *ComparisonFeedback) Distance(index int) uint256.Int {
	return f.history[index]
}

// DataflowFeedback accepts executions writing a value of a new magnitude to a slot some call has read, which marks
// storage coupling calls together.
type DataflowFeedback struct {
	history [coverage.MapSize]uint8
	pending []pendingBucket
}

// NewDataflowFeedback creates a dataflow judge.
func NewDataflowFeedback() *DataflowFeedback {
	return &DataflowFeedback{}
}

// Name implements Judge.
func (f *DataflowFeedback) Name() string { return "dataflow" }

// IsInteresting implements Judge.
func (f *DataflowFeedback) IsInteresting(maps *coverage.FeedbackMaps) bool {
	f.pending = f.pending[:0]
	for _, i := range maps.Touched() {
		if !maps.ReadMap[i] {
			continue
		}
		if unseen := maps.WriteMap[i] &^ f.history[i]; unseen != 0 {
			f.pending = append(f.pending, pendingBucket{index: i, bucket: unseen})
		}
	}
	return len(f.pending) > 0
}

// Commit implements Judge.
func (f *DataflowFeedback) Commit() {
	for _, p := range f.pending {
		f.history[p.index] |= p.bucket
	}
	f.pending = f.pending[:0]
}
