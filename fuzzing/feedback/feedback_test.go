package feedback

import (
	"testing"

	"github.com/crytic/hydra/fuzzing/coverage"
	"github.com/crytic/medusa-geth/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
)

var contract = common.HexToAddress("0xc0ffee")

type hintRecorder struct {
	hints []uint64
}

func (h *hintRecorder) AddHint(value *uint256.Int) {
	h.hints = append(h.hints, value.Uint64())
}

// TestCoverageAcceptanceIsMonotonic verifies an edge triggers acceptance only until it has been committed.
func TestCoverageAcceptanceIsMonotonic(t *testing.T) {
	maps := coverage.NewFeedbackMaps()
	pipeline := NewPipeline(NewCoverageFeedback())

	maps.RecordJump(contract, 1, 2)
	decision := pipeline.Evaluate(maps)
	assert.True(t, decision.Interesting)
	assert.Equal(t, []string{"coverage"}, decision.Judges)
	assert.Equal(t, 1, decision.NewEdges)
	assert.Equal(t, 1, pipeline.Edges())

	for i := 0; i < 3; i++ {
		maps.ResetExecution()
		maps.RecordJump(contract, 1, 2)
		maps.RecordJump(contract, 1, 2)
		assert.False(t, pipeline.Evaluate(maps).Interesting, "a seen edge alone is never interesting again")
	}

	maps.ResetExecution()
	maps.RecordJump(contract, 1, 2)
	maps.RecordJump(contract, 1, 3)
	decision = pipeline.Evaluate(maps)
	assert.True(t, decision.Interesting)
	assert.Equal(t, 1, decision.NewEdges)
	assert.Equal(t, 2, pipeline.Edges())
}

// TestRejectionMutatesNothing verifies a rejected execution leaves every judge's history untouched.
func TestRejectionMutatesNothing(t *testing.T) {
	maps := coverage.NewFeedbackMaps()
	cov := NewCoverageFeedback()
	cmp := NewComparisonFeedback(nil)
	pipeline := NewPipeline(cov, cmp)

	maps.RecordJump(contract, 1, 2)
	maps.RecordCompare(contract, 5, 0x14, uint256.NewInt(10), uint256.NewInt(3))
	assert.True(t, pipeline.Evaluate(maps).Interesting)
	committed := cmp.Distance(coverage.CompareIndex(contract, 5))
	assert.Equal(t, uint64(7), committed.Uint64())

	// A farther comparison and a known edge: rejected, and the committed distance must not move.
	maps.ResetExecution()
	maps.RecordJump(contract, 1, 2)
	maps.RecordCompare(contract, 5, 0x14, uint256.NewInt(100), uint256.NewInt(3))
	assert.False(t, pipeline.Evaluate(maps).Interesting)
	distance := cmp.Distance(coverage.CompareIndex(contract, 5))
	assert.Equal(t, uint64(7), distance.Uint64())
	assert.Equal(t, 1, pipeline.Edges())
}

// TestComparisonFeedbackHints verifies closer comparisons are accepted and their operands published.
func TestComparisonFeedbackHints(t *testing.T) {
	maps := coverage.NewFeedbackMaps()
	sink := &hintRecorder{}
	pipeline := NewPipeline(NewCoverageFeedback(), NewComparisonFeedback(sink))

	maps.RecordCompare(contract, 5, 0x14, uint256.NewInt(1), uint256.NewInt(0x1337))
	decision := pipeline.Evaluate(maps)
	assert.Equal(t, []string{"comparison"}, decision.Judges)
	assert.Equal(t, []uint64{1, 0x1337}, sink.hints)

	maps.ResetExecution()
	maps.RecordCompare(contract, 5, 0x14, uint256.NewInt(0x1337), uint256.NewInt(0x1337))
	assert.True(t, pipeline.Evaluate(maps).Interesting)

	maps.ResetExecution()
	maps.RecordCompare(contract, 5, 0x14, uint256.NewInt(0x1337), uint256.NewInt(0x1337))
	assert.False(t, pipeline.Evaluate(maps).Interesting, "distance zero cannot improve")
}

// TestDataflowFeedback verifies only writes to read slots, in unseen value buckets, are interesting.
func TestDataflowFeedback(t *testing.T) {
	maps := coverage.NewFeedbackMaps()
	pipeline := NewPipeline(NewDataflowFeedback())
	slot := common.HexToHash("0x01")

	maps.RecordWrite(contract, slot, common.HexToHash("0x05"))
	assert.False(t, pipeline.Evaluate(maps).Interesting, "the slot was never read")

	maps.ResetExecution()
	maps.RecordRead(contract, slot)
	maps.RecordWrite(contract, slot, common.HexToHash("0x05"))
	assert.True(t, pipeline.Evaluate(maps).Interesting)

	maps.ResetExecution()
	maps.RecordWrite(contract, slot, common.HexToHash("0x06"))
	assert.False(t, pipeline.Evaluate(maps).Interesting, "same value bucket")

	maps.ResetExecution()
	maps.RecordWrite(contract, slot, common.HexToHash("0x0100000000000000000000"))
	assert.True(t, pipeline.Evaluate(maps).Interesting)
	assert.Equal(t, []string{"dataflow"}, pipeline.Judges())
}
