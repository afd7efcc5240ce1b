package feedback

import "github.com/crytic/hydra/fuzzing/coverage"

// Decision is the verdict of the pipeline on one execution.
type Decision struct {
	// Interesting is set when any judge accepted the execution.
	Interesting bool
	// Judges names the judges which accepted it.
	Judges []string
	// NewEdges is the number of edges the execution hit for the first time.
	NewEdges int
}

// Pipeline combines judges with a logical OR. Every judge is consulted on every execution, and histories are only
// committed when the execution is accepted.
type Pipeline struct {
	judges   []Judge
	coverage *CoverageFeedback
}

// NewPipeline creates a pipeline over judges. A CoverageFeedback among them also supplies Decision.NewEdges.
func NewPipeline(judges ...Judge) *Pipeline {
	p := &Pipeline{judges: judges}
	for _, judge := range judges {
		if cov, ok := judge.(*CoverageFeedback); ok {
			p.coverage = cov
		}
	}
	return p
}

// Evaluate judges the execution recorded in maps.
func (p *Pipeline) Evaluate(maps *coverage.FeedbackMaps) Decision {
	var decision Decision
	for _, judge := range p.judges {
		if judge.IsInteresting(maps) {
			decision.Interesting = true
			decision.Judges = append(decision.Judges, judge.Name())
		}
	}
	if p.coverage != nil {
		decision.NewEdges = p.coverage.NewEdges()
	}
	if decision.Interesting {
		for _, judge := range p.judges {
			judge.Commit()
		}
	}
	return decision
}

// Edges returns the number of distinct edges accepted so far, or zero without a coverage judge.
func (p *Pipeline) Edges() int {
	if p.coverage == nil {
		return 0
	}
	return p.coverage.Edges()
}

// Judges returns the names of the configured judges.
func (p *Pipeline) Judges() []string {
	names := make([]string, len(p.judges))
	for i, judge := range p.judges {
		names[i] = judge.Name()
	}
	return names
}
