package oracles

import (
	"github.com/crytic/hydra/chain/state"
	"github.com/crytic/hydra/fuzzing/calls"
	"github.com/crytic/hydra/fuzzing/executor"
	"github.com/crytic/hydra/logging"
	"github.com/pkg/errors"
)

// Oracle inspects an execution and reports the bugs it reveals. Oracles must not modify the context's states.
type Oracle interface {
	Name() string
	Inspect(ctx *Context) []Finding
}

// Producer derives a fact from an execution which oracles can share through Context.ProducerState.
type Producer interface {
	Name() string
	Observe(ctx *Context) any
}

// Context is what oracles inspect: one executed input with the states before and after it.
type Context struct {
	Pre      *state.EVMState
	Post     *state.EVMState
	Input    *calls.Input
	Sequence calls.Sequence
	Result   *executor.ExecutionResult
	// Executor runs the static calls some oracles need. It is never used to change Post.
	Executor *executor.Executor

	producers map[string]any
}

// NewContext creates the oracle context of one execution. sequence is the sequence leading to post, input included.
func NewContext(pre *state.EVMState, input *calls.Input, sequence calls.Sequence, result *executor.ExecutionResult, exec *executor.Executor) *Context {
	return &Context{
		Pre:       pre,
		Post:      result.State,
		Input:     input,
		Sequence:  sequence,
		Result:    result,
		Executor:  exec,
		producers: make(map[string]any),
	}
}

// ProducerState returns the value a producer derived for this execution.
func (c *Context) ProducerState(name string) (any, bool) {
	value, ok := c.producers[name]
	return value, ok
}

// Evaluator runs producers and oracles over executions and reports each bug once per run.
type Evaluator struct {
	oracles   []Oracle
	producers []Producer
	known     map[string]Finding
	logger    *logging.Logger
}

// NewEvaluator creates an evaluator. Producers run before oracles, in order.
func NewEvaluator(oracles []Oracle, producers []Producer) *Evaluator {
	return &Evaluator{
		oracles:   oracles,
		producers: producers,
		known:     make(map[string]Finding),
		logger:    logging.GlobalLogger.NewSubLogger("module", logging.FUZZING_SERVICE),
	}
}

// Evaluate returns the findings of the execution that were not reported before. An oracle or producer that panics
// contributes nothing.
func (e *Evaluator) Evaluate(ctx *Context) []Finding {
	for _, producer := range e.producers {
		if value, err := e.observe(producer, ctx); err != nil {
			e.logger.Warn("Producer ", producer.Name(), " failed", err)
		} else {
			ctx.producers[producer.Name()] = value
		}
	}

	var findings []Finding
	for _, oracle := range e.oracles {
		results, err := e.inspect(oracle, ctx)
		if err != nil {
			e.logger.Warn("Oracle ", oracle.Name(), " failed", err)
			continue
		}
		for _, finding := range results {
			id := finding.ID()
			if _, ok := e.known[id]; ok {
				continue
			}
			e.known[id] = finding
			findings = append(findings, finding)
		}
	}
	return findings
}

func (e *Evaluator) observe(producer Producer, ctx *Context) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return producer.Observe(ctx), nil
}

func (e *Evaluator) inspect(oracle Oracle, ctx *Context) (findings []Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			findings, err = nil, errors.Errorf("panic: %v", r)
		}
	}()
	return oracle.Inspect(ctx), nil
}

// Known returns the number of distinct findings reported so far.
func (e *Evaluator) Known() int {
	return len(e.known)
}

// Oracles returns the names of the configured oracles.
func (e *Evaluator) Oracles() []string {
	names := make([]string, len(e.oracles))
	for i, oracle := range e.oracles {
		names[i] = oracle.Name()
	}
	return names
}
