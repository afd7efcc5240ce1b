package fuzzing

import (
	"fmt"

	"github.com/crytic/hydra/fuzzing/calls"
	"github.com/crytic/hydra/fuzzing/executor"
	"github.com/crytic/hydra/fuzzing/oracles"
	"github.com/crytic/hydra/fuzzing/scheduler"
)

// cycleOutcome is what one executed input contributed to the campaign.
type cycleOutcome struct {
	interesting bool
	newEdges    int
	findings    []oracles.Finding
	// sequence leads from the initial state to the post state, the input included.
	sequence calls.Sequence
	result   *executor.ExecutionResult
}

// fuzzCycle runs one iteration: pick an input and a seed state, mutate, execute and evaluate. It reports whether the
// campaign should stop.
func (f *Fuzzer) fuzzCycle() (bool, error) {
	txID, err := f.transactions.Next()
	if err != nil {
		return true, err
	}
	stateID, err := f.states.Next()
	if err != nil {
		return true, err
	}
	base := f.transactions.Get(txID)
	seed := f.states.Get(stateID)

	input := f.mutator.Mutate(base, seed.State)
	outcome, err := f.processInput(stateID, seed, input)
	if err != nil {
		return false, err
	}
	f.transactions.OnResult(txID, outcome.newEdges)
	stop := f.reportFindings(outcome)

	if outcome.interesting && f.concolic != nil && !stop {
		stop = f.solveComparisons(stateID, seed, input)
	}
	f.updateMetrics()
	return stop, nil
}

// processInput executes input on the seed state and feeds the result to the judges, oracles and corpora.
func (f *Fuzzer) processInput(stateID uint64, seed *scheduler.StateEntry, input *calls.Input) (*cycleOutcome, error) {
	result, err := f.executor.Execute(seed.State, input)
	if err != nil {
		return nil, err
	}
	f.metrics.recordExecution()
	f.recordRevertMetrics(input, result)

	decision := f.pipeline.Evaluate(f.maps)
	outcome := &cycleOutcome{
		interesting: decision.Interesting || result.NewInstructions,
		newEdges:    decision.NewEdges,
		sequence:    seed.Sequence.Append(input),
		result:      result,
	}
	f.harvestOutput(input, result)

	outcome.findings = f.evaluator.Evaluate(oracles.NewContext(seed.State, input, outcome.sequence, result, f.executor))
	f.states.OnResult(stateID, scheduler.Outcome{NewCoverage: outcome.interesting, NewBug: len(outcome.findings) > 0})

	if outcome.interesting {
		// Resumes only make sense against the state that leaked, so they live in sequences and snapshots.
		if !input.Resume {
			f.transactions.Add(input)
		}
		if _, err := f.corpus.AddSequence(outcome.sequence); err != nil {
			f.logger.Warn("Failed to add a sequence to the corpus", err)
		}
	}
	if outcome.interesting || result.Leak != nil {
		f.admitState(outcome)
	}
	return outcome, nil
}

// harvestOutput decodes the return data of a call to a known target and adds its values to the value set.
func (f *Fuzzer) harvestOutput(input *calls.Input, result *executor.ExecutionResult) {
	if input.Resume || result.Reverted() || len(result.Output) == 0 {
		return
	}
	contract := f.abis[input.Contract]
	if contract == nil {
		return
	}
	method, err := contract.MethodBySelector(input.Selector())
	if err != nil {
		return
	}
	values, err := contract.DecodeOutputs(method, result.Output)
	if err != nil {
		return
	}
	f.valueSet.AddOutputValues(method.Outputs, values)
}

// recordRevertMetrics counts the input in the revert statistics under its target and method names.
func (f *Fuzzer) recordRevertMetrics(input *calls.Input, result *executor.ExecutionResult) {
	if f.reverts == nil {
		return
	}
	contractName := input.Contract.Hex()
	for _, deployed := range f.contracts {
		if deployed.Address == input.Contract {
			contractName = deployed.Name
			break
		}
	}
	functionName := "resume"
	if !input.Resume {
		functionName = fmt.Sprintf("0x%x", input.Selector())
	}
	contract := f.abis[input.Contract]
	if contract == nil {
		f.reverts.Record(contractName, functionName, result, nil)
		return
	}
	if method, err := contract.MethodBySelector(input.Selector()); err == nil && !input.Resume {
		functionName = method.Sig
	}
	f.reverts.Record(contractName, functionName, result, contract.ABI())
}

// admitState adds the post state of an execution to the state corpus unless it reverted or is already stored.
func (f *Fuzzer) admitState(outcome *cycleOutcome) {
	if outcome.result.Reverted() {
		return
	}
	post := outcome.result.State
	hash := post.Hash()
	if f.states.Contains(hash) {
		return
	}
	id, evicted := f.states.Add(post, outcome.sequence)
	for _, evictedID := range evicted {
		if evictedHash, ok := f.stateHashes[evictedID]; ok {
			if err := f.corpus.RemoveState(evictedHash); err != nil {
				f.logger.Warn("Failed to remove an evicted state", err)
			}
			delete(f.stateHashes, evictedID)
		}
	}
	f.stateHashes[id] = hash
	f.corpus.AddState(post)
}

// reportFindings stores the findings of an execution as solutions. It reports whether the campaign should stop.
func (f *Fuzzer) reportFindings(outcome *cycleOutcome) bool {
	if len(outcome.findings) == 0 {
		return false
	}
	path, err := f.corpus.AddSolution(outcome.sequence, outcome.findings, outcome.sequence.Describe(f.abis))
	if err != nil {
		f.logger.Error("Failed to write a solution", err)
	}
	if err != nil || f.config.Fuzzing.WorkDirectory == "" {
		path = ""
	}
	for _, finding := range outcome.findings {
		solution := Solution{Finding: finding, Sequence: outcome.sequence.Clone(), Path: path}
		f.solutionsLock.Lock()
		f.solutions = append(f.solutions, solution)
		f.solutionsLock.Unlock()
		f.logger.Info("Found ", finding.String())
		f.Events.FindingReported.Publish(FindingReportedEvent{Fuzzer: f, Finding: finding, Solution: solution})
	}
	return !f.config.Fuzzing.ContinueOnFinding
}

// solveComparisons runs the concolic stage over the comparisons of the last execution and executes each candidate on
// the same seed. It reports whether the campaign should stop.
func (f *Fuzzer) solveComparisons(stateID uint64, seed *scheduler.StateEntry, input *calls.Input) bool {
	candidates, err := f.concolic.Solve(f.ctx, input, f.maps.CompareRecords())
	if err != nil {
		f.logger.Debug("Concolic stage stopped early", err)
	}
	for _, candidate := range candidates {
		outcome, err := f.processInput(stateID, seed, candidate)
		if err != nil {
			continue
		}
		if f.reportFindings(outcome) {
			return true
		}
	}
	return false
}

// updateMetrics refreshes the corpus sizes in the metrics.
func (f *Fuzzer) updateMetrics() {
	f.metrics.update(f.transactions.Len(), f.states.Len(), f.pipeline.Edges(), len(f.Solutions()))
}

// loadCorpus re-executes the sequences saved by earlier runs from the initial state, so their inputs and states seed
// this run. It reports whether a reproduced finding ends the campaign.
func (f *Fuzzer) loadCorpus() (bool, error) {
	entries, err := f.corpus.LoadSequences()
	if err != nil {
		return false, err
	}
	stop := false
	for _, entry := range entries {
		if f.replaySequence(entry.Sequence) {
			stop = true
			break
		}
	}

	stored, err := f.corpus.LoadStates()
	if err != nil {
		return false, err
	}
	missing := 0
	for _, st := range stored {
		if !f.states.Contains(st.Hash()) {
			missing++
		}
	}
	if missing > 0 {
		f.logger.Warn(missing, " stored state(s) were not reproduced by the corpus sequences")
	}
	if len(entries) > 0 {
		f.logger.Info("Loaded ", len(entries), " sequence(s) from the corpus, ", f.states.Len(), " state(s) scheduled")
	}
	f.updateMetrics()
	return stop, nil
}

// replaySequence executes a saved sequence from the initial state, admitting what it covers. Findings made while
// loading are reported like any other, and the result reports whether one ends the campaign.
func (f *Fuzzer) replaySequence(sequence calls.Sequence) bool {
	seed := &scheduler.StateEntry{ID: f.rootStateID, State: f.initialState}
	for _, input := range sequence {
		outcome, err := f.processInput(f.rootStateID, seed, input)
		if err != nil {
			return false
		}
		if f.reportFindings(outcome) {
			return true
		}
		if outcome.result.Reverted() {
			return false
		}
		seed = &scheduler.StateEntry{ID: f.rootStateID, State: outcome.result.State, Sequence: outcome.sequence}
	}
	return false
}
