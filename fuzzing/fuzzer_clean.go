package fuzzing

import (
	"context"

	"github.com/crytic/hydra/fuzzing/calls"
	"github.com/crytic/hydra/fuzzing/corpus"
	"github.com/pkg/errors"
)

// CleanCorpus loads the sequence corpus of the work directory and removes the sequences which no longer execute
// against the current targets. With dryRun set, nothing is deleted.
func (f *Fuzzer) CleanCorpus(ctx context.Context, dryRun bool) (*corpus.CleanResult, error) {
	if f.config.Fuzzing.WorkDirectory == "" {
		return nil, errors.New("no work directory configured")
	}
	if err := f.initialize(ctx); err != nil {
		return nil, err
	}
	defer f.closeBackend()

	fuzzerCorpus := corpus.NewCorpus(f.workPath())
	if _, err := fuzzerCorpus.LoadSequences(); err != nil {
		return nil, err
	}
	return corpus.NewCorpusCleaner(fuzzerCorpus).Clean(ctx, f.ValidateSequence, dryRun)
}

// ValidateSequence executes sequence from the initial state. It fails when an input calls an address without code,
// uses a selector the target's ABI lacks, or cannot be executed at all.
func (f *Fuzzer) ValidateSequence(sequence calls.Sequence) error {
	if len(sequence) == 0 {
		return errors.New("empty sequence")
	}
	st := f.initialState.Clone()
	for i, input := range sequence {
		if !input.Resume {
			if !st.HasCode(input.Contract) {
				return errors.Errorf("input %d: no code at %s", i+1, input.Contract.Hex())
			}
			if contract := f.abis[input.Contract]; contract != nil {
				if _, err := contract.MethodBySelector(input.Selector()); err != nil {
					return errors.Wrapf(err, "input %d", i+1)
				}
			}
		}
		result, err := f.executor.Execute(st, input)
		if err != nil {
			return errors.Wrapf(err, "input %d", i+1)
		}
		st = result.State
	}
	return nil
}
