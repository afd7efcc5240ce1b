package corpus

import (
	"context"

	"github.com/crytic/hydra/fuzzing/calls"
	"github.com/crytic/hydra/utils"
)

// SequenceValidator re-executes a sequence and returns an error when it no longer runs.
type SequenceValidator func(sequence calls.Sequence) error

// CleanResult contains the results of a corpus cleaning operation.
type CleanResult struct {
	// TotalSequences is the number of sequences before cleaning.
	TotalSequences int
	// ValidSequences is the number of sequences that executed successfully.
	ValidSequences int
	// InvalidSequences lists the file names of the sequences that failed.
	InvalidSequences []string
}

// CorpusCleaner removes sequences which no longer execute, such as after the target contracts changed.
type CorpusCleaner struct {
	corpus *Corpus
}

// NewCorpusCleaner creates a cleaner for corpus.
func NewCorpusCleaner(corpus *Corpus) *CorpusCleaner {
	return &CorpusCleaner{corpus: corpus}
}

// Clean validates every loaded sequence. Failing sequences are deleted from disk unless dryRun is set.
func (cc *CorpusCleaner) Clean(ctx context.Context, validate SequenceValidator, dryRun bool) (*CleanResult, error) {
	names, sequences := cc.corpus.sequences.entries()
	result := &CleanResult{TotalSequences: len(sequences)}
	for i, sequence := range sequences {
		if utils.CheckContextDone(ctx) {
			return result, ctx.Err()
		}
		if err := validate(sequence); err != nil {
			cc.corpus.logger.Warn("Corpus sequence ", names[i], " is invalid: ", err)
			result.InvalidSequences = append(result.InvalidSequences, names[i])
			continue
		}
		result.ValidSequences++
	}
	if dryRun {
		return result, nil
	}
	for _, name := range result.InvalidSequences {
		if _, err := cc.corpus.sequences.removeFile(name); err != nil {
			return result, err
		}
	}
	return result, nil
}
