package fuzzing

import (
	"context"
	"os"
	"path/filepath"

	"github.com/crytic/hydra/fuzzing/corpus"
	"github.com/crytic/hydra/fuzzing/oracles"
	"github.com/crytic/hydra/utils"
	"github.com/crytic/medusa-geth/common/hexutil"
	"github.com/pkg/errors"
)

// ReplayTransaction is the outcome of one replayed input.
type ReplayTransaction struct {
	Description string            `json:"description"`
	Status      string            `json:"status"`
	Output      string            `json:"output"`
	Error       string            `json:"error,omitempty"`
	Trace       string            `json:"trace"`
	Findings    []oracles.Finding `json:"findings,omitempty"`
}

// ReplayFile is the outcome of one replayed sequence file.
type ReplayFile struct {
	Path         string              `json:"path"`
	Transactions []ReplayTransaction `json:"transactions"`
	Findings     []oracles.Finding   `json:"findings"`
	// Error is set when the file could not be read or one of its inputs could not run.
	Error string `json:"error,omitempty"`
}

// ReplayReport collects the replayed files.
type ReplayReport struct {
	Files []ReplayFile `json:"files"`
	// CoveragePath is the coverage report written after replaying, if any.
	CoveragePath string `json:"coveragePath,omitempty"`
}

// Findings returns the findings of every replayed file.
func (r *ReplayReport) Findings() []oracles.Finding {
	var findings []oracles.Finding
	for _, file := range r.Files {
		findings = append(findings, file.Findings...)
	}
	return findings
}

// Replay re-executes saved sequence files from the initial state and reports what every input did. Paths may name
// files or directories, whose .txt files are replayed in order. Each file is evaluated by fresh oracles, so replaying
// a file twice reports the same findings.
func (f *Fuzzer) Replay(paths []string) (*ReplayReport, error) {
	if err := f.initialize(context.Background()); err != nil {
		return nil, err
	}
	defer f.closeBackend()

	files, err := expandReplayPaths(paths)
	if err != nil {
		return nil, err
	}

	report := &ReplayReport{Files: make([]ReplayFile, 0, len(files))}
	for _, path := range files {
		replayed, err := f.replayFile(path)
		if err != nil {
			f.logger.Error("Failed to replay ", path, err)
			replayed.Error = err.Error()
		}
		report.Files = append(report.Files, replayed)
	}

	if f.config.Fuzzing.CoverageReport && f.config.Fuzzing.WorkDirectory != "" {
		coveragePath, err := f.instructionCoverage.WriteReport(f.workPath("coverage"))
		if err != nil {
			return report, err
		}
		report.CoveragePath = coveragePath
	}
	return report, nil
}

// replayFile executes one sequence file. The returned file carries the transactions replayed before any error.
func (f *Fuzzer) replayFile(path string) (ReplayFile, error) {
	replayed := ReplayFile{Path: path, Findings: make([]oracles.Finding, 0)}
	sequence, err := corpus.ReadSequenceFile(path)
	if err != nil {
		return replayed, err
	}
	evaluator, err := f.createEvaluator()
	if err != nil {
		return replayed, err
	}

	st := f.initialState.Clone()
	for i, input := range sequence {
		result, err := f.executor.Execute(st, input)
		if err != nil {
			return replayed, errors.Wrapf(err, "input %d", i+1)
		}
		tx := ReplayTransaction{
			Description: input.Describe(f.abis[input.Contract]),
			Status:      result.Status.String(),
			Output:      hexutil.Encode(result.Output),
		}
		if result.Err != nil {
			tx.Error = result.Err.Error()
		}
		if result.Trace != nil {
			tx.Trace = result.Trace.Render(f.abis)
		}
		tx.Findings = evaluator.Evaluate(oracles.NewContext(st, input, sequence[:i+1], result, f.executor))
		replayed.Findings = append(replayed.Findings, tx.Findings...)
		replayed.Transactions = append(replayed.Transactions, tx)
		st = result.State
	}
	return replayed, nil
}

// expandReplayPaths replaces directories with the sequence files they contain.
func expandReplayPaths(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		matches, err := utils.SortedFiles(filepath.Join(path, "*.txt"))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, errors.New("no sequence files to replay")
	}
	return files, nil
}
