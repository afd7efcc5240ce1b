package corpus

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/crytic/hydra/chain/state"
	"github.com/crytic/hydra/fuzzing/calls"
	"github.com/crytic/hydra/fuzzing/oracles"
	"github.com/crytic/hydra/logging"
	"github.com/crytic/medusa-geth/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrMalformedSequence is returned for sequence files which do not parse.
var ErrMalformedSequence = errors.New("malformed call sequence")

const (
	// sequenceDirectory holds accepted sequences.
	sequenceDirectory = "corpus"
	// solutionDirectory holds sequences triggering findings.
	solutionDirectory = "vulnerabilities"
	// stateDirectory holds infant state snapshots.
	stateDirectory = "states"
)

// SolutionReport is written next to each solution.
type SolutionReport struct {
	// Sequence is the file name of the solution sequence.
	Sequence string `json:"sequence"`
	// Findings are the bugs the sequence triggers.
	Findings []oracles.Finding `json:"findings"`
	// Description is the human-readable sequence.
	Description string `json:"description"`
	// Timestamp is when the solution was found.
	Timestamp time.Time `json:"timestamp"`
}

// Entry is a loaded sequence and the file it came from.
type Entry struct {
	Path     string
	Sequence calls.Sequence
}

// Corpus persists the sequences, solutions and infant states of a campaign below a work directory.
type Corpus struct {
	sequences *corpusDirectory[calls.Sequence]
	solutions *corpusDirectory[calls.Sequence]
	reports   *corpusDirectory[*SolutionReport]
	states    *corpusDirectory[*state.EVMState]

	// sequenceHashes deduplicates sequences.
	sequenceHashes map[common.Hash]struct{}

	logger *logging.Logger
}

// NewCorpus creates a corpus below workDir. An empty workDir keeps everything in memory.
func NewCorpus(workDir string) *Corpus {
	join := func(name string) string {
		if workDir == "" {
			return ""
		}
		return filepath.Join(workDir, name)
	}
	encodeReport := func(report *SolutionReport) ([]byte, error) {
		b, err := json.MarshalIndent(report, "", "  ")
		return b, errors.WithStack(err)
	}
	decodeReport := func(b []byte) (*SolutionReport, error) {
		var report SolutionReport
		err := json.Unmarshal(b, &report)
		return &report, errors.WithStack(err)
	}
	return &Corpus{
		sequences:      newCorpusDirectory(join(sequenceDirectory), encodeSequence, DecodeSequence),
		solutions:      newCorpusDirectory(join(solutionDirectory), encodeSequence, DecodeSequence),
		reports:        newCorpusDirectory(join(solutionDirectory), encodeReport, decodeReport),
		states:         newCorpusDirectory(join(stateDirectory), encodeState, state.DecodeSnapshot),
		sequenceHashes: make(map[common.Hash]struct{}),
		logger:         logging.GlobalLogger.NewSubLogger("module", logging.CORPUS_SERVICE),
	}
}

func encodeSequence(sequence calls.Sequence) ([]byte, error) {
	return sequence.MarshalLines()
}

func encodeState(st *state.EVMState) ([]byte, error) {
	return st.EncodeSnapshot()
}

// DecodeSequence parses the contents of a sequence file.
func DecodeSequence(b []byte) (calls.Sequence, error) {
	sequence, err := calls.ParseSequence(b)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedSequence, "%v", err)
	}
	if len(sequence) == 0 {
		return nil, errors.Wrap(ErrMalformedSequence, "no inputs")
	}
	return sequence, nil
}

// newFileName returns a unique, time-ordered base name.
func newFileName() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.New().String())
}

// AddSequence records an accepted sequence and returns its file name. Sequences already in the corpus are ignored and
// return an empty name.
func (c *Corpus) AddSequence(sequence calls.Sequence) (string, error) {
	hash, err := sequence.Hash()
	if err != nil {
		return "", err
	}
	if _, ok := c.sequenceHashes[hash]; ok {
		return "", nil
	}
	c.sequenceHashes[hash] = struct{}{}
	name := newFileName() + ".txt"
	c.sequences.addFile(name, sequence.Clone())
	return name, nil
}

// AddSolution records a sequence triggering findings and writes it immediately, with its report.
func (c *Corpus) AddSolution(sequence calls.Sequence, findings []oracles.Finding, description string) (string, error) {
	base := newFileName()
	c.solutions.addFile(base+".txt", sequence.Clone())
	c.reports.addFile(base+".json", &SolutionReport{
		Sequence:    base + ".txt",
		Findings:    findings,
		Description: description,
		Timestamp:   time.Now().UTC(),
	})
	if err := c.solutions.writeFiles(); err != nil {
		return "", err
	}
	if err := c.reports.writeFiles(); err != nil {
		return "", err
	}
	return filepath.Join(c.solutions.path, base+".txt"), nil
}

// AddState records an infant state snapshot, named by its hash.
func (c *Corpus) AddState(st *state.EVMState) {
	c.states.addFile(st.Hash().Hex()+".cbor", st.Clone())
}

// RemoveState forgets an infant state, for example after the scheduler evicted it.
func (c *Corpus) RemoveState(hash common.Hash) error {
	_, err := c.states.removeFile(hash.Hex() + ".cbor")
	return err
}

// Flush writes everything not yet on disk.
func (c *Corpus) Flush() error {
	if err := c.sequences.writeFiles(); err != nil {
		return err
	}
	if err := c.solutions.writeFiles(); err != nil {
		return err
	}
	if err := c.reports.writeFiles(); err != nil {
		return err
	}
	return c.states.writeFiles()
}

// LoadSequences reads the sequence corpus from disk, in directory order. Malformed files are skipped and logged.
func (c *Corpus) LoadSequences() ([]Entry, error) {
	if !c.sequences.onDisk() {
		return nil, nil
	}
	skipped, err := c.sequences.readFiles("*.txt")
	if err != nil {
		return nil, err
	}
	for _, skip := range skipped {
		c.logger.Error("Failed to load corpus file", skip)
	}
	names, sequences := c.sequences.entries()
	entries := make([]Entry, 0, len(sequences))
	for i, sequence := range sequences {
		if hash, err := sequence.Hash(); err == nil {
			c.sequenceHashes[hash] = struct{}{}
		}
		entries = append(entries, Entry{Path: filepath.Join(c.sequences.path, names[i]), Sequence: sequence})
	}
	return entries, nil
}

// LoadStates reads the infant state snapshots from disk. Undecodable snapshots are skipped and logged.
func (c *Corpus) LoadStates() ([]*state.EVMState, error) {
	if !c.states.onDisk() {
		return nil, nil
	}
	skipped, err := c.states.readFiles("*.cbor")
	if err != nil {
		return nil, err
	}
	for _, skip := range skipped {
		c.logger.Error("Failed to load state snapshot", skip)
	}
	_, states := c.states.entries()
	return states, nil
}

// SequenceCount returns the number of sequences in the corpus.
func (c *Corpus) SequenceCount() int {
	return c.sequences.count()
}

// SolutionCount returns the number of solutions recorded.
func (c *Corpus) SolutionCount() int {
	return c.solutions.count()
}

// StateCount returns the number of infant states recorded.
func (c *Corpus) StateCount() int {
	return c.states.count()
}

// ReadSequenceFile parses one sequence file, as used by replay.
func ReadSequenceFile(path string) (calls.Sequence, error) {
	b, err := readFile(path)
	if err != nil {
		return nil, err
	}
	sequence, err := DecodeSequence(b)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return sequence, nil
}
