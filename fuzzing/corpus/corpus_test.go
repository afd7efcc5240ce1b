package corpus

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crytic/hydra/chain/state"
	"github.com/crytic/hydra/fuzzing/calls"
	"github.com/crytic/hydra/fuzzing/oracles"
	"github.com/crytic/medusa-geth/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sender   = common.HexToAddress("0x10000")
	contract = common.HexToAddress("0x1000")
)

func testSequence(selectors ...byte) calls.Sequence {
	var sequence calls.Sequence
	for _, selector := range selectors {
		sequence = append(sequence, calls.NewInput(sender, contract, []byte{selector, 0, 0, 1}, nil))
	}
	return sequence
}

func TestCorpusRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := NewCorpus(dir)

	name, err := c.AddSequence(testSequence(1, 2))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, ".txt"))

	// Duplicates are not stored twice.
	duplicate, err := c.AddSequence(testSequence(1, 2))
	require.NoError(t, err)
	assert.Empty(t, duplicate)

	_, err = c.AddSequence(testSequence(3))
	require.NoError(t, err)
	require.NoError(t, c.Flush())

	files, err := filepath.Glob(filepath.Join(dir, "corpus", "*.txt"))
	require.NoError(t, err)
	assert.Len(t, files, 2)

	loaded := NewCorpus(dir)
	entries, err := loaded.LoadSequences()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, loaded.SequenceCount())
	for _, entry := range entries {
		assert.FileExists(t, entry.Path)
	}
	var lengths []int
	for _, entry := range entries {
		lengths = append(lengths, len(entry.Sequence))
	}
	assert.ElementsMatch(t, []int{2, 1}, lengths)

	// Loaded sequences are known, so they are not added again.
	again, err := loaded.AddSequence(testSequence(3))
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestLoadSkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	corpusDir := filepath.Join(dir, "corpus")
	require.NoError(t, os.MkdirAll(corpusDir, 0o755))

	good, err := testSequence(1).MarshalLines()
	require.NoError(t, err)
	// Short lines are skipped within a file.
	withBlank := append([]byte("\n  \n"), good...)
	require.NoError(t, os.WriteFile(filepath.Join(corpusDir, "1-a.txt"), withBlank, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(corpusDir, "2-b.txt"), append(good, []byte("{not json}\n")...), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(corpusDir, "3-c.txt"), []byte("\n"), 0o644))

	entries, err := NewCorpus(dir).LoadSequences()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1-a.txt", filepath.Base(entries[0].Path))
	assert.Len(t, entries[0].Sequence, 1)
}

func TestDecodeSequenceErrors(t *testing.T) {
	_, err := DecodeSequence([]byte("garbage line\n"))
	assert.True(t, errors.Is(err, ErrMalformedSequence))

	_, err = DecodeSequence(nil)
	assert.True(t, errors.Is(err, ErrMalformedSequence))

	_, err = ReadSequenceFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestAddSolution(t *testing.T) {
	dir := t.TempDir()
	c := NewCorpus(dir)
	findings := []oracles.Finding{{Kind: oracles.KindReentrancy, Address: contract, PC: 12, Message: "reentrant write"}}

	path, err := c.AddSolution(testSequence(1, 2), findings, "1) ...")
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.FileExists(t, strings.TrimSuffix(path, ".txt")+".json")
	assert.Equal(t, 1, c.SolutionCount())

	sequence, err := ReadSequenceFile(path)
	require.NoError(t, err)
	assert.Len(t, sequence, 2)
}

func TestStateSnapshots(t *testing.T) {
	dir := t.TempDir()
	c := NewCorpus(dir)

	st := state.NewEVMState()
	st.WriteSlot(contract, common.Hash{1}, common.Hash{2})
	st.SetBalance(sender, uint256.NewInt(99))
	c.AddState(st)
	other := st.Clone()
	other.WriteSlot(contract, common.Hash{1}, common.Hash{3})
	c.AddState(other)
	require.NoError(t, c.Flush())
	require.NoError(t, c.RemoveState(other.Hash()))

	states, err := NewCorpus(dir).LoadStates()
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, st.Hash(), states[0].Hash())
}

func TestInMemoryCorpus(t *testing.T) {
	c := NewCorpus("")
	_, err := c.AddSequence(testSequence(1))
	require.NoError(t, err)
	require.NoError(t, c.Flush())
	entries, err := c.LoadSequences()
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 1, c.SequenceCount())

	c.AddState(state.NewEVMState())
	states, err := c.LoadStates()
	require.NoError(t, err)
	assert.Empty(t, states)
	assert.Equal(t, 1, c.StateCount())
}

func TestCorpusCleaner(t *testing.T) {
	dir := t.TempDir()
	c := NewCorpus(dir)
	for _, selector := range []byte{1, 2, 3} {
		_, err := c.AddSequence(testSequence(selector))
		require.NoError(t, err)
	}
	require.NoError(t, c.Flush())

	invalid := func(sequence calls.Sequence) error {
		if sequence[0].Data[0] == 2 {
			return errors.New("reverted")
		}
		return nil
	}

	result, err := NewCorpusCleaner(c).Clean(context.Background(), invalid, true)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalSequences)
	assert.Equal(t, 2, result.ValidSequences)
	assert.Len(t, result.InvalidSequences, 1)
	assert.Equal(t, 3, c.SequenceCount())

	_, err = NewCorpusCleaner(c).Clean(context.Background(), invalid, false)
	require.NoError(t, err)
	assert.Equal(t, 2, c.SequenceCount())
	files, err := filepath.Glob(filepath.Join(dir, "corpus", "*.txt"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}
