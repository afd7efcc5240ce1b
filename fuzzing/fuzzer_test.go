package fuzzing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/crytic/hydra/chain/fork"
	"github.com/crytic/hydra/chain/state"
	"github.com/crytic/hydra/chain/vm"
	compilationTypes "github.com/crytic/hydra/compilation/types"
	"github.com/crytic/hydra/fuzzing/calls"
	"github.com/crytic/hydra/fuzzing/config"
	"github.com/crytic/hydra/fuzzing/coverage"
	"github.com/crytic/hydra/fuzzing/oracles"
	"github.com/crytic/hydra/fuzzing/reverts"
	"github.com/crytic/hydra/utils/testutils"
	"github.com/crytic/medusa-geth/common"
	evm "github.com/crytic/medusa-geth/core/vm"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertFoundBug checks that the run reported the bug() marker.
func assertFoundBug(t *testing.T, fuzzer *Fuzzer, expectFailure bool) {
	found := false
	for _, finding := range fuzzer.Findings() {
		if finding.Kind == oracles.KindTypedBug && finding.Name == "bug()" {
			found = true
		}
	}
	if expectFailure {
		assert.True(t, found, "bug() was not reached within %d executions", fuzzer.config.Fuzzing.TestLimit)
	} else {
		assert.False(t, found, "bug() was reached when it should not have been")
	}
}

// TestFuzzerComparisonFeedback verifies comparison hints lead the fuzzer to a constant computed at runtime.
func TestFuzzerComparisonFeedback(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "Hidden", guessAbi, hiddenConstantContract())
	projectConfig := getTestConfig(t, dir)

	fuzzer, err := NewFuzzer(*projectConfig)
	require.NoError(t, err)
	require.NoError(t, fuzzer.Start())
	assertFoundBug(t, fuzzer, true)

	// The solution is written and replays to the same finding.
	solutions := fuzzer.Solutions()
	require.NotEmpty(t, solutions)
	assert.FileExists(t, solutions[0].Path)
	report, err := fuzzer.Replay([]string{solutions[0].Path})
	require.NoError(t, err)
	require.Len(t, report.Files, 1)
	assert.Empty(t, report.Files[0].Error)
	assert.Contains(t, report.Files[0].Findings, solutions[0].Finding)
}

// TestFuzzerWithoutComparisonFeedback verifies the hidden constant stays out of reach without comparison feedback, and
// that the test limit bounds the run.
func TestFuzzerWithoutComparisonFeedback(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "Hidden", guessAbi, hiddenConstantContract())
	projectConfig := getTestConfig(t, dir)
	projectConfig.Fuzzing.Feedback.Comparison = false
	projectConfig.Fuzzing.TestLimit = 2000

	fuzzer, err := NewFuzzer(*projectConfig)
	require.NoError(t, err)
	require.NoError(t, fuzzer.Start())
	assertFoundBug(t, fuzzer, false)
	assert.EqualValues(t, 2000, fuzzer.Metrics().Executions)
}

// TestFuzzerConcolicStage verifies solving the comparisons of an input reaches the constant without comparison
// feedback.
func TestFuzzerConcolicStage(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "Hidden", guessAbi, hiddenConstantContract())
	projectConfig := getTestConfig(t, dir)
	projectConfig.Fuzzing.Feedback.Comparison = false
	projectConfig.Fuzzing.Concolic.Enabled = true
	projectConfig.Fuzzing.TestLimit = 200

	fuzzer, err := NewFuzzer(*projectConfig)
	require.NoError(t, err)
	require.NoError(t, fuzzer.Start())
	assertFoundBug(t, fuzzer, true)

	solution := fuzzer.Solutions()[0]
	last := solution.Sequence[len(solution.Sequence)-1]
	assert.Equal(t, hiddenConstant.Bytes32(), [32]byte(last.Data[4:36]))
}

// TestFuzzerEvents verifies the fuzzer emits its lifecycle and finding events.
func TestFuzzerEvents(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "Hidden", guessAbi, hiddenConstantContract())
	projectConfig := getTestConfig(t, dir)
	projectConfig.Fuzzing.Concolic.Enabled = true

	fuzzer, err := NewFuzzer(*projectConfig)
	require.NoError(t, err)

	counts := make(map[string]int)
	fuzzer.Events.FuzzerStarting.Subscribe(func(event FuzzerStartingEvent) {
		counts["starting"]++
		assert.NotEmpty(t, event.Fuzzer.Contracts())
	})
	fuzzer.Events.FuzzerStopping.Subscribe(func(event FuzzerStoppingEvent) {
		counts["stopping"]++
		assert.NoError(t, event.Err)
	})
	fuzzer.Events.FindingReported.Subscribe(func(event FindingReportedEvent) {
		counts["finding"]++
		assert.Equal(t, event.Finding, event.Solution.Finding)
	})

	require.NoError(t, fuzzer.Start())
	assert.Equal(t, 1, counts["starting"])
	assert.Equal(t, 1, counts["stopping"])
	assert.Equal(t, len(fuzzer.Findings()), counts["finding"])
	assert.Positive(t, counts["finding"])
}

// TestFuzzerContinueOnFinding verifies the run only ends at the test limit when asked to continue, and that each bug
// is reported once.
func TestFuzzerContinueOnFinding(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "Hidden", guessAbi, hiddenConstantContract())
	projectConfig := getTestConfig(t, dir)
	projectConfig.Fuzzing.Concolic.Enabled = true
	projectConfig.Fuzzing.ContinueOnFinding = true
	projectConfig.Fuzzing.TestLimit = 1000

	fuzzer, err := NewFuzzer(*projectConfig)
	require.NoError(t, err)
	require.NoError(t, fuzzer.Start())
	assert.GreaterOrEqual(t, fuzzer.Metrics().Executions, uint64(1000))
	assert.Len(t, fuzzer.Findings(), 1)
}

// TestFuzzerCorpusPersistence verifies a second run loads the sequences the first one saved.
func TestFuzzerCorpusPersistence(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "Vault", vaultAbi, vaultContract())
	projectConfig := getTestConfig(t, dir)
	projectConfig.Fuzzing.ContinueOnFinding = true
	projectConfig.Fuzzing.TestLimit = 300

	first, err := NewFuzzer(*projectConfig)
	require.NoError(t, err)
	require.NoError(t, first.Start())
	files, err := filepath.Glob(filepath.Join(projectConfig.Fuzzing.WorkDirectory, "corpus", "*.txt"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.DirExists(t, filepath.Join(projectConfig.Fuzzing.WorkDirectory, "states"))
	assert.FileExists(t, filepath.Join(projectConfig.Fuzzing.WorkDirectory, "coverage", coverage.ReportFileName))
	assert.FileExists(t, filepath.Join(projectConfig.Fuzzing.WorkDirectory, "coverage", reverts.ReportFileName))

	// With a limit of one execution, everything the second run executes comes from the corpus.
	projectConfig.Fuzzing.TestLimit = 1
	second, err := NewFuzzer(*projectConfig)
	require.NoError(t, err)
	require.NoError(t, second.Start())
	assert.GreaterOrEqual(t, second.Metrics().Executions, uint64(len(files)))
	assert.Greater(t, second.Metrics().TransactionCorpus, len(second.Contracts()))
}

// TestCleanCorpus verifies cleaning removes the sequences calling addresses without code and keeps the rest.
func TestCleanCorpus(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "Vault", vaultAbi, vaultContract())
	projectConfig := getTestConfig(t, dir)
	fuzzer := newTestFuzzer(t, projectConfig)

	vault := fuzzer.Contracts()[0].Address
	sender := fuzzer.SenderAddresses()[0]
	corpusDir := filepath.Join(projectConfig.Fuzzing.WorkDirectory, "corpus")
	require.NoError(t, os.MkdirAll(corpusDir, 0o755))
	writeSequence := func(name string, sequence calls.Sequence) {
		lines, err := sequence.MarshalLines()
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(corpusDir, name), lines, 0o644))
	}
	writeSequence("valid.txt", calls.Sequence{calls.NewInput(sender, vault, testutils.Selector("deposit()"), uint256.NewInt(1))})
	writeSequence("nocode.txt", calls.Sequence{calls.NewInput(sender, common.HexToAddress("0xdead"), testutils.Selector("deposit()"), nil)})
	writeSequence("selector.txt", calls.Sequence{calls.NewInput(sender, vault, testutils.Selector("missing()"), nil)})

	result, err := fuzzer.CleanCorpus(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalSequences)
	assert.Equal(t, 1, result.ValidSequences)
	assert.ElementsMatch(t, []string{"nocode.txt", "selector.txt"}, result.InvalidSequences)
	assert.FileExists(t, filepath.Join(corpusDir, "nocode.txt"))

	result, err = fuzzer.CleanCorpus(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, result.InvalidSequences, 2)
	assert.NoFileExists(t, filepath.Join(corpusDir, "nocode.txt"))
	assert.NoFileExists(t, filepath.Join(corpusDir, "selector.txt"))
	assert.FileExists(t, filepath.Join(corpusDir, "valid.txt"))
}

func TestValidateSequenceRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "Vault", vaultAbi, vaultContract())
	fuzzer := newTestFuzzer(t, getTestConfig(t, dir))
	assert.Error(t, fuzzer.ValidateSequence(nil))
}

// TestFuzzerSlitherCache verifies cached slither constants reach the value set without running slither.
func TestFuzzerSlitherCache(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "Vault", vaultAbi, vaultContract())
	projectConfig := getTestConfig(t, dir)
	projectConfig.Slither.UseSlither = true
	projectConfig.Slither.Target = filepath.Join(dir, "missing")
	projectConfig.Slither.CachePath = "slither.json"

	description := `{"constants_used": {"Vault": {"withdraw()": [[{"type": "uint256", "value": "424242"}]]}}}`
	output := fmt.Sprintf(`{"success": true, "error": null, "results": {"printers": [{"printer": "echidna", "description": %q}]}}`, description)
	require.NoError(t, os.MkdirAll(projectConfig.Fuzzing.WorkDirectory, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projectConfig.Fuzzing.WorkDirectory, "slither.json"), []byte(output), 0o644))

	fuzzer := newTestFuzzer(t, projectConfig)
	assert.Contains(t, fuzzer.valueSet.Integers(), uint256.NewInt(424242))
}

// writeVaultExploit writes the deposit, withdraw and resume sequence draining the vault, returning its path.
func writeVaultExploit(t *testing.T, fuzzer *Fuzzer) string {
	vault := fuzzer.Contracts()[0].Address
	sender := fuzzer.SenderAddresses()[0]
	deposit := calls.NewInput(sender, vault, testutils.Selector("deposit()"), uint256.NewInt(1_000_000_000_000_000_000))
	withdraw := calls.NewInput(sender, vault, testutils.Selector("withdraw()"), nil)
	resume := calls.NewResumeInput(sender, nil)

	lines, err := calls.Sequence{deposit, withdraw, resume}.MarshalLines()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "exploit.txt")
	require.NoError(t, os.WriteFile(path, lines, 0o644))
	return path
}

// TestReplayReentrancy verifies replaying a reentrant withdrawal reports the reentrancy, and that replaying is
// idempotent.
func TestReplayReentrancy(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "Vault", vaultAbi, vaultContract())
	fuzzer := newTestFuzzer(t, getTestConfig(t, dir))
	path := writeVaultExploit(t, fuzzer)

	report, err := fuzzer.Replay([]string{path})
	require.NoError(t, err)
	require.Len(t, report.Files, 1)
	replayed := report.Files[0]
	require.Empty(t, replayed.Error)
	require.Len(t, replayed.Transactions, 3)
	assert.Equal(t, vm.StatusCompleted.String(), replayed.Transactions[0].Status)
	assert.Equal(t, vm.StatusLeaked.String(), replayed.Transactions[1].Status)
	assert.Equal(t, vm.StatusCompleted.String(), replayed.Transactions[2].Status)
	assert.Contains(t, replayed.Transactions[0].Description, "deposit")

	kinds := make([]oracles.Kind, 0)
	for _, finding := range replayed.Findings {
		kinds = append(kinds, finding.Kind)
	}
	assert.Contains(t, kinds, oracles.KindReentrancy)
	assert.NotEmpty(t, report.CoveragePath)

	again, err := fuzzer.Replay([]string{path})
	require.NoError(t, err)
	assert.Equal(t, replayed.Findings, again.Files[0].Findings)
}

// TestReplayErrors verifies unreadable files are reported per file and missing paths fail the replay.
func TestReplayErrors(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "Vault", vaultAbi, vaultContract())
	fuzzer := newTestFuzzer(t, getTestConfig(t, dir))

	_, err := fuzzer.Replay([]string{filepath.Join(dir, "missing.txt")})
	assert.Error(t, err)
	_, err = fuzzer.Replay([]string{t.TempDir()})
	assert.Error(t, err)

	sequences := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sequences, "a.txt"), []byte("not a sequence"), 0o644))
	exploit, err := os.ReadFile(writeVaultExploit(t, fuzzer))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(sequences, "b.txt"), exploit, 0o644))

	report, err := fuzzer.Replay([]string{sequences})
	require.NoError(t, err)
	require.Len(t, report.Files, 2)
	assert.NotEmpty(t, report.Files[0].Error)
	assert.Empty(t, report.Files[1].Error)
	assert.NotEmpty(t, report.Findings())
}

// stubBackend serves the code and storage of one on-chain contract.
type stubBackend struct {
	fork.EmptyBackend
	address common.Address
	code    []byte
	storage map[common.Hash]common.Hash
}

func (b *stubBackend) GetCode(address common.Address) ([]byte, error) {
	if address == b.address {
		return b.code, nil
	}
	return nil, nil
}

func (b *stubBackend) GetStorageAt(address common.Address, slot common.Hash) (common.Hash, error) {
	if address == b.address {
		return b.storage[slot], nil
	}
	return common.Hash{}, nil
}

// TestFuzzerAddressTarget verifies on-chain targets are fetched through the backend and fuzzed with their ABI.
func TestFuzzerAddressTarget(t *testing.T) {
	dir := t.TempDir()
	abiPath := filepath.Join(dir, "Stored.abi")
	require.NoError(t, os.WriteFile(abiPath, []byte(guessAbi), 0o644))

	address := common.HexToAddress("0xdeadbeef00000000000000000000000000000001")
	backend := &stubBackend{
		address: address,
		code:    storedConstantContract(),
		storage: map[common.Hash]common.Hash{{}: hiddenConstant.Bytes32()},
	}

	projectConfig := getTestConfig(t, dir)
	projectConfig.Fuzzing.TargetType = config.TargetTypeAddress
	projectConfig.Fuzzing.Target = address.Hex() + ":" + abiPath
	projectConfig.Fuzzing.Onchain.Enabled = true
	projectConfig.Fuzzing.Onchain.RPCURL = "http://127.0.0.1:8545"

	fuzzer, err := NewFuzzer(*projectConfig)
	require.NoError(t, err)
	fuzzer.Hooks.NewBackendFunc = func(ctx context.Context, fuzzer *Fuzzer) (fork.Backend, error) {
		return backend, nil
	}
	require.NoError(t, fuzzer.Start())

	contracts := fuzzer.Contracts()
	require.Len(t, contracts, 1)
	assert.Equal(t, "Stored", contracts[0].Name)
	assert.Equal(t, address, contracts[0].Address)
	assertFoundBug(t, fuzzer, true)
}

// pinnedBackend is a stubBackend locked to a block height.
type pinnedBackend struct {
	stubBackend
	height uint64
}

func (b *pinnedBackend) BlockNumber() uint64 {
	return b.height
}

// TestFuzzerStartsAtForkHeight verifies a fork pinned at block N runs every input in a block no earlier than N.
func TestFuzzerStartsAtForkHeight(t *testing.T) {
	const height = 19_000_000
	dir := t.TempDir()
	// guess reaches bug() only when the block number is at least the fork height.
	writeArtifact(t, dir, "Gated", guessAbi, testutils.NewAssembler().
		Dispatch("guess(uint256)", "guess").
		Revert().
		Label("guess").Push(height-1).Op(evm.NUMBER, evm.GT).JumpIf("win").Op(evm.STOP).
		Label("win").Bug().Op(evm.STOP).
		Bytes())

	projectConfig := getTestConfig(t, dir)
	projectConfig.Fuzzing.TestLimit = 100
	projectConfig.Fuzzing.Onchain.Enabled = true
	projectConfig.Fuzzing.Onchain.RPCURL = "http://127.0.0.1:8545"

	fuzzer, err := NewFuzzer(*projectConfig)
	require.NoError(t, err)
	fuzzer.Hooks.NewBackendFunc = func(ctx context.Context, fuzzer *Fuzzer) (fork.Backend, error) {
		return &pinnedBackend{height: height}, nil
	}
	require.NoError(t, fuzzer.Start())

	assert.EqualValues(t, height, fuzzer.executor.Block().Number)
	for _, input := range fuzzer.transactions.Inputs() {
		assert.GreaterOrEqual(t, input.Env.BlockNumber, uint64(height))
	}
	assertFoundBug(t, fuzzer, true)
}

// TestFuzzerKeepsResumesOutOfTransactions verifies resumes which find coverage reach the corpus as sequences but
// are never scheduled as standalone transactions.
func TestFuzzerKeepsResumesOutOfTransactions(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "Vault", vaultAbi, vaultContract())
	projectConfig := getTestConfig(t, dir)
	projectConfig.Fuzzing.TestLimit = 2000
	projectConfig.Fuzzing.ContinueOnFinding = true

	fuzzer, err := NewFuzzer(*projectConfig)
	require.NoError(t, err)
	require.NoError(t, fuzzer.Start())

	for _, input := range fuzzer.transactions.Inputs() {
		assert.False(t, input.Resume, "resume scheduled as a transaction")
	}
	assert.Zero(t, fuzzer.Metrics().Failures)
}

// TestFuzzerHooks verifies hook oracles and state setup take part in the run.
func TestFuzzerHooks(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "Vault", vaultAbi, vaultContract())
	projectConfig := getTestConfig(t, dir)
	projectConfig.Fuzzing.TestLimit = 50

	fuzzer, err := NewFuzzer(*projectConfig)
	require.NoError(t, err)
	marker := common.HexToAddress("0xabcdef")
	fuzzer.Hooks.StateSetupFunc = func(fuzzer *Fuzzer, st *state.EVMState) error {
		st.SetBalance(marker, uint256.NewInt(42))
		return nil
	}
	fuzzer.Hooks.OracleFuncs = append(fuzzer.Hooks.OracleFuncs, func(fuzzer *Fuzzer) (oracles.Oracle, error) {
		return alwaysOracle{}, nil
	})
	require.NoError(t, fuzzer.Start())

	assert.EqualValues(t, 42, fuzzer.InitialState().Balance(marker).Uint64())
	require.NotEmpty(t, fuzzer.Findings())
	assert.Equal(t, "always", fuzzer.Findings()[0].Name)
}

// alwaysOracle reports one finding for every execution.
type alwaysOracle struct{}

func (alwaysOracle) Name() string { return "always" }

func (alwaysOracle) Inspect(ctx *oracles.Context) []oracles.Finding {
	return []oracles.Finding{{Kind: oracles.KindTypedBug, Address: ctx.Input.Contract, Name: "always", Message: "always"}}
}

// TestNewFuzzerRejectsInvalidConfig verifies configuration errors surface before fuzzing.
func TestNewFuzzerRejectsInvalidConfig(t *testing.T) {
	projectConfig := config.GetDefaultProjectConfig()
	projectConfig.Fuzzing.Target = ""
	_, err := NewFuzzer(*projectConfig)
	assert.Error(t, err)

	projectConfig = getTestConfig(t, t.TempDir())
	fuzzer, err := NewFuzzer(*projectConfig)
	require.NoError(t, err)
	assert.Error(t, fuzzer.Start(), "a target without artifacts has nothing to fuzz")
}

// TestOrderContracts verifies configured names deploy first, in order, and the rest by name.
func TestOrderContracts(t *testing.T) {
	contracts := []*compilationTypes.CompiledContract{{Name: "D"}, {Name: "B"}, {Name: "C"}, {Name: "A"}}
	ordered := orderContracts(contracts, []string{"C", "A"})
	names := make([]string, len(ordered))
	for i, contract := range ordered {
		names[i] = contract.Name
	}
	assert.Equal(t, []string{"C", "A", "B", "D"}, names)
	assert.Equal(t, "D", contracts[0].Name)
}
