package reverts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/crytic/hydra/chain/vm"
	"github.com/crytic/hydra/fuzzing/executor"
	"github.com/crytic/medusa-geth/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// errorStringData is the ABI encoding of Error("too low").
var errorStringData = common.FromHex("0x08c379a0" +
	"0000000000000000000000000000000000000000000000000000000000000020" +
	"0000000000000000000000000000000000000000000000000000000000000007" +
	"746f6f206c6f7700000000000000000000000000000000000000000000000000")

func completed() *executor.ExecutionResult {
	return &executor.ExecutionResult{Status: vm.StatusCompleted}
}

func reverted(output []byte) *executor.ExecutionResult {
	return &executor.ExecutionResult{Status: vm.StatusReverted, Err: vm.ErrExecutionReverted, Output: output}
}

func TestRevertMetricsUpdate(t *testing.T) {
	metrics := NewRevertMetrics()
	metrics.Update("Vault", "withdraw()", completed(), nil)
	metrics.Update("Vault", "withdraw()", reverted(errorStringData), nil)
	metrics.Update("Vault", "withdraw()", reverted(errorStringData), nil)
	metrics.Update("Vault", "withdraw()", &executor.ExecutionResult{Status: vm.StatusReverted, Err: vm.ErrOutOfGas}, nil)
	metrics.Finalize(nil)

	function := metrics.ContractRevertMetrics["Vault"].FunctionRevertMetrics["withdraw()"]
	require.NotNil(t, function)
	assert.EqualValues(t, 4, function.TotalCalls)
	assert.EqualValues(t, 3, function.TotalReverts)
	assert.InDelta(t, 0.75, function.Pct, 1e-9)

	assert.EqualValues(t, 2, function.RevertReasonMetrics["error: too low"].Count)
	assert.InDelta(t, 0.5, function.RevertReasonMetrics["error: too low"].Pct, 1e-9)
	assert.EqualValues(t, 1, function.RevertReasonMetrics[vm.ErrOutOfGas.Error()].Count)
}

func TestRevertMetricsLeakedIsNotARevert(t *testing.T) {
	metrics := NewRevertMetrics()
	metrics.Update("Vault", "withdraw()", &executor.ExecutionResult{Status: vm.StatusLeaked}, nil)
	function := metrics.ContractRevertMetrics["Vault"].FunctionRevertMetrics["withdraw()"]
	assert.EqualValues(t, 1, function.TotalCalls)
	assert.Zero(t, function.TotalReverts)
}

func TestRevertReporterPreviousCampaign(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "coverage")

	first, err := NewRevertReporter(dir)
	require.NoError(t, err)
	first.Record("Vault", "withdraw()", reverted(nil), nil)
	first.Record("Vault", "withdraw()", completed(), nil)
	path, err := first.WriteReport()
	require.NoError(t, err)
	assert.FileExists(t, path)

	second, err := NewRevertReporter(dir)
	require.NoError(t, err)
	second.Record("Vault", "withdraw()", reverted(nil), nil)
	_, err = second.WriteReport()
	require.NoError(t, err)

	function := second.RevertMetrics.ContractRevertMetrics["Vault"].FunctionRevertMetrics["withdraw()"]
	assert.InDelta(t, 1.0, function.Pct, 1e-9)
	assert.InDelta(t, 0.5, function.PrevPct, 1e-9)
	assert.InDelta(t, 0.5, function.RevertReasonMetrics["revert"].PrevPct, 1e-9)
	assert.Equal(t, "Vault.withdraw(): 1/1 reverted (100.0%)\n", second.Summary())
}

func TestRevertReporterWithoutPath(t *testing.T) {
	reporter, err := NewRevertReporter("")
	require.NoError(t, err)
	reporter.Record("Vault", "deposit()", completed(), nil)
	path, err := reporter.WriteReport()
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Empty(t, reporter.Summary())
}

func TestLoadRevertMetricsMalformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ReportFileName), []byte("{"), 0644))
	_, err := LoadRevertMetrics(dir)
	assert.Error(t, err)

	_, err = NewRevertReporter(dir)
	assert.Error(t, err)
}
