package fuzzing

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/crytic/hydra/fuzzing/config"
	"github.com/crytic/hydra/utils/testutils"
	"github.com/crytic/medusa-geth/common"
	evm "github.com/crytic/medusa-geth/core/vm"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

const (
	guessAbi = `[{"type":"function","name":"guess","inputs":[{"name":"x","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"}]`
	vaultAbi = `[
		{"type":"function","name":"deposit","inputs":[],"outputs":[],"stateMutability":"payable"},
		{"type":"function","name":"withdraw","inputs":[],"outputs":[],"stateMutability":"nonpayable"}
	]`
)

var (
	hiddenA = new(uint256.Int).SetBytes(common.FromHex("0x5eed00000000000000000000000000000000000000000000000000000000c0de"))
	hiddenB = new(uint256.Int).SetBytes(common.FromHex("0xb0bafe77"))
	// hiddenConstant is only computed at runtime, so it never appears in the code.
	hiddenConstant = new(uint256.Int).Xor(hiddenA, hiddenB)
)

// hiddenConstantContract reaches bug() when guess is called with hiddenA ^ hiddenB.
func hiddenConstantContract() []byte {
	return testutils.NewAssembler().
		Dispatch("guess(uint256)", "guess").
		Revert().
		Label("guess").Arg(0).PushWord(hiddenA).PushWord(hiddenB).Op(evm.XOR, evm.EQ).JumpIf("win").Op(evm.STOP).
		Label("win").Bug().Op(evm.STOP).
		Bytes()
}

// storedConstantContract reaches bug() when guess is called with the value of slot 0.
func storedConstantContract() []byte {
	return testutils.NewAssembler().
		Dispatch("guess(uint256)", "guess").
		Revert().
		Label("guess").Arg(0).Push(0).Op(evm.SLOAD, evm.EQ).JumpIf("win").Op(evm.STOP).
		Label("win").Bug().Op(evm.STOP).
		Bytes()
}

// vaultContract credits deposits to slot 0 and pays the whole balance out to the caller before clearing it.
func vaultContract() []byte {
	return testutils.NewAssembler().
		Dispatch("deposit()", "deposit").
		Dispatch("withdraw()", "withdraw").
		Revert().
		Label("deposit").Push(0).Op(evm.SLOAD, evm.CALLVALUE, evm.ADD).Push(0).Op(evm.SSTORE, evm.STOP).
		Label("withdraw").Push(0).Push(0).Push(0).Push(0).
		Push(0).Op(evm.SLOAD).
		Op(evm.CALLER, evm.GAS, evm.CALL, evm.POP).
		Push(0).Push(0).Op(evm.SSTORE).
		Op(evm.STOP).
		Bytes()
}

// writeArtifact writes name.abi and name.bin into dir, deploying runtime as is.
func writeArtifact(t *testing.T, dir, name, contractAbi string, runtime []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".abi"), []byte(contractAbi), 0o644))
	bin := "0x" + hex.EncodeToString(testutils.DeployCode(runtime))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".bin"), []byte(bin), 0o644))
}

// getTestConfig returns a deterministic configuration fuzzing the artifacts in dir, writing below a temporary work
// directory.
func getTestConfig(t *testing.T, dir string) *config.ProjectConfig {
	t.Helper()
	projectConfig := config.GetDefaultProjectConfig()
	projectConfig.Fuzzing.Target = filepath.Join(dir, "*")
	projectConfig.Fuzzing.WorkDirectory = filepath.Join(t.TempDir(), "work")
	projectConfig.Fuzzing.Seed = 1337
	projectConfig.Fuzzing.Timeout = 60
	projectConfig.Fuzzing.TestLimit = 5000
	return projectConfig
}

// newTestFuzzer creates a fuzzer for the configuration and initializes its state.
func newTestFuzzer(t *testing.T, projectConfig *config.ProjectConfig) *Fuzzer {
	t.Helper()
	fuzzer, err := NewFuzzer(*projectConfig)
	require.NoError(t, err)
	require.NoError(t, fuzzer.initialize(context.Background()))
	return fuzzer
}
