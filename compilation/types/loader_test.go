package types

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vaultAbi = `[
	{"type":"function","name":"deposit","inputs":[],"outputs":[],"stateMutability":"payable"},
	{"type":"function","name":"withdraw","inputs":[{"name":"amount","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"balanceOf","inputs":[{"name":"who","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"echidna_solvent","inputs":[],"outputs":[{"name":"","type":"bool"}],"stateMutability":"view"},
	{"type":"function","name":"invariant_sum","inputs":[],"outputs":[{"name":"","type":"bool"}],"stateMutability":"view"}
]`

func writeFile(t *testing.T, dir, name, content string) {
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

// TestLoadContracts verifies artifacts are paired by name, helper and incomplete artifacts are skipped, and methods
// are classified.
func TestLoadContracts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Vault.abi", vaultAbi)
	writeFile(t, dir, "Vault.bin", "0x6000\n")
	writeFile(t, dir, "Vault.bin-runtime", "6001")
	writeFile(t, dir, "FuzzLand.abi", "[]")
	writeFile(t, dir, "FuzzLand.bin", "00")
	writeFile(t, dir, "Interface.abi", "[]")

	contracts, err := LoadContracts(filepath.Join(dir, "*"))
	require.NoError(t, err)
	require.Len(t, contracts, 1)

	vault := contracts[0]
	assert.Equal(t, "Vault", vault.Name)
	assert.Equal(t, []byte{0x60, 0x00}, vault.InitBytecode)
	assert.Equal(t, []byte{0x60, 0x01}, vault.RuntimeBytecode)

	var fuzzable []string
	for _, method := range vault.FuzzableMethods() {
		fuzzable = append(fuzzable, method.Name)
	}
	assert.Equal(t, []string{"deposit", "withdraw"}, fuzzable)

	var properties []string
	for _, method := range vault.PropertyMethods([]string{"invariant_", "echidna_"}) {
		properties = append(properties, method.Name)
	}
	assert.Equal(t, []string{"echidna_solvent", "invariant_sum"}, properties)

	// A directory target behaves like a glob over its files.
	contracts, err = LoadContracts(dir)
	require.NoError(t, err)
	assert.Len(t, contracts, 1)
}

// TestLoadContractsErrors verifies empty targets and malformed artifacts fail.
func TestLoadContractsErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadContracts(filepath.Join(dir, "*"))
	assert.ErrorIs(t, err, ErrNoContracts)

	writeFile(t, dir, "Bad.abi", vaultAbi)
	writeFile(t, dir, "Bad.bin", "zz")
	_, err = LoadContracts(dir)
	assert.Error(t, err)
}

// TestContractMetadata verifies the metadata trailer is found, decoded and removed.
func TestContractMetadata(t *testing.T) {
	hash := make([]byte, 34)
	hash[0] = 0x12
	// {"ipfs": h'12..', "solc": h'000813'}
	trailer := append([]byte{0xa2, 0x64, 'i', 'p', 'f', 's', 0x58, 0x22}, hash...)
	trailer = append(trailer, 0x64, 's', 'o', 'l', 'c', 0x43, 0, 8, 19)

	code := append([]byte{0x60, 0x80, 0x60, 0x40, 0xfe}, trailer...)
	metadata := ExtractContractMetadata(code)
	require.NotNil(t, metadata)
	assert.Equal(t, hash, metadata.ExtractBytecodeHash())

	version, err := metadata.SolcVersion()
	require.NoError(t, err)
	assert.Equal(t, "0.8.19", version.String())

	assert.Equal(t, []byte{0x60, 0x80, 0x60, 0x40, 0xfe}, RemoveContractMetadata(code))
	assert.Nil(t, ExtractContractMetadata([]byte{0x60, 0x00}))

	contract := &CompiledContract{RuntimeBytecode: code}
	other := append([]byte{0x00}, trailer...)
	assert.True(t, contract.IsMatch(other), "equal metadata hashes match")
	assert.False(t, contract.IsMatch([]byte{0x60, 0x80}))
}
