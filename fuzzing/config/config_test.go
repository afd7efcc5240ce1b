package config

import (
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

// validConfig returns the default config with a target set.
func validConfig() *ProjectConfig {
	cfg := GetDefaultProjectConfig()
	cfg.Fuzzing.Target = "build/*"
	return cfg
}

// TestUnmarshalBalances will test the unmarshalling of a Balance from a string
func TestUnmarshalBalances(t *testing.T) {
	testCases := []struct {
		input           string
		expectedBalance *big.Int
	}{
		{"\"\"", big.NewInt(0)},
		{"\"1\"", big.NewInt(1)},
		{"\"100\"", big.NewInt(100)},
		{"\"0\"", big.NewInt(0)},
		{"\"1e5\"", big.NewInt(100000)},
		{"\"10E-1\"", big.NewInt(1)},
		{"\"0x1337\"", big.NewInt(4919)},
		{"\"0X10\"", big.NewInt(16)},
	}
	for _, tc := range testCases {
		var b Balance
		require.NoError(t, json.Unmarshal([]byte(tc.input), &b), tc.input)
		assert.Zero(t, b.Cmp(tc.expectedBalance), tc.input)
	}

	for _, input := range []string{"\"-1\"", "\"0xzz\"", "\"ten\"", "10"} {
		var b Balance
		assert.Error(t, json.Unmarshal([]byte(input), &b), input)
	}
}

// TestMarshalBalances will test the marshalling of a Balance to a string
func TestMarshalBalances(t *testing.T) {
	testCases := []struct {
		input           Balance
		expectedBalance string
	}{
		{NewBalance(big.NewInt(0)), "\"0\""},
		{NewBalance(big.NewInt(1)), "\"1\""},
		{NewBalance(new(big.Int).Mul(big.NewInt(1000000000000000000), big.NewInt(1000000000000000000))), "\"1000000000000000000000000000000000000\""},
	}
	for _, tc := range testCases {
		out, err := json.Marshal(tc.input)
		require.NoError(t, err)
		assert.Equal(t, tc.expectedBalance, string(out))
	}
}

func TestBalanceYAML(t *testing.T) {
	var holder struct {
		Amount Balance `yaml:"amount"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("amount: 2e3\n"), &holder))
	assert.Equal(t, int64(2000), holder.Amount.Int64())

	out, err := yaml.Marshal(holder)
	require.NoError(t, err)
	assert.Contains(t, string(out), "2000")
}

func TestBalanceUint256Saturates(t *testing.T) {
	huge := NewBalance(new(big.Int).Lsh(big.NewInt(1), 300))
	assert.True(t, huge.Uint256().Eq(huge.Uint256().SetAllOne()))
	small := NewBalance(big.NewInt(7))
	assert.Equal(t, uint64(7), small.Uint256().Uint64())
}

func TestDefaultConfigValidates(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	// Without a target there is nothing to fuzz.
	assert.Error(t, GetDefaultProjectConfig().Validate())
}

func TestValidateRejectsInvalidConfigs(t *testing.T) {
	testCases := map[string]func(cfg *ProjectConfig){
		"target type":       func(cfg *ProjectConfig) { cfg.Fuzzing.TargetType = "solidity" },
		"address target":    func(cfg *ProjectConfig) { cfg.Fuzzing.TargetType = TargetTypeAddress },
		"no senders":        func(cfg *ProjectConfig) { cfg.Fuzzing.SenderAddresses = nil },
		"bad sender":        func(cfg *ProjectConfig) { cfg.Fuzzing.SenderAddresses = []string{"0xnothex"} },
		"bad deployer":      func(cfg *ProjectConfig) { cfg.Fuzzing.DeployerAddress = "0xdeployer" },
		"state capacity":    func(cfg *ProjectConfig) { cfg.Fuzzing.InfantStateCapacity = 0 },
		"gas limit":         func(cfg *ProjectConfig) { cfg.Fuzzing.TransactionGasLimit = 0 },
		"mutations":         func(cfg *ProjectConfig) { cfg.Fuzzing.Mutation.MaxMutations = 0 },
		"resume":            func(cfg *ProjectConfig) { cfg.Fuzzing.Mutation.ResumeProbability = 1.5 },
		"invariant prefix":  func(cfg *ProjectConfig) { cfg.Fuzzing.Oracles.InvariantPrefixes = nil },
		"concolic threads":  func(cfg *ProjectConfig) { cfg.Fuzzing.Concolic = ConcolicConfig{Enabled: true} },
		"concolic timeout":  func(cfg *ProjectConfig) { cfg.Fuzzing.Concolic.Timeout = -1 },
		"onchain chain":     func(cfg *ProjectConfig) { cfg.Fuzzing.Onchain = OnchainConfig{Enabled: true, Chain: "NOPE", PoolSize: 1} },
		"onchain pool":      func(cfg *ProjectConfig) { cfg.Fuzzing.Onchain = OnchainConfig{Enabled: true, RPCURL: "http://x", PoolSize: 0} },
		"onchain addresses": func(cfg *ProjectConfig) { cfg.Fuzzing.Onchain = OnchainConfig{Enabled: true, RPCURL: "http://x", PoolSize: 1, Addresses: []string{"zz"}} },
		"log level":         func(cfg *ProjectConfig) { cfg.Logging.Level = "loud" },
		"api port":          func(cfg *ProjectConfig) { cfg.Api = ApiConfig{Enabled: true, Port: 70000} },
		"slither target":    func(cfg *ProjectConfig) { cfg.Slither.UseSlither = true },
	}
	for name, mutate := range testCases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigFileRoundTrip(t *testing.T) {
	for _, name := range []string{"hydra.json", "hydra.yaml", "hydra.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			cfg := validConfig()
			cfg.Fuzzing.Seed = 42
			cfg.Fuzzing.Onchain.Addresses = []string{"0x1000"}
			cfg.Fuzzing.Concolic.Enabled = true
			cfg.Logging.Level = "debug"
			require.NoError(t, cfg.WriteToFile(path))

			read, err := ReadProjectConfigFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, read)
		})
	}
}

func TestReadPartialConfigKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fuzzing:\n  target: out/*\n  testLimit: 500\n"), 0o644))

	cfg, err := ReadProjectConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "out/*", cfg.Fuzzing.Target)
	assert.EqualValues(t, 500, cfg.Fuzzing.TestLimit)
	assert.Equal(t, DefaultDeployerAddress, cfg.Fuzzing.DeployerAddress)
	assert.True(t, cfg.Fuzzing.Feedback.Coverage)

	level, err := cfg.Logging.ZerologLevel()
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, level)

	_, err = ReadProjectConfigFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestResolveRPCURL(t *testing.T) {
	t.Setenv("ETH_RPC_URL", "")
	url, err := OnchainConfig{RPCURL: "http://localhost:8545"}.ResolveRPCURL()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8545", url)

	url, err = OnchainConfig{Chain: "ETH"}.ResolveRPCURL()
	require.NoError(t, err)
	assert.NotEmpty(t, url)

	_, err = OnchainConfig{}.ResolveRPCURL()
	assert.Error(t, err)
}
