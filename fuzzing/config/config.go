package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/crytic/hydra/chain/fork"
	"github.com/crytic/hydra/utils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

const (
	// TargetTypeGlob loads contract artifacts matching a glob.
	TargetTypeGlob = "glob"
	// TargetTypeAddress fuzzes deployed contracts fetched from a chain.
	TargetTypeAddress = "address"
)

// ProjectConfig describes a fuzzing campaign.
type ProjectConfig struct {
	// Fuzzing describes the configuration used in fuzzing campaigns.
	Fuzzing FuzzingConfig `json:"fuzzing" yaml:"fuzzing"`

	// Logging describes the configuration used for logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Api describes the read-only status API served while fuzzing.
	Api ApiConfig `json:"api" yaml:"api"`

	// Slither describes the static analysis used to seed the value set with source constants.
	Slither SlitherConfig `json:"slither" yaml:"slither"`
}

// FuzzingConfig describes the configuration options used by the fuzzing.Fuzzer.
type FuzzingConfig struct {
	// WorkDirectory holds the corpus, solutions, state snapshots, caches and reports. If empty, nothing is written.
	WorkDirectory string `json:"workDirectory" yaml:"workDirectory"`

	// Target is a glob of .abi/.bin artifact pairs, or a comma separated list of contract addresses when TargetType is
	// "address".
	Target string `json:"target" yaml:"target"`

	// TargetType is either "glob" or "address".
	TargetType string `json:"targetType" yaml:"targetType"`

	// Seed seeds the random provider. Zero derives a seed from the time.
	Seed int64 `json:"seed" yaml:"seed"`

	// Timeout describes a time in seconds for which the fuzzing operation should run. Providing negative or zero value
	// will result in no timeout.
	Timeout int `json:"timeout" yaml:"timeout"`

	// TestLimit describes a threshold for the number of executions to test, after which it will exit. A zero value
	// indicates the test limit should not be enforced.
	TestLimit uint64 `json:"testLimit" yaml:"testLimit"`

	// DeployerAddress describe the account address to be used to deploy contracts.
	DeployerAddress string `json:"deployerAddress" yaml:"deployerAddress"`

	// SenderAddresses describe a set of account addresses to be used to send transactions. They are the accounts the
	// fuzzer controls.
	SenderAddresses []string `json:"senderAddresses" yaml:"senderAddresses"`

	// SenderBalance is the native balance, in wei, every sender starts with.
	SenderBalance Balance `json:"senderBalance" yaml:"senderBalance"`

	// DeploymentOrder lists contract names to deploy first, in order. Remaining contracts follow by name.
	DeploymentOrder []string `json:"deploymentOrder" yaml:"deploymentOrder"`

	// InfantStateCapacity bounds the number of intermediate states kept for scheduling.
	InfantStateCapacity int `json:"infantStateCapacity" yaml:"infantStateCapacity"`

	// TransactionGasLimit describes the maximum amount of gas that will be used by the fuzzer generated transactions.
	TransactionGasLimit uint64 `json:"transactionGasLimit" yaml:"transactionGasLimit"`

	// BlockNumber, BlockTimestamp and ChainID describe the initial block context.
	BlockNumber    uint64 `json:"blockNumber" yaml:"blockNumber"`
	BlockTimestamp uint64 `json:"blockTimestamp" yaml:"blockTimestamp"`
	ChainID        uint64 `json:"chainId" yaml:"chainId"`

	// Feedback selects the judges deciding which executions are kept.
	Feedback FeedbackConfig `json:"feedback" yaml:"feedback"`

	// Oracles selects the bug oracles.
	Oracles OracleConfig `json:"oracles" yaml:"oracles"`

	// Mutation bounds the mutations applied to inputs.
	Mutation MutationConfig `json:"mutation" yaml:"mutation"`

	// ControlLeak suspends executions which call into a sender account so that they can be resumed later, modelling
	// reentrant callbacks.
	ControlLeak bool `json:"controlLeak" yaml:"controlLeak"`

	// ContinueOnFinding keeps fuzzing after the first finding.
	ContinueOnFinding bool `json:"continueOnFinding" yaml:"continueOnFinding"`

	// Concolic describes the comparison solving stage.
	Concolic ConcolicConfig `json:"concolic" yaml:"concolic"`

	// Onchain describes fetching missing state from a live chain.
	Onchain OnchainConfig `json:"onchain" yaml:"onchain"`

	// CoverageReport writes an instruction coverage report to the work directory when fuzzing stops.
	CoverageReport bool `json:"coverageReport" yaml:"coverageReport"`

	// RevertReport writes per-function revert statistics next to the coverage report when fuzzing stops.
	RevertReport bool `json:"revertReport" yaml:"revertReport"`
}

// FeedbackConfig enables the individual feedback judges.
type FeedbackConfig struct {
	Coverage   bool `json:"coverage" yaml:"coverage"`
	Comparison bool `json:"comparison" yaml:"comparison"`
	Dataflow   bool `json:"dataflow" yaml:"dataflow"`
}

// OracleConfig enables the individual oracles.
type OracleConfig struct {
	Reentrancy      bool `json:"reentrancy" yaml:"reentrancy"`
	IntegerOverflow bool `json:"integerOverflow" yaml:"integerOverflow"`
	ArbitraryCall   bool `json:"arbitraryCall" yaml:"arbitraryCall"`
	SelfDestruct    bool `json:"selfDestruct" yaml:"selfDestruct"`
	TypedBug        bool `json:"typedBug" yaml:"typedBug"`
	Invariant       bool `json:"invariant" yaml:"invariant"`

	// InvariantPrefixes are the name prefixes of invariant functions.
	InvariantPrefixes []string `json:"invariantPrefixes" yaml:"invariantPrefixes"`

	// Profit reports senders whose balance grew by more than ProfitThreshold wei.
	Profit          bool    `json:"profit" yaml:"profit"`
	ProfitThreshold Balance `json:"profitThreshold" yaml:"profitThreshold"`
}

// MutationConfig bounds the mutations applied to inputs.
type MutationConfig struct {
	MaxMutations           int     `json:"maxMutations" yaml:"maxMutations"`
	MaxRepeat              uint64  `json:"maxRepeat" yaml:"maxRepeat"`
	MaxBlockNumberDelay    uint64  `json:"blockNumberDelayMax" yaml:"blockNumberDelayMax"`
	MaxBlockTimestampDelay uint64  `json:"blockTimestampDelayMax" yaml:"blockTimestampDelayMax"`
	ResumeProbability      float32 `json:"resumeProbability" yaml:"resumeProbability"`
}

// ConcolicConfig describes the comparison solving stage.
type ConcolicConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Timeout bounds one solving pass, in milliseconds. Zero is unbounded.
	Timeout int `json:"timeout" yaml:"timeout"`

	// Threads is the number of comparisons solved concurrently.
	Threads int `json:"threads" yaml:"threads"`

	// Caller also solves comparisons against the transaction caller.
	Caller bool `json:"caller" yaml:"caller"`
}

// TimeoutDuration returns Timeout as a duration.
func (c ConcolicConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// OnchainConfig describes fetching missing state from a live chain.
type OnchainConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Chain names a chain preset, such as "ETH" or "BSC".
	Chain string `json:"chain" yaml:"chain"`

	// RPCURL overrides the preset's RPC endpoint.
	RPCURL string `json:"rpcUrl" yaml:"rpcUrl"`

	// BlockNumber pins the fetched state. Zero uses the latest block when fuzzing starts.
	BlockNumber uint64 `json:"blockNumber" yaml:"blockNumber"`

	// PoolSize is the number of RPC clients requests are spread over.
	PoolSize int `json:"poolSize" yaml:"poolSize"`

	// CacheEnabled persists fetched state below the work directory.
	CacheEnabled bool `json:"cacheEnabled" yaml:"cacheEnabled"`

	// Addresses are additional contracts whose state is fetched on demand.
	Addresses []string `json:"addresses" yaml:"addresses"`
}

// ResolveRPCURL returns the RPC endpoint configured directly or through the chain preset.
func (c OnchainConfig) ResolveRPCURL() (string, error) {
	if c.RPCURL != "" {
		return c.RPCURL, nil
	}
	if c.Chain == "" {
		return "", errors.New("on-chain fetching requires a chain or an RPC url")
	}
	chain, err := fork.ChainByName(c.Chain)
	if err != nil {
		return "", err
	}
	return chain.RPCURL(), nil
}

// ApiConfig describes the status API.
type ApiConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Port is the first port tried. Busy ports are skipped upwards.
	Port int `json:"port" yaml:"port"`
}

// SlitherConfig describes how slither's echidna printer is run.
type SlitherConfig struct {
	// UseSlither runs the printer before fuzzing. Failures are logged and fuzzing continues without its constants.
	UseSlither bool `json:"useSlither" yaml:"useSlither"`

	// Target is the compiled Solidity project handed to slither. Artifacts fuzzed by address or bytecode have no
	// source, so it is configured separately from the fuzzing target.
	Target string `json:"target" yaml:"target"`

	// CachePath is where the printer output is cached. Relative paths resolve against the work directory; an empty
	// path disables caching.
	CachePath string `json:"cachePath" yaml:"cachePath"`

	// Args are extra arguments passed to slither.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// LoggingConfig describes the configuration options used for logging.
type LoggingConfig struct {
	// Level is the minimum level logged, such as "info" or "debug".
	Level string `json:"level" yaml:"level"`

	// LogDirectory describes the directory where log files will be written. If the string is empty, then no log files
	// are kept.
	LogDirectory string `json:"logDirectory" yaml:"logDirectory"`

	// NoColor disables colored console output.
	NoColor bool `json:"noColor" yaml:"noColor"`
}

// ZerologLevel parses Level.
func (l LoggingConfig) ZerologLevel() (zerolog.Level, error) {
	if l.Level == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil {
		return zerolog.NoLevel, errors.WithStack(err)
	}
	return level, nil
}

// isYAML reports whether path names a YAML file.
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// ReadProjectConfigFromFile reads a ProjectConfig from a JSON or, judging by the extension, YAML file. Unset fields
// keep their defaults.
func ReadProjectConfigFromFile(path string) (*ProjectConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	projectConfig := GetDefaultProjectConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(b, projectConfig)
	} else {
		err = json.Unmarshal(b, projectConfig)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse config file %s", path)
	}
	return projectConfig, nil
}

// WriteToFile writes the ProjectConfig to a provided file path, as YAML when the extension says so and as JSON
// otherwise.
func (p *ProjectConfig) WriteToFile(path string) error {
	var (
		b   []byte
		err error
	)
	if isYAML(path) {
		b, err = yaml.Marshal(p)
	} else {
		b, err = json.MarshalIndent(p, "", "\t")
	}
	if err != nil {
		return errors.WithStack(err)
	}

	if err = os.WriteFile(path, b, 0644); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Validate validates that the ProjectConfig meets certain requirements.
func (p *ProjectConfig) Validate() error {
	fuzzing := &p.Fuzzing

	switch fuzzing.TargetType {
	case TargetTypeGlob, TargetTypeAddress:
	default:
		return errors.Errorf("unknown target type %q", fuzzing.TargetType)
	}
	if fuzzing.Target == "" {
		return errors.New("a target must be specified")
	}
	if fuzzing.TargetType == TargetTypeAddress && !fuzzing.Onchain.Enabled {
		return errors.New("address targets require on-chain fetching to be enabled")
	}

	// Verify that senders and the deployer are well-formed addresses
	if len(fuzzing.SenderAddresses) == 0 {
		return errors.New("at least one sender address must be specified")
	}
	if _, err := utils.HexStringsToAddresses(fuzzing.SenderAddresses); err != nil {
		return errors.Errorf("malformed sender address(es)")
	}
	if _, err := utils.HexStringToAddress(fuzzing.DeployerAddress); err != nil {
		return errors.Errorf("malformed deployer address")
	}

	if fuzzing.InfantStateCapacity <= 0 {
		return errors.New("infant state capacity must be a positive number")
	}
	if fuzzing.TransactionGasLimit == 0 {
		return errors.New("transaction gas limit cannot be zero")
	}
	if fuzzing.Mutation.MaxMutations <= 0 {
		return errors.New("max mutations must be a positive number")
	}
	if fuzzing.Mutation.ResumeProbability < 0 || fuzzing.Mutation.ResumeProbability > 1 {
		return errors.New("resume probability must be between 0 and 1")
	}

	if fuzzing.Oracles.Invariant && len(fuzzing.Oracles.InvariantPrefixes) == 0 {
		return errors.New("must specify one or more invariant prefixes while invariant testing is enabled")
	}

	if fuzzing.Concolic.Enabled && fuzzing.Concolic.Threads <= 0 {
		return errors.New("concolic thread count must be a positive number")
	}
	if fuzzing.Concolic.Timeout < 0 {
		return errors.New("concolic timeout cannot be negative")
	}

	if fuzzing.Onchain.Enabled {
		if _, err := fuzzing.Onchain.ResolveRPCURL(); err != nil {
			return err
		}
		if fuzzing.Onchain.PoolSize <= 0 {
			return errors.New("rpc pool size must be a positive number")
		}
		if _, err := utils.HexStringsToAddresses(fuzzing.Onchain.Addresses); err != nil {
			return errors.Errorf("malformed on-chain address(es)")
		}
	}

	if p.Api.Enabled && (p.Api.Port <= 0 || p.Api.Port > 65535) {
		return errors.Errorf("invalid api port %d", p.Api.Port)
	}

	if p.Slither.UseSlither && p.Slither.Target == "" {
		return errors.New("slither requires a target")
	}

	if _, err := p.Logging.ZerologLevel(); err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	return nil
}
