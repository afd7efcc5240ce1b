package config

import (
	"math/big"

	"github.com/crytic/hydra/fuzzing/oracles"
)

// DefaultDeployerAddress deploys the target contracts.
const DefaultDeployerAddress = "0x8b21e662154b4bbc1ec0754d0238875fe3d22fa6"

// GetDefaultProjectConfig obtains a default configuration for a project.
func GetDefaultProjectConfig() *ProjectConfig {
	ether := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	return &ProjectConfig{
		Fuzzing: FuzzingConfig{
			WorkDirectory:   "work_dir",
			TargetType:      TargetTypeGlob,
			Timeout:         0,
			TestLimit:       0,
			DeployerAddress: DefaultDeployerAddress,
			SenderAddresses: []string{
				"0x10000",
				"0x20000",
				"0x30000",
			},
			SenderBalance:       NewBalance(new(big.Int).Mul(ether, big.NewInt(100))),
			DeploymentOrder:     []string{},
			InfantStateCapacity: 100,
			TransactionGasLimit: 12_500_000,
			BlockNumber:         1,
			BlockTimestamp:      1,
			ChainID:             1,
			Feedback: FeedbackConfig{
				Coverage:   true,
				Comparison: true,
				Dataflow:   true,
			},
			Oracles: OracleConfig{
				Reentrancy:        true,
				IntegerOverflow:   false,
				ArbitraryCall:     true,
				SelfDestruct:      true,
				TypedBug:          true,
				Invariant:         true,
				InvariantPrefixes: append([]string(nil), oracles.DefaultInvariantPrefixes...),
				Profit:            false,
				ProfitThreshold:   NewBalance(ether),
			},
			Mutation: MutationConfig{
				MaxMutations:           4,
				MaxRepeat:              4,
				MaxBlockNumberDelay:    1000,
				MaxBlockTimestampDelay: 86400,
				ResumeProbability:      0.3,
			},
			ControlLeak:       true,
			ContinueOnFinding: false,
			Concolic: ConcolicConfig{
				Enabled: false,
				Timeout: 1000,
				Threads: 4,
			},
			Onchain: OnchainConfig{
				Enabled:      false,
				Chain:        "ETH",
				PoolSize:     4,
				CacheEnabled: true,
				Addresses:    []string{},
			},
			CoverageReport: true,
			RevertReport:   true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Api: ApiConfig{
			Enabled: false,
			Port:    8080,
		},
		Slither: SlitherConfig{
			UseSlither: false,
			CachePath:  "slither_results.json",
		},
	}
}
