package fuzzing

import (
	"context"

	"github.com/crytic/hydra/chain/fork"
	"github.com/crytic/hydra/chain/state"
	"github.com/crytic/hydra/fuzzing/oracles"
)

// FuzzerHooks defines the hooks that can be used for the Fuzzer on an API level.
type FuzzerHooks struct {
	// NewBackendFunc creates the backend used to fetch on-chain state. When nil, an RPC backend is created from the
	// on-chain configuration.
	NewBackendFunc NewBackendFunc

	// StateSetupFunc runs once the target contracts are deployed, before the initial state is frozen.
	StateSetupFunc StateSetupFunc

	// OracleFuncs create additional oracles, consulted after the configured ones.
	OracleFuncs []NewOracleFunc

	// ProducerFuncs create additional producers, run before any oracle.
	ProducerFuncs []NewProducerFunc
}

// NewBackendFunc creates an on-chain state backend. The backend is closed when fuzzing stops if it implements
// io.Closer.
type NewBackendFunc func(ctx context.Context, fuzzer *Fuzzer) (fork.Backend, error)

// StateSetupFunc describes a function which adjusts the initial state after deployment.
type StateSetupFunc func(fuzzer *Fuzzer, st *state.EVMState) error

// NewOracleFunc creates an oracle for a fuzzer whose targets are deployed.
type NewOracleFunc func(fuzzer *Fuzzer) (oracles.Oracle, error)

// NewProducerFunc creates a producer for a fuzzer whose targets are deployed.
type NewProducerFunc func(fuzzer *Fuzzer) (oracles.Producer, error)
