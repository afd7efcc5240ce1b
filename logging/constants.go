package logging

// These constants identify the services emitting log events through the "module" field.
const (
	// FUZZING_SERVICE identifies the fuzzing orchestrator.
	FUZZING_SERVICE = "fuzzing"
	// EXECUTOR_SERVICE identifies the transaction executor.
	EXECUTOR_SERVICE = "executor"
	// CORPUS_SERVICE identifies corpus and solution persistence.
	CORPUS_SERVICE = "corpus"
	// CONCOLIC_SERVICE identifies the concolic solving stage.
	CONCOLIC_SERVICE = "concolic"
	// RPC_SERVICE identifies on-chain state fetching.
	RPC_SERVICE = "rpc"
	// COMPILATION_SERVICE identifies contract artifact loading.
	COMPILATION_SERVICE = "compilation"
	// SLITHER_SERVICE identifies the static analysis integration.
	SLITHER_SERVICE = "slither"
	// CLI_SERVICE identifies the cmd package.
	CLI_SERVICE = "cli"
)

// These constants identify log events which receive special console formatting.
const (
	// FINDING is attached to events reporting a bug finding.
	FINDING = "finding"
	// METRICS is attached to periodic status events.
	METRICS = "metrics"
)
