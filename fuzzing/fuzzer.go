package fuzzing

import (
	"context"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/crytic/hydra/chain/fork"
	"github.com/crytic/hydra/chain/state"
	"github.com/crytic/hydra/compilation/abiutils"
	compilationTypes "github.com/crytic/hydra/compilation/types"
	"github.com/crytic/hydra/fuzzing/concolic"
	"github.com/crytic/hydra/fuzzing/config"
	"github.com/crytic/hydra/fuzzing/corpus"
	"github.com/crytic/hydra/fuzzing/coverage"
	"github.com/crytic/hydra/fuzzing/executor"
	"github.com/crytic/hydra/fuzzing/feedback"
	"github.com/crytic/hydra/fuzzing/oracles"
	"github.com/crytic/hydra/fuzzing/reverts"
	"github.com/crytic/hydra/fuzzing/scheduler"
	"github.com/crytic/hydra/fuzzing/valuegeneration"
	"github.com/crytic/hydra/logging"
	"github.com/crytic/hydra/logging/colors"
	"github.com/crytic/hydra/utils"
	"github.com/crytic/medusa-geth/common"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// metricsInterval is how often the metrics line is logged.
const metricsInterval = 3 * time.Second

// DeployedContract is a target contract deployed into the initial state.
type DeployedContract struct {
	// Name is the artifact name, or the address for on-chain targets.
	Name string
	// Address is where the contract lives.
	Address common.Address
	// Contract is its ABI, nil when none is known.
	Contract *abiutils.Contract
	// Compiled is the artifact it was deployed from, nil for on-chain targets.
	Compiled *compilationTypes.CompiledContract
}

// Fuzzer runs a stateful, coverage-guided fuzzing campaign against a set of contracts.
type Fuzzer struct {
	// ctx describes the context for the fuzzing run, used to cancel running operations.
	ctx context.Context
	// ctxCancelFunc describes a function which can be used to cancel the fuzzing operations ctx tracks.
	ctxCancelFunc context.CancelFunc
	// ctxLock guards ctxCancelFunc, as Stop may be called from another goroutine.
	ctxLock sync.Mutex

	// config describes the project configuration which the fuzzing is targeting.
	config config.ProjectConfig
	// senders are the accounts transactions are sent from. They are the fuzzer-controlled accounts.
	senders []common.Address
	// deployer deploys the target contracts.
	deployer common.Address
	// randomProvider drives every random decision of the run.
	randomProvider *rand.Rand

	// compilations are contracts added through AddCompilationTargets, deployed in addition to the configured target.
	compilations []*compilationTypes.CompiledContract
	// contracts are the deployed targets, in deployment order.
	contracts []*DeployedContract
	// abis maps target addresses to their ABI.
	abis map[common.Address]*abiutils.Contract
	// initialState is the state after deployment, which every sequence starts from.
	initialState *state.EVMState
	initialized  bool

	maps                *coverage.FeedbackMaps
	instructionCoverage *coverage.InstructionCoverage
	backend             fork.Backend
	executor            *executor.Executor
	pipeline            *feedback.Pipeline
	evaluator           *oracles.Evaluator
	transactions        *scheduler.TransactionScheduler
	states              *scheduler.StateScheduler
	// rootStateID is the scheduler id of the initial state.
	rootStateID uint64
	// stateHashes maps state scheduler ids to the hash their snapshot is stored under.
	stateHashes map[uint64]common.Hash
	valueSet    *valuegeneration.ValueSet
	mutator     *valuegeneration.Mutator
	concolic    *concolic.Stage
	corpus      *corpus.Corpus
	// reverts collects per-function revert statistics, nil when disabled.
	reverts *reverts.RevertReporter

	solutions     []Solution
	solutionsLock sync.Mutex

	metrics *FuzzerMetrics

	// Events describes the event system for the Fuzzer.
	Events FuzzerEvents

	// Hooks describes the replaceable functions used by the Fuzzer.
	Hooks FuzzerHooks

	logger *logging.Logger
}

// NewFuzzer returns an instance of a new Fuzzer provided a project configuration, or an error if one is encountered
// while initializing the code.
func NewFuzzer(cfg config.ProjectConfig) (*Fuzzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	senders, err := utils.HexStringsToAddresses(cfg.Fuzzing.SenderAddresses)
	if err != nil {
		return nil, err
	}
	deployer, err := utils.HexStringToAddress(cfg.Fuzzing.DeployerAddress)
	if err != nil {
		return nil, err
	}

	seed := cfg.Fuzzing.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	fuzzer := &Fuzzer{
		config:         cfg,
		senders:        senders,
		deployer:       deployer,
		randomProvider: rand.New(rand.NewSource(seed)),
		abis:           make(map[common.Address]*abiutils.Contract),
		stateHashes:    make(map[uint64]common.Hash),
		metrics:        newFuzzerMetrics(),
		Hooks:          FuzzerHooks{},
		logger:         logging.GlobalLogger.NewSubLogger("module", logging.FUZZING_SERVICE),
	}
	fuzzer.logger.Debug("Using random seed ", seed)
	return fuzzer, nil
}

// Config exposes the underlying project configuration provided to the Fuzzer.
func (f *Fuzzer) Config() config.ProjectConfig {
	return f.config
}

// SenderAddresses exposes the account addresses from which transactions are sent.
func (f *Fuzzer) SenderAddresses() []common.Address {
	return slices.Clone(f.senders)
}

// DeployerAddress exposes the account address from which contracts are deployed.
func (f *Fuzzer) DeployerAddress() common.Address {
	return f.deployer
}

// AddCompilationTargets adds contracts to deploy in addition to the configured target.
func (f *Fuzzer) AddCompilationTargets(contracts ...*compilationTypes.CompiledContract) {
	f.compilations = append(f.compilations, contracts...)
}

// Contracts returns the deployed target contracts. It is empty until the fuzzer initialized its state.
func (f *Fuzzer) Contracts() []*DeployedContract {
	return slices.Clone(f.contracts)
}

// InitialState returns a copy of the state every sequence starts from, or nil before initialization.
func (f *Fuzzer) InitialState() *state.EVMState {
	if f.initialState == nil {
		return nil
	}
	return f.initialState.Clone()
}

// InstructionCoverage returns the instruction coverage of the run.
func (f *Fuzzer) InstructionCoverage() *coverage.InstructionCoverage {
	return f.instructionCoverage
}

// Solutions returns the findings reported so far with the sequences triggering them.
func (f *Fuzzer) Solutions() []Solution {
	f.solutionsLock.Lock()
	defer f.solutionsLock.Unlock()
	return slices.Clone(f.solutions)
}

// Findings returns the findings reported so far.
func (f *Fuzzer) Findings() []oracles.Finding {
	solutions := f.Solutions()
	findings := make([]oracles.Finding, len(solutions))
	for i, solution := range solutions {
		findings[i] = solution.Finding
	}
	return findings
}

// Metrics returns a snapshot of the campaign metrics.
func (f *Fuzzer) Metrics() MetricsSnapshot {
	return f.metrics.Snapshot()
}

// workPath returns a path below the work directory, or "" when nothing is written.
func (f *Fuzzer) workPath(elem ...string) string {
	if f.config.Fuzzing.WorkDirectory == "" {
		return ""
	}
	return filepath.Join(append([]string{f.config.Fuzzing.WorkDirectory}, elem...)...)
}

// Start begins a fuzzing operation on the provided project configuration. This operation will not return until an error
// is encountered or the fuzzing operation has completed. Its execution can be cancelled using the Stop method.
func (f *Fuzzer) Start() error {
	f.ctxLock.Lock()
	f.ctx, f.ctxCancelFunc = context.WithCancel(context.Background())
	if f.config.Fuzzing.Timeout > 0 {
		f.logger.Info("Running with a timeout of ", colors.Bold(f.config.Fuzzing.Timeout), " seconds")
		f.ctx, f.ctxCancelFunc = context.WithTimeout(f.ctx, time.Duration(f.config.Fuzzing.Timeout)*time.Second)
	}
	ctx := f.ctx
	f.ctxLock.Unlock()
	defer f.Stop()

	err := f.initialize(ctx)
	if err != nil {
		return err
	}
	defer f.closeBackend()

	f.corpus = corpus.NewCorpus(f.workPath())
	if f.config.Fuzzing.RevertReport {
		if f.reverts, err = reverts.NewRevertReporter(f.workPath("coverage")); err != nil {
			return err
		}
	}
	stop, err := f.loadCorpus()
	if err != nil {
		return err
	}

	f.metrics.start()
	f.Events.FuzzerStarting.Publish(FuzzerStartingEvent{Fuzzer: f})

	if !stop {
		err = f.fuzzLoop(ctx)
	}

	// NOTE: After this point, we capture errors but do not return immediately, as we want to exit gracefully.

	if flushErr := f.corpus.Flush(); err == nil {
		err = flushErr
	}
	if f.config.Fuzzing.CoverageReport && f.config.Fuzzing.WorkDirectory != "" {
		if reportPath, reportErr := f.instructionCoverage.WriteReport(f.workPath("coverage")); reportErr != nil {
			f.logger.Error("Failed to write the coverage report", reportErr)
		} else {
			f.logger.Info("Coverage report written to ", colors.Bold(reportPath))
		}
	}
	if f.reverts != nil {
		if _, reportErr := f.reverts.WriteReport(); reportErr != nil {
			f.logger.Error("Failed to write the revert report", reportErr)
		}
		if summary := f.reverts.Summary(); summary != "" {
			f.logger.Debug("Reverting functions:\n", summary)
		}
	}
	f.logMetrics()
	for _, summary := range f.instructionCoverage.Summary() {
		f.logger.Info(summary.String())
	}

	f.Events.FuzzerStopping.Publish(FuzzerStoppingEvent{Fuzzer: f, Err: err})

	solutions := f.Solutions()
	if len(solutions) == 0 {
		f.logger.Info("Fuzzer stopped, no findings")
	} else {
		f.logger.Info("Fuzzer stopped, ", len(solutions), " finding(s) follow below")
		for _, solution := range solutions {
			f.logger.Info(solution.Describe(f.abis))
		}
	}
	return err
}

// Stop stops a running operation invoked by the Start method. This method may return before complete operation teardown
// occurs.
func (f *Fuzzer) Stop() {
	f.ctxLock.Lock()
	defer f.ctxLock.Unlock()
	if f.ctxCancelFunc != nil {
		f.ctxCancelFunc()
	}
}

// fuzzLoop runs fuzzing cycles until the context is done or a stop condition is met.
func (f *Fuzzer) fuzzLoop(ctx context.Context) error {
	lastMetrics := time.Now()
	testLimit := f.config.Fuzzing.TestLimit
	for !utils.CheckContextDone(ctx) {
		if testLimit > 0 && f.metrics.Executions() >= testLimit {
			f.logger.Info("Test limit of ", testLimit, " executions reached, halting now")
			return nil
		}

		stop, err := f.fuzzCycle()
		if err != nil {
			if errors.Is(err, scheduler.ErrEmptyCorpus) {
				return err
			}
			f.metrics.recordFailure()
			f.logger.Debug("Fuzzing cycle failed", err)
		}
		if stop {
			return nil
		}

		if time.Since(lastMetrics) >= metricsInterval {
			f.logMetrics()
			lastMetrics = time.Now()
		}
	}
	return nil
}

// logMetrics logs one line of campaign metrics.
func (f *Fuzzer) logMetrics() {
	snapshot := f.metrics.Snapshot()
	f.logger.Info(
		"fuzz: elapsed: ", snapshot.Elapsed.Round(time.Second),
		", execs: ", snapshot.Executions, " (", snapshot.ExecutionsPerSecond, "/sec)",
		", tx corpus: ", snapshot.TransactionCorpus,
		", states: ", snapshot.StateCorpus,
		", edges: ", snapshot.Edges,
		", findings: ", snapshot.Findings,
	)
}
