package fuzzing

import (
	"context"
	"io"
	"math/big"
	"path/filepath"
	"strings"

	"github.com/crytic/hydra/chain/fork"
	"github.com/crytic/hydra/chain/state"
	"github.com/crytic/hydra/chain/vm"
	"github.com/crytic/hydra/compilation/abiutils"
	compilationTypes "github.com/crytic/hydra/compilation/types"
	"github.com/crytic/hydra/fuzzing/calls"
	"github.com/crytic/hydra/fuzzing/concolic"
	"github.com/crytic/hydra/fuzzing/config"
	"github.com/crytic/hydra/fuzzing/coverage"
	"github.com/crytic/hydra/fuzzing/executor"
	"github.com/crytic/hydra/fuzzing/feedback"
	"github.com/crytic/hydra/fuzzing/integrations/slither"
	"github.com/crytic/hydra/fuzzing/oracles"
	"github.com/crytic/hydra/fuzzing/scheduler"
	"github.com/crytic/hydra/fuzzing/valuegeneration"
	"github.com/crytic/hydra/utils"
	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// initialize builds the execution stack and deploys the targets. It runs once per Fuzzer, so Replay after Start reuses
// the same initial state.
func (f *Fuzzer) initialize(ctx context.Context) error {
	if f.initialized {
		return nil
	}
	fuzzingConfig := f.config.Fuzzing

	f.maps = coverage.NewFeedbackMaps()
	f.instructionCoverage = coverage.NewInstructionCoverage()
	f.valueSet = valuegeneration.NewValueSet()
	for _, sender := range f.senders {
		f.valueSet.AddAddress(sender)
	}
	f.valueSet.AddAddress(f.deployer)

	block := vm.BlockContext{
		Number:    fuzzingConfig.BlockNumber,
		Timestamp: fuzzingConfig.BlockTimestamp,
		GasLimit:  fuzzingConfig.TransactionGasLimit,
		ChainID:   fuzzingConfig.ChainID,
	}
	if fuzzingConfig.Onchain.Enabled {
		backend, err := f.createBackend(ctx)
		if err != nil {
			return err
		}
		f.backend = backend
		if pinned, ok := backend.(fork.PinnedBackend); ok {
			block.Number = max(block.Number, pinned.BlockNumber())
		}
	}

	f.executor = executor.NewExecutor(executor.Config{
		GasLimit:    fuzzingConfig.TransactionGasLimit,
		ControlLeak: fuzzingConfig.ControlLeak,
		Block:       block,
	}, f.maps, f.senders, f.backend)
	f.executor.SetInstructionCoverage(f.instructionCoverage)
	if fuzzingConfig.Onchain.Enabled {
		addresses, err := utils.HexStringsToAddresses(fuzzingConfig.Onchain.Addresses)
		if err != nil {
			return err
		}
		f.executor.AddOnchainAddresses(addresses...)
	}

	initialState := state.NewEVMState()
	balance := fuzzingConfig.SenderBalance.Uint256()
	for _, account := range append(slices.Clone(f.senders), f.deployer) {
		initialState.SetBalance(account, balance)
	}

	if err := f.deployTargets(initialState); err != nil {
		return err
	}
	if f.Hooks.StateSetupFunc != nil {
		if err := f.Hooks.StateSetupFunc(f, initialState); err != nil {
			return errors.Wrap(err, "state setup failed")
		}
	}
	f.initialState = initialState
	f.addSlitherConstants(ctx)

	if err := f.createSchedulers(); err != nil {
		return err
	}
	f.pipeline = f.createPipeline()
	evaluator, err := f.createEvaluator()
	if err != nil {
		return err
	}
	f.evaluator = evaluator

	f.mutator = valuegeneration.NewMutator(valuegeneration.MutatorConfig{
		MaxMutations:           fuzzingConfig.Mutation.MaxMutations,
		MaxRepeat:              fuzzingConfig.Mutation.MaxRepeat,
		MaxBlockNumberDelay:    fuzzingConfig.Mutation.MaxBlockNumberDelay,
		MaxBlockTimestampDelay: fuzzingConfig.Mutation.MaxBlockTimestampDelay,
		ResumeProbability:      fuzzingConfig.Mutation.ResumeProbability,
	}, f.valueSet, f.senders, f.abis, f.randomProvider)

	if fuzzingConfig.Concolic.Enabled {
		f.concolic = concolic.NewStage(concolic.Config{
			Timeout:       fuzzingConfig.Concolic.TimeoutDuration(),
			Threads:       fuzzingConfig.Concolic.Threads,
			MaxCandidates: concolic.DefaultConfig().MaxCandidates,
			SolveCaller:   fuzzingConfig.Concolic.Caller,
		})
	}

	f.initialized = true
	return nil
}

// addSlitherConstants seeds the value set with the constants slither finds in the project sources. Slither is
// optional tooling, so failures only warn.
func (f *Fuzzer) addSlitherConstants(ctx context.Context) {
	slitherConfig := f.config.Slither
	if !slitherConfig.UseSlither {
		return
	}
	cachePath := slitherConfig.CachePath
	if cachePath != "" && !filepath.IsAbs(cachePath) {
		cachePath = f.workPath(cachePath)
	}
	data, err := slither.Load(ctx, slitherConfig.Target, cachePath, slitherConfig.Args...)
	if err != nil {
		f.logger.Warn("Failed to run slither, continuing without its constants", err)
		return
	}
	added, err := data.AddConstantsToValueSet(f.valueSet)
	if err != nil {
		f.logger.Warn("Skipped slither constants that could not be converted", err)
	}
	f.logger.Info("Added ", added, " constant(s) found by slither to the value set")
}

// createBackend returns the on-chain backend from the hook, or an RPC backend from the configuration.
func (f *Fuzzer) createBackend(ctx context.Context) (fork.Backend, error) {
	if f.Hooks.NewBackendFunc != nil {
		return f.Hooks.NewBackendFunc(ctx, f)
	}
	onchain := f.config.Fuzzing.Onchain
	url, err := onchain.ResolveRPCURL()
	if err != nil {
		return nil, err
	}
	f.logger.Info("Fetching on-chain state from ", url)
	return fork.NewRPCBackend(ctx, fork.RPCBackendConfig{
		URL:             url,
		BlockNumber:     onchain.BlockNumber,
		PoolSize:        uint(onchain.PoolSize),
		PersistentCache: onchain.CacheEnabled && f.config.Fuzzing.WorkDirectory != "",
		WorkDirectory:   f.config.Fuzzing.WorkDirectory,
	})
}

// closeBackend releases the backend when it holds connections.
func (f *Fuzzer) closeBackend() {
	if closer, ok := f.backend.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			f.logger.Warn("Failed to close the on-chain backend", err)
		}
	}
}

// deployTargets deploys or fetches every target into st and registers them for fuzzing.
func (f *Fuzzer) deployTargets(st *state.EVMState) error {
	var compiled []*compilationTypes.CompiledContract
	switch f.config.Fuzzing.TargetType {
	case config.TargetTypeGlob:
		loaded, err := compilationTypes.LoadContracts(f.config.Fuzzing.Target)
		if err != nil {
			return err
		}
		compiled = loaded
	case config.TargetTypeAddress:
		if err := f.fetchTargets(st); err != nil {
			return err
		}
	}
	compiled = append(compiled, f.compilations...)

	for _, contract := range orderContracts(compiled, f.config.Fuzzing.DeploymentOrder) {
		result, err := f.executor.Deploy(st, f.deployer, contract.InitBytecode, nil)
		if err != nil {
			if result != nil && result.Trace != nil {
				f.logger.Error("Deployment trace of ", contract.Name, ":\n", result.Trace.String())
			}
			return errors.Wrapf(err, "failed to deploy %s", contract.Name)
		}
		deployed := &DeployedContract{
			Name:     contract.Name,
			Address:  result.CreatedAddress,
			Contract: abiutils.NewContract(contract.Abi),
			Compiled: contract,
		}
		f.registerTarget(st, deployed)
		f.logger.Info("Deployed ", contract.Name, " at ", deployed.Address.Hex())
	}
	if len(f.contracts) == 0 {
		return errors.New("no target contracts to fuzz")
	}
	return nil
}

// fetchTargets resolves address targets. Each comma separated entry is an address, optionally followed by ":" and
// the path of its ABI.
func (f *Fuzzer) fetchTargets(st *state.EVMState) error {
	for _, entry := range strings.Split(f.config.Fuzzing.Target, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		addressString, abiPath, _ := strings.Cut(entry, ":")
		address, err := utils.HexStringToAddress(addressString)
		if err != nil {
			return err
		}
		f.executor.AddOnchainAddresses(address)
		code, err := f.backend.GetCode(address)
		if err != nil {
			return errors.Wrapf(err, "failed to fetch the code of %s", address.Hex())
		}
		if len(code) == 0 {
			return errors.Errorf("no code at target address %s", address.Hex())
		}
		st.SetCode(address, code)

		deployed := &DeployedContract{Name: address.Hex(), Address: address}
		if abiPath != "" {
			contractAbi, err := compilationTypes.LoadAbi(abiPath)
			if err != nil {
				return err
			}
			deployed.Contract = abiutils.NewContract(contractAbi)
			deployed.Name = utils.GetFileNameWithoutExtension(abiPath)
		}
		f.registerTarget(st, deployed)
		f.logger.Info("Fetched ", deployed.Name, " at ", address.Hex())
	}
	return nil
}

// registerTarget records a target and feeds its code to the coverage and value set.
func (f *Fuzzer) registerTarget(st *state.EVMState, deployed *DeployedContract) {
	code := st.GetCode(deployed.Address)
	f.instructionCoverage.Register(deployed.Address, deployed.Name, code)
	f.valueSet.AddCodeConstants(code)
	f.valueSet.AddAddress(deployed.Address)
	if deployed.Contract != nil {
		f.abis[deployed.Address] = deployed.Contract
	}
	f.contracts = append(f.contracts, deployed)
}

// orderContracts returns the contracts named in order first, in that order, then the rest by name.
func orderContracts(contracts []*compilationTypes.CompiledContract, order []string) []*compilationTypes.CompiledContract {
	rank := func(c *compilationTypes.CompiledContract) int {
		if i := slices.Index(order, c.Name); i >= 0 {
			return i
		}
		return len(order)
	}
	ordered := slices.Clone(contracts)
	slices.SortStableFunc(ordered, func(a, b *compilationTypes.CompiledContract) int {
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra - rb
		}
		return strings.Compare(a.Name, b.Name)
	})
	return ordered
}

// createSchedulers seeds the transaction corpus with one call per fuzzable method and the state corpus with the
// initial state.
func (f *Fuzzer) createSchedulers() error {
	f.transactions = scheduler.NewTransactionScheduler(f.randomProvider, scheduler.ArgumentWeight)
	states, err := scheduler.NewStateScheduler(f.randomProvider, f.config.Fuzzing.InfantStateCapacity)
	if err != nil {
		return err
	}
	f.states = states

	generator := valuegeneration.NewRandomValueGenerator(valuegeneration.DefaultRandomValueGeneratorConfig(), f.valueSet, f.randomProvider)
	for _, deployed := range f.contracts {
		for _, method := range f.fuzzableMethods(deployed) {
			data, err := valuegeneration.GenerateCalldata(generator, &method)
			if err != nil {
				f.logger.Warn("Skipping ", method.Sig, " of ", deployed.Name, ": ", err)
				continue
			}
			input := calls.NewInput(f.senders[f.randomProvider.Intn(len(f.senders))], deployed.Address, data, nil)
			input.Env.BlockNumber = f.executor.Block().Number
			input.Env.Timestamp = f.executor.Block().Timestamp
			f.transactions.Add(input)
		}
	}
	if f.transactions.Len() == 0 {
		return errors.New("nothing to fuzz: no target exposes a state-changing method")
	}

	f.rootStateID, _ = f.states.Add(f.initialState, nil)
	f.stateHashes[f.rootStateID] = f.initialState.Hash()
	return nil
}

// fuzzableMethods returns the methods of a target worth calling. Invariants are excluded since they are checked
// after every input.
func (f *Fuzzer) fuzzableMethods(deployed *DeployedContract) []abi.Method {
	if deployed.Contract == nil {
		return nil
	}
	var methods []abi.Method
	if deployed.Compiled != nil {
		methods = deployed.Compiled.FuzzableMethods()
	} else {
		methods = (&compilationTypes.CompiledContract{Abi: *deployed.Contract.ABI()}).FuzzableMethods()
	}
	prefixes := f.config.Fuzzing.Oracles.InvariantPrefixes
	return slices.DeleteFunc(methods, func(method abi.Method) bool {
		return f.config.Fuzzing.Oracles.Invariant && oracles.IsInvariant(method, prefixes)
	})
}

// createPipeline returns the judges enabled in the feedback configuration.
func (f *Fuzzer) createPipeline() *feedback.Pipeline {
	feedbackConfig := f.config.Fuzzing.Feedback
	var judges []feedback.Judge
	if feedbackConfig.Coverage {
		judges = append(judges, feedback.NewCoverageFeedback())
	}
	if feedbackConfig.Comparison {
		judges = append(judges, feedback.NewComparisonFeedback(f.valueSet))
	}
	if feedbackConfig.Dataflow {
		judges = append(judges, feedback.NewDataflowFeedback())
	}
	return feedback.NewPipeline(judges...)
}

// createEvaluator returns the oracles enabled in the oracle configuration, followed by the hook oracles.
func (f *Fuzzer) createEvaluator() (*oracles.Evaluator, error) {
	oracleConfig := f.config.Fuzzing.Oracles
	var enabled []oracles.Oracle
	var producers []oracles.Producer
	if oracleConfig.Reentrancy {
		enabled = append(enabled, oracles.ReentrancyOracle{})
	}
	if oracleConfig.IntegerOverflow {
		enabled = append(enabled, oracles.IntegerOverflowOracle{})
	}
	if oracleConfig.ArbitraryCall {
		enabled = append(enabled, oracles.ArbitraryCallOracle{})
	}
	if oracleConfig.SelfDestruct {
		enabled = append(enabled, oracles.SelfDestructOracle{})
	}
	if oracleConfig.TypedBug {
		enabled = append(enabled, oracles.TypedBugOracle{})
	}
	if oracleConfig.Invariant {
		invariants := oracles.NewInvariantOracle(f.abis, oracleConfig.InvariantPrefixes, f.senders[0])
		if invariants.Count() > 0 {
			enabled = append(enabled, invariants)
		}
	}
	if oracleConfig.Profit {
		producers = append(producers, oracles.NewBalanceProducer(f.initialState, f.senders))
		enabled = append(enabled, &oracles.ProfitOracle{Threshold: new(big.Int).Set(&oracleConfig.ProfitThreshold.Int)})
	}

	for _, newOracle := range f.Hooks.OracleFuncs {
		oracle, err := newOracle(f)
		if err != nil {
			return nil, err
		}
		enabled = append(enabled, oracle)
	}
	for _, newProducer := range f.Hooks.ProducerFuncs {
		producer, err := newProducer(f)
		if err != nil {
			return nil, err
		}
		producers = append(producers, producer)
	}
	return oracles.NewEvaluator(enabled, producers), nil
}
