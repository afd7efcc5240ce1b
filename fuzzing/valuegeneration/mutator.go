package valuegeneration

import (
	"math/rand"

	"github.com/crytic/hydra/chain/state"
	"github.com/crytic/hydra/compilation/abiutils"
	"github.com/crytic/hydra/fuzzing/calls"
	"github.com/crytic/medusa-geth/common"
	"github.com/holiman/uint256"
)

// MutatorConfig bounds the mutations applied to an input.
type MutatorConfig struct {
	// MaxMutations is the largest number of mutations stacked on one input.
	MaxMutations int
	// MaxRepeat is the largest repeat count an input is given.
	MaxRepeat uint64
	// MaxBlockNumberDelay and MaxBlockTimestampDelay bound the environment nudges.
	MaxBlockNumberDelay    uint64
	MaxBlockTimestampDelay uint64
	// ResumeProbability is the probability of turning an input into a resume when the seed has a pending leak.
	ResumeProbability float32
}

// DefaultMutatorConfig returns the default mutation bounds.
func DefaultMutatorConfig() MutatorConfig {
	return MutatorConfig{
		MaxMutations:           4,
		MaxRepeat:              4,
		MaxBlockNumberDelay:    1000,
		MaxBlockTimestampDelay: 86400,
		ResumeProbability:      0.3,
	}
}

// interestingWords are boundary values integer arguments are frequently replaced with.
var interestingWords = func() []*uint256.Int {
	words := []*uint256.Int{uint256.NewInt(0), uint256.NewInt(1), uint256.NewInt(2)}
	for _, bits := range []uint{7, 8, 15, 16, 31, 32, 63, 64, 127, 128, 255} {
		power := new(uint256.Int).Lsh(uint256.NewInt(1), bits)
		words = append(words, power, new(uint256.Int).SubUint64(power, 1))
	}
	return append(words, new(uint256.Int).SetAllOne())
}()

// wordMutationMethods transform one argument word.
var wordMutationMethods = []func(*Mutator, *uint256.Int, []byte) *uint256.Int{
	// Replace with a dictionary integer.
	func(m *Mutator, word *uint256.Int, _ []byte) *uint256.Int {
		integers := m.valueSet.Integers()
		if len(integers) == 0 {
			return word
		}
		return new(uint256.Int).Set(integers[m.randomProvider.Intn(len(integers))])
	},
	// Replace with a dictionary address.
	func(m *Mutator, word *uint256.Int, _ []byte) *uint256.Int {
		addresses := m.valueSet.Addresses()
		if len(addresses) == 0 {
			return word
		}
		address := addresses[m.randomProvider.Intn(len(addresses))]
		return new(uint256.Int).SetBytes20(address[:])
	},
	// Replace with a boundary value.
	func(m *Mutator, word *uint256.Int, _ []byte) *uint256.Int {
		return new(uint256.Int).Set(interestingWords[m.randomProvider.Intn(len(interestingWords))])
	},
	// Flip a bit.
	func(m *Mutator, word *uint256.Int, _ []byte) *uint256.Int {
		bit := new(uint256.Int).Lsh(uint256.NewInt(1), uint(m.randomProvider.Intn(256)))
		return new(uint256.Int).Xor(word, bit)
	},
	// Nudge by a small amount in either direction.
	func(m *Mutator, word *uint256.Int, _ []byte) *uint256.Int {
		delta := uint64(m.randomProvider.Intn(16) + 1)
		if m.randomProvider.Intn(2) == 0 {
			return new(uint256.Int).AddUint64(word, delta)
		}
		return new(uint256.Int).SubUint64(word, delta)
	},
	// Replace with a random word, or a random small integer.
	func(m *Mutator, word *uint256.Int, _ []byte) *uint256.Int {
		if m.randomProvider.Intn(2) == 0 {
			return uint256.NewInt(uint64(m.randomProvider.Intn(1 << 16)))
		}
		b := make([]byte, 32)
		m.randomProvider.Read(b)
		return new(uint256.Int).SetBytes(b)
	},
	// Copy another argument word.
	func(m *Mutator, word *uint256.Int, args []byte) *uint256.Int {
		words := len(args) / 32
		if words == 0 {
			return word
		}
		i := m.randomProvider.Intn(words)
		return new(uint256.Int).SetBytes(args[i*32 : i*32+32])
	},
}

// Mutator derives new transaction inputs from corpus inputs. The selector of a call is never changed.
type Mutator struct {
	config    MutatorConfig
	valueSet  *ValueSet
	generator *RandomValueGenerator

	senders   []common.Address
	contracts map[common.Address]*abiutils.Contract

	randomProvider *rand.Rand
}

// NewMutator creates a mutator. contracts supplies the ABIs used to regenerate arguments and detect payable
// methods; inputs to other contracts are mutated without them.
func NewMutator(config MutatorConfig, valueSet *ValueSet, senders []common.Address, contracts map[common.Address]*abiutils.Contract, randomProvider *rand.Rand) *Mutator {
	return &Mutator{
		config:         config,
		valueSet:       valueSet,
		generator:      NewRandomValueGenerator(DefaultRandomValueGeneratorConfig(), valueSet, randomProvider),
		senders:        senders,
		contracts:      contracts,
		randomProvider: randomProvider,
	}
}

// Mutate returns a mutated copy of input to execute against seed. When seed has a pending leak the result may be a
// resume of it instead.
func (m *Mutator) Mutate(input *calls.Input, seed *state.EVMState) *calls.Input {
	if input.Resume {
		return m.mutateResume(input, seed)
	}
	if seed != nil && m.randomProvider.Float32() < m.config.ResumeProbability {
		if ctx, ok := seed.PeekLeak(); ok {
			return m.resumeFor(ctx, input.Env)
		}
	}

	mutated := input.Clone()
	count := 1 + m.randomProvider.Intn(max(m.config.MaxMutations, 1))
	for i := 0; i < count; i++ {
		switch m.randomProvider.Intn(10) {
		case 0:
			m.regenerateArguments(mutated)
		case 1:
			m.mutateCaller(mutated)
		case 2:
			m.mutateValue(mutated)
		case 3:
			m.mutateEnvironment(mutated)
		case 4:
			mutated.Repeat = 1 + uint64(m.randomProvider.Int63n(int64(max(m.config.MaxRepeat, 1))))
		default:
			m.mutateArgument(mutated)
		}
	}
	return mutated
}

// resumeFor builds an input continuing ctx. It runs no earlier than the block the transaction leaked in, sometimes
// later.
func (m *Mutator) resumeFor(ctx *state.PostExecutionContext, env calls.Environment) *calls.Input {
	resume := calls.NewResumeInput(ctx.LeakedTo, m.returnData())
	resume.Env = env
	resume.Env.BlockNumber = ctx.BlockNumber
	resume.Env.Timestamp = ctx.Timestamp
	if m.randomProvider.Intn(2) == 0 {
		m.mutateEnvironment(resume)
	}
	return resume
}

// mutateResume rewrites the return data of a resume. Against a seed with a pending leak the resume is rebuilt for
// that leak.
func (m *Mutator) mutateResume(input *calls.Input, seed *state.EVMState) *calls.Input {
	if seed != nil {
		if ctx, ok := seed.PeekLeak(); ok {
			return m.resumeFor(ctx, input.Env)
		}
	}
	mutated := input.Clone()
	mutated.Data = m.returnData()
	return mutated
}

// mutateArgument rewrites one 32-byte word of the arguments.
func (m *Mutator) mutateArgument(input *calls.Input) {
	if len(input.Data) < abiutils.SelectorLength+32 {
		return
	}
	args := input.Data[abiutils.SelectorLength:]
	i := m.randomProvider.Intn(len(args) / 32)
	word := new(uint256.Int).SetBytes(args[i*32 : i*32+32])
	method := wordMutationMethods[m.randomProvider.Intn(len(wordMutationMethods))]
	mutated := method(m, word, args).Bytes32()
	copy(args[i*32:], mutated[:])
}

// regenerateArguments replaces every argument with a freshly generated one.
func (m *Mutator) regenerateArguments(input *calls.Input) {
	contract := m.contracts[input.Contract]
	if contract == nil {
		m.mutateArgument(input)
		return
	}
	method, err := contract.MethodBySelector(input.Selector())
	if err != nil {
		m.mutateArgument(input)
		return
	}
	if data, err := GenerateCalldata(m.generator, method); err == nil {
		input.Data = data
	}
}

func (m *Mutator) mutateCaller(input *calls.Input) {
	if len(m.senders) > 0 {
		input.Caller = m.senders[m.randomProvider.Intn(len(m.senders))]
	}
}

// mutateValue changes the value sent to payable methods. Inputs to unknown contracts are left alone.
func (m *Mutator) mutateValue(input *calls.Input) {
	contract := m.contracts[input.Contract]
	if contract == nil {
		return
	}
	method, err := contract.MethodBySelector(input.Selector())
	if err != nil || !abiutils.IsPayable(method) {
		return
	}
	switch m.randomProvider.Intn(4) {
	case 0:
		input.Value.Clear()
	case 1:
		input.Value.SetUint64(uint64(m.randomProvider.Intn(1000) + 1))
	case 2:
		ether := uint256.NewInt(1_000_000_000_000_000_000)
		input.Value.Mul(ether, uint256.NewInt(uint64(m.randomProvider.Intn(10)+1)))
	default:
		if integers := m.valueSet.Integers(); len(integers) > 0 {
			input.Value.Set(integers[m.randomProvider.Intn(len(integers))])
		}
	}
}

// mutateEnvironment moves the block forward.
func (m *Mutator) mutateEnvironment(input *calls.Input) {
	if m.config.MaxBlockNumberDelay > 0 {
		input.Env.BlockNumber += 1 + uint64(m.randomProvider.Int63n(int64(m.config.MaxBlockNumberDelay)))
	}
	if m.config.MaxBlockTimestampDelay > 0 {
		input.Env.Timestamp += 1 + uint64(m.randomProvider.Int63n(int64(m.config.MaxBlockTimestampDelay)))
	}
}

// returnData generates the data a leaked call returns on resume: nothing, or one word.
func (m *Mutator) returnData() []byte {
	switch m.randomProvider.Intn(3) {
	case 0:
		return nil
	case 1:
		word := uint256.NewInt(1).Bytes32()
		return word[:]
	}
	word := wordMutationMethods[0](m, new(uint256.Int), nil).Bytes32()
	return word[:]
}
