package valuegeneration

import (
	"math/big"
	"math/rand"

	"github.com/crytic/hydra/utils"
	"github.com/crytic/medusa-geth/common"
)

// RandomValueGeneratorConfig bounds the values a RandomValueGenerator creates.
type RandomValueGeneratorConfig struct {
	// MaxArrayLength bounds generated dynamic array lengths.
	MaxArrayLength int
	// MaxBytesLength bounds generated byte array and string lengths.
	MaxBytesLength int
	// ValueSetBias is the probability of drawing from the value set rather than generating a fresh value.
	ValueSetBias float32
}

// DefaultRandomValueGeneratorConfig returns the configuration used for initial inputs.
func DefaultRandomValueGeneratorConfig() RandomValueGeneratorConfig {
	return RandomValueGeneratorConfig{MaxArrayLength: 8, MaxBytesLength: 64, ValueSetBias: 0.5}
}

// RandomValueGenerator generates random values, biased towards the values of a ValueSet.
type RandomValueGenerator struct {
	config         RandomValueGeneratorConfig
	valueSet       *ValueSet
	randomProvider *rand.Rand
}

// NewRandomValueGenerator creates a generator drawing from randomProvider and valueSet.
func NewRandomValueGenerator(config RandomValueGeneratorConfig, valueSet *ValueSet, randomProvider *rand.Rand) *RandomValueGenerator {
	return &RandomValueGenerator{config: config, valueSet: valueSet, randomProvider: randomProvider}
}

func (g *RandomValueGenerator) fromValueSet() bool {
	return g.randomProvider.Float32() < g.config.ValueSetBias
}

// GenerateAddress implements ValueGenerator.
func (g *RandomValueGenerator) GenerateAddress() common.Address {
	if addresses := g.valueSet.Addresses(); len(addresses) > 0 && g.fromValueSet() {
		return addresses[g.randomProvider.Intn(len(addresses))]
	}
	b := make([]byte, common.AddressLength)
	g.randomProvider.Read(b)
	return common.BytesToAddress(b)
}

// GenerateArrayOfLength implements ValueGenerator.
func (g *RandomValueGenerator) GenerateArrayOfLength() int {
	return g.randomProvider.Intn(g.config.MaxArrayLength + 1)
}

// GenerateBool implements ValueGenerator.
func (g *RandomValueGenerator) GenerateBool() bool {
	return g.randomProvider.Intn(2) == 0
}

// GenerateBytes implements ValueGenerator.
func (g *RandomValueGenerator) GenerateBytes() []byte {
	if values := g.valueSet.Bytes(); len(values) > 0 && g.fromValueSet() {
		return common.CopyBytes(values[g.randomProvider.Intn(len(values))])
	}
	b := make([]byte, g.randomProvider.Intn(g.config.MaxBytesLength+1))
	g.randomProvider.Read(b)
	return b
}

// GenerateFixedBytes implements ValueGenerator.
func (g *RandomValueGenerator) GenerateFixedBytes(length int) []byte {
	b := make([]byte, length)
	if values := g.valueSet.Bytes(); len(values) > 0 && g.fromValueSet() {
		copy(b, values[g.randomProvider.Intn(len(values))])
		return b
	}
	g.randomProvider.Read(b)
	return b
}

// GenerateString implements ValueGenerator.
func (g *RandomValueGenerator) GenerateString() string {
	return string(g.GenerateBytes())
}

// GenerateInteger implements ValueGenerator.
func (g *RandomValueGenerator) GenerateInteger(signed bool, bitLength int) *big.Int {
	if integers := g.valueSet.Integers(); len(integers) > 0 && g.fromValueSet() {
		value := integers[g.randomProvider.Intn(len(integers))].ToBig()
		return utils.ConstrainIntegerToBitLength(value, signed, bitLength)
	}
	b := make([]byte, bitLength/8)
	g.randomProvider.Read(b)
	return utils.ConstrainIntegerToBitLength(new(big.Int).SetBytes(b), signed, bitLength)
}
