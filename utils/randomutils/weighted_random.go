package randomutils

import (
	"math/big"
	"math/rand"

	"github.com/pkg/errors"
)

// ErrNoWeightedChoices is returned by WeightedRandomChooser.Choose when there is nothing with a non-zero weight.
var ErrNoWeightedChoices = errors.New("no choices exist with non-zero weights")

// WeightedRandomChoice describes a weighted, randomly selectable object for use with a WeightedRandomChooser.
type WeightedRandomChoice[T any] struct {
	// Data describes the wrapped data returned when this choice is selected.
	Data T

	// weight describes the likelihood of this choice being selected, relative to the sum of all weights.
	weight *big.Int
}

// NewWeightedRandomChoice creates a WeightedRandomChoice with the given data and weight.
func NewWeightedRandomChoice[T any](data T, weight *big.Int) *WeightedRandomChoice[T] {
	return &WeightedRandomChoice[T]{
		Data:   data,
		weight: new(big.Int).Set(weight),
	}
}

// WeightedRandomChooser returns one of its choices at random, proportionally to their weights. Choices are walked
// in insertion order, so a given random provider state always yields the same selection.
type WeightedRandomChooser[T any] struct {
	// choices describes the weighted choices from which the chooser will randomly select.
	choices []*WeightedRandomChoice[T]

	// totalWeight describes the sum of all weights in choices.
	totalWeight *big.Int

	// randomProvider offers a source of random data.
	randomProvider *rand.Rand
}

// NewWeightedRandomChooser creates a WeightedRandomChooser drawing from the provided random provider.
func NewWeightedRandomChooser[T any](randomProvider *rand.Rand) *WeightedRandomChooser[T] {
	return &WeightedRandomChooser[T]{
		choices:        make([]*WeightedRandomChoice[T], 0),
		totalWeight:    big.NewInt(0),
		randomProvider: randomProvider,
	}
}

// ChoiceCount returns the count of choices added to this chooser.
func (c *WeightedRandomChooser[T]) ChoiceCount() int {
	return len(c.choices)
}

// TotalWeight returns the sum of all choice weights.
func (c *WeightedRandomChooser[T]) TotalWeight() *big.Int {
	return new(big.Int).Set(c.totalWeight)
}

// AddChoices adds weighted choices to the chooser.
func (c *WeightedRandomChooser[T]) AddChoices(choices ...*WeightedRandomChoice[T]) {
	for _, choice := range choices {
		c.totalWeight.Add(c.totalWeight, choice.weight)
	}
	c.choices = append(c.choices, choices...)
}

// Choose selects a random weighted item, or returns ErrNoWeightedChoices.
func (c *WeightedRandomChooser[T]) Choose() (*T, error) {
	if len(c.choices) == 0 || c.totalWeight.Sign() == 0 {
		return nil, ErrNoWeightedChoices
	}

	// Pick a position in [0, totalWeight).
	var position *big.Int
	if c.totalWeight.IsInt64() {
		position = big.NewInt(c.randomProvider.Int63n(c.totalWeight.Int64()))
	} else {
		bitLength := c.totalWeight.BitLen()
		randomData := make([]byte, (bitLength+7)/8)
		for {
			_, err := c.randomProvider.Read(randomData)
			if err != nil {
				return nil, errors.WithStack(err)
			}
			// Clear the bits above bitLength. Rejection sampling keeps the distribution uniform.
			if excess := len(randomData)*8 - bitLength; excess > 0 {
				randomData[0] &= byte(0xFF) >> excess
			}
			position = new(big.Int).SetBytes(randomData)
			if position.Cmp(c.totalWeight) < 0 {
				break
			}
		}
	}

	for _, choice := range c.choices {
		if position.Cmp(choice.weight) < 0 {
			return &choice.Data, nil
		}
		position.Sub(position, choice.weight)
	}
	return nil, errors.New("weighted random selection did not land on a choice")
}
