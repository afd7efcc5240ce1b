package fuzzing

import (
	"fmt"

	"github.com/crytic/hydra/compilation/abiutils"
	"github.com/crytic/hydra/fuzzing/calls"
	"github.com/crytic/hydra/fuzzing/oracles"
	"github.com/crytic/medusa-geth/common"
)

// Solution is a finding with the sequence reproducing it from the initial state.
type Solution struct {
	Finding  oracles.Finding
	Sequence calls.Sequence
	// Path is the solution file in the work directory, empty when nothing is written.
	Path string
}

// Describe returns the finding followed by its sequence, decoded through contracts where possible.
func (s Solution) Describe(contracts map[common.Address]*abiutils.Contract) string {
	msg := fmt.Sprintf("%s\nCall sequence:\n%s", s.Finding.String(), s.Sequence.Describe(contracts))
	if s.Path != "" {
		msg += fmt.Sprintf("\nSaved to %s", s.Path)
	}
	return msg
}
