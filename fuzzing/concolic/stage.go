package concolic

import (
	"bytes"
	"context"
	"time"

	"github.com/crytic/hydra/compilation/abiutils"
	"github.com/crytic/hydra/fuzzing/calls"
	"github.com/crytic/hydra/fuzzing/coverage"
	"github.com/crytic/hydra/logging"
	evm "github.com/crytic/medusa-geth/core/vm"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Config bounds the work the stage does for one input.
type Config struct {
	// Timeout bounds one Solve call. Zero means unbounded.
	Timeout time.Duration
	// Threads is the number of records solved concurrently.
	Threads int
	// MaxCandidates bounds the candidates returned for one input. Zero means unbounded.
	MaxCandidates int
	// SolveCaller also solves comparisons against the caller of the input.
	SolveCaller bool
}

// DefaultConfig returns the configuration used when the stage is enabled without further settings.
func DefaultConfig() Config {
	return Config{Timeout: time.Second, Threads: 4, MaxCandidates: 64}
}

// Stage solves unresolved comparisons whose operand was taken directly from the input. A comparison `a == b` where a
// is an argument word of the calldata is solved by substituting b for that word.
type Stage struct {
	config Config
	logger *logging.Logger
}

// NewStage creates a concolic stage.
func NewStage(config Config) *Stage {
	if config.Threads <= 0 {
		config.Threads = 1
	}
	return &Stage{
		config: config,
		logger: logging.GlobalLogger.NewSubLogger("module", logging.CONCOLIC_SERVICE),
	}
}

// Solve derives candidates from the compare records of an execution of input. The records are copied first. When the
// timeout expires the candidates found so far are returned with the context error.
func (s *Stage) Solve(ctx context.Context, input *calls.Input, records []coverage.CompareRecord) ([]*calls.Input, error) {
	if input.Resume || len(input.Data) < abiutils.SelectorLength+32 {
		return nil, nil
	}
	records = append([]coverage.CompareRecord(nil), records...)

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	solutions := make([][]*calls.Input, len(records))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.config.Threads)
	for i := range records {
		if groupCtx.Err() != nil {
			break
		}
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			solutions[i] = s.solveRecord(input, &records[i])
			return nil
		})
	}
	err := group.Wait()
	if err == nil {
		err = ctx.Err()
	}

	// Results are merged in record order so the output does not depend on scheduling.
	var candidates []*calls.Input
	for _, solved := range solutions {
		for _, candidate := range solved {
			if s.config.MaxCandidates > 0 && len(candidates) >= s.config.MaxCandidates {
				break
			}
			if containsInput(candidates, candidate) || candidate.Equal(input) {
				continue
			}
			candidates = append(candidates, candidate)
		}
	}
	if err != nil {
		s.logger.Debug("Concolic stage stopped early with ", len(candidates), " candidates: ", err)
		return candidates, errors.WithStack(err)
	}
	return candidates, nil
}

// solveRecord returns the inputs satisfying or flipping one comparison.
func (s *Stage) solveRecord(input *calls.Input, record *coverage.CompareRecord) []*calls.Input {
	if record.Distance.IsZero() && !isOrdering(record.Op) {
		return nil
	}
	var candidates []*calls.Input
	args := input.Data[abiutils.SelectorLength:]
	for _, pair := range [][2]*uint256.Int{{&record.A, &record.B}, {&record.B, &record.A}} {
		observed, target := pair[0], pair[1]
		word := observed.Bytes32()
		for offset := 0; offset+32 <= len(args); offset += 32 {
			if !bytes.Equal(args[offset:offset+32], word[:]) {
				continue
			}
			for _, value := range targetValues(record.Op, target) {
				candidate := input.Clone()
				replacement := value.Bytes32()
				copy(candidate.Data[abiutils.SelectorLength+offset:], replacement[:])
				candidates = append(candidates, candidate)
			}
		}
		if s.config.SolveCaller && record.Op == byte(evm.EQ) && !target.IsZero() && target.BitLen() <= 160 {
			if callerWord := new(uint256.Int).SetBytes20(input.Caller[:]); callerWord.Eq(observed) {
				candidate := input.Clone()
				candidate.Caller = target.Bytes20()
				candidates = append(candidates, candidate)
			}
		}
	}
	return candidates
}

// targetValues lists the values to try for an operand compared with target.
func targetValues(op byte, target *uint256.Int) []*uint256.Int {
	values := []*uint256.Int{new(uint256.Int).Set(target)}
	if isOrdering(op) {
		values = append(values, new(uint256.Int).AddUint64(target, 1), new(uint256.Int).SubUint64(target, 1))
	}
	return values
}

func isOrdering(op byte) bool {
	switch evm.OpCode(op) {
	case evm.LT, evm.GT, evm.SLT, evm.SGT:
		return true
	}
	return false
}

func containsInput(inputs []*calls.Input, input *calls.Input) bool {
	for _, existing := range inputs {
		if existing.Equal(input) {
			return true
		}
	}
	return false
}
