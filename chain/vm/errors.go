package vm

import "github.com/pkg/errors"

// Execution faults. These end the current frame and are reported through Result.Err; they are never returned as
// process errors.
var (
	ErrOutOfGas          = errors.New("out of gas")
	ErrStackUnderflow    = errors.New("stack underflow")
	ErrStackOverflow     = errors.New("stack overflow")
	ErrInvalidJump       = errors.New("invalid jump destination")
	ErrInvalidOpcode     = errors.New("invalid opcode")
	ErrWriteProtection   = errors.New("write protection")
	ErrReturnDataBounds  = errors.New("return data out of bounds")
	ErrExecutionReverted = errors.New("execution reverted")
	ErrMemoryLimit       = errors.New("memory limit exceeded")
	ErrDepth             = errors.New("max call depth exceeded")
	ErrCodeCollision     = errors.New("contract address collision")
)
