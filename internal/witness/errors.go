package witness

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidBytecode    = errors.New("invalid target bytecode")
	ErrStateRootMismatch  = errors.New("state root mismatch")
	ErrCodeHashMismatch   = errors.New("code hash mismatch")
	ErrExecutionReverted  = errors.New("execution reverted")
	ErrExecutionHalted    = errors.New("execution halted")
	ErrGasLimitExceeded   = errors.New("gas limit exceeded")
	errStoreAlreadyClosed = errors.New("store already compacted")
)

type ExecutionErrorKind int

const (
	Reverted ExecutionErrorKind = iota
	Halted
	GasLimitExceeded
)

func (k ExecutionErrorKind) String() string {
	switch k {
	case Reverted:
		return "reverted"
	case Halted:
		return "halted"
	case GasLimitExceeded:
		return "gas limit exceeded"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ExecutionError reports a replay outcome that can never yield a witness.
// It reflects the candidate itself and is never retried.
type ExecutionError struct {
	Kind     ExecutionErrorKind
	Reason   string
	GasUsed  uint64
	GasLimit uint64
}

func (e *ExecutionError) Error() string {
	switch e.Kind {
	case Reverted:
		return fmt.Sprintf("execution reverted (gas used %d)", e.GasUsed)
	case Halted:
		return fmt.Sprintf("execution halted: %s (gas used %d)", e.Reason, e.GasUsed)
	default:
		return fmt.Sprintf("gas used %d exceeds block gas limit %d", e.GasUsed, e.GasLimit)
	}
}

func (e *ExecutionError) Is(target error) bool {
	switch target {
	case ErrExecutionReverted:
		return e.Kind == Reverted
	case ErrExecutionHalted:
		return e.Kind == Halted
	case ErrGasLimitExceeded:
		return e.Kind == GasLimitExceeded
	}
	return false
}
