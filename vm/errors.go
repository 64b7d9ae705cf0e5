package vm

import (
	"errors"
	"fmt"
)

// Unrecoverable runtime conditions. They abort the process that hit them.
var (
	ErrOutOfMemory        = errors.New("object memory exhausted")
	ErrContextCycle       = errors.New("corrupted context chain")
	ErrUnknownOpcode      = errors.New("unknown opcode")
	ErrDoesNotUnderstand  = errors.New("doesNotUnderstand: not understood")
	ErrStackOverflow      = errors.New("process stack overflow")
	ErrUnknownPrimitive   = errors.New("unknown primitive")
	ErrImageFormat        = errors.New("malformed image")
	ErrNoProcess          = errors.New("no process to run")
	ErrCollectorReentered = errors.New("collection requested inside a collection")
)

// FatalError carries an unrecoverable condition out of the interpreter.
// It travels as a panic inside the dispatch loop and is turned back into
// an error by the execution entry points.
type FatalError struct {
	Err     error
	Detail  string
	Process Value
}

func (e *FatalError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Detail)
}

func (e *FatalError) Unwrap() error { return e.Err }

func fatalf(err error, format string, args ...any) {
	panic(&FatalError{Err: err, Detail: fmt.Sprintf(format, args...)})
}

// recoverFatal converts a FatalError panic into an error. Other panics are
// re-raised.
func recoverFatal(r any, process Value) error {
	if r == nil {
		return nil
	}
	if fe, ok := r.(*FatalError); ok {
		if fe.Process == Nil {
			fe.Process = process
		}
		return fe
	}
	panic(r)
}
