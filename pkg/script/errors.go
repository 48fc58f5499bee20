package script

import (
	"errors"
	"fmt"
)

// CompileError reports a dialog that cannot be turned into a program. Line is
// the 1-based line in the dialog source.
type CompileError struct {
	Line int
	Msg  string
}

func (e *CompileError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

func compileErrorf(line int, format string, args ...any) error {
	return &CompileError{Line: line, Msg: fmt.Sprintf(format, args...)}
}

// RuntimeError is a failure while executing a statement.
type RuntimeError struct {
	Line int
	Err  error
}

func (e *RuntimeError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrReplayMismatch means the recorded answers no longer line up with the
// program's HEAR statements, usually because the dialog changed between turns.
var ErrReplayMismatch = errors.New("recorded answers do not match dialog")
