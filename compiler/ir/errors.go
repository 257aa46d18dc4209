package ir

import (
	"fmt"

	"tlog.app/go/loc"
)

type (
	// ConsistencyError means the method can't be rewritten safely.
	// It aborts the current method only.
	ConsistencyError struct {
		At     ID
		Reason string
		From   loc.PC
	}

	// MalformedError means the input can't be interpreted at all.
	// It aborts the whole run.
	MalformedError struct {
		At     ID
		Reason string
	}
)

func Inconsistent(at ID, format string, args ...any) *ConsistencyError {
	return &ConsistencyError{
		At:     at,
		Reason: fmt.Sprintf(format, args...),
		From:   loc.Caller(1),
	}
}

func Malformed(at ID, format string, args ...any) *MalformedError {
	return &MalformedError{
		At:     at,
		Reason: fmt.Sprintf(format, args...),
	}
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("insn %d: %s", e.At, e.Reason)
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed: insn %d: %s", e.At, e.Reason)
}
