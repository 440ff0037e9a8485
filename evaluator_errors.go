package toolsync

import (
	"errors"
	"fmt"
	"strings"
)

// Phases reported by EvaluationError.
const (
	PhaseCompile = "compile"
	PhaseEval    = "eval"
	PhaseResult  = "result"
)

// EvaluationError reports an identity expression that failed to compile, to
// run, or produced something that is not an identifier. Slot is -1 when the
// failure is not tied to a slot.
type EvaluationError struct {
	Engine string
	Expr   string
	Phase  string
	Slot   int
	Err    error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "toolsync: %s %s", e.Engine, e.Phase)
	if e.Expr != "" {
		fmt.Fprintf(&b, " of %q", e.Expr)
	}
	if e.Slot >= 0 {
		fmt.Fprintf(&b, " for slot %d", e.Slot)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func compileError(engine, expr string, err error) error {
	return newEvaluationError(engine, expr, PhaseCompile, -1, err)
}

func evalError(engine, expr string, slot int, err error) error {
	return newEvaluationError(engine, expr, PhaseEval, slot, err)
}

func resultError(engine, expr string, slot int, err error) error {
	return newEvaluationError(engine, expr, PhaseResult, slot, err)
}

// newEvaluationError keeps an EvaluationError raised deeper in the stack, such
// as one returned by a registered function, instead of nesting it.
func newEvaluationError(engine, expr, phase string, slot int, err error) error {
	if err == nil {
		return nil
	}
	var existing *EvaluationError
	if errors.As(err, &existing) {
		return err
	}
	return &EvaluationError{Engine: engine, Expr: expr, Phase: phase, Slot: slot, Err: err}
}

// evaluatorError reports misuse of an evaluator itself, such as an empty
// expression or a rule without an evaluator.
func evaluatorError(engine string, err error) error {
	if err == nil {
		return nil
	}
	if strings.HasPrefix(err.Error(), "toolsync:") {
		return err
	}
	return fmt.Errorf("toolsync: %s evaluator: %w", engine, err)
}
