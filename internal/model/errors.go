package model

import (
	"errors"
	"fmt"
	"strings"
)

// Failure taxonomy. Unit-local failures (one genome, one task) are contained
// by their owners; the sentinels below mark the classes callers can branch on.
var (
	ErrConfiguration   = errors.New("invalid configuration")
	ErrEvaluation      = errors.New("genome evaluation failed")
	ErrSafetyViolation = errors.New("resource ceiling exceeded")
	ErrScheduling      = errors.New("unsatisfiable migration dependencies")
	ErrTaskExecution   = errors.New("migration task execution failed")
	ErrEngineFatal     = errors.New("engine invariant violation")
)

// ConfigurationError reports an invalid config field before any run starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// SafetyViolation marks a genome that exceeded a hard resource ceiling. The
// genome stays in the population but is excluded from best promotion.
type SafetyViolation struct {
	GenomeID   string
	Constraint string
	Value      float64
	Limit      float64
}

func (e *SafetyViolation) Error() string {
	return fmt.Sprintf("genome %s exceeds %s: %g > %g", e.GenomeID, e.Constraint, e.Value, e.Limit)
}

func (e *SafetyViolation) Unwrap() error { return ErrSafetyViolation }

// SchedulingError reports a cyclic or otherwise unsatisfiable dependency
// graph, naming the offending task ids rather than dropping them silently.
type SchedulingError struct {
	TaskIDs []string
	Reason  string
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("scheduling failed (%s): tasks [%s]", e.Reason, strings.Join(e.TaskIDs, ", "))
}

func (e *SchedulingError) Unwrap() error { return ErrScheduling }
