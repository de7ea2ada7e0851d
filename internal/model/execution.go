package model

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/seantiz/anvil/internal/datamodel"
)

// NewID returns a new execution ID. IDs are ULIDs, so they sort by the time
// the execution was accepted.
func NewID() string {
	return ulid.Make().String()
}

// Task states. A task moves forward only: not-started, started, ended.
const (
	StateNotStarted = "not_started"
	StateStarted    = "started"
	StateEnded      = "ended"
)

// validTransitions maps each state to the set of states it may transition to.
var validTransitions = map[string]map[string]bool{
	StateNotStarted: {
		StateStarted: true,
		StateEnded:   true,
	},
	StateStarted: {
		StateEnded: true,
	},
}

// ValidTransition reports whether a task may move from one state to another.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Cause classifies a failed execution.
type Cause string

// Failure causes.
const (
	CauseParse      Cause = "parse"
	CauseEvaluation Cause = "evaluation"
	CauseTimeout    Cause = "timeout"
	CauseInternal   Cause = "internal"
)

// ExecutionRequest is one template execution. The setting fields hold
// settings catalog keys; empty fields select the defaults. A request is not
// modified once submitted, so it may be executed more than once.
type ExecutionRequest struct {
	ID                  string
	Template            string
	DataModel           *datamodel.Map
	Engine              string
	OutputFormat        string
	Locale              string
	TimeZone            *time.Location
	TagSyntax           string
	InterpolationSyntax string
}

// Failure describes why an execution did not produce output.
type Failure struct {
	Cause Cause
	Err   error
}

// Message returns the user facing description of the failure.
func (f *Failure) Message() string {
	if f.Err == nil {
		return string(f.Cause)
	}
	return f.Err.Error()
}

// ExecutionResult is the outcome of an execution: output, or a failure.
type ExecutionResult struct {
	// ID is the ID the execution ran under.
	ID        string
	Output    string
	Truncated bool
	Failure   *Failure
}

// Succeeded reports whether the execution produced output.
func (r *ExecutionResult) Succeeded() bool {
	return r.Failure == nil
}

// Success returns a successful result.
func Success(output string, truncated bool) *ExecutionResult {
	return &ExecutionResult{Output: output, Truncated: truncated}
}

// Failed returns a failed result.
func Failed(cause Cause, err error) *ExecutionResult {
	return &ExecutionResult{Failure: &Failure{Cause: cause, Err: err}}
}
