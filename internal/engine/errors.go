package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRejected is returned by Execute when every worker is busy and the
	// queue is full.
	ErrRejected = errors.New("execution rejected: all workers busy and queue full")

	// ErrEmptyTemplate is returned by Execute for a request without template
	// source.
	ErrEmptyTemplate = errors.New("template source is empty")

	// ErrUnknownEngine is returned by Execute when the requested template
	// engine is not registered.
	ErrUnknownEngine = errors.New("unknown template engine")

	// ErrClosed is returned by Execute after Close.
	ErrClosed = errors.New("engine is closed")
)

// TimeoutError is the failure of a render that was aborted for exceeding its
// time limit.
type TimeoutError struct {
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Template processing was aborted for exceeding the %d ms time limit set for this online service. "+
		"This is usually because you have a very long running #list (or other kind of loop) in your template.",
		e.Limit.Milliseconds())
}

// FaultError reports an execution that failed for a reason other than the
// template itself: an engine bug, a panic, an unexpected I/O error.
type FaultError struct {
	ID  string
	Err error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("execution %s: internal error: %v", e.ID, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

// UnresponsiveError reports a render that kept running after every attempt to
// stop it. Its worker was abandoned; the process should be restarted.
type UnresponsiveError struct {
	ID      string
	Elapsed time.Duration
}

func (e *UnresponsiveError) Error() string {
	return fmt.Sprintf("execution %s did not stop %s after it was asked to; its worker was abandoned",
		e.ID, e.Elapsed.Round(time.Millisecond))
}
