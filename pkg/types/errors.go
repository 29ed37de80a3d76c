package types

import (
	"errors"
	"fmt"
)

// ValidationError reports a value that would corrupt domain state.
// The operation that produced it must not have mutated anything.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// BackpressureError reports a full partition under the halt overflow policy.
// Callers must treat it as fatal for that partition.
type BackpressureError struct {
	Partition string
}

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("partition %s is full", e.Partition)
}

// InvalidTransitionError reports a state-machine operation that is not legal
// from the current state. The state machine is unchanged.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: invalid transition %s -> %s", e.Entity, e.From, e.To)
}

var (
	// ErrHandlerTimeout marks a handler attempt that exceeded its deadline.
	// The bus retries it like any other handler failure.
	ErrHandlerTimeout = errors.New("handler timed out")

	// ErrBusStopped is returned when publishing to a bus that is not running.
	ErrBusStopped = errors.New("event bus is not running")

	// ErrUnknownMarket is returned when no mapping exists for a market id.
	ErrUnknownMarket = errors.New("unknown market")
)
