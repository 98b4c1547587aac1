package exchange

import "fmt"

// Kind classifies why a generation failed.
type Kind string

const (
	KindStoreUnavailable        Kind = "store_unavailable"
	KindProcessSpawnFailure     Kind = "process_spawn_failure"
	KindProcessExecutionFailure Kind = "process_execution_failure"
	KindMalformedOutput         Kind = "malformed_output"
	KindTimeout                 Kind = "timeout"
	KindCanceled                Kind = "canceled"
)

// Error is returned by Generate for every failed run.
type Error struct {
	Kind  Kind
	State State // state the run was in when it failed
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("exchange: %s during %s: %v", e.Kind, e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
