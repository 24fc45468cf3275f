package session

import (
	"errors"
	"fmt"
)

var (
	// ErrGenerationInProgress is returned when a generation is requested
	// for a project that already has one running.
	ErrGenerationInProgress = errors.New("generation already in progress")

	// ErrNoActiveGeneration is returned by CancelGeneration when nothing
	// is running for the project.
	ErrNoActiveGeneration = errors.New("no active generation")

	// ErrMaxIterationsExceeded is returned when the agent loop hits its
	// iteration cap without the model producing a final answer.
	ErrMaxIterationsExceeded = errors.New("maximum loop iterations exceeded")
)

// TransportError wraps a provider failure that survived retries.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("provider transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
