package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a requested session, question index, or intake type was not found.
	ErrNotFound = errors.New("not found")

	// ErrUnknownIntakeType indicates the intake key is not registered. It wraps ErrNotFound.
	ErrUnknownIntakeType = fmt.Errorf("unknown intake type: %w", ErrNotFound)

	// ErrValidation indicates a malformed or empty answer. The client must correct and resubmit.
	ErrValidation = errors.New("validation failed")

	// ErrSequence indicates an out-of-order or duplicate step submission.
	ErrSequence = errors.New("sequence error")

	// ErrGeneration indicates the generative collaborator failed or timed out.
	// Nothing was committed, so the same step can be retried.
	ErrGeneration = errors.New("generation failed")

	// ErrEmptyTranscript indicates completion was requested with zero answers.
	ErrEmptyTranscript = errors.New("empty transcript")

	// ErrConfiguration indicates an invalid intake definition. Fatal at load time.
	ErrConfiguration = errors.New("configuration error")

	// ErrSequenceConflict is returned by stores when the log length differs from the expected index.
	ErrSequenceConflict = errors.New("sequence conflict")

	// ErrCompletionExists is returned by stores when a completion was already written for the session.
	ErrCompletionExists = errors.New("completion already exists")
)
