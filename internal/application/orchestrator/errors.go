package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSubmission is returned for blank prompts and for submissions
	// while a deliberation is already in flight. No state changes.
	ErrInvalidSubmission = errors.New("invalid submission")

	// ErrDeliberationInProgress is the ErrInvalidSubmission returned while a
	// deliberation is in flight.
	ErrDeliberationInProgress = fmt.Errorf("%w: a deliberation is already in progress", ErrInvalidSubmission)

	// ErrSessionCreationFailed is returned when the session provider fails.
	// The provider's message is also stored as the deliberation error.
	ErrSessionCreationFailed = errors.New("session creation failed")

	// ErrSubmissionReset is returned when the deliberation is reset while
	// its session is still being opened.
	ErrSubmissionReset = errors.New("submission discarded by reset")

	// ErrStreamError marks an explicit error event or a transport failure.
	// It is absorbed into the deliberation error, never returned.
	ErrStreamError = errors.New("stream error")

	// ErrMalformedEvent marks an event whose payload does not match its kind.
	ErrMalformedEvent = errors.New("malformed event")
)
