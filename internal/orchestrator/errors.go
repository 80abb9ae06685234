package orchestrator

import "errors"

// Sentinel errors surfaced to the API layer.
var (
	// ErrDiscussionNotFound is returned when an id matches nothing in
	// memory or on disk.
	ErrDiscussionNotFound = errors.New("discussion not found")

	// ErrAlreadyActive rejects starting a discussion that is running
	// or summarizing.
	ErrAlreadyActive = errors.New("discussion is already active")

	// ErrNotCompleted rejects exporting a discussion that has not
	// finished.
	ErrNotCompleted = errors.New("discussion is not completed")

	// ErrNoSummary is returned when a summary is requested before one
	// exists.
	ErrNoSummary = errors.New("discussion has no summary")

	// ErrNoRoundsRemaining rejects restarting a stopped discussion
	// that already ran all its rounds.
	ErrNoRoundsRemaining = errors.New("discussion has no rounds remaining")
)
