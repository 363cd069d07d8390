package ingest

import (
	"errors"
	"fmt"

	"github.com/fedibird/fedimind/internal/models"
)

// Outcome is the successful result of one ingestion attempt
type Outcome int

const (
	// Created means a new status was persisted
	Created Outcome = iota
	// AlreadyProcessed means the activity had been applied before, or lost a benign race
	AlreadyProcessed
	// Deferred means the activity will be retried by a background task
	Deferred
	// Deleted means a status was tombstoned or a delete marker was recorded
	Deleted
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyProcessed:
		return "already_processed"
	case Deferred:
		return "deferred"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Result is an Outcome and the status it concerns, when known
type Result struct {
	Outcome Outcome
	Status  *models.Status
}

var (
	// ErrRejected wraps every permanent refusal; callers must not retry
	ErrRejected = errors.New("rejected")
	// ErrUnsupported is the reason for activity types the pipeline does not handle
	ErrUnsupported = errors.New("unsupported activity")
	// ErrUntrusted is the reason for activities whose origin does not match the actor
	ErrUntrusted = errors.New("untrusted origin")
	// ErrTombstoned is the reason for creates of a deleted status
	ErrTombstoned = errors.New("status was deleted")
	// ErrValidation is the reason for activities that break a status invariant
	ErrValidation = errors.New("validation failed")

	// ErrTransient wraps failures worth retrying later with backoff
	ErrTransient = errors.New("transient failure")
)

// reject wraps reason as a permanent refusal
func reject(reason error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %w: %s", ErrRejected, reason, fmt.Sprintf(format, args...))
}

func transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsRejected reports whether err is a permanent refusal
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
