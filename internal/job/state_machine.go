package job

import (
	"errors"
	"fmt"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
)

// ErrInvalidTransition is wrapped by ValidateTransition failures.
var ErrInvalidTransition = errors.New("invalid job state transition")

var validTransitions = map[domain.JobStatus][]domain.JobStatus{
	domain.JobStatusPending: {
		domain.JobStatusRunning,   // Worker picked the job up
		domain.JobStatusCancelled, // Cancelled while queued
		domain.JobStatusFailed,    // Interrupted by restart before it ran
	},
	domain.JobStatusRunning: {
		domain.JobStatusCompleted, // Frontier exhausted or max pages reached
		domain.JobStatusFailed,    // Invalid source, robots disallows root, error threshold
		domain.JobStatusCancelled, // Cancel honored at a page boundary
	},
	// Terminal states
	domain.JobStatusCompleted: {},
	domain.JobStatusFailed:    {},
	domain.JobStatusCancelled: {},
}

// ValidateTransition checks that a job may move from one status to another.
func ValidateTransition(from, to domain.JobStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, from)
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}

// CanCancel reports whether a cancel request can still affect the job.
func CanCancel(j *domain.Job) bool {
	return j.Status.IsActive()
}
