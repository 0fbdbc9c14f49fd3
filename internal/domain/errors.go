package domain

import "errors"

// Not-found sentinels returned by repositories.
var (
	ErrSourceNotFound  = errors.New("source not found")
	ErrJobNotFound     = errors.New("job not found")
	ErrContentNotFound = errors.New("content not found")
)

// ErrJobFinalized is returned when updating a job that already reached a
// terminal state, possibly through another process.
var ErrJobFinalized = errors.New("job is already in a terminal state")
