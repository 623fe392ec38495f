package domain

import "errors"

var (
	// ErrNoQuestions means the question bank returned an empty sample for a
	// subject. This is fatal to session start: it indicates an unseeded
	// database, not a transient fault, so it is surfaced instead of retried.
	ErrNoQuestions = errors.New("no questions available for subject")
	// ErrWorkerClosed is returned when dispatching to a stopped prediction worker.
	ErrWorkerClosed = errors.New("prediction worker closed")
	// ErrWorkerStatus is returned when the worker replies with a non-success status.
	ErrWorkerStatus = errors.New("prediction worker returned non-success status")
)
