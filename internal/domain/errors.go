package domain

import "errors"

var (
	// ErrCapability means a required device or feature is absent. Never retried.
	ErrCapability = errors.New("capability unavailable")
	// ErrPrecondition means required context is missing; no network call was made.
	ErrPrecondition = errors.New("precondition failed")
	// ErrTransport covers token fetch and relay connect failures.
	ErrTransport = errors.New("transport failure")
	// ErrService covers failed detection, embedding, similarity and persistence calls.
	ErrService = errors.New("service failure")
)
