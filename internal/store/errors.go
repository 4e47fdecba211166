package store

import "errors"

var (
	// ErrEmptyURL indicates a URL parameter is missing or empty
	ErrEmptyURL = errors.New("empty_url")
	// ErrEmptyRunID indicates a run ID parameter is missing or empty
	ErrEmptyRunID = errors.New("empty_run_id")
	// ErrRunNotFound indicates no run exists with the given ID
	ErrRunNotFound = errors.New("run_not_found")
)
