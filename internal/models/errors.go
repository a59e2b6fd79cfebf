package models

import "errors"

// Shared error taxonomy. Callers classify with errors.Is.
var (
	// ErrAuth marks missing or rejected broker credentials. Fatal at
	// start; fatal mid-session when a quote batch reports it.
	ErrAuth = errors.New("broker authentication failed")

	// ErrConfiguration marks an invalid engine configuration at start.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrNotFound marks a lookup miss (instrument, setting, row).
	ErrNotFound = errors.New("not found")
)
