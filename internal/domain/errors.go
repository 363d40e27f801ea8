package domain

import "errors"

var (
	// ErrNoResult marks a REST call that did not happen: transport failure or
	// a venue rejection. Callers must treat it as a no-op, never as a zero
	// value.
	ErrNoResult = errors.New("no result")

	ErrNotFound      = errors.New("not found")
	ErrNoBalance     = errors.New("no balance available for sizing")
	ErrOrderNotFound = errors.New("order not found")
	ErrCannotCancel  = errors.New("order cannot be canceled")
	ErrClosed        = errors.New("connector is closed")
)
