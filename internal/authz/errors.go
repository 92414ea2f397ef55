package authz

import "errors"

var (
	ErrNotFound     = errors.New("authz: not found")
	ErrConflict     = errors.New("authz: conflict")
	ErrInvalidInput = errors.New("authz: invalid input")

	// ErrSlugExhausted means slug generation ran out of attempts.
	ErrSlugExhausted = errors.New("authz: could not generate a unique slug")
)
