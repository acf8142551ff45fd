package repository

import "errors"

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional update lost a race
	ErrConflict = errors.New("conditional update conflict")
)
