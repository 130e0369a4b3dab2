package projects

import "errors"

var (
	ErrNotFound     = errors.New("project not found")
	ErrInvalidInput = errors.New("invalid input")
	// ErrOwnerNotFound means the user a project is created for has no row yet.
	ErrOwnerNotFound = errors.New("project owner not found")
)
