package storage

import "errors"

// Errors returned by Store operations. Callers match them with errors.Is;
// anything else is an I/O failure.
var (
	ErrInvalidPath   = errors.New("invalid path")
	ErrNotFound      = errors.New("not found")
	ErrNotADirectory = errors.New("not a directory")
	ErrAlreadyExists = errors.New("already exists")
	ErrNameConflict  = errors.New("name conflict")
)
