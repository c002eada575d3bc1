package domain

import "errors"

// Failure kinds every operation reports. Callers branch with errors.Is.
var (
	ErrAuthentication    = errors.New("authentication required")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotFound          = errors.New("not found")
	ErrNotRegistered     = errors.New("not registered")
	ErrUsernameTaken     = errors.New("username taken")
	ErrAlreadyRegistered = errors.New("already registered")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrInvalidArgument   = errors.New("invalid argument")
)
