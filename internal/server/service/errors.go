package service

import "errors"

// Sentinel errors for the service layer.
var (
	// ErrValidation is the category every upload validation failure belongs to.
	ErrValidation = errors.New("validation failed")

	ErrEmptyPayload  = errors.New("file is empty")
	ErrForbiddenType = errors.New("file type not allowed")
	ErrWeakPassword  = errors.New("password must be at least 6 characters")
	ErrTagTooLong    = errors.New("tag exceeds 30 characters")

	ErrUserNotFound     = errors.New("user not found")
	ErrNotFound         = errors.New("file not found")
	ErrNotOwner         = errors.New("you may not delete this file")
	ErrExpired          = errors.New("file has expired")
	ErrPasswordRequired = errors.New("password required")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrStorage          = errors.New("storage failure")
)

// ValidationError reports a caller-correctable upload problem. It matches
// both its kind (ErrEmptyPayload, ...) and ErrValidation with errors.Is.
type ValidationError struct {
	Kind error
	Msg  string
}

func (e *ValidationError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.Error()
}

func (e *ValidationError) Unwrap() []error {
	return []error{e.Kind, ErrValidation}
}

func invalid(kind error, msg string) error {
	return &ValidationError{Kind: kind, Msg: msg}
}
