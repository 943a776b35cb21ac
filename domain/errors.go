package domain

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a referenced task, project or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when the acting user is not a member of the project.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict signals a uniqueness violation such as a repository linked twice.
	ErrConflict = errors.New("conflict")
	// ErrAccessDenied is returned when a new user is not on the whitelist.
	ErrAccessDenied = errors.New("access denied: not on the whitelist")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return strings.TrimSpace(e.Field + " " + e.Reason)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
