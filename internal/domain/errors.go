package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrCaptchaRejected    = errors.New("captcha rejected")
	ErrCaptchaUnavailable = errors.New("captcha service unavailable")
	ErrPersistence        = errors.New("persistence failure")
	ErrInvalidTransition  = errors.New("invalid status transition")
)

// ValidationError names the offending input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ModerationConflictError is returned when the stored status moved under an admin action.
type ModerationConflictError struct {
	ReviewID string
	Current  Status
}

func (e *ModerationConflictError) Error() string {
	return fmt.Sprintf("review %s changed concurrently; current status %s", e.ReviewID, e.Current)
}
