package auth

import "errors"

// Authentication errors. Handlers map these to HTTP status codes.
var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidChallenge   = errors.New("invalid or expired code")
	ErrInvalidCredentials = errors.New("invalid password")
	ErrNotFound           = errors.New("user not found")
	ErrDispatch           = errors.New("failed to send code")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrProvider           = errors.New("oauth provider failure")
)

// Session token errors
var (
	ErrExpiredToken     = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid token")
)

// ValidationError reports a missing or malformed request field. It matches
// ErrValidation with errors.Is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func validationError(msg string) error {
	return &ValidationError{Message: msg}
}
