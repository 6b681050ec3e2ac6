package auth

import "errors"

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrConflict     = errors.New("auth: resource conflict")

	// ErrReferentialViolation is returned when a write names a row that does not exist.
	ErrReferentialViolation = errors.New("auth: referenced entity does not exist")
	// ErrCycle is returned when an organization would become its own ancestor.
	ErrCycle = errors.New("auth: organization hierarchy cycle")

	ErrNotAuthenticated   = errors.New("auth: not authenticated")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrRefreshExpired     = errors.New("auth: refresh window has expired")
	ErrInvalidCredentials = errors.New("auth: unable to log in with provided credentials")

	// Decision failures, see Decision.Err.
	ErrPermissionDenied           = errors.New("auth: permission denied")
	ErrMalformedPayload           = errors.New("auth: token payload has no permissions claim")
	ErrMissingResourceDeclaration = errors.New("auth: resource name is not declared")
)
