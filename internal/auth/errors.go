package auth

import "errors"

var (
	// ErrInvalidToken indicates the token failed validation or was revoked.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidCredentials is returned when a login names no active user.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrMaintenance blocks non-administrators while maintenance mode is on.
	ErrMaintenance = errors.New("maintenance mode")

	errMissingSecret = errors.New("auth secret is not configured")
)
