package access

import "errors"

var (
	ErrValidation    = errors.New("invalid input")
	ErrAuthorization = errors.New("not authorized")
	ErrState         = errors.New("invalid state")
	ErrNotFound      = errors.New("not found")
)

// Code returns the stable machine-readable code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "invalid_input"
	case errors.Is(err, ErrAuthorization):
		return "unauthorized"
	case errors.Is(err, ErrState):
		return "invalid_state"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return "internal"
}
