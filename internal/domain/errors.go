package domain

import "errors"

// Error kinds. Operations wrap one of these with fmt.Errorf("%w: ...") and
// transports classify with errors.Is.
var (
	ErrValidation     = errors.New("validation error")
	ErrAuthentication = errors.New("authentication error")
	ErrAuthorization  = errors.New("authorization error")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrPersistence    = errors.New("persistence error")
)
