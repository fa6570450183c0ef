package account

import "errors"

// Domain-level error values returned by the account service.
var (
	ErrUsernameTaken        = errors.New("username taken")
	ErrUserNotFound         = errors.New("user not found")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrInvalidRegistration  = errors.New("invalid registration")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)
