package services

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the services. Handlers map them to HTTP
// statuses in one place.
var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrForbidden          = errors.New("access denied")
	ErrAssigneeNotFound   = errors.New("assigned user not found")
	ErrUserExists         = errors.New("user with this email or username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account is deactivated")
	ErrInvalidRole        = errors.New("invalid role")

	// ErrSelfModification is wrapped by the errors raised when an admin
	// targets their own account.
	ErrSelfModification = errors.New("self modification")
	ErrSelfDeactivation = fmt.Errorf("%w: you cannot deactivate your own account", ErrSelfModification)
	ErrSelfRoleChange   = fmt.Errorf("%w: you cannot change your own role", ErrSelfModification)
)
