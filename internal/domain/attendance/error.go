package attendance

import "errors"

var (
	ErrNotFound              = errors.New("outcome not found")
	ErrDuplicateAction       = errors.New("client action already applied")
	ErrAlreadyCheckedIn      = errors.New("registration already checked in for this session")
	ErrDuplicateRegistration = errors.New("registration already exists")
	ErrUnknownRegistration   = errors.New("registration does not exist")
)
