package checkin

import "errors"

var (
	ErrMalformedInput     = errors.New("malformed input")
	ErrTransientNetwork   = errors.New("transient network failure")
	ErrPermanentRejection = errors.New("permanent rejection")
	ErrStorageFailure     = errors.New("local storage failure")
	ErrNotFound           = errors.New("pending action not found")
	ErrDuplicateAction    = errors.New("client action already exists")
)

// DomainError ошибка с кодом из таксономии
type DomainError struct {
	Err     error
	Message string
	Code    string
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Transient оборачивает сетевую ошибку, после которой действие можно повторить
func Transient(err error) error {
	return &DomainError{Err: ErrTransientNetwork, Message: "transient: " + err.Error(), Code: string(ResultNetworkError)}
}

// IsTransient сообщает, можно ли повторить действие после ошибки
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientNetwork)
}
