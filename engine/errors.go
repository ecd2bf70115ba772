package engine

import "errors"

// Error kinds returned (wrapped) by topology and lifecycle operations.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrBackendRejected = errors.New("rejected by graph")
	ErrNotReady        = errors.New("graph not ready")
	ErrWrongMode       = errors.New("operation not valid in this processing mode")
)

// Error is a topology failure carrying the user facing message recorded as
// the engine's last error. Is matches the wrapped kind.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

// NewError builds an *Error of the given kind.
func NewError(kind error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}
