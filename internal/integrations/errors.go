package integrations

import (
	"errors"
	"fmt"

	"parcelwatch/internal/model"
)

// Sentinels for errors.Is. Every *Error matches exactly one of them.
var (
	ErrTransport   = errors.New("transport error")
	ErrAuth        = errors.New("authentication error")
	ErrApplication = errors.New("application error")
)

// Error is a classified failure from a ShipmentSource.
type Error struct {
	Kind model.ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == model.ErrorTransport
	case ErrAuth:
		return e.Kind == model.ErrorAuth
	case ErrApplication:
		return e.Kind == model.ErrorApplication
	}
	return false
}

func Transport(op string, err error) error {
	return &Error{Kind: model.ErrorTransport, Op: op, Err: err}
}

func Auth(op string, err error) error {
	return &Error{Kind: model.ErrorAuth, Op: op, Err: err}
}

func Application(op string, err error) error {
	return &Error{Kind: model.ErrorApplication, Op: op, Err: err}
}

// KindOf returns the classification of err, or ErrorUnknown when err did not
// come from a ShipmentSource.
func KindOf(err error) model.ErrorKind {
	if err == nil {
		return model.ErrorNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return model.ErrorUnknown
}
