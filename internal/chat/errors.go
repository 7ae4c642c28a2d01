package chat

import "errors"

// ErrorKind classifies failures surfaced by the chat session.
type ErrorKind string

// Error kinds.
const (
	KindPreconditionFailed ErrorKind = "precondition_failed"
	KindTransportNotReady  ErrorKind = "transport_not_ready"
	KindTransportError     ErrorKind = "transport_error"
	KindHistoryLoadError   ErrorKind = "history_load_error"
	KindValidationError    ErrorKind = "validation_error"
)

// Sentinels usable with errors.Is against any *Error of the same kind.
var (
	ErrPreconditionFailed = &Error{Kind: KindPreconditionFailed, Message: "precondition failed"}
	ErrTransportNotReady  = &Error{Kind: KindTransportNotReady, Message: "transport not ready"}
	ErrTransport          = &Error{Kind: KindTransportError, Message: "connection lost"}
	ErrHistoryLoad        = &Error{Kind: KindHistoryLoadError, Message: "cannot load history"}
	ErrValidation         = &Error{Kind: KindValidationError, Message: "invalid message"}
)

// Error wraps a kind and a human-readable message.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds an error of the given kind.
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var chatErr *Error
	if errors.As(err, &chatErr) {
		return chatErr.Kind
	}
	return ""
}

// Retryable reports whether the user may retry the failed action as is.
func (k ErrorKind) Retryable() bool {
	return k == KindTransportNotReady || k == KindTransportError
}
