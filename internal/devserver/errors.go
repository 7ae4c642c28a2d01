package devserver

import "errors"

// Error codes for domain errors.
const (
	ErrCodeEventNotFound  = "event_not_found"
	ErrCodeNotParticipant = "not_participant"
	ErrCodeBadRequest     = "bad_request"
	ErrCodeInternal       = "internal"
)

var (
	ErrEventNotFound    = errors.New("event not found")
	ErrNotParticipant   = errors.New("not a participant of this event")
	ErrEmptyMessage     = errors.New("message is required")
	ErrUnknownRecipient = errors.New("recipient is not a participant of this event")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
