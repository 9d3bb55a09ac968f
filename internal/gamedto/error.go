package gamedto

import "errors"

// Error codes reported by the room authority.
const (
	CodeInvalidArgs     = "invalid_args"
	CodeRoomNotFound    = "room_not_found"
	CodeRoomFull        = "room_full"
	CodeNotParticipant  = "not_participant"
	CodeNotYourTurn     = "not_your_turn"
	CodeNotActive       = "not_active"
	CodeNoChange        = "no_change"
	CodeAlreadyFinished = "already_finished"
	CodeConflict        = "conflict"
	CodeInternal        = "internal"
)

type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "room authority error"
}

func NewError(code, message string) error {
	return DomainError{Code: code, Message: message}
}

// ErrorCode extracts the DomainError code from err, or "" when err is not one.
func ErrorCode(err error) string {
	var de DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
