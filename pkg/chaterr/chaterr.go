package chaterr

import (
	"errors"
	"fmt"
)

// Error codes. Every expected failure the engine can report maps to exactly
// one code so the calling layer can render a precise message.
const (
	CodeNotFound           = "CHANNEL_NOT_FOUND"
	CodeAlreadyExists      = "CHANNEL_ALREADY_EXISTS"
	CodeAlreadyMember      = "ALREADY_MEMBER"
	CodeAlreadyActive      = "ALREADY_ACTIVE"
	CodeNotMember          = "NOT_MEMBER"
	CodePlayerBanned       = "PLAYER_BANNED"
	CodeAlreadyBanned      = "ALREADY_BANNED"
	CodeNotBanned          = "NOT_BANNED"
	CodeBypassProtected    = "BYPASS_PROTECTED"
	CodeNoOwnerPermission  = "NO_OWNER_PERMISSION"
	CodeInsufficientRole   = "INSUFFICIENT_ROLE"
	CodePrivateChannel     = "PRIVATE_REQUIRES_INVITATION"
	CodeChannelLimit       = "CHANNEL_LIMIT_EXCEEDED"
	CodeMemberLimit        = "MEMBER_LIMIT_EXCEEDED"
	CodePlayerChannelLimit = "PLAYER_CHANNEL_LIMIT_EXCEEDED"
	CodeValidation         = "VALIDATION_ERROR"
	CodeStorageLoad        = "STORAGE_LOAD_ERROR"
	CodeStorageSave        = "STORAGE_SAVE_ERROR"
)

type ChatError struct {
	Message string
	Code    string
	Context map[string]any
	Cause   error
}

func (e *ChatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ChatError) Unwrap() error {
	return e.Cause
}

func New(code, message string, context map[string]any) *ChatError {
	return &ChatError{
		Message: message,
		Code:    code,
		Context: context,
	}
}

func Wrap(code, message string, cause error) *ChatError {
	return &ChatError{
		Message: message,
		Code:    code,
		Cause:   cause,
	}
}

func (e *ChatError) WithCause(cause error) *ChatError {
	e.Cause = cause
	return e
}

// CodeOf extracts the error code, or "" for nil/foreign errors.
func CodeOf(err error) string {
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

func NotFound(channelID string) *ChatError {
	return New(CodeNotFound, fmt.Sprintf("channel %q does not exist", channelID), map[string]any{
		"channel": channelID,
	})
}

func AlreadyExists(channelID string) *ChatError {
	return New(CodeAlreadyExists, fmt.Sprintf("channel %q already exists", channelID), map[string]any{
		"channel": channelID,
	})
}

func NotMember(message string) *ChatError {
	return New(CodeNotMember, message, nil)
}

func Validation(message, field string, value any) *ChatError {
	return New(CodeValidation, message, map[string]any{
		"field": field,
		"value": value,
	})
}

func StorageLoad(message string, cause error) *ChatError {
	return Wrap(CodeStorageLoad, message, cause)
}

func StorageSave(message string, cause error) *ChatError {
	return Wrap(CodeStorageSave, message, cause)
}
