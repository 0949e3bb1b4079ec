package core

import (
	"errors"

	"github.com/vovakirdan/quill-server/internal/service/messages"
)

// Error codes for domain errors.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeUnsupportedVersion = "unsupported_version"
	ErrCodeNotIdentified      = "not_identified"
	ErrCodeValidation         = "validation_failed"
	ErrCodeNotSender          = "not_sender"
	ErrCodeNotFound           = "not_found"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeInternal           = "internal"
)

var (
	ErrBadRequest         = errors.New("bad request")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrNotIdentified      = errors.New("identify before sending")
	ErrAlreadyIdentified  = errors.New("connection is bound to another user")
	ErrUnavailable        = errors.New("messaging is not configured")
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

// ToCoreError classifies err for reporting to a client. Internal failures are
// reported without detail.
func ToCoreError(err error) *CoreError {
	var ce *CoreError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ce):
		return ce
	case messages.IsValidation(err):
		return coreError(ErrCodeValidation, err.Error())
	case errors.Is(err, messages.ErrNotSender):
		return coreError(ErrCodeNotSender, err.Error())
	case errors.Is(err, messages.ErrMessageNotFound):
		return coreError(ErrCodeNotFound, err.Error())
	case errors.Is(err, ErrUnauthorized):
		return coreError(ErrCodeUnauthorized, err.Error())
	case errors.Is(err, ErrUnsupportedVersion):
		return coreError(ErrCodeUnsupportedVersion, err.Error())
	case errors.Is(err, ErrNotIdentified):
		return coreError(ErrCodeNotIdentified, err.Error())
	case errors.Is(err, ErrAlreadyIdentified), errors.Is(err, ErrBadRequest):
		return coreError(ErrCodeBadRequest, err.Error())
	default:
		return coreError(ErrCodeInternal, "internal error")
	}
}
