package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MEKXH/letsping/internal/payload"
)

// Error codes shared by the HTTP gateway and the CLI's JSON output.
const (
	CodeInvalidArgument  = "invalid_argument"
	CodeDenied           = "denied"
	CodeTimeout          = "timeout"
	CodeUpstreamError    = "upstream_error"
	CodeTransportError   = "transport_error"
	CodeDecryptionFailed = "decryption_failed"
	CodeCanceled         = "canceled"
	CodeInternalError    = "internal_error"
)

// InvalidArgumentError reports bad caller input. Nothing was sent to the
// service.
type InvalidArgumentError struct {
	Field  string
	Reason string
	Err    error
}

func (e *InvalidArgumentError) Error() string {
	msg := fmt.Sprintf("invalid argument: %s %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidArgumentError) Unwrap() error { return e.Err }

// RemoteServiceError reports a non-success response from the approval
// service.
type RemoteServiceError struct {
	StatusCode int
	Body       string
}

func (e *RemoteServiceError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("letsping api error (%d)", e.StatusCode)
	}
	return fmt.Sprintf("letsping api error (%d): %s", e.StatusCode, body)
}

// TransportError reports that the service or the realtime channel could
// not be reached or failed while in use.
type TransportError struct {
	Detail string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "transport error: " + e.Detail
	}
	return fmt.Sprintf("transport error: %s: %v", e.Detail, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError reports that no reviewer decision arrived in time.
type TimeoutError struct {
	RequestID string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: reviewer did not respond to request %s within %s", e.RequestID, e.Timeout)
}

// AuthorizationDeniedError reports that the reviewer rejected the action.
type AuthorizationDeniedError struct {
	ToolName  string
	RequestID string
}

func (e *AuthorizationDeniedError) Error() string {
	return fmt.Sprintf("security violation: user blocked action '%s'", e.ToolName)
}

// ErrorCode classifies an Ask error into one of the Code constants.
func ErrorCode(err error) string {
	var (
		invalid   *InvalidArgumentError
		denied    *AuthorizationDeniedError
		timeout   *TimeoutError
		remote    *RemoteServiceError
		transport *TransportError
		decrypt   *payload.DecryptionError
	)
	switch {
	case errors.As(err, &invalid):
		return CodeInvalidArgument
	case errors.As(err, &denied):
		return CodeDenied
	case errors.As(err, &timeout):
		return CodeTimeout
	case errors.As(err, &remote):
		return CodeUpstreamError
	case errors.As(err, &transport):
		return CodeTransportError
	case errors.As(err, &decrypt):
		return CodeDecryptionFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	default:
		return CodeInternalError
	}
}
