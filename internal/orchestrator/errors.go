package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// FailureKind classifies a turn-terminal model failure.
type FailureKind string

const (
	FailAuth           FailureKind = "auth_failed"
	FailRequestInvalid FailureKind = "request_invalid"
	FailContextTooLong FailureKind = "context_too_long"
	FailExhausted      FailureKind = "exhausted"
	FailCanceled       FailureKind = "canceled"
)

// Error is a classified model-call failure. Transient errors are retried
// inside the orchestrator; only terminal ones escape as turn failures.
type Error struct {
	Kind    FailureKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// classify decides whether an error is retryable and, if not, which terminal
// kind it maps to.
func classify(err error) (kind FailureKind, retryable bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailExhausted, false
	}
	if errors.Is(err, context.Canceled) {
		return FailCanceled, false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, fmt.Sprint(apiErr.Code))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, "")
	}

	// Transport-level failures (connection reset, EOF mid-stream, DNS).
	return FailExhausted, true
}

func classifyStatus(status int, code string) (FailureKind, bool) {
	switch {
	case status == 401 || status == 403:
		return FailAuth, false
	case status == 400:
		if strings.Contains(code, "context_length") {
			return FailContextTooLong, false
		}
		return FailRequestInvalid, false
	case status == 429:
		return FailExhausted, true
	case status >= 500:
		return FailExhausted, true
	default:
		return FailExhausted, true
	}
}

// terminal wraps err into a turn-terminal Error of the given kind.
func terminal(kind FailureKind, err error) *Error {
	return &Error{Kind: kind, Message: err.Error(), Cause: err}
}
