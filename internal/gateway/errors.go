package gateway

import (
	"fmt"
	"net/http"
	"strings"
)

// ProviderError is a transport or provider-side failure. It is never used to
// report a wrong passcode.
type ProviderError struct {
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "provider error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func statusError(statusCode int, body string) *ProviderError {
	msg := fmt.Sprintf("provider returned status %d", statusCode)
	if body = strings.TrimSpace(body); body != "" {
		msg = fmt.Sprintf("%s: %s", msg, body)
	}
	return &ProviderError{StatusCode: statusCode, Message: msg}
}

func isSuccess(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}
