package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bravozero/bravozero-go/pkg/types"
)

// Error kinds. Match them with errors.Is against any error returned by the
// service clients.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrNotFound       = errors.New("resource not found")
	ErrValidation     = errors.New("request validation failed")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrServer         = errors.New("server error")
)

// APIError is a non-2xx response from a Bravo Zero service.
type APIError struct {
	StatusCode int
	Message    string
	Details    map[string]any
	RequestID  string
	Body       []byte
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, msg)
}

// Unwrap maps the status code to one of the error kinds.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrAuthentication
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity:
		return ErrValidation
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode >= 500:
		return ErrServer
	}
	return nil
}

// RateLimitError is returned for HTTP 429. RetryAfter comes from the
// Retry-After header, defaulting to 60 seconds.
type RateLimitError struct {
	RetryAfter time.Duration
	Info       *types.RateLimitInfo
	APIError   *APIError
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (retry after %s)", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// ValidationError reports a request rejected client-side before it was sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// IsRetryable reports whether err is a transient condition: 429, 5xx, or a
// network failure before any response was received.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServer) {
		return true
	}
	var netErr *networkError
	return errors.As(err, &netErr)
}

// networkError marks failures to obtain a response at all.
type networkError struct {
	err error
}

func (e *networkError) Error() string {
	return "failed to send request: " + e.err.Error()
}

func (e *networkError) Unwrap() error {
	return e.err
}

// errorBody is the error shape the services return. Either field may carry
// the human-readable message.
type errorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Detail  string         `json:"detail"`
	Details map[string]any `json:"details"`
}

func newAPIError(status int, header http.Header, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: status,
		RequestID:  header.Get(HeaderRequestID),
		Body:       body,
	}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, candidate := range []string{parsed.Message, parsed.Error, parsed.Detail} {
			if candidate != "" {
				apiErr.Message = candidate
				break
			}
		}
		apiErr.Details = parsed.Details
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
