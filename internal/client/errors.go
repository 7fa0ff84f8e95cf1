package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// APIError is the single error envelope for both transports. HTTP failures
// carry the status code; socket "error" frames and transport failures do not.
type APIError struct {
	// Op names the operation that failed (e.g. "chat", "socket").
	Op string
	// StatusCode is the HTTP status, or 0 for non-HTTP failures.
	StatusCode int
	// Message is the server-provided detail, if any.
	Message string
	// Err is the underlying transport error, if any.
	Err error
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Display returns the text shown to the user for this error.
func (e *APIError) Display() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("HTTP error! status: %d (%s)", e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Op + " failed"
	}
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

// DisplayError renders any error the way the conversation shows it.
func DisplayError(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Display()
	}
	return err.Error()
}

// statusError builds an APIError from a non-2xx response body. FastAPI
// reports {"detail": "..."}; anything else is kept as raw text.
func statusError(op string, status int, body []byte) *APIError {
	e := &APIError{Op: op, StatusCode: status}

	var envelope struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		var detail string
		switch {
		case len(envelope.Detail) > 0 && json.Unmarshal(envelope.Detail, &detail) == nil:
			e.Message = detail
		case len(envelope.Detail) > 0:
			e.Message = string(envelope.Detail)
		case envelope.Message != "":
			e.Message = envelope.Message
		}
		return e
	}

	e.Message = strings.TrimSpace(string(body))
	return e
}
