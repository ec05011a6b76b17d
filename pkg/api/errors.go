package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

const (
	NotFoundMessage   = "No knowledge graph available. Please generate a knowledge graph first."
	UnreadableMessage = "Failed to get response. Please try again."
)

// Error is returned for any non-2xx response. The body is parsed on first
// use of Body, not when the response arrives.
type Error struct {
	Operation string
	Status    int
	raw       []byte

	once   sync.Once
	body   *ErrorBody
	parsed error
}

// NewError wraps a failed response of operation.
func NewError(operation string, status int, raw []byte) *Error {
	return &Error{Operation: operation, Status: status, raw: raw}
}

func (e *Error) Error() string {
	const limit = 256
	body := string(e.raw)
	if len(body) > limit {
		body = body[:limit] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s: unexpected status code %d", e.Operation, e.Status)
	}
	return fmt.Sprintf("%s: unexpected status code %d: %s", e.Operation, e.Status, body)
}

// Body parses the response body as JSON. An empty or non-JSON body is an
// error.
func (e *Error) Body() (*ErrorBody, error) {
	e.once.Do(func() {
		var body ErrorBody
		if err := json.Unmarshal(e.raw, &body); err != nil {
			e.parsed = fmt.Errorf("failed to parse error body: %w", err)
			return
		}
		e.body = &body
	})
	return e.body, e.parsed
}

func (e *Error) RawBody() []byte {
	return e.raw
}

// UserMessage turns err into the string shown to the user.
//
// A parseable body yields its detail or message, falling back to fallback.
// An unparseable body yields NotFoundMessage for 404 and UnreadableMessage
// otherwise. Errors that are not *Error (transport failures) yield fallback.
func UserMessage(err error, fallback string) string {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return fallback
	}

	body, perr := apiErr.Body()
	if perr != nil {
		if apiErr.Status == http.StatusNotFound {
			return NotFoundMessage
		}
		return UnreadableMessage
	}

	if detail := body.DetailText(); detail != "" {
		return detail
	}
	if body.Message != "" {
		return body.Message
	}
	return fallback
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
