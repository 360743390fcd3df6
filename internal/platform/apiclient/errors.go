package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx response from the hospital API.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// errorBody covers the error shapes the API is known to return: a flat
// message/error pair, or the same pair nested under "response".
type errorBody struct {
	Message  string `json:"message"`
	Error    string `json:"error"`
	Response *struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	} `json:"response"`
}

func newAPIError(method, path string, status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Method: method, Path: path}

	var eb errorBody
	if len(body) > 0 && json.Unmarshal(body, &eb) == nil {
		switch {
		case eb.Message != "":
			e.Message = eb.Message
		case eb.Response != nil && eb.Response.Message != "":
			e.Message = eb.Response.Message
		case eb.Response != nil && eb.Response.Error != "":
			e.Message = eb.Response.Error
		case eb.Error != "":
			e.Message = eb.Error
		}
	}
	if e.Message == "" {
		if text := strings.TrimSpace(string(body)); text != "" && len(text) < 200 && !strings.HasPrefix(text, "{") {
			e.Message = text
		} else {
			e.Message = http.StatusText(status)
		}
	}
	return e
}

// Message returns a human-readable message for any error produced by the
// client, suitable for a transient notification.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "the request timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "the request was cancelled"
	}
	return err.Error()
}

// StatusCode returns the HTTP status of an APIError, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsConflict reports whether the API rejected the request as a duplicate.
func IsConflict(err error) bool {
	return StatusCode(err) == http.StatusConflict
}

// IsNotFound reports whether the API answered 404.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}
