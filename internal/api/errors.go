package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ValidationError is returned when the server rejects the request payload (4xx other than 401)
type ValidationError struct {
	Status int
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%d): %s", e.Status, e.Detail)
}

// UnauthorizedError is returned on 401. The session has already been cleared when it surfaces.
type UnauthorizedError struct {
	Detail string
}

func (e *UnauthorizedError) Error() string {
	if e.Detail == "" {
		return "unauthorized"
	}
	return "unauthorized: " + e.Detail
}

// NetworkError is returned when no response was received
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ServerError is returned on 5xx responses
type ServerError struct {
	Status int
	Detail string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.Status, e.Detail)
}

// errorFromResponse maps a non-2xx status and body to a typed error
func errorFromResponse(status int, body []byte) error {
	detail := parseDetail(status, body)
	switch {
	case status == http.StatusUnauthorized:
		return &UnauthorizedError{Detail: detail}
	case status >= 400 && status < 500:
		return &ValidationError{Status: status, Detail: detail}
	default:
		return &ServerError{Status: status, Detail: detail}
	}
}

// parseDetail extracts the server's {"detail": ...} message. The detail is
// either a string or a list of {"msg": ...} validation entries.
func parseDetail(status int, body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil && s != "" {
			return s
		}
		var entries []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(payload.Detail, &entries); err == nil {
			for _, e := range entries {
				if e.Msg != "" {
					return e.Msg
				}
			}
		}
	}

	if text := strings.TrimSpace(string(body)); text != "" && !strings.HasPrefix(text, "{") && len(text) < 200 {
		return text
	}
	return http.StatusText(status)
}

// UserMessage turns an API error into text suitable for a transient notification
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var validationErr *ValidationError
	var unauthorizedErr *UnauthorizedError
	var networkErr *NetworkError
	var serverErr *ServerError

	switch {
	case errors.As(err, &validationErr):
		return validationErr.Detail
	case errors.As(err, &unauthorizedErr):
		return "Please log in again."
	case errors.As(err, &networkErr):
		return "Network error, please retry."
	case errors.As(err, &serverErr):
		return serverErr.Detail
	default:
		return err.Error()
	}
}
