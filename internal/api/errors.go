package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Category classifies a failed call for the user.
type Category string

const (
	CategoryAuth            Category = "auth"
	CategoryPayloadTooLarge Category = "payload_too_large"
	CategoryNetwork         Category = "network"
	CategoryForbidden       Category = "forbidden"
	CategoryServer          Category = "server"
	CategoryUnknown         Category = "unknown"
)

// User-facing messages.
const (
	MsgSessionExpired = "Session expired. Please login again."
	MsgFileTooLarge   = "File is too large."
	MsgNetworkLost    = "Network connection lost during upload. File may be too large for mobile data."
	MsgAnalysisFailed = "Analysis failed. Please try a different file."
)

// Error is a failed backend call.
type Error struct {
	Category Category
	Status   int    // HTTP status, 0 when no response was received
	Detail   string // backend-provided detail, if any
	Method   string
	Path     string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s", e.Method, e.Path, e.Category)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Detail != "" {
		b.WriteString(": " + e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CategoryOf returns the category of err, or CategoryUnknown.
func CategoryOf(err error) Category {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Category
	}
	return CategoryUnknown
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	return CategoryOf(err) == CategoryAuth
}

// IsNetwork reports whether err is a network failure or timeout.
func IsNetwork(err error) bool {
	return CategoryOf(err) == CategoryNetwork
}

// UserMessage returns the message shown for a failed call.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return MsgAnalysisFailed
	}
	switch apiErr.Category {
	case CategoryAuth:
		return MsgSessionExpired
	case CategoryPayloadTooLarge:
		return MsgFileTooLarge
	case CategoryNetwork:
		return MsgNetworkLost
	case CategoryForbidden, CategoryServer:
		detail := apiErr.Detail
		if detail == "" {
			detail = "Unknown"
		}
		return "Server Error: " + detail
	default:
		return MsgAnalysisFailed
	}
}

// LoginMessage returns the message shown when sign-in fails.
func LoginMessage(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		if apiErr.Category == CategoryNetwork {
			return MsgNetworkLost
		}
		if apiErr.Detail != "" {
			return "Error: " + apiErr.Detail
		}
	}
	return "Error: Invalid Credentials"
}

// categorize maps a response status onto a category.
func categorize(status int) Category {
	switch {
	case status == http.StatusUnauthorized:
		return CategoryAuth
	case status == http.StatusRequestEntityTooLarge:
		return CategoryPayloadTooLarge
	case status == http.StatusForbidden:
		return CategoryForbidden
	default:
		return CategoryServer
	}
}

// isNetworkError reports whether err came from the transport rather than
// the server: refused connections, resets, DNS failures and timeouts.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// parseDetail extracts FastAPI's {"detail": ...}. Validation errors carry
// a list of objects with a msg field.
func parseDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return s
	}

	var list []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &list); err == nil {
		msgs := make([]string, 0, len(list))
		for _, item := range list {
			if item.Msg != "" {
				msgs = append(msgs, item.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}

	return string(envelope.Detail)
}
