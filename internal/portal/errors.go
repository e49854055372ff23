package portal

import (
	"context"
	"errors"
	"fmt"

	"github.com/kingrea/campus/internal/session"
)

// User-facing texts for the error taxonomy.
const (
	MessageNetwork      = "通信エラーが発生しました"
	MessageGeneric      = "エラーが発生しました"
	MessageUnauthorized = "ログインしてください"
	MessageExpired      = "ログインの有効期限が切れました。再度ログインしてください"
)

// ErrUnauthorized is returned when no usable session exists or the portal
// answered 401. In the latter case the stored session has been cleared.
var ErrUnauthorized = errors.New("portal: unauthorized")

// NetworkError wraps a transport failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("portal: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx response other than 401.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("portal: %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("portal: %s: status %d: %s", e.Op, e.Status, e.Message)
}

// UserMessage maps err to the transient text shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	var netErr *NetworkError
	switch {
	case errors.Is(err, session.ErrExpired):
		return MessageExpired
	case errors.Is(err, ErrUnauthorized), errors.Is(err, session.ErrNoSession):
		return MessageUnauthorized
	case errors.As(err, &apiErr):
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return MessageGeneric
	case errors.As(err, &netErr), errors.Is(err, context.DeadlineExceeded):
		return MessageNetwork
	}
	return MessageGeneric
}

// IsUnauthorized reports whether err means the user must log in again.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, session.ErrNoSession) ||
		errors.Is(err, session.ErrExpired)
}
