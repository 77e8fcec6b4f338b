package widget

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/client"
)

type FailureKind string

const (
	NetworkUnavailable FailureKind = "network_unavailable"
	Timeout            FailureKind = "timeout"
	ClientError        FailureKind = "client_error"
	AuthExpired        FailureKind = "auth_expired"
	ServerError        FailureKind = "server_error"
	MalformedResponse  FailureKind = "malformed_response"
)

// FetchError is the classified cause of a failed fetch attempt.
type FetchError struct {
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (HTTP %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed. A 403 is never
// retried here; the controller handles it with a token refresh.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case MalformedResponse, NetworkUnavailable, Timeout:
		return true
	case AuthExpired:
		return false
	}
	return ShouldRetry(e.StatusCode, nil)
}

// UserMessage is the text shown in the error panel for a terminal failure.
func (e *FetchError) UserMessage() string {
	switch {
	case e.Kind == NetworkUnavailable:
		return "Unable to connect. Please check your internet connection and try again."
	case e.Kind == Timeout:
		return "The request timed out. Please try again."
	case e.Kind == AuthExpired:
		return "Your session has expired. Please refresh the page."
	case e.StatusCode == http.StatusNotFound:
		return "The posts service could not be found. Please contact support."
	case e.Kind == ServerError:
		return "The server encountered an error. Please try again later."
	case e.Kind == MalformedResponse:
		return "The server returned an unexpected response. Please try again later."
	}
	return "Unable to load posts. Please try again."
}

// ShouldRetry decides whether a failure with the given status, or with a
// transport error and no status, is worth another attempt.
func ShouldRetry(status int, transportErr error) bool {
	if transportErr != nil || status == 0 {
		return true
	}
	if status == http.StatusRequestTimeout {
		return true
	}
	if status >= 400 && status <= 499 {
		return false
	}
	return status >= 500
}

// Classify converts a fetch failure into a FetchError.
func Classify(err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}

	var statusErr *client.StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.StatusCode, err)
	}

	if errors.Is(err, client.ErrNotModifiedWithoutBody) {
		return &FetchError{Kind: MalformedResponse, StatusCode: http.StatusNotModified, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: Timeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Kind: Timeout, Err: err}
	}

	return &FetchError{Kind: NetworkUnavailable, Err: err}
}

func classifyStatus(status int, err error) *FetchError {
	switch {
	case status == http.StatusForbidden:
		return &FetchError{Kind: AuthExpired, StatusCode: status, Err: err}
	case status == http.StatusRequestTimeout:
		return &FetchError{Kind: Timeout, StatusCode: status, Err: err}
	case status >= 400 && status <= 499:
		return &FetchError{Kind: ClientError, StatusCode: status, Err: err}
	case status >= 500:
		return &FetchError{Kind: ServerError, StatusCode: status, Err: err}
	}
	return &FetchError{Kind: MalformedResponse, StatusCode: status, Err: err}
}

func malformed(err error) *FetchError {
	return &FetchError{Kind: MalformedResponse, Err: err}
}
