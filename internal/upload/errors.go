package upload

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Category classifies an upload failure for the persisted error message and
// for retry decisions.
type Category string

const (
	Unauthorized      Category = "unauthorized"
	NotFound          Category = "not_found"
	ClientError       Category = "client_error"
	ServerError       Category = "server_error"
	Timeout           Category = "timeout"
	HostUnreachable   Category = "host_unreachable"
	MalformedResponse Category = "malformed_response"
)

// Error is a categorized upload failure. The message is what gets persisted
// on the upload state and shown on the sync status screen.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// AsUploadError extracts a categorized upload error.
func AsUploadError(err error) (*Error, bool) {
	var ue *Error
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// errorFromStatus maps a non-2xx HTTP status to a categorized error.
func errorFromStatus(code int) *Error {
	switch {
	case code == 401 || code == 403:
		return &Error{Category: Unauthorized, Message: "server rejected the API key"}
	case code == 404:
		return &Error{Category: NotFound, Message: "sync endpoint not found, check the server URL"}
	case code >= 400 && code < 500:
		return &Error{Category: ClientError, Message: fmt.Sprintf("server rejected the upload (HTTP %d)", code)}
	default:
		return &Error{Category: ServerError, Message: fmt.Sprintf("server error (HTTP %d)", code)}
	}
}

// errorFromTransport maps a transport-level failure to a categorized error.
func errorFromTransport(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Category: Timeout, Message: "request timed out", Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Category: Timeout, Message: "request timed out", Err: err}
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return &Error{Category: Timeout, Message: "request timed out", Err: err}
	}
	return &Error{Category: HostUnreachable, Message: "server unreachable", Err: err}
}
