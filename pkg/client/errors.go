package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrAuthFailed is returned when an ALM session could not be established.
	// No data can be fetched after this error.
	ErrAuthFailed = errors.New("alm authentication failed")

	// ErrCountUnavailable is returned when the total test count cannot be determined.
	ErrCountUnavailable = errors.New("alm test count unavailable")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than auth.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassAuth represents 401/403 responses (expired or missing session).
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport errors (DNS, TLS, reset, timeout).
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassUnexpected represents non-2xx statuses outside the ranges above.
	ErrorClassUnexpected ErrorClass = "unexpected"
)

// ALMError represents a failed ALM request with additional context.
type ALMError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ALMError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ALM %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("ALM %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ALMError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status to an ErrorClass. 2xx yields "".
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == 401 || status == 403:
		return ErrorClassAuth
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassUnexpected
	}
}
