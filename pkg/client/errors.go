package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents transport failures (timeout, refused connection).
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassAuth represents 401 responses and failed logins.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassClient represents 4xx errors other than 401.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx errors.
	ErrorClassServer ErrorClass = "server"
)

// ErrNoData is returned by callers that need to turn a missing payload into an error.
var ErrNoData = errors.New("no data")

// APIError describes a failed API call for surfaces that report errors to users.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("E.ON %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("E.ON %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps a status code from the request executor to an error
// class. Status 0 means the request never produced a response. Returns "" for
// successful statuses.
func ClassifyStatus(status int) ErrorClass {
	switch {
	case status == 0:
		return ErrorClassNetwork
	case status == http.StatusUnauthorized:
		return ErrorClassAuth
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
