package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Sternrassler/jira-search-client/pkg/ratelimit"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrUnauthorized matches 401 responses.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound matches 404 responses.
	ErrNotFound = errors.New("not found")

	// ErrMethodNotAllowed matches 405 responses.
	ErrMethodNotAllowed = errors.New("method not allowed")

	// ErrRateLimited matches 429 responses and requests refused by the rate limit tracker.
	ErrRateLimited = ratelimit.ErrRateLimited
)

// JiraError is an error response from Jira.
type JiraError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string

	// ErrorMessages and Errors are decoded from the standard Jira error body.
	ErrorMessages []string
	Errors        map[string]string

	// RetryAfter is the server's requested delay, if it sent one.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (e *JiraError) Error() string {
	msg := fmt.Sprintf("jira %s error (status %d): %s", e.ErrorClass, e.StatusCode, e.Message)
	if details := e.details(); details != "" {
		msg += ": " + details
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *JiraError) details() string {
	parts := append([]string(nil), e.ErrorMessages...)
	fields := make([]string, 0, len(e.Errors))
	for field := range e.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		parts = append(parts, field+": "+e.Errors[field])
	}
	return strings.Join(parts, "; ")
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *JiraError) Unwrap() error {
	return e.Err
}

// Is maps well-known status codes to the package sentinels.
func (e *JiraError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrMethodNotAllowed:
		return e.StatusCode == http.StatusMethodNotAllowed
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

// newJiraError builds a JiraError from a response status and body.
func newJiraError(resp *http.Response, body []byte) *JiraError {
	e := &JiraError{
		StatusCode: resp.StatusCode,
		ErrorClass: classifyStatus(resp.StatusCode),
		Message:    http.StatusText(resp.StatusCode),
	}
	if e.Message == "" {
		e.Message = resp.Status
	}

	var payload struct {
		ErrorMessages []string          `json:"errorMessages"`
		Errors        map[string]string `json:"errors"`
		Message       string            `json:"message"`
	}
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil {
		e.ErrorMessages = payload.ErrorMessages
		e.Errors = payload.Errors
		if payload.Message != "" {
			e.ErrorMessages = append(e.ErrorMessages, payload.Message)
		}
	}

	if v := resp.Header.Get("Retry-After"); v != "" {
		if d, ok := ratelimit.ParseRetryAfter(v, time.Now()); ok {
			e.RetryAfter = d
		}
	}

	return e
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx other than 429 will fail the same way again
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
