// ABOUTME: Error taxonomy for generation jobs: validation, upload, provider, malformed-response,
// ABOUTME: timeout, and cancellation errors, all matchable with errors.As.
package provider

import (
	"encoding/json"
	"fmt"
	"time"
)

// ValidationError means the caller supplied insufficient input before
// submission (e.g. a mode that needs two image parents got one).
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// UploadError means a media upload failed: a non-2xx status, or a response
// without a usable URL.
type UploadError struct {
	Message    string
	StatusCode int
	Cause      error
}

func (e *UploadError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *UploadError) Unwrap() error { return e.Cause }

// ProviderError is a non-2xx response from a provider's submit or poll
// endpoint, carrying the status code, raw body, and provider-assigned request
// id when one was present.
type ProviderError struct {
	Provider   string
	Message    string
	StatusCode int
	RequestID  string
	Raw        json.RawMessage
}

func (e *ProviderError) Error() string {
	switch {
	case e.RequestID != "":
		return fmt.Sprintf("%s: %s (status %d, request %s)", e.Provider, e.Message, e.StatusCode, e.RequestID)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
}

// MalformedResponseError means a provider response body could not be parsed,
// or a succeeded response carried no extractable result URL.
type MalformedResponseError struct {
	Message string
	Cause   error
}

func (e *MalformedResponseError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *MalformedResponseError) Unwrap() error { return e.Cause }

// TimeoutError means a job did not reach a terminal state within the
// configured wall-clock bound.
type TimeoutError struct {
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("generation timed out after %s", e.Elapsed.Round(time.Second))
}

// CancelledError means the user cancelled the job. It reflects intent, not
// failure: the dispatcher maps it to an Idle node, never an Error one.
type CancelledError struct{}

func (e *CancelledError) Error() string { return "generation cancelled" }
