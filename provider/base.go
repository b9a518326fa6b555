// ABOUTME: Shared HTTP plumbing for provider adapters: request building, JSON decoding,
// ABOUTME: and conversion of non-2xx responses into ProviderError values.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// requestIDHeaders are checked in order for a provider-assigned request id.
var requestIDHeaders = []string{"x-request-id", "request-id", "x-fal-request-id"}

// BaseAdapter provides common HTTP functionality shared across provider
// adapters. Concrete adapters embed it to reuse request building, auth
// headers, and error conversion.
type BaseAdapter struct {
	Provider       string
	APIKey         string
	BaseURL        string
	AuthScheme     string        // e.g. "Bearer", "Key"; empty defaults to Bearer
	AuthToken      func() string // overrides APIKey per request when set
	DefaultHeaders map[string]string
	HTTPClient     *http.Client
}

// NewBaseAdapter creates a BaseAdapter for the named provider.
func NewBaseAdapter(provider, apiKey, baseURL string) *BaseAdapter {
	return &BaseAdapter{
		Provider:       provider,
		APIKey:         apiKey,
		BaseURL:        baseURL,
		DefaultHeaders: make(map[string]string),
		HTTPClient:     &http.Client{Timeout: 60 * time.Second},
	}
}

// DoRequest builds and executes an HTTP request against the provider's API.
// The body (if non-nil) is JSON-encoded. The request respects the provided
// context for timeout and cancellation.
func (b *BaseAdapter) DoRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	url := b.BaseURL + path

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	token := b.APIKey
	if b.AuthToken != nil {
		token = b.AuthToken()
	}
	if token != "" {
		scheme := b.AuthScheme
		if scheme == "" {
			scheme = "Bearer"
		}
		httpReq.Header.Set("Authorization", scheme+" "+token)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range b.DefaultHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := b.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	return resp, nil
}

// DecodeJSON reads and closes the response body, returning the raw bytes and
// the parsed JSON. A non-2xx status becomes a ProviderError; an unparseable
// 2xx body becomes a MalformedResponseError.
func (b *BaseAdapter) DecodeJSON(resp *http.Response, out any) (json.RawMessage, error) {
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &MalformedResponseError{Message: "reading response body", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, b.ErrorFromResponse(resp, raw)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, &MalformedResponseError{Message: "response body is not valid JSON", Cause: err}
		}
	}
	return raw, nil
}

// ErrorFromResponse converts a non-2xx response into a ProviderError,
// extracting the provider request id header and a human-readable message from
// common error body shapes.
func (b *BaseAdapter) ErrorFromResponse(resp *http.Response, raw []byte) error {
	var requestID string
	for _, h := range requestIDHeaders {
		if v := resp.Header.Get(h); v != "" {
			requestID = v
			break
		}
	}

	message := extractErrorMessage(raw)
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return &ProviderError{
		Provider:   b.Provider,
		Message:    message,
		StatusCode: resp.StatusCode,
		RequestID:  requestID,
		Raw:        json.RawMessage(raw),
	}
}

// extractErrorMessage pulls a message out of the common provider error body
// shapes ({"error":{"message":...}}, {"message":...}, {"detail":...}).
func extractErrorMessage(raw []byte) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	switch {
	case body.Error.Message != "":
		return body.Error.Message
	case body.Message != "":
		return body.Message
	default:
		return body.Detail
	}
}
