// ABOUTME: Media upload used by adapters to turn raw bytes into provider-visible URLs.
// ABOUTME: Inputs that already carry an absolute http(s) URL skip upload entirely.
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

// Uploader publishes binary media and returns an absolute URL referencing it.
type Uploader interface {
	Upload(ctx context.Context, data []byte, mimeType string) (string, error)
}

// HTTPUploader uploads media with a single PUT/POST to a storage endpoint
// that responds with JSON containing the public URL.
type HTTPUploader struct {
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
}

// NewHTTPUploader creates an uploader targeting the given storage endpoint.
func NewHTTPUploader(endpoint, apiKey string) *HTTPUploader {
	return &HTTPUploader{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Upload POSTs the payload and extracts the public URL from the response.
func (u *HTTPUploader) Upload(ctx context.Context, data []byte, mimeType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.Endpoint, bytes.NewReader(data))
	if err != nil {
		return "", &UploadError{Message: "creating upload request", Cause: err}
	}
	req.Header.Set("Content-Type", mimeType)
	if u.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+u.APIKey)
	}

	resp, err := u.HTTPClient.Do(req)
	if err != nil {
		return "", &UploadError{Message: "executing upload", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &UploadError{Message: "reading upload response", StatusCode: resp.StatusCode, Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &UploadError{
			Message:    fmt.Sprintf("upload rejected: %s", http.StatusText(resp.StatusCode)),
			StatusCode: resp.StatusCode,
		}
	}

	url := ExtractResultURLFromRaw(json.RawMessage(body))
	if url == "" {
		return "", &UploadError{Message: "upload response contains no URL", StatusCode: resp.StatusCode}
	}
	return url, nil
}

// EnsureURL resolves one input to an absolute URL, uploading its bytes when
// needed. Inputs that already reference an http(s) URL pass through
// unchanged, making repeated calls an idempotent no-op.
func EnsureURL(ctx context.Context, uploader Uploader, in Input) (string, error) {
	if isHTTPURL(in.URL) {
		return in.URL, nil
	}
	if len(in.Data) == 0 {
		return "", &ValidationError{Message: "input has neither URL nor data"}
	}
	if uploader == nil {
		return "", &UploadError{Message: "no uploader configured for binary input"}
	}

	mime := in.Mime
	if mime == "" {
		if in.Kind == InputVideo {
			mime = "video/mp4"
		} else {
			mime = "image/jpeg"
		}
	}
	return uploader.Upload(ctx, in.Data, mime)
}

// EnsureURLs resolves every input in order.
func EnsureURLs(ctx context.Context, uploader Uploader, inputs []Input) ([]string, error) {
	urls := make([]string, 0, len(inputs))
	for _, in := range inputs {
		url, err := EnsureURL(ctx, uploader, in)
		if err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, nil
}
