// ABOUTME: Tests for shared adapter HTTP plumbing: auth headers, error conversion, request ids.
package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDoRequestAuthSchemes(t *testing.T) {
	tests := []struct {
		name   string
		scheme string
		want   string
	}{
		{"default bearer", "", "Bearer secret"},
		{"key scheme", "Key", "Key secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuth string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				w.Write([]byte(`{}`))
			}))
			defer server.Close()

			b := NewBaseAdapter("test", "secret", server.URL)
			b.AuthScheme = tt.scheme
			resp, err := b.DoRequest(context.Background(), http.MethodGet, "/x", nil)
			if err != nil {
				t.Fatalf("DoRequest() error = %v", err)
			}
			resp.Body.Close()
			if gotAuth != tt.want {
				t.Errorf("Authorization = %q, want %q", gotAuth, tt.want)
			}
		})
	}
}

func TestDecodeJSONProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-request-id", "req-abc")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error": {"message": "prompt too long"}}`))
	}))
	defer server.Close()

	b := NewBaseAdapter("test", "", server.URL)
	resp, err := b.DoRequest(context.Background(), http.MethodPost, "/gen", map[string]any{"prompt": "x"})
	if err != nil {
		t.Fatalf("DoRequest() error = %v", err)
	}
	_, err = b.DecodeJSON(resp, nil)

	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("DecodeJSON() error = %v, want *ProviderError", err)
	}
	if perr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("StatusCode = %d", perr.StatusCode)
	}
	if perr.Message != "prompt too long" {
		t.Errorf("Message = %q", perr.Message)
	}
	if perr.RequestID != "req-abc" {
		t.Errorf("RequestID = %q", perr.RequestID)
	}
	if len(perr.Raw) == 0 {
		t.Error("Raw body not captured")
	}
}

func TestDecodeJSONMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{truncated`))
	}))
	defer server.Close()

	b := NewBaseAdapter("test", "", server.URL)
	resp, err := b.DoRequest(context.Background(), http.MethodGet, "/x", nil)
	if err != nil {
		t.Fatalf("DoRequest() error = %v", err)
	}
	var out map[string]any
	_, err = b.DecodeJSON(resp, &out)

	var merr *MalformedResponseError
	if !errors.As(err, &merr) {
		t.Fatalf("DecodeJSON() error = %v, want *MalformedResponseError", err)
	}
}

func TestProviderErrorFormat(t *testing.T) {
	tests := []struct {
		name string
		err  ProviderError
		want string
	}{
		{
			name: "full",
			err:  ProviderError{Provider: "fal", Message: "bad input", StatusCode: 400, RequestID: "r1"},
			want: "fal: bad input (status 400, request r1)",
		},
		{
			name: "no request id",
			err:  ProviderError{Provider: "fal", Message: "bad input", StatusCode: 400},
			want: "fal: bad input (status 400)",
		},
		{
			name: "job-level failure without http status",
			err:  ProviderError{Provider: "kling", Message: "content policy"},
			want: "kling: content policy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}
