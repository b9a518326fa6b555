// ABOUTME: Tests for result-URL extraction across flat, nested, listed, and cyclic JSON shapes.
package provider

import (
	"encoding/json"
	"testing"
)

func TestExtractResultURLShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "flat url field",
			raw:  `{"url": "https://cdn.example.com/out.png"}`,
			want: "https://cdn.example.com/out.png",
		},
		{
			name: "scalar beats list beats container",
			raw: `{
				"video_url": "https://cdn.example.com/scalar.mp4",
				"images": [{"url": "https://cdn.example.com/list.png"}],
				"data": {"url": "https://cdn.example.com/container.png"}
			}`,
			want: "https://cdn.example.com/scalar.mp4",
		},
		{
			name: "list of url strings",
			raw:  `{"image_urls": ["https://cdn.example.com/a.png", "https://cdn.example.com/b.png"]}`,
			want: "https://cdn.example.com/a.png",
		},
		{
			name: "list of objects",
			raw:  `{"videos": [{"url": "https://cdn.example.com/v.mp4"}]}`,
			want: "https://cdn.example.com/v.mp4",
		},
		{
			name: "deeply nested container chain",
			raw:  `{"result": {"output": {"items": [{"video_url": "https://cdn.example.com/deep.mp4"}]}}}`,
			want: "https://cdn.example.com/deep.mp4",
		},
		{
			name: "json encoded as string value",
			raw:  `{"data": "{\"url\": \"https://cdn.example.com/inner.png\"}"}`,
			want: "https://cdn.example.com/inner.png",
		},
		{
			name: "non-http scheme rejected",
			raw:  `{"url": "ftp://cdn.example.com/out.png"}`,
			want: "",
		},
		{
			name: "relative path rejected",
			raw:  `{"url": "/files/out.png"}`,
			want: "",
		},
		{
			name: "unknown field names ignored",
			raw:  `{"location": "https://cdn.example.com/out.png"}`,
			want: "",
		},
		{
			name: "empty object",
			raw:  `{}`,
			want: "",
		},
		{
			name: "top-level array",
			raw:  `[{"url": "https://cdn.example.com/first.png"}]`,
			want: "https://cdn.example.com/first.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractResultURLFromRaw(json.RawMessage(tt.raw))
			if got != tt.want {
				t.Errorf("ExtractResultURLFromRaw() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractResultURLCyclicStructure(t *testing.T) {
	// Decoded JSON can never be cyclic, but callers may pass hand-built
	// maps. The search must terminate rather than recurse forever.
	inner := map[string]any{}
	outer := map[string]any{"data": inner}
	inner["result"] = outer

	if got := ExtractResultURL(outer); got != "" {
		t.Errorf("ExtractResultURL(cyclic) = %q, want empty", got)
	}
}

func TestExtractResultURLSharedSubtree(t *testing.T) {
	// The same map reachable twice is only searched once, but a URL in a
	// sibling branch is still found.
	shared := map[string]any{"note": "no url here"}
	root := map[string]any{
		"data":   shared,
		"result": map[string]any{"data": shared, "url": "https://cdn.example.com/out.png"},
	}
	if got := ExtractResultURL(root); got != "https://cdn.example.com/out.png" {
		t.Errorf("ExtractResultURL(shared subtree) = %q", got)
	}
}

func TestExtractResultURLFromRawInvalidJSON(t *testing.T) {
	if got := ExtractResultURLFromRaw(json.RawMessage(`{not json`)); got != "" {
		t.Errorf("expected empty result for invalid JSON, got %q", got)
	}
}
