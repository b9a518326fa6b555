// ABOUTME: Depth-first extraction of the first plausible media URL from an arbitrary JSON response.
// ABOUTME: Tries named scalar fields, named list fields, then nested containers, with a visited guard.
package provider

import (
	"encoding/json"
	"reflect"
	"strings"
)

// Candidate field names holding a URL string directly, in priority order.
var urlFields = []string{
	"url", "file_url", "result_url", "video_url", "image_url",
	"output_url", "download_url", "uri",
}

// Candidate field names holding a list whose first element is searched.
var urlListFields = []string{
	"urls", "file_urls", "result_urls", "video_urls", "image_urls",
	"videos", "images", "files", "items", "outputs",
}

// Container field names recursed into after the named candidates miss.
var containerFields = []string{"data", "result", "output", "response", "task_result"}

// ExtractResultURL searches decoded JSON for the first plausible http(s) URL.
// The search order is: candidate scalar fields, candidate list fields (first
// element), then nested containers, including fields holding JSON encoded as
// a string. Returns "" when nothing matches; it never errors.
func ExtractResultURL(v any) string {
	return extractURL(v, make(map[uintptr]bool))
}

// ExtractResultURLFromRaw decodes raw JSON and searches it.
func ExtractResultURLFromRaw(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return ExtractResultURL(v)
}

func extractURL(v any, visited map[uintptr]bool) string {
	switch val := v.(type) {
	case string:
		if isHTTPURL(val) {
			return val
		}
		// A string field may itself hold JSON that must be parsed before
		// continuing the search.
		if looksLikeJSON(val) {
			var nested any
			if err := json.Unmarshal([]byte(val), &nested); err == nil {
				return extractURL(nested, visited)
			}
		}
		return ""

	case map[string]any:
		if !markVisited(val, visited) {
			return ""
		}
		for _, field := range urlFields {
			if s, ok := val[field].(string); ok && isHTTPURL(s) {
				return s
			}
		}
		for _, field := range urlListFields {
			if list, ok := val[field].([]any); ok && len(list) > 0 {
				if url := extractURL(list[0], visited); url != "" {
					return url
				}
			}
		}
		for _, field := range containerFields {
			if inner, ok := val[field]; ok {
				if url := extractURL(inner, visited); url != "" {
					return url
				}
			}
		}
		return ""

	case []any:
		if !markVisited(val, visited) {
			return ""
		}
		for _, inner := range val {
			if url := extractURL(inner, visited); url != "" {
				return url
			}
		}
		return ""

	default:
		return ""
	}
}

// markVisited records container identity, returning false if already seen.
// This terminates the search on cyclic or self-referential structures.
func markVisited(container any, visited map[uintptr]bool) bool {
	ptr := reflect.ValueOf(container).Pointer()
	if visited[ptr] {
		return false
	}
	visited[ptr] = true
	return true
}

// isHTTPURL accepts only absolute http(s) URLs.
func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// looksLikeJSON is a cheap pre-check before attempting a nested parse.
func looksLikeJSON(s string) bool {
	trimmed := strings.TrimSpace(s)
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}
