// ABOUTME: Parsing of data: URIs into raw bytes plus MIME type.
// ABOUTME: Canvas uploads arrive as base64 data URIs; providers need decoded binary.
package media

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// IsDataURI reports whether s looks like a data: URI.
func IsDataURI(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// ParseDataURI decodes a data: URI into its payload and MIME type.
// Both base64 and percent-encoded payloads are supported. An omitted MIME
// type defaults to text/plain per RFC 2397.
func ParseDataURI(s string) (data []byte, mimeType string, err error) {
	if !IsDataURI(s) {
		return nil, "", fmt.Errorf("not a data URI")
	}

	rest := strings.TrimPrefix(s, "data:")
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("data URI missing comma separator")
	}

	base64Encoded := false
	for i, part := range strings.Split(meta, ";") {
		switch {
		case part == "base64":
			base64Encoded = true
		case i == 0:
			mimeType = part
		}
	}
	if mimeType == "" {
		mimeType = "text/plain"
	}

	if base64Encoded {
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", fmt.Errorf("decode base64 payload: %w", err)
		}
		return data, mimeType, nil
	}

	decoded, err := url.QueryUnescape(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode percent-encoded payload: %w", err)
	}
	return []byte(decoded), mimeType, nil
}
