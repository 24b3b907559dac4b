package contentasset

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxInlineBytes caps the decoded size of one inline payload.
const DefaultMaxInlineBytes = 5 << 20

// DefaultImageTypes maps accepted image content types to file extensions.
var DefaultImageTypes = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/avif":    ".avif",
	"image/svg+xml": ".svg",
}

// InlinePayload is a decoded data URI
type InlinePayload struct {
	ContentType string
	Data        []byte
}

// IsInlinePayload reports whether s is an inline data payload rather than a URL.
func IsInlinePayload(s string) bool {
	s = strings.TrimSpace(s)
	return len(s) >= 5 && strings.EqualFold(s[:5], "data:")
}

// PayloadPolicy decides which inline payloads and direct uploads are accepted.
type PayloadPolicy struct {
	MaxBytes     int
	AllowedTypes map[string]string
}

// DefaultPayloadPolicy returns the 5 MiB image policy.
func DefaultPayloadPolicy() PayloadPolicy {
	return PayloadPolicy{MaxBytes: DefaultMaxInlineBytes, AllowedTypes: DefaultImageTypes}
}

func (p PayloadPolicy) maxBytes() int {
	if p.MaxBytes <= 0 {
		return DefaultMaxInlineBytes
	}
	return p.MaxBytes
}

func (p PayloadPolicy) allowed() map[string]string {
	if len(p.AllowedTypes) == 0 {
		return DefaultImageTypes
	}
	return p.AllowedTypes
}

// Extension returns the file extension for an accepted content type.
func (p PayloadPolicy) Extension(contentType string) string {
	return p.allowed()[contentType]
}

// Decode parses a base64 data URI and validates it with Check.
func (p PayloadPolicy) Decode(raw string) (*InlinePayload, error) {
	raw = strings.TrimSpace(raw)
	if !IsInlinePayload(raw) {
		return nil, fmt.Errorf("%w: not a data URI", ErrInvalidPayload)
	}
	comma := strings.IndexByte(raw, ',')
	if comma < 0 {
		return nil, fmt.Errorf("%w: missing data separator", ErrInvalidPayload)
	}
	params := strings.Split(raw[5:comma], ";")
	declared := strings.ToLower(strings.TrimSpace(params[0]))
	isBase64 := false
	for _, param := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(param), "base64") {
			isBase64 = true
		}
	}
	if !isBase64 {
		return nil, fmt.Errorf("%w: only base64 payloads are accepted", ErrInvalidPayload)
	}

	encoded := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, raw[comma+1:])
	if base64.StdEncoding.DecodedLen(len(encoded)) > p.maxBytes()+2 {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrInvalidPayload, p.maxBytes())
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}

	contentType, err := p.Check(data, declared)
	if err != nil {
		return nil, err
	}
	return &InlinePayload{ContentType: contentType, Data: data}, nil
}

// Check validates raw image bytes against the policy and returns the content
// type to store them under. An empty declared type is taken from the bytes.
func (p PayloadPolicy) Check(data []byte, declared string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	if len(data) > p.maxBytes() {
		return "", fmt.Errorf("%w: payload exceeds %d bytes", ErrInvalidPayload, p.maxBytes())
	}
	detected := mimetype.Detect(data)
	if declared == "" {
		declared = detected.String()
		if i := strings.IndexByte(declared, ';'); i >= 0 {
			declared = declared[:i]
		}
	}
	if _, ok := p.allowed()[declared]; !ok {
		return "", fmt.Errorf("%w: content type %q is not accepted", ErrInvalidPayload, declared)
	}
	if !detected.Is(declared) {
		return "", fmt.Errorf("%w: declared %s but content is %s", ErrInvalidPayload, declared, detected.String())
	}
	return declared, nil
}
