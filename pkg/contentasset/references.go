package contentasset

import (
	"strings"
)

// DefaultAssetPrefix is the path under which managed assets are addressed.
const DefaultAssetPrefix = "/uploads/"

// SourceKind classifies an image source value.
type SourceKind int

const (
	SourceEmpty SourceKind = iota
	SourceInline
	SourceManaged
	SourceExternal
	SourceAmbiguous
)

func (k SourceKind) String() string {
	switch k {
	case SourceEmpty:
		return "empty"
	case SourceInline:
		return "inline"
	case SourceManaged:
		return "managed"
	case SourceExternal:
		return "external"
	default:
		return "ambiguous"
	}
}

// ReferencePolicy is the addressing convention of managed assets.
//
// A reference is Prefix followed by an object key. Absolute URLs whose origin
// is one of PublicBaseURLs (for example http://localhost:3001) are accepted
// as spellings of the path they point at.
type ReferencePolicy struct {
	Prefix         string
	PublicBaseURLs []string
}

// DefaultReferencePolicy returns the /uploads/ convention with no public origins.
func DefaultReferencePolicy() ReferencePolicy {
	return ReferencePolicy{Prefix: DefaultAssetPrefix}
}

func (p ReferencePolicy) prefix() string {
	prefix := p.Prefix
	if prefix == "" {
		prefix = DefaultAssetPrefix
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

// Marker is the substring every managed reference contains.
func (p ReferencePolicy) Marker() string {
	return p.prefix()
}

// Reference builds the reference for an object key.
func (p ReferencePolicy) Reference(key string) string {
	return p.prefix() + strings.TrimLeft(key, "/")
}

// Key returns the object key behind a managed reference.
func (p ReferencePolicy) Key(ref string) (string, bool) {
	ref, kind := p.Classify(ref)
	if kind != SourceManaged {
		return "", false
	}
	return strings.TrimPrefix(ref, p.prefix()), true
}

// Classify decides what a raw source value points at and, for managed
// sources, returns the normalized reference.
func (p ReferencePolicy) Classify(raw string) (string, SourceKind) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", SourceEmpty
	}
	if IsInlinePayload(s) {
		return "", SourceInline
	}
	prefix := p.prefix()
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			if strings.Contains(s, prefix) {
				return "", SourceAmbiguous
			}
			return "", SourceExternal
		}
	}

	path := s
	switch {
	case strings.HasPrefix(s, "//"):
		return "", SourceExternal
	case hasScheme(s):
		rest, ok := p.stripOrigin(s)
		if !ok {
			return "", SourceExternal
		}
		path = rest
	}

	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, prefix) {
		if strings.Contains(path, prefix) && !strings.HasPrefix(path, "/") {
			// relative spelling such as ../uploads/a.png
			return "", SourceAmbiguous
		}
		return "", SourceExternal
	}
	key := path[len(prefix):]
	if !safeKey(key) {
		return "", SourceAmbiguous
	}
	return prefix + key, SourceManaged
}

func (p ReferencePolicy) stripOrigin(s string) (string, bool) {
	lower := strings.ToLower(s)
	for _, base := range p.PublicBaseURLs {
		base = strings.ToLower(strings.TrimRight(strings.TrimSpace(base), "/"))
		if base == "" {
			continue
		}
		if strings.HasPrefix(lower, base+"/") {
			return s[len(base):], true
		}
	}
	return "", false
}

func hasScheme(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ':':
			return i > 0
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return false
}

func safeKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.ContainsAny(key, "\\") {
		return false
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

// mentions extracts every managed-looking token from free text: each
// occurrence of the marker extended by path characters.
func mentions(text, marker string) []string {
	var out []string
	for {
		i := strings.Index(text, marker)
		if i < 0 {
			return out
		}
		j := i + len(marker)
		for j < len(text) && isPathChar(text[j]) {
			j++
		}
		out = append(out, text[i:j])
		text = text[j:]
	}
}

func isPathChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '/', '~', '%', '+', '@', '!', '$', '=', ':':
		return true
	}
	return false
}
