// Package richtext finds and rewrites image sources in rich-text HTML bodies.
//
// Bodies come from a WYSIWYG editor and are frequently not well-formed.
// Scanning never fails: whatever the tokenizer cannot consume is returned as
// Tail so callers can decide how to treat it.
package richtext

import (
	"strings"

	"golang.org/x/net/html"
)

// Image is one image source found in a body.
type Image struct {
	Tag   string // img or source
	Attr  string // src, data-src or srcset
	Value string // for srcset, one candidate URL
}

// Result is the outcome of Scan.
type Result struct {
	Images []Image

	// Mentions are attribute values, text and comments that contain the marker
	// outside an image source position.
	Mentions []string

	// Tail is the suffix of the body the tokenizer could not turn into tokens,
	// usually an unterminated tag.
	Tail string
}

func isImageAttr(tag, attr string) bool {
	switch tag {
	case "img":
		return attr == "src" || attr == "data-src" || attr == "srcset"
	case "source":
		return attr == "src" || attr == "srcset"
	}
	return false
}

// Scan tokenizes body and collects image sources. Values of other attributes,
// text and comments are reported as mentions when they contain marker.
func Scan(body, marker string) Result {
	var res Result
	z := html.NewTokenizer(strings.NewReader(body))
	offset := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		offset += len(z.Raw())
		tok := z.Token()
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			for _, a := range tok.Attr {
				if isImageAttr(tok.Data, a.Key) {
					if a.Key == "srcset" {
						for _, u := range SrcsetURLs(a.Val) {
							res.Images = append(res.Images, Image{Tag: tok.Data, Attr: a.Key, Value: u})
						}
						continue
					}
					res.Images = append(res.Images, Image{Tag: tok.Data, Attr: a.Key, Value: a.Val})
					continue
				}
				if marker != "" && strings.Contains(a.Val, marker) {
					res.Mentions = append(res.Mentions, a.Val)
				}
			}
		case html.TextToken, html.CommentToken:
			if marker != "" && strings.Contains(tok.Data, marker) {
				res.Mentions = append(res.Mentions, tok.Data)
			}
		}
	}
	if offset < len(body) {
		res.Tail = body[offset:]
	}
	return res
}

// SrcsetURLs returns the candidate URLs of a srcset attribute value.
func SrcsetURLs(v string) []string {
	var out []string
	for _, candidate := range strings.Split(v, ",") {
		fields := strings.Fields(candidate)
		if len(fields) == 0 {
			continue
		}
		out = append(out, fields[0])
	}
	return out
}

// RewriteImages calls fn for the src and data-src of every img element and
// replaces the value with the one returned. Tags that are not changed, and
// any unparsed tail, are copied byte for byte.
func RewriteImages(body string, fn func(Image) (string, error)) (string, error) {
	var b strings.Builder
	b.Grow(len(body))

	z := html.NewTokenizer(strings.NewReader(body))
	offset := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		// Token unescapes in place, so the raw bytes are copied first.
		raw := string(z.Raw())
		offset += len(raw)
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			b.WriteString(raw)
			continue
		}
		tok := z.Token()
		if tok.Data != "img" {
			b.WriteString(raw)
			continue
		}
		changed := false
		for i, a := range tok.Attr {
			if a.Namespace != "" || (a.Key != "src" && a.Key != "data-src") {
				continue
			}
			v, err := fn(Image{Tag: tok.Data, Attr: a.Key, Value: a.Val})
			if err != nil {
				return "", err
			}
			if v != a.Val {
				tok.Attr[i].Val = v
				changed = true
			}
		}
		if changed {
			b.WriteString(tok.String())
		} else {
			b.WriteString(raw)
		}
	}
	b.WriteString(body[offset:])
	return b.String(), nil
}
