package contentasset

import (
	"sort"
	"strings"

	"github.com/pdisakar/content-assets/pkg/contentasset/richtext"
)

// Extraction is the set of references a Content points to.
type Extraction struct {
	// References holds every managed reference reachable from the content.
	References ReferenceSet

	// Linked holds references that only appear outside image positions
	// (links, inline styles, free fields). They keep assets alive but are not
	// required to exist.
	Linked ReferenceSet

	// Ambiguous holds fragments that might contain a reference but could not
	// be parsed. Any reference they contain is treated as still in use.
	Ambiguous []string
}

// Protects reports whether an ambiguous fragment could be hiding ref.
func (e Extraction) Protects(ref string) bool {
	for _, frag := range e.Ambiguous {
		if strings.Contains(frag, ref) {
			return true
		}
	}
	return false
}

// Extractor computes the ReferenceSet of content. It does no I/O.
type Extractor struct {
	policy ReferencePolicy
}

// NewExtractor creates an extractor for the given addressing convention.
func NewExtractor(policy ReferencePolicy) *Extractor {
	return &Extractor{policy: policy}
}

// Policy returns the addressing convention.
func (x *Extractor) Policy() ReferencePolicy {
	return x.policy
}

// Extract returns the references held by c. Slots, galleries and body image
// sources are references when they are managed paths; inline payloads and
// external URLs are not.
func (x *Extractor) Extract(c Content) Extraction {
	ex := Extraction{References: NewReferenceSet(), Linked: NewReferenceSet()}
	linked := NewReferenceSet()
	marker := x.policy.Marker()

	image := func(v string) {
		ref, kind := x.policy.Classify(v)
		switch kind {
		case SourceManaged:
			ex.References.Add(ref)
		case SourceAmbiguous:
			ex.Ambiguous = append(ex.Ambiguous, v)
		}
	}

	for _, name := range sortedKeys(c.Slots) {
		image(c.Slots[name])
	}
	for _, name := range sortedKeys(c.Galleries) {
		for _, v := range c.Galleries[name] {
			image(v)
		}
	}

	if c.Body != "" {
		scan := richtext.Scan(c.Body, marker)
		for _, img := range scan.Images {
			image(img.Value)
		}
		for _, m := range scan.Mentions {
			x.mention(m, linked, &ex)
		}
		if scan.Tail != "" && strings.Contains(scan.Tail, marker) {
			ex.Ambiguous = append(ex.Ambiguous, scan.Tail)
			for _, tok := range mentions(scan.Tail, marker) {
				if ref, kind := x.policy.Classify(trimMention(tok)); kind == SourceManaged {
					linked.Add(ref)
				}
			}
		}
	}

	walkStrings(c.Fields, func(s string) {
		if strings.Contains(s, marker) {
			x.mention(s, linked, &ex)
		}
	})

	for ref := range linked {
		if !ex.References.Has(ref) {
			ex.Linked.Add(ref)
		}
	}
	for ref := range ex.Linked {
		ex.References.Add(ref)
	}
	return ex
}

func (x *Extractor) mention(s string, linked ReferenceSet, ex *Extraction) {
	if ref, kind := x.policy.Classify(s); kind == SourceManaged {
		linked.Add(ref)
		return
	}
	for _, tok := range mentions(s, x.policy.Marker()) {
		ref, kind := x.policy.Classify(trimMention(tok))
		switch kind {
		case SourceManaged:
			linked.Add(ref)
		case SourceAmbiguous:
			ex.Ambiguous = append(ex.Ambiguous, tok)
		}
	}
}

// trimMention drops sentence punctuation that ends a reference written in text.
func trimMention(s string) string {
	return strings.TrimRight(s, ".,;:!")
}

func walkStrings(v interface{}, fn func(string)) {
	switch t := v.(type) {
	case string:
		fn(t)
	case []interface{}:
		for _, e := range t {
			walkStrings(e, fn)
		}
	case []string:
		for _, e := range t {
			fn(e)
		}
	case map[string]interface{}:
		for _, k := range sortedKeys(t) {
			walkStrings(t[k], fn)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
