package contentasset

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// EntityType is the domain type for the kinds of content that own assets.
type EntityType string

// Entity type constants (typed).
const (
	EntityTypeHomeContent EntityType = "home_content"
	EntityTypeArticle     EntityType = "article"
	EntityTypeBlog        EntityType = "blog"
	EntityTypePackage     EntityType = "package"
	EntityTypeTestimonial EntityType = "testimonial"
)

// LifecycleState is the domain type for entity lifecycle states.
type LifecycleState string

// Lifecycle state constants (typed).
const (
	StateActive  LifecycleState = "active"
	StateTrashed LifecycleState = "trashed"
	StateGone    LifecycleState = "gone"
)

// IsValid reports whether s is one of the known lifecycle states.
func (s LifecycleState) IsValid() bool {
	switch s {
	case StateActive, StateTrashed, StateGone:
		return true
	default:
		return false
	}
}

// Content is the asset-bearing part of an entity.
//
// Slots hold a single image each (banner, featured, avatar). Galleries hold
// an ordered list of images. Body is rich-text HTML. Fields carries every
// other attribute (title, slug, alt text, captions) and is persisted as-is.
//
// On input any image value may be an inline data payload; after a save every
// image value is a reference or an external URL.
type Content struct {
	Slots     map[string]string      `json:"slots,omitempty"`
	Galleries map[string][]string    `json:"galleries,omitempty"`
	Body      string                 `json:"body,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Clone returns a copy that shares no maps or slices with c.
func (c Content) Clone() Content {
	out := Content{Body: c.Body}
	if c.Slots != nil {
		out.Slots = make(map[string]string, len(c.Slots))
		for k, v := range c.Slots {
			out.Slots[k] = v
		}
	}
	if c.Galleries != nil {
		out.Galleries = make(map[string][]string, len(c.Galleries))
		for k, v := range c.Galleries {
			out.Galleries[k] = append([]string(nil), v...)
		}
	}
	if c.Fields != nil {
		out.Fields = make(map[string]interface{}, len(c.Fields))
		for k, v := range c.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// Entity is a persisted content row.
//
// References is the sorted ReferenceSet of Content as of the last save. It is
// kept alongside the content so repositories can answer "is this reference
// still used by anyone" without parsing bodies.
type Entity struct {
	ID         uuid.UUID  `json:"id"`
	Type       EntityType `json:"type"`
	Content    Content    `json:"content"`
	References []string   `json:"references,omitempty"`
	Version    int64      `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// State derives the lifecycle state from DeletedAt.
func (e *Entity) State() LifecycleState {
	if e.DeletedAt != nil {
		return StateTrashed
	}
	return StateActive
}

// Clone returns a deep copy of e.
func (e *Entity) Clone() *Entity {
	out := *e
	out.Content = e.Content.Clone()
	out.References = append([]string(nil), e.References...)
	if e.DeletedAt != nil {
		t := *e.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}

// ReferenceSet is a set of asset references.
type ReferenceSet map[string]struct{}

// NewReferenceSet creates a set holding refs.
func NewReferenceSet(refs ...string) ReferenceSet {
	s := make(ReferenceSet, len(refs))
	for _, ref := range refs {
		s.Add(ref)
	}
	return s
}

// Add inserts ref; empty strings are ignored.
func (s ReferenceSet) Add(ref string) {
	if ref == "" {
		return
	}
	s[ref] = struct{}{}
}

// Has reports whether ref is in the set.
func (s ReferenceSet) Has(ref string) bool {
	_, ok := s[ref]
	return ok
}

// Len returns the number of references.
func (s ReferenceSet) Len() int {
	return len(s)
}

// Union returns a new set with the members of s and other.
func (s ReferenceSet) Union(other ReferenceSet) ReferenceSet {
	out := make(ReferenceSet, len(s)+len(other))
	for ref := range s {
		out[ref] = struct{}{}
	}
	for ref := range other {
		out[ref] = struct{}{}
	}
	return out
}

// Minus returns the sorted members of s that are not in other.
func (s ReferenceSet) Minus(other ReferenceSet) []string {
	var out []string
	for ref := range s {
		if !other.Has(ref) {
			out = append(out, ref)
		}
	}
	sort.Strings(out)
	return out
}

// Sorted returns the members in lexical order.
func (s ReferenceSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for ref := range s {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out
}
