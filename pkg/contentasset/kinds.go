package contentasset

import (
	"fmt"
	"sort"
	"strings"
)

// Kind declares the asset-bearing shape of an entity type.
type Kind struct {
	Type      EntityType
	Slots     []string // single-image slots
	Galleries []string // multi-image slots
	Body      bool     // has a rich-text body
}

// DefaultKinds returns the entity kinds of the travel content site.
func DefaultKinds() []Kind {
	return []Kind{
		{Type: EntityTypeHomeContent, Slots: []string{"banner"}, Body: true},
		{Type: EntityTypeArticle, Slots: []string{"featured", "banner"}, Body: true},
		{Type: EntityTypeBlog, Slots: []string{"featured", "banner"}, Body: true},
		{Type: EntityTypePackage, Slots: []string{"featured", "banner", "trip_map"}, Galleries: []string{"gallery"}, Body: true},
		{Type: EntityTypeTestimonial, Slots: []string{"avatar"}, Body: true},
	}
}

func (k Kind) hasSlot(name string) bool {
	for _, s := range k.Slots {
		if s == name {
			return true
		}
	}
	return false
}

func (k Kind) hasGallery(name string) bool {
	for _, g := range k.Galleries {
		if g == name {
			return true
		}
	}
	return false
}

// Normalize trims image values and drops empty ones.
func (k Kind) Normalize(c Content) Content {
	out := c.Clone()
	for name, v := range out.Slots {
		v = strings.TrimSpace(v)
		if v == "" {
			delete(out.Slots, name)
			continue
		}
		out.Slots[name] = v
	}
	for name, images := range out.Galleries {
		kept := images[:0]
		for _, v := range images {
			if v = strings.TrimSpace(v); v != "" {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			delete(out.Galleries, name)
			continue
		}
		out.Galleries[name] = kept
	}
	return out
}

// Validate checks that c only uses slots, galleries and a body declared by k.
func (k Kind) Validate(c Content) error {
	for name := range c.Slots {
		if !k.hasSlot(name) {
			return fmt.Errorf("%w: %s has no image slot %q", ErrInvalidContent, k.Type, name)
		}
	}
	for name := range c.Galleries {
		if !k.hasGallery(name) {
			return fmt.Errorf("%w: %s has no gallery %q", ErrInvalidContent, k.Type, name)
		}
	}
	if !k.Body && strings.TrimSpace(c.Body) != "" {
		return fmt.Errorf("%w: %s has no rich-text body", ErrInvalidContent, k.Type)
	}
	return nil
}

// Registry maps entity types to their kinds.
type Registry struct {
	kinds map[EntityType]Kind
}

// NewRegistry creates a registry; later kinds replace earlier ones of the same type.
func NewRegistry(kinds ...Kind) *Registry {
	r := &Registry{kinds: make(map[EntityType]Kind, len(kinds))}
	for _, k := range kinds {
		r.kinds[k.Type] = k
	}
	return r
}

// Lookup returns the kind registered for t.
func (r *Registry) Lookup(t EntityType) (Kind, error) {
	k, ok := r.kinds[t]
	if !ok {
		return Kind{}, fmt.Errorf("%w: %q", ErrUnknownEntityType, t)
	}
	return k, nil
}

// Kinds returns all registered kinds ordered by type.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.kinds))
	for _, k := range r.kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
