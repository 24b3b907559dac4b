package contentasset

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pdisakar/content-assets/pkg/contentasset/richtext"
)

// DefaultUploadConcurrency bounds parallel uploads of one save.
const DefaultUploadConcurrency = 4

// Reconciliation is the outcome of reconciling new content against the
// previous state of an entity.
type Reconciliation struct {
	// Content is the input with every inline payload replaced by its reference.
	Content Content

	// References is the new ReferenceSet. It includes previous references
	// that an ambiguous fragment may still hold.
	References ReferenceSet

	// Uploaded lists references created by this reconciliation, in location order.
	Uploaded []string

	// Orphaned lists previous references absent from References.
	Orphaned []string

	Extraction Extraction
}

// Reconciler uploads inline payloads and diffs reference sets.
type Reconciler struct {
	store       AssetStore
	extractor   *Extractor
	payloads    PayloadPolicy
	concurrency int
}

// NewReconciler creates a reconciler.
func NewReconciler(store AssetStore, extractor *Extractor, payloads PayloadPolicy, concurrency int) *Reconciler {
	if concurrency <= 0 {
		concurrency = DefaultUploadConcurrency
	}
	return &Reconciler{store: store, extractor: extractor, payloads: payloads, concurrency: concurrency}
}

type pendingUpload struct {
	location string
	payload  *InlinePayload
	ref      string
}

// Reconcile uploads the inline payloads of raw, rewrites them to references
// and computes the orphans of previous.
//
// Nothing is deleted here. On error the returned Reconciliation (which may be
// nil) lists in Uploaded whatever was stored before the failure; the caller
// owns rolling those back.
func (r *Reconciler) Reconcile(ctx context.Context, previous ReferenceSet, raw Content) (*Reconciliation, error) {
	uploads, err := r.collect(raw)
	if err != nil {
		return nil, err
	}

	rec := &Reconciliation{}
	if err := r.upload(ctx, uploads, rec); err != nil {
		return rec, err
	}

	content, err := r.rewrite(raw, uploads)
	if err != nil {
		return rec, err
	}
	rec.Content = content
	rec.Extraction = r.extractor.Extract(content)
	rec.References = NewReferenceSet(rec.Extraction.References.Sorted()...)
	for ref := range previous {
		if !rec.References.Has(ref) && rec.Extraction.Protects(ref) {
			rec.References.Add(ref)
		}
	}
	rec.Orphaned = previous.Minus(rec.References)
	return rec, nil
}

// collect decodes every inline payload before anything is uploaded, so a bad
// payload fails the save without side effects. Identical payload strings
// share one upload.
func (r *Reconciler) collect(c Content) (map[string]*pendingUpload, error) {
	uploads := make(map[string]*pendingUpload)
	add := func(location, v string) error {
		v = strings.TrimSpace(v)
		if !IsInlinePayload(v) {
			return nil
		}
		if _, ok := uploads[v]; ok {
			return nil
		}
		p, err := r.payloads.Decode(v)
		if err != nil {
			return &UploadError{Location: location, Err: err}
		}
		uploads[v] = &pendingUpload{location: location, payload: p}
		return nil
	}

	for _, name := range sortedKeys(c.Slots) {
		if err := add("slots."+name, c.Slots[name]); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedKeys(c.Galleries) {
		for i, v := range c.Galleries[name] {
			if err := add(fmt.Sprintf("galleries.%s[%d]", name, i), v); err != nil {
				return nil, err
			}
		}
	}
	if c.Body != "" {
		scan := richtext.Scan(c.Body, "")
		for i, img := range scan.Images {
			location := fmt.Sprintf("body.%s[%d].%s", img.Tag, i, img.Attr)
			if img.Attr == "srcset" || img.Tag != "img" {
				if IsInlinePayload(img.Value) {
					return nil, &UploadError{Location: location, Err: fmt.Errorf("%w: inline payloads are only accepted in img src", ErrInvalidPayload)}
				}
				continue
			}
			if err := add(location, img.Value); err != nil {
				return nil, err
			}
		}
		if strings.Contains(strings.ToLower(scan.Tail), "data:") {
			return nil, &UploadError{Location: "body", Err: fmt.Errorf("%w: inline payload inside malformed markup", ErrInvalidPayload)}
		}
	}
	return uploads, nil
}

func (r *Reconciler) upload(ctx context.Context, uploads map[string]*pendingUpload, rec *Reconciliation) error {
	if len(uploads) == 0 {
		return nil
	}
	ordered := make([]*pendingUpload, 0, len(uploads))
	for _, u := range uploads {
		ordered = append(ordered, u)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].location < ordered[j].location })

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, u := range ordered {
		g.Go(func() error {
			ref, err := r.store.Put(gctx, u.payload.Data, u.payload.ContentType)
			if err != nil {
				return &UploadError{Location: u.location, Err: err}
			}
			mu.Lock()
			u.ref = ref
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	for _, u := range ordered {
		if u.ref != "" {
			rec.Uploaded = append(rec.Uploaded, u.ref)
		}
	}
	return err
}

func (r *Reconciler) rewrite(c Content, uploads map[string]*pendingUpload) (Content, error) {
	out := c.Clone()
	if len(uploads) == 0 {
		return out, nil
	}
	resolve := func(v string) string {
		if u, ok := uploads[strings.TrimSpace(v)]; ok {
			return u.ref
		}
		return v
	}
	for name, v := range out.Slots {
		out.Slots[name] = resolve(v)
	}
	for name, images := range out.Galleries {
		for i, v := range images {
			images[i] = resolve(v)
		}
		out.Galleries[name] = images
	}
	if out.Body != "" {
		body, err := richtext.RewriteImages(out.Body, func(img richtext.Image) (string, error) {
			return resolve(img.Value), nil
		})
		if err != nil {
			return Content{}, err
		}
		out.Body = body
	}
	return out, nil
}
