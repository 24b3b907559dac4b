package contentasset

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service defines the lifecycle operations of asset-bearing content
type Service interface {
	// Content operations
	SaveContent(ctx context.Context, req SaveContentRequest) (*SaveContentResult, error)
	GetContent(ctx context.Context, entityType EntityType, id uuid.UUID) (*Entity, error)
	ListContent(ctx context.Context, req ListContentRequest) ([]*Entity, error)

	// Lifecycle transitions
	TrashContent(ctx context.Context, entityType EntityType, id uuid.UUID) error
	RestoreContent(ctx context.Context, entityType EntityType, id uuid.UUID) error
	PermanentlyDeleteContent(ctx context.Context, entityType EntityType, id uuid.UUID) (*PurgeResult, error)

	// Bulk forms; every id is handled independently
	TrashMany(ctx context.Context, entityType EntityType, ids []uuid.UUID) (BulkResult, error)
	RestoreMany(ctx context.Context, entityType EntityType, ids []uuid.UUID) (BulkResult, error)
	PermanentlyDeleteMany(ctx context.Context, entityType EntityType, ids []uuid.UUID) (BulkResult, error)

	// Direct asset operations
	UploadAsset(ctx context.Context, data []byte, contentType string) (*UploadResult, error)
	DeleteAsset(ctx context.Context, reference string) error
	OpenAsset(ctx context.Context, reference string) (io.ReadCloser, *ObjectMeta, error)

	Kinds() []Kind
}

// AssetOpener is implemented by stores that can stream assets back.
type AssetOpener interface {
	Open(ctx context.Context, reference string) (io.ReadCloser, *ObjectMeta, error)
}

// Defaults for service options
const (
	DefaultReclaimConcurrency = 8
	DefaultBulkConcurrency    = 4
	DefaultReclaimTimeout     = 30 * time.Second
	DefaultListLimit          = 50
	MaxListLimit              = 500
)

// service implements the Service interface
type service struct {
	repository Repository
	store      AssetStore
	ledger     LeakLedger
	eventSink  EventSink
	hooks      *Hooks
	logger     *slog.Logger

	kinds      *Registry
	references ReferencePolicy
	payloads   PayloadPolicy
	extractor  *Extractor
	reconciler *Reconciler

	uploadConcurrency  int
	reclaimConcurrency int
	bulkConcurrency    int
	reclaimTimeout     time.Duration
	now                func() time.Time
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithAssetStore sets the asset store for the service
func WithAssetStore(store AssetStore) Option {
	return func(s *service) {
		s.store = store
	}
}

// WithLeakLedger sets where failed reclamations are recorded
func WithLeakLedger(ledger LeakLedger) Option {
	return func(s *service) {
		s.ledger = ledger
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithHooks sets lifecycle hooks
func WithHooks(hooks *Hooks) Option {
	return func(s *service) {
		s.hooks = hooks
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithKinds replaces the default entity kinds
func WithKinds(kinds ...Kind) Option {
	return func(s *service) {
		s.kinds = NewRegistry(kinds...)
	}
}

// WithReferencePolicy sets the managed asset addressing convention
func WithReferencePolicy(policy ReferencePolicy) Option {
	return func(s *service) {
		s.references = policy
	}
}

// WithPayloadPolicy sets which inline payloads are accepted
func WithPayloadPolicy(policy PayloadPolicy) Option {
	return func(s *service) {
		s.payloads = policy
	}
}

// WithConcurrency bounds parallel uploads, reclaim deletes and bulk items.
// Zero keeps the default.
func WithConcurrency(upload, reclaim, bulk int) Option {
	return func(s *service) {
		if upload > 0 {
			s.uploadConcurrency = upload
		}
		if reclaim > 0 {
			s.reclaimConcurrency = reclaim
		}
		if bulk > 0 {
			s.bulkConcurrency = bulk
		}
	}
}

// WithReclaimTimeout bounds rollback and reclaim work, which outlives the request context
func WithReclaimTimeout(d time.Duration) Option {
	return func(s *service) {
		if d > 0 {
			s.reclaimTimeout = d
		}
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s, err := newService(options...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newService(options ...Option) (*service, error) {
	s := &service{
		kinds:              NewRegistry(DefaultKinds()...),
		references:         DefaultReferencePolicy(),
		payloads:           DefaultPayloadPolicy(),
		uploadConcurrency:  DefaultUploadConcurrency,
		reclaimConcurrency: DefaultReclaimConcurrency,
		bulkConcurrency:    DefaultBulkConcurrency,
		reclaimTimeout:     DefaultReclaimTimeout,
		now:                time.Now,
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.store == nil {
		return nil, fmt.Errorf("asset store is required")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.eventSink == nil {
		s.eventSink = NewNoopEventSink()
	}
	if s.ledger == nil {
		s.ledger = noopLedger{}
	}

	s.extractor = NewExtractor(s.references)
	s.reconciler = NewReconciler(s.store, s.extractor, s.payloads, s.uploadConcurrency)
	return s, nil
}

type noopLedger struct{}

func (noopLedger) Record(context.Context, Leak) error            { return nil }
func (noopLedger) Pending(context.Context, int) ([]Leak, error) { return nil, nil }
func (noopLedger) Resolve(context.Context, string) error         { return nil }
