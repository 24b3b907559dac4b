package contentasset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultSweepGrace is how old an unreferenced asset must be before a sweep
// deletes it. It covers saves that have uploaded but not yet persisted, and
// direct uploads waiting for the form to be submitted.
const DefaultSweepGrace = 24 * time.Hour

// MinSweepGrace is the smallest grace a sweep accepts. A save's uploads are
// unreferenced until its row is written, so they must outlive the request.
const MinSweepGrace = time.Hour

// CheckSweepGrace returns ErrGraceTooShort for a grace below MinSweepGrace.
func CheckSweepGrace(grace time.Duration) error {
	if grace < MinSweepGrace {
		return fmt.Errorf("%w: %s is below the minimum of %s", ErrGraceTooShort, grace, MinSweepGrace)
	}
	return nil
}

// sweepBatch bounds the size of a single ReferencedBy query.
const sweepBatch = 500

// Sweeper reclaims assets that lifecycle operations could not: leaks recorded
// in the ledger and assets no entity references at all.
type Sweeper struct {
	repository Repository
	store      AssetStore
	ledger     LeakLedger
	logger     *slog.Logger
	now        func() time.Time
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperLogger sets the structured logger.
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) { s.logger = logger }
}

// WithSweeperClock overrides time.Now, for tests.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// NewSweeper creates a sweeper. ledger may be nil when only
// SweepUnreferenced is used.
func NewSweeper(repo Repository, store AssetStore, ledger LeakLedger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		repository: repo,
		store:      store,
		ledger:     ledger,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ledger == nil {
		s.ledger = noopLedger{}
	}
	return s
}

// RetryReport summarizes a RetryLeaks run.
type RetryReport struct {
	Attempted       int              `json:"attempted"`
	Deleted         []string         `json:"deleted,omitempty"`
	StillReferenced []string         `json:"still_referenced,omitempty"`
	Failed          []ReclaimWarning `json:"-"`
}

// RetryLeaks retries deletion of up to limit recorded leaks. A leak that an
// entity references again is dropped from the ledger without deleting it.
func (s *Sweeper) RetryLeaks(ctx context.Context, limit int) (*RetryReport, error) {
	leaks, err := s.ledger.Pending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending leaks: %w", err)
	}
	report := &RetryReport{Attempted: len(leaks)}
	if len(leaks) == 0 {
		return report, nil
	}

	refs := make([]string, 0, len(leaks))
	for _, leak := range leaks {
		refs = append(refs, leak.Reference)
	}
	live, err := s.referenced(ctx, refs)
	if err != nil {
		return nil, err
	}

	for _, leak := range leaks {
		if live.Has(leak.Reference) {
			report.StillReferenced = append(report.StillReferenced, leak.Reference)
			s.resolve(ctx, leak.Reference)
			continue
		}
		if err := s.store.Delete(ctx, leak.Reference); err != nil {
			leak.Attempts++
			leak.LastSeen = s.now().UTC()
			leak.Reason = err.Error()
			if rerr := s.ledger.Record(ctx, leak); rerr != nil {
				s.logger.ErrorContext(ctx, "failed to record leaked asset", "reference", leak.Reference, "err", rerr)
			}
			report.Failed = append(report.Failed, ReclaimWarning{
				Reference:  leak.Reference,
				EntityType: leak.EntityType,
				EntityID:   leak.EntityID,
				Op:         "retry",
				Err:        err,
			})
			s.logger.WarnContext(ctx, "leaked asset still not deleted",
				"reference", leak.Reference, "attempts", leak.Attempts, "reason", err)
			continue
		}
		report.Deleted = append(report.Deleted, leak.Reference)
		s.resolve(ctx, leak.Reference)
	}
	return report, nil
}

// SweepReport summarizes a SweepUnreferenced run.
type SweepReport struct {
	Scanned    int              `json:"scanned"`
	Referenced int              `json:"referenced"`
	TooRecent  int              `json:"too_recent"`
	Candidates []string         `json:"candidates,omitempty"`
	Deleted    []string         `json:"deleted,omitempty"`
	Failed     []ReclaimWarning `json:"-"`
	DryRun     bool             `json:"dry_run"`
}

// SweepUnreferenced deletes stored assets older than grace that no entity
// references. With dryRun it only reports the candidates. A grace below
// MinSweepGrace is rejected with ErrGraceTooShort.
func (s *Sweeper) SweepUnreferenced(ctx context.Context, grace time.Duration, dryRun bool) (*SweepReport, error) {
	lister, ok := s.store.(AssetLister)
	if !ok {
		return nil, errors.New("asset store cannot be listed")
	}
	if err := CheckSweepGrace(grace); err != nil {
		return nil, err
	}

	live := NewReferenceSet()
	if err := s.repository.ForEachReference(ctx, func(ref string) error {
		live.Add(ref)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load references: %w", err)
	}

	report := &SweepReport{DryRun: dryRun}
	cutoff := s.now().Add(-grace)
	err := lister.Walk(ctx, func(info AssetInfo) error {
		report.Scanned++
		switch {
		case live.Has(info.Reference):
			report.Referenced++
		case info.UpdatedAt.After(cutoff):
			report.TooRecent++
		default:
			report.Candidates = append(report.Candidates, info.Reference)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk assets: %w", err)
	}
	if dryRun || len(report.Candidates) == 0 {
		return report, nil
	}

	// Entities saved during the walk may have picked up a candidate.
	stillLive, err := s.referenced(ctx, report.Candidates)
	if err != nil {
		return nil, err
	}
	for _, ref := range report.Candidates {
		if stillLive.Has(ref) {
			report.Referenced++
			continue
		}
		if err := s.store.Delete(ctx, ref); err != nil {
			report.Failed = append(report.Failed, ReclaimWarning{Reference: ref, Op: "sweep", Err: err})
			s.logger.WarnContext(ctx, "sweep could not delete asset", "reference", ref, "reason", err)
			continue
		}
		report.Deleted = append(report.Deleted, ref)
		s.resolve(ctx, ref)
	}
	s.logger.InfoContext(ctx, "sweep finished",
		"scanned", report.Scanned, "deleted", len(report.Deleted), "failed", len(report.Failed))
	return report, nil
}

func (s *Sweeper) referenced(ctx context.Context, refs []string) (ReferenceSet, error) {
	live := NewReferenceSet()
	for start := 0; start < len(refs); start += sweepBatch {
		end := min(start+sweepBatch, len(refs))
		inUse, err := s.repository.ReferencedBy(ctx, refs[start:end], uuid.Nil)
		if err != nil {
			return nil, fmt.Errorf("shared reference check: %w", err)
		}
		for _, ref := range inUse {
			live.Add(ref)
		}
	}
	return live, nil
}

func (s *Sweeper) resolve(ctx context.Context, ref string) {
	if err := s.ledger.Resolve(ctx, ref); err != nil {
		s.logger.WarnContext(ctx, "failed to resolve leak", "reference", ref, "err", err)
	}
}

// Run retries leaks and sweeps every interval until ctx is done. Failures are
// logged and the next tick tries again.
func (s *Sweeper) Run(ctx context.Context, interval, grace time.Duration) {
	if err := CheckSweepGrace(grace); err != nil {
		s.logger.ErrorContext(ctx, "scheduled sweep disabled", "err", err)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := s.RetryLeaks(ctx, 0); err != nil {
			s.logger.ErrorContext(ctx, "scheduled leak retry failed", "err", err)
		}
		if _, err := s.SweepUnreferenced(ctx, grace, false); err != nil {
			s.logger.ErrorContext(ctx, "scheduled sweep failed", "err", err)
		}
	}
}
