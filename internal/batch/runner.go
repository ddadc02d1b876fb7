// Package batch fans upgrade attempts out across many orgs under a
// concurrency budget and schedules recurring batch runs.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/forcetools/orgupgrader/internal/browserpool"
	"github.com/forcetools/orgupgrader/internal/domain"
	"github.com/forcetools/orgupgrader/internal/notify"
	"github.com/forcetools/orgupgrader/internal/status"
)

// AttemptRunner drives one org's upgrade to a terminal outcome
type AttemptRunner interface {
	Run(ctx context.Context, org domain.Org, packageID, sessionID, batchID string) (*domain.Attempt, error)
}

// History persists attempts the runner had to synthesize and batch
// summaries
type History interface {
	Append(a *domain.Attempt) error
	AppendBatch(b *domain.BatchRun) error
}

// Config tunes a Runner
type Config struct {
	// MinConcurrency and MaxConcurrency clamp the requested budget
	MinConcurrency int
	MaxConcurrency int
	// LaunchDelay spaces successive launches to smooth resource
	// pressure; a stability heuristic, not a correctness requirement
	LaunchDelay time.Duration
	// AcquireRetryDelay is how long a queued attempt waits before
	// retrying a pool acquisition that found the pool exhausted
	AcquireRetryDelay time.Duration
}

// Runner executes batches
type Runner struct {
	machine  AttemptRunner
	status   *status.Channel
	history  History
	notifier notify.Notifier
	cfg      Config
}

// NewRunner creates a Runner
func NewRunner(machine AttemptRunner, st *status.Channel, history History, notifier notify.Notifier, cfg Config) *Runner {
	if cfg.MinConcurrency <= 0 {
		cfg.MinConcurrency = 1
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = browserpool.DefaultLimit
	}
	if cfg.AcquireRetryDelay <= 0 {
		cfg.AcquireRetryDelay = 2 * time.Second
	}
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &Runner{machine: machine, status: st, history: history, notifier: notifier, cfg: cfg}
}

// Run executes one attempt per org with at most concurrency active
// at a time. The returned batch always carries exactly one result per
// requested org; completion order is nondeterministic.
func (r *Runner) Run(ctx context.Context, orgs []domain.Org, packageID, sessionID string, concurrency int) *domain.BatchRun {
	concurrency = clamp(concurrency, r.cfg.MinConcurrency, r.cfg.MaxConcurrency)

	b := &domain.BatchRun{
		ID:          uuid.New().String(),
		PackageID:   packageID,
		Concurrency: concurrency,
		StartedAt:   time.Now(),
	}
	for _, org := range orgs {
		b.OrgIDs = append(b.OrgIDs, org.ID)
	}

	log.Printf("batch %s: %d orgs, concurrency %d, package %s", b.ID, len(orgs), concurrency, packageID)

	results := make(chan *domain.Attempt, len(orgs))
	sem := make(chan struct{}, concurrency)

	go func() {
		for _, org := range orgs {
			sem <- struct{}{}
			go func(org domain.Org) {
				defer func() { <-sem }()
				results <- r.runOne(ctx, org, packageID, sessionID, b.ID)
			}(org)

			if r.cfg.LaunchDelay > 0 && ctx.Err() == nil {
				time.Sleep(r.cfg.LaunchDelay)
			}
		}
	}()

	for completed := 1; completed <= len(orgs); completed++ {
		a := <-results
		b.Record(a)

		r.status.Publish(sessionID, domain.StatusEvent{
			OrgID:   a.OrgID,
			BatchID: b.ID,
			Type:    domain.EventBatchProgress,
			Message: fmt.Sprintf("%d/%d orgs done (%d succeeded, %d failed, %d other)", completed, len(orgs), b.SuccessCount, b.FailureCount, b.OtherCount),
			Detail: map[string]string{
				"completed":  fmt.Sprint(completed),
				"total":      fmt.Sprint(len(orgs)),
				"org_status": string(a.Status),
			},
		})
	}

	now := time.Now()
	b.FinishedAt = &now

	if err := r.history.AppendBatch(b); err != nil {
		log.Printf("batch %s: recording summary: %v", b.ID, err)
	}

	r.status.Publish(sessionID, domain.StatusEvent{
		BatchID: b.ID,
		Type:    domain.EventBatchFinished,
		Message: fmt.Sprintf("batch finished: %d succeeded, %d failed, %d other", b.SuccessCount, b.FailureCount, b.OtherCount),
		Batch:   b,
	})

	kind := notify.NotifySuccess
	if b.FailureCount > 0 {
		kind = notify.NotifyWarning
	}
	if err := r.notifier.Send(notify.Notification{
		Title:   fmt.Sprintf("Batch upgrade of %s finished", packageID),
		Message: fmt.Sprintf("%d orgs: %d succeeded, %d failed, %d other", len(orgs), b.SuccessCount, b.FailureCount, b.OtherCount),
		Type:    kind,
		BatchID: b.ID,
	}); err != nil {
		log.Printf("batch %s: notification: %v", b.ID, err)
	}

	return b
}

// runOne never returns nil: when the machine cannot produce a
// terminal attempt the runner synthesizes a failed one, so no org is
// ever silently dropped from the results.
func (r *Runner) runOne(ctx context.Context, org domain.Org, packageID, sessionID, batchID string) (result *domain.Attempt) {
	defer func() {
		if rec := recover(); rec != nil {
			result = r.synthesizeFailure(org, packageID, sessionID, batchID, fmt.Errorf("attempt crashed: %v", rec))
		}
	}()

	for {
		a, err := r.machine.Run(ctx, org, packageID, sessionID, batchID)
		if err == nil {
			return a
		}
		if !errors.Is(err, browserpool.ErrResourceExhausted) {
			return r.synthesizeFailure(org, packageID, sessionID, batchID, err)
		}

		// Pool exhausted: hold the slot and retry later
		select {
		case <-time.After(r.cfg.AcquireRetryDelay):
		case <-ctx.Done():
			return r.synthesizeFailure(org, packageID, sessionID, batchID, ctx.Err())
		}
	}
}

func (r *Runner) synthesizeFailure(org domain.Org, packageID, sessionID, batchID string, cause error) *domain.Attempt {
	a := &domain.Attempt{
		ID:        uuid.New().String(),
		OrgID:     org.ID,
		BatchID:   batchID,
		PackageID: packageID,
		StartedAt: time.Now(),
	}
	a.Finish(domain.StatusFailed, cause.Error())

	if err := r.history.Append(a); err != nil {
		log.Printf("batch %s: recording synthesized failure for %s: %v", batchID, org.ID, err)
	}
	r.status.Publish(sessionID, domain.StatusEvent{
		OrgID:     org.ID,
		UpgradeID: a.ID,
		BatchID:   batchID,
		Type:      domain.EventCriticalError,
		Message:   cause.Error(),
	})
	return a
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
