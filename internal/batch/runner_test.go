package batch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/forcetools/orgupgrader/internal/browserpool"
	"github.com/forcetools/orgupgrader/internal/domain"
	"github.com/forcetools/orgupgrader/internal/status"
)

const testPackageID = "04tKb000000J8s9"

// fakeMachine resolves each org to a scripted terminal status and
// tracks how many attempts were in flight at once.
type fakeMachine struct {
	mu       sync.Mutex
	statuses map[string]domain.Status
	exhaust  map[string]int // org id -> times to report pool exhaustion first
	panics   map[string]bool
	active   int
	maxSeen  int
	runs     int
}

func (f *fakeMachine) Run(ctx context.Context, org domain.Org, packageID, sessionID, batchID string) (*domain.Attempt, error) {
	f.mu.Lock()
	f.runs++
	if f.exhaust[org.ID] > 0 {
		f.exhaust[org.ID]--
		f.mu.Unlock()
		return nil, fmt.Errorf("acquiring browser: %w", browserpool.ErrResourceExhausted)
	}
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.panics[org.ID] {
		panic("browser driver crashed")
	}

	time.Sleep(5 * time.Millisecond)

	a := &domain.Attempt{
		ID:        uuid.New().String(),
		OrgID:     org.ID,
		BatchID:   batchID,
		PackageID: packageID,
		StartedAt: time.Now(),
	}
	st, ok := f.statuses[org.ID]
	if !ok {
		st = domain.StatusCompleted
	}
	a.Finish(st, "")
	return a, nil
}

type recordingHistory struct {
	mu       sync.Mutex
	attempts []*domain.Attempt
	batches  []*domain.BatchRun
}

func (h *recordingHistory) Append(a *domain.Attempt) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts = append(h.attempts, a)
	return nil
}

func (h *recordingHistory) AppendBatch(b *domain.BatchRun) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, b)
	return nil
}

func orgList(n int) []domain.Org {
	orgs := make([]domain.Org, n)
	for i := range orgs {
		orgs[i] = domain.Org{
			ID:  fmt.Sprintf("org-%c", 'a'+i),
			URL: fmt.Sprintf("https://org%c.example.com", 'a'+i),
		}
	}
	return orgs
}

func newTestRunner(machine AttemptRunner) (*Runner, *status.Channel, *recordingHistory) {
	channel := status.New(status.Config{})
	history := &recordingHistory{}
	r := NewRunner(machine, channel, history, nil, Config{
		MaxConcurrency:    4,
		AcquireRetryDelay: time.Millisecond,
	})
	return r, channel, history
}

func TestRunner_MixedOutcomes(t *testing.T) {
	machine := &fakeMachine{statuses: map[string]domain.Status{
		"org-b": domain.StatusControlNotFound,
	}}
	r, channel, history := newTestRunner(machine)

	b := r.Run(context.Background(), orgList(3), testPackageID, "s1", 2)

	if len(b.Results) != 3 {
		t.Fatalf("results = %d, want one per org", len(b.Results))
	}
	if b.SuccessCount != 2 || b.FailureCount != 1 || b.OtherCount != 0 {
		t.Errorf("tallies = %d/%d/%d, want 2/1/0", b.SuccessCount, b.FailureCount, b.OtherCount)
	}
	if b.FinishedAt == nil {
		t.Error("batch should be stamped finished")
	}
	if machine.maxSeen > 2 {
		t.Errorf("max concurrent attempts = %d, want <= 2", machine.maxSeen)
	}

	if len(history.batches) != 1 {
		t.Fatalf("batch summaries recorded = %d, want 1", len(history.batches))
	}

	var finished *domain.StatusEvent
	progress := 0
	for _, ev := range channel.Replay("s1") {
		switch ev.Type {
		case domain.EventBatchProgress:
			progress++
		case domain.EventBatchFinished:
			e := ev
			finished = &e
		}
	}
	if progress != 3 {
		t.Errorf("progress events = %d, want 3", progress)
	}
	if finished == nil || finished.Batch == nil {
		t.Fatal("final event should carry the batch summary")
	}
	if got := len(finished.Batch.Results); got != 3 {
		t.Errorf("final results = %d, want 3", got)
	}
}

func TestRunner_ConcurrencyClamped(t *testing.T) {
	machine := &fakeMachine{}
	r, _, _ := newTestRunner(machine)

	// Requested budget above the pool cap
	b := r.Run(context.Background(), orgList(6), testPackageID, "s1", 50)
	if b.Concurrency != 4 {
		t.Errorf("concurrency = %d, want clamped to 4", b.Concurrency)
	}
	if machine.maxSeen > 4 {
		t.Errorf("max concurrent attempts = %d, want <= 4", machine.maxSeen)
	}

	// Zero falls back to the minimum
	b = r.Run(context.Background(), orgList(2), testPackageID, "s1", 0)
	if b.Concurrency != 1 {
		t.Errorf("concurrency = %d, want 1", b.Concurrency)
	}
}

func TestRunner_RetriesExhaustedPool(t *testing.T) {
	machine := &fakeMachine{exhaust: map[string]int{"org-a": 2}}
	r, _, _ := newTestRunner(machine)

	b := r.Run(context.Background(), orgList(1), testPackageID, "s1", 1)

	if b.SuccessCount != 1 {
		t.Fatalf("success = %d, want 1 after pool frees up", b.SuccessCount)
	}
	if machine.runs != 3 {
		t.Errorf("runs = %d, want 2 exhausted + 1 success", machine.runs)
	}
}

func TestRunner_SynthesizesResultForCrashedAttempt(t *testing.T) {
	machine := &fakeMachine{panics: map[string]bool{"org-b": true}}
	r, channel, history := newTestRunner(machine)

	b := r.Run(context.Background(), orgList(2), testPackageID, "s1", 2)

	if len(b.Results) != 2 {
		t.Fatalf("results = %d, want 2 even when an attempt crashes", len(b.Results))
	}
	if b.SuccessCount != 1 || b.FailureCount != 1 {
		t.Errorf("tallies = %d/%d, want 1 success 1 failure", b.SuccessCount, b.FailureCount)
	}

	var synthesized *domain.Attempt
	for _, a := range b.Results {
		if a.OrgID == "org-b" {
			synthesized = a
		}
	}
	if synthesized == nil {
		t.Fatal("crashed org missing from results")
	}
	if synthesized.Status != domain.StatusFailed {
		t.Errorf("status = %s, want failed", synthesized.Status)
	}

	if len(history.attempts) != 1 || history.attempts[0].OrgID != "org-b" {
		t.Errorf("synthesized failure should be persisted, got %d entries", len(history.attempts))
	}

	sawCritical := false
	for _, ev := range channel.Replay("s1") {
		if ev.Type == domain.EventCriticalError && ev.OrgID == "org-b" {
			sawCritical = true
		}
	}
	if !sawCritical {
		t.Error("crashed attempt should publish a critical error event")
	}
}

func TestRunner_ContextCancelledDuringExhaustion(t *testing.T) {
	// Pool never frees, ctx expires while waiting to retry
	machine := &fakeMachine{exhaust: map[string]int{"org-a": 1 << 20}}
	r, _, _ := newTestRunner(machine)
	r.cfg.AcquireRetryDelay = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	b := r.Run(ctx, orgList(1), testPackageID, "s1", 1)

	if len(b.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(b.Results))
	}
	a := b.Results[0]
	if a.Status != domain.StatusFailed {
		t.Errorf("status = %s, want failed", a.Status)
	}
	if a.Error != context.DeadlineExceeded.Error() {
		t.Errorf("error = %q, want the context error", a.Error)
	}
}
