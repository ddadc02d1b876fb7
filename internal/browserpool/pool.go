// Package browserpool bounds the number of concurrently open
// automated browser sessions. Acquire never blocks waiting for a
// slot: callers at the limit get ErrResourceExhausted and retry on
// their own schedule.
package browserpool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forcetools/orgupgrader/internal/page"
)

// ErrResourceExhausted is returned by Acquire when the pool is at
// its configured limit.
var ErrResourceExhausted = errors.New("browser pool exhausted")

const (
	// DefaultLimit is the default cap on concurrent sessions
	DefaultLimit = 4
	// DefaultStaleAfter is how old a handle may get before the
	// sweeper force-releases it
	DefaultStaleAfter = 10 * time.Minute
	// DefaultSweepEvery is the sweep interval
	DefaultSweepEvery = time.Minute
)

// Handle is one leased browser session. At most one live handle is
// owned by a given attempt instance at any time.
type Handle struct {
	ID         string
	Session    page.Session
	AcquiredAt time.Time

	released bool
}

// Config tunes a Pool
type Config struct {
	Limit      int
	StaleAfter time.Duration
	SweepEvery time.Duration
	Launch     page.Options
}

// Pool owns the launcher and the active-handle accounting
type Pool struct {
	launcher page.Launcher
	cfg      Config

	mu      sync.Mutex
	active  int
	handles map[string]*Handle
}

// New creates a Pool over the given launcher
func New(launcher page.Launcher, cfg Config) *Pool {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = DefaultSweepEvery
	}
	return &Pool{
		launcher: launcher,
		cfg:      cfg,
		handles:  make(map[string]*Handle),
	}
}

// Limit returns the configured concurrency cap
func (p *Pool) Limit() int {
	return p.cfg.Limit
}

// Active returns the number of live handles
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Acquire launches a session and returns a handle for it, or
// ErrResourceExhausted if the pool is at its limit. The slot is
// reserved before the launch so concurrent acquirers cannot
// oversubscribe while a browser is still starting.
func (p *Pool) Acquire() (*Handle, error) {
	p.mu.Lock()
	if p.active >= p.cfg.Limit {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %d sessions active (limit %d)", ErrResourceExhausted, p.active, p.cfg.Limit)
	}
	p.active++
	p.mu.Unlock()

	session, err := p.launcher.Launch(p.cfg.Launch)
	if err != nil {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		return nil, fmt.Errorf("launching session: %w", err)
	}

	h := &Handle{
		ID:         uuid.New().String(),
		Session:    session,
		AcquiredAt: time.Now(),
	}

	p.mu.Lock()
	p.handles[h.ID] = h
	p.mu.Unlock()

	return h, nil
}

// Release returns a handle's slot and closes its session best-effort.
// Safe to call any number of times; the active count never goes
// below zero.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}

	p.mu.Lock()
	if h.released {
		p.mu.Unlock()
		return
	}
	h.released = true
	delete(p.handles, h.ID)
	if p.active > 0 {
		p.active--
	}
	p.mu.Unlock()

	if h.Session != nil {
		if err := h.Session.Close(); err != nil {
			log.Printf("browserpool: closing session %s: %v", h.ID, err)
		}
	}
}

// Run sweeps for stale handles until the context is cancelled,
// reclaiming sessions leaked by crashed flows.
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	cutoff := time.Now().Add(-p.cfg.StaleAfter)

	p.mu.Lock()
	var stale []*Handle
	for _, h := range p.handles {
		if h.AcquiredAt.Before(cutoff) {
			stale = append(stale, h)
		}
	}
	p.mu.Unlock()

	for _, h := range stale {
		log.Printf("browserpool: force-releasing stale handle %s (age %s)", h.ID, time.Since(h.AcquiredAt).Round(time.Second))
		p.Release(h)
	}
}

// CloseAll releases every live handle, for shutdown
func (p *Pool) CloseAll() {
	p.mu.Lock()
	all := make([]*Handle, 0, len(p.handles))
	for _, h := range p.handles {
		all = append(all, h)
	}
	p.mu.Unlock()

	for _, h := range all {
		p.Release(h)
	}
}
