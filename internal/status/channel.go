// Package status buffers upgrade progress for external observers. It
// keeps the latest event per (session, org) key, fans events out to
// live subscribers, answers poll snapshots for transports without a
// stream, and holds the single-use inputs that unblock waiting
// attempt phases.
package status

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/forcetools/orgupgrader/internal/domain"
)

const (
	// DefaultMaxEntries bounds the total number of (session, org)
	// keys retained; the oldest key is evicted on overflow
	DefaultMaxEntries = 1024
	// DefaultReplayDepth bounds the per-session replay buffer
	DefaultReplayDepth = 64
	// subscriberBuffer is the per-subscriber channel depth; a
	// subscriber that falls this far behind is dropped
	subscriberBuffer = 16
)

type key struct {
	session string
	org     string
}

// Config tunes a Channel
type Config struct {
	MaxEntries  int
	ReplayDepth int
	// InputTTL is how long an undelivered input survives
	InputTTL time.Duration
	// MaxScreenshotBytes is the validity bound; larger payloads are
	// stripped on publish
	MaxScreenshotBytes int
	// InlineScreenshotBytes is the push-split threshold: payloads
	// above it are pushed as a status-only event followed by a
	// screenshot-only event
	InlineScreenshotBytes int
}

// Channel is the status/notification hub. Safe for concurrent use.
type Channel struct {
	cfg Config

	mu     sync.Mutex
	latest map[key]domain.StatusEvent
	order  []key
	replay map[string][]domain.StatusEvent
	subs   map[string]map[chan domain.StatusEvent]struct{}

	inputs  map[inputKey]domain.PendingInput
	waiters map[inputKey]chan string
}

// New creates a Channel
func New(cfg Config) *Channel {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.ReplayDepth <= 0 {
		cfg.ReplayDepth = DefaultReplayDepth
	}
	if cfg.InputTTL <= 0 {
		cfg.InputTTL = 10 * time.Minute
	}
	if cfg.MaxScreenshotBytes <= 0 {
		cfg.MaxScreenshotBytes = DefaultMaxScreenshotBytes
	}
	if cfg.InlineScreenshotBytes <= 0 {
		cfg.InlineScreenshotBytes = DefaultInlineScreenshotBytes
	}
	return &Channel{
		cfg:     cfg,
		latest:  make(map[key]domain.StatusEvent),
		replay:  make(map[string][]domain.StatusEvent),
		subs:    make(map[string]map[chan domain.StatusEvent]struct{}),
		inputs:  make(map[inputKey]domain.PendingInput),
		waiters: make(map[inputKey]chan string),
	}
}

// Publish stamps and stores an event and pushes it to any live
// subscribers of the session. An invalid screenshot payload is
// stripped with a warning; the event itself is always delivered.
func (c *Channel) Publish(sessionID string, ev domain.StatusEvent) {
	ev.SessionID = sessionID
	ev.Timestamp = time.Now()

	if len(ev.Screenshot) > 0 {
		if err := ValidateScreenshot(ev.Screenshot, c.cfg.MaxScreenshotBytes); err != nil {
			log.Printf("status: stripping invalid screenshot for %s/%s: %v", sessionID, ev.OrgID, err)
			ev.Screenshot = nil
		}
	}

	c.mu.Lock()
	c.store(ev)
	subs := c.subs[sessionID]
	c.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	// Large screenshots are pushed separately so the status itself
	// is never delayed behind a big image frame.
	if len(ev.Screenshot) > c.cfg.InlineScreenshotBytes {
		img := ev.Screenshot
		ev.Screenshot = nil
		c.push(sessionID, ev)
		shot := domain.StatusEvent{
			SessionID:  sessionID,
			OrgID:      ev.OrgID,
			UpgradeID:  ev.UpgradeID,
			BatchID:    ev.BatchID,
			Type:       domain.EventScreenshot,
			Timestamp:  ev.Timestamp,
			Screenshot: img,
		}
		c.push(sessionID, shot)
		return
	}

	c.push(sessionID, ev)
}

// store keeps the latest event per key plus the replay ring.
// Caller holds c.mu.
func (c *Channel) store(ev domain.StatusEvent) {
	k := key{session: ev.SessionID, org: ev.OrgID}
	if _, seen := c.latest[k]; !seen {
		c.order = append(c.order, k)
		if len(c.order) > c.cfg.MaxEntries {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.latest, oldest)
		}
	}
	c.latest[k] = ev

	ring := append(c.replay[ev.SessionID], ev)
	if len(ring) > c.cfg.ReplayDepth {
		ring = ring[len(ring)-c.cfg.ReplayDepth:]
	}
	c.replay[ev.SessionID] = ring
}

// push delivers to subscribers without ever blocking the publisher;
// a subscriber whose buffer is full is pruned.
func (c *Channel) push(sessionID string, ev domain.StatusEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for ch := range c.subs[sessionID] {
		select {
		case ch <- ev:
		default:
			delete(c.subs[sessionID], ch)
			close(ch)
			log.Printf("status: dropped slow subscriber for session %s", sessionID)
		}
	}
}

// Subscribe returns a push stream of events for the session and a
// cancel function that must be called when the consumer goes away.
func (c *Channel) Subscribe(sessionID string) (<-chan domain.StatusEvent, func()) {
	ch := make(chan domain.StatusEvent, subscriberBuffer)

	c.mu.Lock()
	if c.subs[sessionID] == nil {
		c.subs[sessionID] = make(map[chan domain.StatusEvent]struct{})
	}
	c.subs[sessionID][ch] = struct{}{}
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[sessionID][ch]; ok {
			delete(c.subs[sessionID], ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Poll returns the latest snapshot per org for the session, ordered
// by org id.
func (c *Channel) Poll(sessionID string) []domain.StatusEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []domain.StatusEvent
	for k, ev := range c.latest {
		if k.session == sessionID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrgID < out[j].OrgID })
	return out
}

// Replay returns the session's recent event history, oldest first
func (c *Channel) Replay(sessionID string) []domain.StatusEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	ring := c.replay[sessionID]
	out := make([]domain.StatusEvent, len(ring))
	copy(out, ring)
	return out
}

// Run expires unconsumed inputs until the context is cancelled
func (c *Channel) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.expireInputs()
		}
	}
}
