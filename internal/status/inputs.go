package status

import (
	"context"
	"errors"
	"time"

	"github.com/forcetools/orgupgrader/internal/domain"
)

// ErrInputTimeout is returned by AwaitInput when no input arrives
// before the deadline.
var ErrInputTimeout = errors.New("no input received before deadline")

type inputKey struct {
	session string
	upgrade string
	kind    domain.InputKind
}

// SubmitInput deposits a single-use value for a waiting phase. If the
// phase is already blocked the value is handed over immediately;
// otherwise it is stored, overwriting any prior undelivered value for
// the same key.
func (c *Channel) SubmitInput(sessionID, upgradeID string, kind domain.InputKind, value string) {
	k := inputKey{session: sessionID, upgrade: upgradeID, kind: kind}

	c.mu.Lock()
	if waiter, ok := c.waiters[k]; ok {
		delete(c.waiters, k)
		c.mu.Unlock()
		waiter <- value
		return
	}
	c.inputs[k] = domain.PendingInput{
		SessionID:   sessionID,
		UpgradeID:   upgradeID,
		Kind:        kind,
		Value:       value,
		DepositedAt: time.Now(),
	}
	c.mu.Unlock()
}

// AwaitInput blocks until an input of the given kind is available for
// the attempt, the timeout elapses, or the context is cancelled. The
// consumed value is deleted: every submitted input unblocks at most
// one wait.
func (c *Channel) AwaitInput(ctx context.Context, sessionID, upgradeID string, kind domain.InputKind, timeout time.Duration) (string, error) {
	k := inputKey{session: sessionID, upgrade: upgradeID, kind: kind}

	c.mu.Lock()
	if in, ok := c.inputs[k]; ok {
		delete(c.inputs, k)
		c.mu.Unlock()
		return in.Value, nil
	}
	waiter := make(chan string, 1)
	c.waiters[k] = waiter
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-waiter:
		return v, nil
	case <-timer.C:
		c.dropWaiter(k)
		return "", ErrInputTimeout
	case <-ctx.Done():
		c.dropWaiter(k)
		return "", ctx.Err()
	}
}

func (c *Channel) dropWaiter(k inputKey) {
	c.mu.Lock()
	delete(c.waiters, k)
	c.mu.Unlock()
}

// expireInputs deletes deposited values nobody consumed within the TTL
func (c *Channel) expireInputs() {
	cutoff := time.Now().Add(-c.cfg.InputTTL)

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, in := range c.inputs {
		if in.DepositedAt.Before(cutoff) {
			delete(c.inputs, k)
		}
	}
}
