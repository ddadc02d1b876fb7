package domain

import "time"

// StatusEvent is one progress notification for an observing session.
// Append-only per session; the channel keeps only the latest per
// (session, org) key plus a bounded replay buffer.
type StatusEvent struct {
	SessionID  string            `json:"session_id"`
	OrgID      string            `json:"org_id"`
	UpgradeID  string            `json:"upgrade_id,omitempty"`
	BatchID    string            `json:"batch_id,omitempty"`
	Type       EventType         `json:"type"`
	Phase      Phase             `json:"phase,omitempty"`
	Message    string            `json:"message"`
	Timestamp  time.Time         `json:"timestamp"`
	Screenshot []byte            `json:"screenshot,omitempty"`
	Detail     map[string]string `json:"detail,omitempty"`
	Batch      *BatchRun         `json:"batch,omitempty"`
}

// PendingInput is a single-use value deposited externally to unblock
// a waiting phase. Consumed read-then-delete; expires unconsumed.
type PendingInput struct {
	SessionID   string    `json:"session_id"`
	UpgradeID   string    `json:"upgrade_id"`
	Kind        InputKind `json:"kind"`
	Value       string    `json:"value"`
	DepositedAt time.Time `json:"deposited_at"`
}
