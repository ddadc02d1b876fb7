// Package history persists terminal upgrade outcomes in SQLite.
// Retention is this package's responsibility: Prune keeps the most
// recent N attempts.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/forcetools/orgupgrader/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no attempt matches the requested id
var ErrNotFound = errors.New("not found")

// Store provides SQLite-backed attempt persistence
type Store struct {
	db *sql.DB
}

// New creates a Store at the given database path (":memory:" for tests)
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Append records a terminal attempt. A restarted attempt re-appends
// under the same id; the row is replaced so there is always exactly
// one entry per attempt id.
func (s *Store) Append(a *domain.Attempt) error {
	var finished *time.Time
	if a.FinishedAt != nil {
		finished = a.FinishedAt
	}

	_, err := s.db.Exec(`
		INSERT INTO attempts (id, org_id, batch_id, package_id, status, error, screenshot, retries, started_at, finished_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			screenshot = excluded.screenshot,
			retries = excluded.retries,
			finished_at = excluded.finished_at,
			duration_ms = excluded.duration_ms
	`,
		a.ID,
		a.OrgID,
		a.BatchID,
		a.PackageID,
		a.Status.HistoryStatus(),
		a.Error,
		a.Screenshot,
		a.Retries,
		a.StartedAt,
		finished,
		a.Duration.Milliseconds(),
	)
	return err
}

// Entry is one recorded attempt as the history store reports it
type Entry struct {
	ID         string        `json:"id"`
	OrgID      string        `json:"org_id"`
	BatchID    string        `json:"batch_id,omitempty"`
	PackageID  string        `json:"package_id"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	Screenshot []byte        `json:"screenshot,omitempty"`
	Retries    int           `json:"retries"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Query returns recorded attempts newest-first
func (s *Store) Query(offset, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, org_id, batch_id, package_id, status, error, screenshot, retries, started_at, finished_at, duration_ms
		FROM attempts
		ORDER BY started_at DESC, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns one attempt by id
func (s *Store) Get(id string) (*Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, org_id, batch_id, package_id, status, error, screenshot, retries, started_at, finished_at, duration_ms
		FROM attempts WHERE id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("attempt %s: %w", id, ErrNotFound)
	}
	return scanEntry(rows)
}

// Prune deletes everything but the most recent keep attempts
func (s *Store) Prune(keep int) error {
	_, err := s.db.Exec(`
		DELETE FROM attempts WHERE id NOT IN (
			SELECT id FROM attempts ORDER BY started_at DESC, id LIMIT ?
		)
	`, keep)
	return err
}

// AppendBatch records a finished batch summary
func (s *Store) AppendBatch(b *domain.BatchRun) error {
	_, err := s.db.Exec(`
		INSERT INTO batches (id, package_id, org_count, concurrency, success_count, failure_count, other_count, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			success_count = excluded.success_count,
			failure_count = excluded.failure_count,
			other_count = excluded.other_count,
			finished_at = excluded.finished_at
	`,
		b.ID,
		b.PackageID,
		len(b.OrgIDs),
		b.Concurrency,
		b.SuccessCount,
		b.FailureCount,
		b.OtherCount,
		b.StartedAt,
		b.FinishedAt,
	)
	return err
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var e Entry
	var batchID, errMsg sql.NullString
	var finished sql.NullTime
	var durationMs int64

	err := rows.Scan(&e.ID, &e.OrgID, &batchID, &e.PackageID, &e.Status, &errMsg, &e.Screenshot, &e.Retries, &e.StartedAt, &finished, &durationMs)
	if err != nil {
		return nil, err
	}

	if batchID.Valid {
		e.BatchID = batchID.String
	}
	if errMsg.Valid {
		e.Error = errMsg.String
	}
	if finished.Valid {
		e.FinishedAt = &finished.Time
	}
	e.Duration = time.Duration(durationMs) * time.Millisecond
	return &e, nil
}
