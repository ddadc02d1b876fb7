package domain

import "time"

// Attempt represents one end-to-end upgrade run for one org. It is
// created when the upgrade is requested, mutated only by the owning
// state-machine instance, and frozen once a terminal status is set.
type Attempt struct {
	ID         string        `json:"id"`
	OrgID      string        `json:"org_id"`
	BatchID    string        `json:"batch_id,omitempty"`
	PackageID  string        `json:"package_id"`
	Phase      Phase         `json:"phase"`
	Status     Status        `json:"status,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	Screenshot []byte        `json:"screenshot,omitempty"`
	Retries    int           `json:"retries"`
}

// Finish stamps the terminal status and end time exactly once
func (a *Attempt) Finish(status Status, errMsg string) {
	if a.Status.Terminal() {
		return
	}
	now := time.Now()
	a.Status = status
	a.Error = errMsg
	a.FinishedAt = &now
	a.Duration = now.Sub(a.StartedAt)
	a.Phase = PhaseDone
}

// BatchRun aggregates the attempts for one package across many orgs
type BatchRun struct {
	ID           string     `json:"id"`
	PackageID    string     `json:"package_id"`
	OrgIDs       []string   `json:"org_ids"`
	Concurrency  int        `json:"concurrency"`
	Results      []*Attempt `json:"results"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	OtherCount   int        `json:"other_count"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Record folds one finished attempt into the batch tallies
func (b *BatchRun) Record(a *Attempt) {
	b.Results = append(b.Results, a)
	switch {
	case a.Status == StatusCompleted:
		b.SuccessCount++
	case a.Status.CountsAsFailure():
		b.FailureCount++
	default:
		b.OtherCount++
	}
}
