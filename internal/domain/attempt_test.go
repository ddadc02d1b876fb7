package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestAttempt_FinishIsIdempotent(t *testing.T) {
	a := &Attempt{ID: "a1", StartedAt: time.Now().Add(-time.Second)}

	a.Finish(StatusCompleted, "")
	first := *a.FinishedAt

	a.Finish(StatusFailed, "late failure")

	if a.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", a.Status, StatusCompleted)
	}
	if !a.FinishedAt.Equal(first) {
		t.Error("FinishedAt changed on second Finish")
	}
	if a.Duration <= 0 {
		t.Errorf("Duration = %v, want > 0", a.Duration)
	}
}

func TestStatus_CountsAsFailure(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusCompleted, false},
		{StatusUserCancelled, false},
		{StatusTimedOut, false},
		{StatusFailed, true},
		{StatusInvalidCredentials, true},
		{StatusControlNotFound, true},
		{StatusVerificationTimeout, true},
		{StatusConfirmationTimeout, true},
	}

	for _, tt := range tests {
		if got := tt.status.CountsAsFailure(); got != tt.want {
			t.Errorf("%s.CountsAsFailure() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestStatus_HistoryStatus(t *testing.T) {
	if got := StatusCompleted.HistoryStatus(); got != "success" {
		t.Errorf("HistoryStatus() = %q, want %q", got, "success")
	}
	if got := StatusControlNotFound.HistoryStatus(); got != "control_not_found" {
		t.Errorf("HistoryStatus() = %q, want %q", got, "control_not_found")
	}
}

func TestBatchRun_Record(t *testing.T) {
	b := &BatchRun{}
	b.Record(&Attempt{Status: StatusCompleted})
	b.Record(&Attempt{Status: StatusFailed})
	b.Record(&Attempt{Status: StatusTimedOut})
	b.Record(&Attempt{Status: StatusUserCancelled})

	if b.SuccessCount != 1 || b.FailureCount != 1 || b.OtherCount != 2 {
		t.Errorf("counts = %d/%d/%d, want 1/1/2", b.SuccessCount, b.FailureCount, b.OtherCount)
	}
	if len(b.Results) != 4 {
		t.Errorf("Results length = %d, want 4", len(b.Results))
	}
}

func TestCredentials_NeverSerialize(t *testing.T) {
	org := Org{
		ID:          "orgA",
		Name:        "Org A",
		URL:         "https://orga.example.com",
		Credentials: Credentials{Username: "admin@orga", Password: "hunter2"},
	}

	data, err := json.Marshal(org)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "hunter2") || strings.Contains(string(data), "admin@orga") {
		t.Errorf("credentials leaked into JSON: %s", data)
	}
	if strings.Contains(org.Credentials.String(), "hunter2") {
		t.Error("credentials leaked into String()")
	}
}
