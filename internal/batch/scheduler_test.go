package batch

import (
	"testing"
	"time"

	"github.com/forcetools/orgupgrader/internal/config"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 22 * * *", false},   // 10 PM daily
		{"0 12 * * 1-5", false}, // noon weekdays
		{"*/5 * * * *", false},  // every 5 minutes
		{"invalid", true},
	}

	for _, tt := range tests {
		_, err := ParseCron(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestBatchConfig_Validate(t *testing.T) {
	cfg := BatchConfig{
		Name:        "overnight",
		Cron:        "0 22 * * *",
		OrgIDs:      []string{"org-a", "org-b"},
		PackageID:   "04tKb000000J8s9",
		Concurrency: 2,
		MaxDuration: config.Duration(8 * time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Valid config should not error: %v", err)
	}

	cfg.Name = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Empty name should error")
	}

	cfg.Name = "overnight"
	cfg.PackageID = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Empty package id should error")
	}

	cfg.PackageID = "04tKb000000J8s9"
	cfg.OrgIDs = nil
	if err := cfg.Validate(); err == nil {
		t.Error("Empty org list should error")
	}
}

func TestBatchConfig_ValidateDefaults(t *testing.T) {
	cfg := BatchConfig{
		Name:      "nightly",
		Cron:      "0 3 * * *",
		OrgIDs:    []string{"org-a"},
		PackageID: "04tKb000000J8s9",
	}

	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Concurrency != 2 {
		t.Errorf("Concurrency default = %d, want 2", cfg.Concurrency)
	}
	if cfg.MaxDuration.Std() != 4*time.Hour {
		t.Errorf("MaxDuration default = %v, want 4h", cfg.MaxDuration.Std())
	}
}

func TestBatchScheduler_NextRun(t *testing.T) {
	cfg := BatchConfig{
		Name:      "test",
		Cron:      "0 22 * * *", // 10 PM daily
		OrgIDs:    []string{"org-a"},
		PackageID: "04tKb000000J8s9",
	}

	sched, err := NewScheduler([]BatchConfig{cfg})
	if err != nil {
		t.Fatal(err)
	}

	next := sched.NextRun("test")
	if next.IsZero() {
		t.Error("NextRun should return a time")
	}

	// Should be in the future
	if !next.After(time.Now()) {
		t.Error("NextRun should be in the future")
	}
}

func TestBatchScheduler_ShouldRun(t *testing.T) {
	cfg := BatchConfig{
		Name:        "test",
		Cron:        "* * * * *", // Every minute
		OrgIDs:      []string{"org-a"},
		PackageID:   "04tKb000000J8s9",
		MaxDuration: config.Duration(time.Hour),
	}

	sched, err := NewScheduler([]BatchConfig{cfg})
	if err != nil {
		t.Fatal(err)
	}

	// Mark as last run a minute ago
	sched.lastRun["test"] = time.Now().Add(-2 * time.Minute)

	if !sched.ShouldRun("test") {
		t.Error("Should run after cron interval passed")
	}
}

func TestBatchScheduler_ShouldRunSkipsRunning(t *testing.T) {
	cfg := BatchConfig{
		Name:      "test",
		Cron:      "* * * * *",
		OrgIDs:    []string{"org-a"},
		PackageID: "04tKb000000J8s9",
	}

	sched, err := NewScheduler([]BatchConfig{cfg})
	if err != nil {
		t.Fatal(err)
	}
	sched.lastRun["test"] = time.Now().Add(-2 * time.Minute)

	sched.MarkRunning("test")
	if sched.ShouldRun("test") {
		t.Error("Should not run while already running")
	}

	sched.MarkComplete("test")
	if sched.ShouldRun("test") {
		t.Error("Should not run immediately after completion")
	}
}
