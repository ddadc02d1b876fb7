package domain

// Phase represents where an attempt currently is in the upgrade workflow
type Phase string

const (
	PhaseStarting             Phase = "starting"
	PhaseNavigating           Phase = "navigating"
	PhaseLoggingIn            Phase = "logging_in"
	PhaseAwaitingVerification Phase = "awaiting_verification"
	PhaseNavigatingToPackage  Phase = "navigating_to_package"
	PhaseExtractingVersion    Phase = "extracting_version"
	PhaseAwaitingConfirmation Phase = "awaiting_confirmation"
	PhaseFindingControl       Phase = "finding_upgrade_control"
	PhaseUpgrading            Phase = "upgrading"
	PhaseDone                 Phase = "done"
)

// Status represents the terminal outcome of an attempt.
// The empty string means the attempt is still live.
type Status string

const (
	StatusCompleted           Status = "completed"
	StatusFailed              Status = "failed"
	StatusTimedOut            Status = "timed_out"
	StatusUserCancelled       Status = "user_cancelled"
	StatusVerificationTimeout Status = "verification_timeout"
	StatusConfirmationTimeout Status = "confirmation_timeout"
	StatusControlNotFound     Status = "control_not_found"
	StatusInvalidCredentials  Status = "invalid_credentials"
)

// Terminal reports whether the status is a final outcome
func (s Status) Terminal() bool {
	return s != ""
}

// CountsAsFailure reports whether the status counts against the
// failure tally. Cancellation is a user decision and an upgrade
// timeout is ambiguous (the upgrade may still have gone through),
// so neither is counted as a failure.
func (s Status) CountsAsFailure() bool {
	switch s {
	case StatusCompleted, StatusUserCancelled, StatusTimedOut, "":
		return false
	}
	return true
}

// HistoryStatus returns the label recorded in the history store
func (s Status) HistoryStatus() string {
	if s == StatusCompleted {
		return "success"
	}
	return string(s)
}

// EventType classifies status events on the notification channel
type EventType string

const (
	EventPhase                 EventType = "phase"
	EventVerificationRequired  EventType = "verification-required"
	EventConfirmationRequired  EventType = "version-confirmation-required"
	EventScreenshot            EventType = "screenshot"
	EventAttemptFinished       EventType = "attempt-finished"
	EventBatchProgress         EventType = "batch-progress"
	EventBatchFinished         EventType = "batch-finished"
	EventCriticalError         EventType = "critical-error"
)

// InputKind identifies the kind of externally supplied input an
// attempt may block on
type InputKind string

const (
	InputVerificationCode InputKind = "verification-code"
	InputConfirmation     InputKind = "confirmation"
)
