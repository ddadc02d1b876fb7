package upgrader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forcetools/orgupgrader/internal/browserpool"
	"github.com/forcetools/orgupgrader/internal/domain"
	"github.com/forcetools/orgupgrader/internal/page"
	"github.com/forcetools/orgupgrader/internal/status"
)

// History is the persistence collaborator for terminal outcomes
type History interface {
	Append(a *domain.Attempt) error
}

// Machine runs upgrade attempts. One Machine serves all orgs; each
// Run drives one attempt with its own pool handle.
type Machine struct {
	pool    *browserpool.Pool
	status  *status.Channel
	history History
	profile Profile
}

// New creates a Machine
func New(pool *browserpool.Pool, st *status.Channel, history History, profile Profile) *Machine {
	return &Machine{pool: pool, status: st, history: history, profile: profile}
}

// Run drives one attempt for one org to a terminal outcome. The
// returned error is non-nil only when the browser pool was exhausted,
// which is surfaced to the caller without internal retry; every other
// outcome lands on the attempt itself, with exactly one history entry
// and one final status event.
func (m *Machine) Run(ctx context.Context, org domain.Org, packageID, sessionID, batchID string) (*domain.Attempt, error) {
	a := &domain.Attempt{
		ID:        uuid.New().String(),
		OrgID:     org.ID,
		BatchID:   batchID,
		PackageID: packageID,
		Phase:     domain.PhaseStarting,
		StartedAt: time.Now(),
	}

	for instance := 1; ; instance++ {
		err := m.runOnce(ctx, a, org, sessionID)
		if err == nil {
			m.finish(a, sessionID, domain.StatusCompleted, "", nil)
			return a, nil
		}

		if errors.Is(err, browserpool.ErrResourceExhausted) {
			return a, err
		}

		var se *stepError
		if !errors.As(err, &se) {
			se = fatal(domain.StatusFailed, err, nil)
		}

		if se.retryable && instance < m.profile.MaxRetries {
			a.Retries = instance
			a.Phase = domain.PhaseStarting
			log.Printf("upgrader: attempt %s for org %s failed (%v), restarting %d/%d", a.ID, org.ID, se.err, instance+1, m.profile.MaxRetries)
			select {
			case <-time.After(m.profile.RetryBackoff):
				continue
			case <-ctx.Done():
				m.finish(a, sessionID, domain.StatusFailed, ctx.Err().Error(), se.screenshot)
				return a, nil
			}
		}

		m.finish(a, sessionID, se.status, se.Error(), se.screenshot)
		return a, nil
	}
}

// finish is the single terminal-handling path: stamp the outcome,
// write one history entry and emit one final status event.
func (m *Machine) finish(a *domain.Attempt, sessionID string, st domain.Status, errMsg string, screenshot []byte) {
	if len(screenshot) > 0 && len(a.Screenshot) == 0 {
		a.Screenshot = screenshot
	}
	a.Finish(st, errMsg)

	if err := m.history.Append(a); err != nil {
		log.Printf("upgrader: recording attempt %s: %v", a.ID, err)
	}

	msg := fmt.Sprintf("upgrade %s", st)
	if errMsg != "" {
		msg = fmt.Sprintf("upgrade %s: %s", st, errMsg)
	}
	m.status.Publish(sessionID, domain.StatusEvent{
		OrgID:      a.OrgID,
		UpgradeID:  a.ID,
		BatchID:    a.BatchID,
		Type:       domain.EventAttemptFinished,
		Phase:      domain.PhaseDone,
		Message:    msg,
		Screenshot: a.Screenshot,
		Detail:     map[string]string{"status": string(st)},
	})
}

// runOnce executes one attempt instance through the phase pipeline.
// Every returned error other than pool exhaustion is a *stepError.
func (m *Machine) runOnce(ctx context.Context, a *domain.Attempt, org domain.Org, sessionID string) (err error) {
	r := &run{m: m, a: a, org: org, sessionID: sessionID}
	r.setPhase(domain.PhaseStarting, "acquiring browser session")

	handle, aerr := m.pool.Acquire()
	if aerr != nil {
		if errors.Is(aerr, browserpool.ErrResourceExhausted) {
			return aerr
		}
		return retryable(aerr, nil)
	}
	defer m.pool.Release(handle)
	r.sess = handle.Session

	// Unexpected failures anywhere in the pipeline terminate this
	// attempt, never the coordinator.
	defer func() {
		if rec := recover(); rec != nil {
			err = fatal(domain.StatusFailed, fmt.Errorf("unexpected error in phase %s: %v", a.Phase, rec), r.shot())
		}
	}()

	if err := r.navigate(ctx); err != nil {
		return err
	}
	needsVerification, err := r.logIn(ctx)
	if err != nil {
		return err
	}
	if needsVerification {
		if err := r.verifyIdentity(ctx); err != nil {
			return err
		}
	}
	installed, target, err := r.openPackagePage(ctx)
	if err != nil {
		return err
	}
	if err := r.confirmVersions(ctx, installed, target); err != nil {
		return err
	}
	if err := r.findUpgradeControl(); err != nil {
		return err
	}
	return r.performUpgrade(ctx)
}

// run is the per-instance state: one attempt, one org, one session
type run struct {
	m         *Machine
	a         *domain.Attempt
	org       domain.Org
	sessionID string
	sess      page.Session
}

func (r *run) setPhase(p domain.Phase, msg string) {
	r.a.Phase = p
	r.m.status.Publish(r.sessionID, domain.StatusEvent{
		OrgID:     r.org.ID,
		UpgradeID: r.a.ID,
		BatchID:   r.a.BatchID,
		Type:      domain.EventPhase,
		Phase:     p,
		Message:   msg,
	})
}

// shot captures a screenshot best-effort
func (r *run) shot() []byte {
	if r.sess == nil {
		return nil
	}
	data, err := r.sess.Screenshot()
	if err != nil {
		return nil
	}
	return data
}

func (r *run) navigate(ctx context.Context) error {
	p := r.m.profile
	r.setPhase(domain.PhaseNavigating, "opening "+r.org.URL)

	if err := r.sess.Navigate(r.org.URL); err != nil {
		return retryable(err, r.shot())
	}

	text, err := r.sess.Text()
	if err != nil {
		return retryable(err, r.shot())
	}

	if _, found := containsAny(text, p.LoginFormMarkers); !found {
		// Not on a credential form yet: follow an explicit login
		// link, or fall back to the derived login URL.
		if err := r.sess.Click(p.LoginLinkLocators); err != nil {
			loginURL := strings.TrimRight(r.org.URL, "/") + p.LoginPath
			if err := r.sess.Navigate(loginURL); err != nil {
				return retryable(fmt.Errorf("reaching login form: %w", err), r.shot())
			}
		}
	}
	return nil
}

// logIn submits credentials. It reports whether the org requires
// identity verification before proceeding.
func (r *run) logIn(ctx context.Context) (bool, error) {
	p := r.m.profile
	r.setPhase(domain.PhaseLoggingIn, "submitting credentials")

	if err := r.sess.Fill(p.UsernameSelector, r.org.Credentials.Username); err != nil {
		return false, retryable(err, r.shot())
	}
	if err := r.sess.Fill(p.PasswordSelector, r.org.Credentials.Password); err != nil {
		return false, retryable(err, r.shot())
	}
	if err := r.sess.Click(p.SubmitLocators); err != nil {
		return false, retryable(fmt.Errorf("submitting login form: %w", err), r.shot())
	}

	waitSet := make([]string, 0, len(p.PostLoginMarkers)+len(p.LoginErrorMarkers)+len(p.VerificationMarkers))
	waitSet = append(waitSet, p.PostLoginMarkers...)
	waitSet = append(waitSet, p.LoginErrorMarkers...)
	waitSet = append(waitSet, p.VerificationMarkers...)

	matched, err := r.sess.WaitForAnyText(ctx, waitSet, p.LoginTimeout)
	if err != nil {
		if strings.Contains(r.sess.URL(), p.LoginURLPattern) {
			return false, fatal(domain.StatusInvalidCredentials, fmt.Errorf("still on login page after submit"), r.shot())
		}
		return false, retryable(fmt.Errorf("post-submit wait: %w", err), r.shot())
	}

	if _, bad := containsAny(matched, p.LoginErrorMarkers); bad {
		return false, fatal(domain.StatusInvalidCredentials, fmt.Errorf("login rejected: %s", matched), r.shot())
	}
	if _, verify := containsAny(matched, p.VerificationMarkers); verify {
		return true, nil
	}
	return false, nil
}

func (r *run) verifyIdentity(ctx context.Context) error {
	p := r.m.profile
	r.setPhase(domain.PhaseAwaitingVerification, "identity verification required")

	r.m.status.Publish(r.sessionID, domain.StatusEvent{
		OrgID:      r.org.ID,
		UpgradeID:  r.a.ID,
		BatchID:    r.a.BatchID,
		Type:       domain.EventVerificationRequired,
		Phase:      domain.PhaseAwaitingVerification,
		Message:    "enter the verification code sent by the org",
		Screenshot: r.shot(),
	})

	code, err := r.m.status.AwaitInput(ctx, r.sessionID, r.a.ID, domain.InputVerificationCode, p.InputTimeout)
	if err != nil {
		if errors.Is(err, status.ErrInputTimeout) {
			return fatal(domain.StatusVerificationTimeout, fmt.Errorf("no verification code within %s", p.InputTimeout), nil)
		}
		return fatal(domain.StatusFailed, err, nil)
	}

	if err := r.sess.Fill(p.VerificationCodeSelector, code); err != nil {
		return retryable(err, r.shot())
	}
	if err := r.sess.Click(p.VerificationSubmitLocators); err != nil {
		return retryable(fmt.Errorf("submitting verification code: %w", err), r.shot())
	}
	if _, err := r.sess.WaitForAnyText(ctx, p.PostLoginMarkers, p.LoginTimeout); err != nil {
		return retryable(fmt.Errorf("post-verification wait: %w", err), r.shot())
	}
	return nil
}

func (r *run) openPackagePage(ctx context.Context) (installed, target string, err error) {
	p := r.m.profile
	r.setPhase(domain.PhaseNavigatingToPackage, "opening package install page")

	packageURL := strings.TrimRight(r.org.URL, "/") + fmt.Sprintf(p.PackagePathTemplate, r.a.PackageID)
	if err := r.sess.Navigate(packageURL); err != nil {
		return "", "", retryable(fmt.Errorf("opening package page: %w", err), r.shot())
	}

	r.setPhase(domain.PhaseExtractingVersion, "reading version information")
	text, err := r.sess.Text()
	if err != nil {
		return "", "", retryable(err, r.shot())
	}

	installed = firstGroup(p.InstalledVersionPattern, text)
	target = firstGroup(p.TargetVersionPattern, text)
	return installed, target, nil
}

func (r *run) confirmVersions(ctx context.Context, installed, target string) error {
	p := r.m.profile
	if !p.ConfirmVersions {
		return nil
	}
	if installed == "" || target == "" {
		// Fail-open: without both versions there is nothing to
		// confirm, so the upgrade proceeds.
		log.Printf("upgrader: attempt %s: version parse incomplete (installed=%q target=%q), proceeding without confirmation", r.a.ID, installed, target)
		return nil
	}

	r.setPhase(domain.PhaseAwaitingConfirmation, fmt.Sprintf("confirm upgrade %s -> %s", installed, target))
	r.m.status.Publish(r.sessionID, domain.StatusEvent{
		OrgID:     r.org.ID,
		UpgradeID: r.a.ID,
		BatchID:   r.a.BatchID,
		Type:      domain.EventConfirmationRequired,
		Phase:     domain.PhaseAwaitingConfirmation,
		Message:   fmt.Sprintf("upgrade from %s to %s?", installed, target),
		Detail:    map[string]string{"installed_version": installed, "target_version": target},
	})

	answer, err := r.m.status.AwaitInput(ctx, r.sessionID, r.a.ID, domain.InputConfirmation, p.InputTimeout)
	if err != nil {
		if errors.Is(err, status.ErrInputTimeout) {
			return fatal(domain.StatusConfirmationTimeout, fmt.Errorf("no confirmation within %s", p.InputTimeout), nil)
		}
		return fatal(domain.StatusFailed, err, nil)
	}

	if !isAccept(answer) {
		return fatal(domain.StatusUserCancelled, fmt.Errorf("operator declined the upgrade"), nil)
	}
	return nil
}

func (r *run) findUpgradeControl() error {
	p := r.m.profile
	r.setPhase(domain.PhaseFindingControl, "locating upgrade control")

	if err := r.sess.Click(p.UpgradeControlLocators); err != nil {
		if errors.Is(err, page.ErrNoLocatorMatched) {
			return fatal(domain.StatusControlNotFound, fmt.Errorf("upgrade control not found after %d strategies", len(p.UpgradeControlLocators)), r.shot())
		}
		return retryable(err, r.shot())
	}
	return nil
}

func (r *run) performUpgrade(ctx context.Context) error {
	p := r.m.profile
	r.setPhase(domain.PhaseUpgrading, "upgrade started, watching for outcome")

	waitSet := make([]string, 0, len(p.SuccessMarkers)+len(p.FailureMarkers))
	waitSet = append(waitSet, p.SuccessMarkers...)
	waitSet = append(waitSet, p.FailureMarkers...)

	matched, err := r.sess.WaitForAnyText(ctx, waitSet, p.MaxUpgradeDuration)
	if err != nil {
		if ctx.Err() != nil {
			return fatal(domain.StatusFailed, ctx.Err(), nil)
		}
		// Ambiguous: the upgrade may still complete server-side, so
		// this is reported distinctly from a failure.
		return fatal(domain.StatusTimedOut, fmt.Errorf("no outcome within %s, verify manually", p.MaxUpgradeDuration), r.shot())
	}

	if _, failed := containsAny(matched, p.FailureMarkers); failed {
		return fatal(domain.StatusFailed, fmt.Errorf("upgrade failed: %s", matched), r.shot())
	}
	return nil
}

// containsAny returns the first marker found in text
func containsAny(text string, markers []string) (string, bool) {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return m, true
		}
	}
	return "", false
}

// firstGroup returns the first capture group of the pattern, or ""
func firstGroup(re *regexp.Regexp, text string) string {
	if re == nil {
		return ""
	}
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func isAccept(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "accept", "yes", "y", "true", "confirm":
		return true
	}
	return false
}
