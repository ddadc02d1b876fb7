// Package upgrader drives one org's package upgrade from start to a
// terminal outcome: a multi-phase state machine over a browser
// session with two human-in-the-loop blocking points, retry and
// failure classification, and exactly-once history accounting.
package upgrader

import (
	"regexp"
	"time"

	"github.com/forcetools/orgupgrader/internal/page"
)

// Profile is the deployment-specific matching policy: which page
// markers, selectors and timeouts drive the one fixed workflow. It is
// data, not code, so the same machine serves every deployment variant
// and tests drive it through a fake adapter.
type Profile struct {
	// Navigating
	LoginFormMarkers []string
	LoginLinkLocators []page.Locator
	// LoginPath is appended to the org URL when no login link exists
	LoginPath string

	// LoggingIn
	UsernameSelector string
	PasswordSelector string
	SubmitLocators   []page.Locator
	LoginURLPattern  string
	LoginErrorMarkers []string
	PostLoginMarkers  []string

	// AwaitingVerification
	VerificationMarkers        []string
	VerificationCodeSelector   string
	VerificationSubmitLocators []page.Locator

	// NavigatingToPackage / ExtractingVersion
	// PackagePathTemplate receives the package id via fmt.Sprintf
	PackagePathTemplate     string
	InstalledVersionPattern *regexp.Regexp
	TargetVersionPattern    *regexp.Regexp

	// ConfirmVersions requires operator confirmation when both
	// versions parse. When parsing fails the upgrade proceeds
	// without confirmation (fail-open, an explicit policy here).
	ConfirmVersions bool

	// FindingUpgradeControl
	UpgradeControlLocators []page.Locator

	// Upgrading
	SuccessMarkers []string
	FailureMarkers []string

	// Timeouts and retry
	LoginTimeout       time.Duration
	InputTimeout       time.Duration
	MaxUpgradeDuration time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
}

// DefaultProfile returns the matching policy for the stock workflow
func DefaultProfile() Profile {
	return Profile{
		LoginFormMarkers: []string{"Username", "Password"},
		LoginLinkLocators: []page.Locator{
			{Strategy: page.StrategyText, Value: "Log In"},
			{Strategy: page.StrategyAttribute, Value: "a[href*='login']"},
		},
		LoginPath: "/login",

		UsernameSelector: "input#username",
		PasswordSelector: "input#password",
		SubmitLocators: []page.Locator{
			{Strategy: page.StrategyAttribute, Value: "input#Login"},
			{Strategy: page.StrategyRole, Value: "Log In"},
		},
		LoginURLPattern:   "/login",
		LoginErrorMarkers: []string{"check your username and password", "login attempt has failed"},
		PostLoginMarkers:  []string{"Home", "Setup", "Logout"},

		VerificationMarkers:      []string{"Verify Your Identity", "verification code"},
		VerificationCodeSelector: "input#emc",
		VerificationSubmitLocators: []page.Locator{
			{Strategy: page.StrategyAttribute, Value: "input#save"},
			{Strategy: page.StrategyText, Value: "Verify"},
		},

		PackagePathTemplate:     "/packaging/installPackage.apexp?p0=%s",
		InstalledVersionPattern: regexp.MustCompile(`Installed\s*\(Version\s*([0-9.]+)\)`),
		TargetVersionPattern:    regexp.MustCompile(`Version\s*([0-9.]+)\s*\(Release`),
		ConfirmVersions:         true,

		UpgradeControlLocators: []page.Locator{
			{Strategy: page.StrategyAttribute, Value: "input[title='Upgrade']"},
			{Strategy: page.StrategyText, Value: "Upgrade"},
			{Strategy: page.StrategyRole, Value: "Upgrade"},
		},

		SuccessMarkers: []string{"Upgrade Complete", "successfully installed", "Installation Complete"},
		FailureMarkers: []string{"Upgrade Failed", "Installation Errors", "Problem:"},

		LoginTimeout:       30 * time.Second,
		InputTimeout:       120 * time.Second,
		MaxUpgradeDuration: 10 * time.Minute,
		MaxRetries:         3,
		RetryBackoff:       5 * time.Second,
	}
}
