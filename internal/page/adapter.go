// Package page defines the narrow capability surface the upgrade
// engine needs from a browser, plus the playwright-backed driver
// that implements it. The engine depends only on these interfaces,
// never on an automation engine's API directly.
package page

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoLocatorMatched is returned by Click when every locator
// strategy in the list has been tried without finding an element.
var ErrNoLocatorMatched = errors.New("no locator strategy matched")

// Strategy names how a locator finds its element
type Strategy string

const (
	// StrategyAttribute matches by a CSS attribute selector
	StrategyAttribute Strategy = "attribute"
	// StrategyText matches by exact visible text
	StrategyText Strategy = "text"
	// StrategyRole matches by ARIA role and accessible name
	StrategyRole Strategy = "role"
)

// Locator is one data-driven element-location strategy. Strategies
// are tried in list order; the first one that resolves wins.
type Locator struct {
	Strategy Strategy `toml:"strategy" json:"strategy"`
	Value    string   `toml:"value" json:"value"`
}

// Selector renders the locator as a playwright-style selector string
func (l Locator) Selector() string {
	switch l.Strategy {
	case StrategyText:
		return fmt.Sprintf("text=%q", l.Value)
	case StrategyRole:
		return fmt.Sprintf("role=button[name=%q]", l.Value)
	default:
		return l.Value
	}
}

// Options configures a launched browser session
type Options struct {
	Headless bool
	// Timeout is the default per-operation timeout
	Timeout time.Duration
}

// Session is one live automated browser page
type Session interface {
	// Navigate opens the URL and waits for the load to settle
	Navigate(url string) error
	// Fill sets the value of the input matching selector
	Fill(selector, value string) error
	// Click tries each locator in order and clicks the first match.
	// Returns ErrNoLocatorMatched when the list is exhausted.
	Click(locators []Locator) error
	// WaitForAnyText blocks until any of the patterns appears in the
	// page text, returning the pattern that matched
	WaitForAnyText(ctx context.Context, patterns []string, timeout time.Duration) (string, error)
	// Text returns the visible text of the page body
	Text() (string, error)
	// URL returns the current page URL
	URL() string
	// Screenshot captures the current viewport as PNG bytes
	Screenshot() ([]byte, error)
	// Close tears the session down
	Close() error
}

// Launcher creates sessions. The browser pool owns the only Launcher
// in a running process.
type Launcher interface {
	Launch(opts Options) (Session, error)
}
