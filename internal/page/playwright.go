package page

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

const (
	defaultViewportWidth  = 1280
	defaultViewportHeight = 800
	textPollInterval      = 500 * time.Millisecond
)

// Driver is the playwright-backed Launcher. One Driver runs one
// playwright process; each Launch gets its own browser, context and
// page so sessions stay isolated.
type Driver struct {
	mu          sync.Mutex
	pw          *playwright.Playwright
	initialized bool
}

// NewDriver creates an unstarted Driver
func NewDriver() *Driver {
	return &Driver{}
}

// Start installs the browser binaries if needed and boots playwright.
// Must be called before Launch.
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nil
	}

	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("installing playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("starting playwright: %w", err)
	}

	d.pw = pw
	d.initialized = true
	return nil
}

// Stop shuts the playwright process down
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil
	}
	d.initialized = false
	return d.pw.Stop()
}

// Launch opens a fresh browser session
func (d *Driver) Launch(opts Options) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil, fmt.Errorf("driver not started")
	}

	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	browser, err := d.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  defaultViewportWidth,
			Height: defaultViewportHeight,
		},
	})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("creating context: %w", err)
	}

	pg, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		return nil, fmt.Errorf("creating page: %w", err)
	}

	pg.SetDefaultTimeout(float64(opts.Timeout.Milliseconds()))

	return &pwSession{
		browser: browser,
		bctx:    bctx,
		page:    pg,
		timeout: opts.Timeout,
	}, nil
}

type pwSession struct {
	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page
	timeout time.Duration
}

func (s *pwSession) Navigate(url string) error {
	resp, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	if resp != nil && resp.Status() >= 400 {
		return fmt.Errorf("navigation to %s returned status %d", url, resp.Status())
	}
	return nil
}

func (s *pwSession) Fill(selector, value string) error {
	if err := s.page.Fill(selector, value); err != nil {
		return fmt.Errorf("fill %s failed: %w", selector, err)
	}
	return nil
}

func (s *pwSession) Click(locators []Locator) error {
	for _, loc := range locators {
		sel := loc.Selector()
		el, err := s.page.QuerySelector(sel)
		if err != nil || el == nil {
			continue
		}
		if err := s.page.Click(sel); err != nil {
			continue
		}
		return nil
	}
	return ErrNoLocatorMatched
}

func (s *pwSession) WaitForAnyText(ctx context.Context, patterns []string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(textPollInterval)
	defer ticker.Stop()

	for {
		text, err := s.Text()
		if err == nil {
			for _, p := range patterns {
				if strings.Contains(text, p) {
					return p, nil
				}
			}
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("none of %d patterns appeared within %s", len(patterns), timeout)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *pwSession) Text() (string, error) {
	body, err := s.page.QuerySelector("body")
	if err != nil {
		return "", fmt.Errorf("body query failed: %w", err)
	}
	if body == nil {
		return "", fmt.Errorf("no body element found")
	}
	text, err := body.TextContent()
	if err != nil {
		return "", fmt.Errorf("text extraction failed: %w", err)
	}
	return text, nil
}

func (s *pwSession) URL() string {
	return s.page.URL()
}

func (s *pwSession) Screenshot() ([]byte, error) {
	data, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}

func (s *pwSession) Close() error {
	_ = s.page.Close() // continue cleanup on error
	_ = s.bctx.Close()
	return s.browser.Close()
}
