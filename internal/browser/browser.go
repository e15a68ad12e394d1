// Package browser provides the Chrome automation session the provisioning
// strategies drive. One session per platform; a persistent profile
// directory keeps the login across runs.
package browser

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/addrbook/provisioner/internal/config"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Session wraps a chromedp browser context bound to one platform profile
type Session struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	cfg         config.BrowserConfig
	platform    string
	freshLogin  bool
}

// HasSavedSession reports whether a persisted profile exists for the
// platform, i.e. whether the interactive login can be skipped.
func HasSavedSession(cfg config.BrowserConfig, platform string) bool {
	info, err := os.Stat(filepath.Join(cfg.SessionDir, platform))
	return err == nil && info.IsDir()
}

// New starts a browser session using the platform's profile directory
func New(cfg config.BrowserConfig, platform string) (*Session, error) {
	profileDir := filepath.Join(cfg.SessionDir, platform)
	fresh := !HasSavedSession(cfg, platform)
	if err := os.MkdirAll(profileDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.UserAgent(userAgent),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserDataDir(profileDir),
		chromedp.Flag("lang", "en-US"),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	return &Session{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
		cfg:         cfg,
		platform:    platform,
		freshLogin:  fresh,
	}, nil
}

// Close cleans up browser resources
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}

// Context returns the browser context for direct chromedp listeners
func (s *Session) Context() context.Context {
	return s.ctx
}

// NeedsLogin reports whether this session started without a saved profile
func (s *Session) NeedsLogin() bool {
	return s.freshLogin
}

func (s *Session) timeout() time.Duration {
	return time.Duration(s.cfg.TimeoutSec) * time.Second
}

func (s *Session) run(actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout())
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

// Navigate loads a URL and waits for the document body
func (s *Session) Navigate(url string) error {
	if err := s.run(chromedp.Navigate(url), chromedp.WaitReady("body")); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Reload refreshes the current page
func (s *Session) Reload() error {
	return s.run(chromedp.Reload(), chromedp.WaitReady("body"))
}

// Click clicks the first visible node matching the selector
func (s *Session) Click(selector string) error {
	return s.run(chromedp.Click(selector, chromedp.NodeVisible))
}

// Fill replaces the value of an input
func (s *Session) Fill(selector, value string) error {
	return s.run(
		chromedp.WaitVisible(selector),
		chromedp.Clear(selector),
		chromedp.SendKeys(selector, value),
	)
}

// PressEnter confirms a dropdown or form selection
func (s *Session) PressEnter() error {
	return s.run(chromedp.KeyEvent("\r"))
}

// Visible reports whether a node matching the selector is currently present
// and visible, resolving within the given wait.
func (s *Session) Visible(selector string, wait time.Duration) bool {
	ctx, cancel := context.WithTimeout(s.ctx, wait)
	defer cancel()
	err := chromedp.Run(ctx, chromedp.WaitVisible(selector))
	return err == nil
}

// Eval runs a JavaScript expression and unmarshals the result
func (s *Session) Eval(expr string, out any) error {
	return s.run(chromedp.Evaluate(expr, out))
}

// CaptureHTML returns the current page HTML
func (s *Session) CaptureHTML() (string, error) {
	var html string
	err := s.run(chromedp.OuterHTML("html", &html))
	return html, err
}

// Screenshot saves a full-page capture for failed-unit review. Best effort:
// a screenshot failure is logged, never propagated.
func (s *Session) Screenshot(suffix string) string {
	if s.cfg.ScreenshotDir == "" {
		return ""
	}

	var buf []byte
	if err := s.run(chromedp.FullScreenshot(&buf, 90)); err != nil {
		log.Printf("Warning: screenshot failed: %v", err)
		return ""
	}
	if err := os.MkdirAll(s.cfg.ScreenshotDir, 0755); err != nil {
		log.Printf("Warning: screenshot dir: %v", err)
		return ""
	}

	name := fmt.Sprintf("%s_%s_%d.png", s.platform, suffix, time.Now().Unix())
	path := filepath.Join(s.cfg.ScreenshotDir, name)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		log.Printf("Warning: screenshot write: %v", err)
		return ""
	}
	return path
}

// InteractiveLogin opens the login page and waits for the operator to
// finish signing in, detected by the URL reaching the success prefix. The
// profile directory persists the resulting session.
func (s *Session) InteractiveLogin(loginURL, successPrefix string, timeout time.Duration) error {
	if err := s.Navigate(loginURL); err != nil {
		return err
	}

	log.Printf("Waiting for operator login at %s (up to %s)...", loginURL, timeout)

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var location string
		if err := s.Eval("window.location.href", &location); err == nil {
			if strings.HasPrefix(location, successPrefix) {
				log.Printf("Session established for %s", s.platform)
				return nil
			}
		}
		time.Sleep(2 * time.Second)
	}

	return fmt.Errorf("login not completed within %s", timeout)
}
