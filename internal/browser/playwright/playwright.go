// Package playwright drives chromium through the Playwright driver.
package playwright

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecount-runner/internal/browser"
)

// missingExecutable is what Playwright reports when a browser build has
// not been downloaded yet.
const missingExecutable = "Executable doesn't exist"

// Session is a chromium instance owned by a Playwright driver process.
type Session struct {
	opts    browser.Options
	pw      *playwright.Playwright
	browser playwright.Browser
	logger  *zap.Logger
}

var _ browser.Session = (*Session)(nil)

func installChromium() error {
	return playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
}

func isMissing(err error) bool {
	return err != nil && (strings.Contains(err.Error(), missingExecutable) ||
		strings.Contains(err.Error(), "please install the driver"))
}

// withInstall runs attempt and, when allowed and the failure is a missing
// browser or driver, installs chromium once and retries.
func withInstall(logger *zap.Logger, allowed bool, attempt, install func() error) error {
	err := attempt()
	if err == nil || !allowed || !isMissing(err) {
		return err
	}
	logger.Info("installing chromium")
	if ierr := install(); ierr != nil {
		return errors.Join(err, fmt.Errorf("install chromium: %w", ierr))
	}
	return attempt()
}

func launchOptions(opts browser.Options) playwright.BrowserTypeLaunchOptions {
	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	}
	if opts.DisableSearchEngineChoice {
		launch.Args = append(launch.Args, "--"+browser.FlagDisableSearchEngineChoice)
	}
	if opts.NoSandbox {
		launch.Args = append(launch.Args, "--no-sandbox")
	}
	if opts.ExecPath != "" {
		launch.ExecutablePath = playwright.String(opts.ExecPath)
	}
	return launch
}

// Launch starts the driver and chromium. With opts.Install, a missing
// driver or browser build is downloaded before a single retry.
func Launch(ctx context.Context, opts browser.Options, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	var pw *playwright.Playwright
	err := withInstall(logger, opts.Install, func() error {
		var err error
		pw, err = playwright.Run(&playwright.RunOptions{SkipInstallBrowsers: true})
		return err
	}, installChromium)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	var b playwright.Browser
	err = withInstall(logger, opts.Install, func() error {
		var err error
		b, err = pw.Chromium.Launch(launchOptions(opts))
		return err
	}, installChromium)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	logger.Info("browser found", zap.String("engine", "playwright"), zap.String("version", b.Version()))
	return &Session{opts: opts, pw: pw, browser: b, logger: logger}, nil
}

// NewPage opens a tab in a fresh browser context.
func (s *Session) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	var pageOpts playwright.BrowserNewPageOptions
	if s.opts.UserAgent != "" {
		pageOpts.UserAgent = playwright.String(s.opts.UserAgent)
	}
	p, err := s.browser.NewPage(pageOpts)
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &Page{page: p, timeout: s.opts.NavTimeout()}, nil
}

// Close closes chromium and stops the driver.
func (s *Session) Close() error {
	var errs []error
	if err := s.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close chromium: %w", err))
	}
	if err := s.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playwright: %w", err))
	}
	return errors.Join(errs...)
}
