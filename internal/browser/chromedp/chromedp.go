// Package chromedp drives Chrome over the DevTools protocol.
package chromedp

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecount-runner/internal/browser"
)

// Session is a running Chrome instance.
type Session struct {
	opts        browser.Options
	allocCancel context.CancelFunc
	browserCtx  context.Context
	cancel      context.CancelFunc
	logger      *zap.Logger
}

var _ browser.Session = (*Session)(nil)

// allocatorOptions builds the exec allocator flags for opts.
func allocatorOptions(opts browser.Options) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if opts.Headless {
		out = append(out, chromedp.Flag("headless", "new"))
	} else {
		out = append(out, chromedp.Flag("headless", false))
	}
	out = append(out,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if opts.DisableSearchEngineChoice {
		out = append(out, chromedp.Flag(browser.FlagDisableSearchEngineChoice, true))
	}
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.NoSandbox {
		out = append(out, chromedp.NoSandbox)
	}
	if opts.UserAgent != "" {
		out = append(out, chromedp.UserAgent(opts.UserAgent))
	}
	return out
}

// Launch starts Chrome and waits until it accepts commands. The browser
// lives until Close; canceling ctx only aborts a launch in progress.
func Launch(ctx context.Context, opts browser.Options, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocatorOptions(opts)...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	// The first Run allocates the browser and binds it to browserCtx, so it
	// must not carry a deadline.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	logger.Info("browser found", zap.String("engine", "chromedp"), zap.Bool("headless", opts.Headless))
	return &Session{
		opts:        opts,
		allocCancel: allocCancel,
		browserCtx:  browserCtx,
		cancel:      cancel,
		logger:      logger,
	}, nil
}

// NewPage opens a tab.
func (s *Session) NewPage(ctx context.Context) (browser.Page, error) {
	tabCtx, cancel := chromedp.NewContext(s.browserCtx)
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &Page{ctx: tabCtx, cancel: cancel, timeout: s.opts.NavTimeout()}, nil
}

// Close shuts Chrome down and releases the allocator.
func (s *Session) Close() error {
	err := chromedp.Cancel(s.browserCtx)
	s.cancel()
	s.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}
