package playwright

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/JakeFAU/pagecount-runner/internal/browser"
)

// Page wraps a Playwright page. Playwright calls are not context aware, so
// the context is checked up front and its deadline caps the timeout.
type Page struct {
	page    playwright.Page
	timeout time.Duration
}

var _ browser.Page = (*Page)(nil)

// minTimeout keeps a short remaining deadline from reaching Playwright as 0,
// which it reads as no timeout at all.
const minTimeout = time.Millisecond

// timeoutFor caps the navigation timeout by ctx's deadline. It fails when the
// deadline has already passed.
func (p *Page) timeoutFor(ctx context.Context) (time.Duration, error) {
	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		left := time.Until(deadline)
		if left <= 0 {
			return 0, context.DeadlineExceeded
		}
		if left < timeout {
			timeout = left
		}
	}
	return max(timeout, minTimeout), nil
}

// Goto navigates and waits for DOMContentLoaded.
func (p *Page) Goto(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", browser.ErrNavigation, url, err)
	}
	timeout, err := p.timeoutFor(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", browser.ErrNavigation, url, err)
	}
	_, err = p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", browser.ErrNavigation, url, err)
	}
	return nil
}

// QueryAll returns every element matching selector.
func (p *Page) QueryAll(ctx context.Context, selector string) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	handles, err := p.page.QuerySelectorAll(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	out := make([]browser.Element, 0, len(handles))
	for _, h := range handles {
		out = append(out, element{handle: h})
	}
	return out, nil
}

// Close closes the tab.
func (p *Page) Close() error {
	if err := p.page.Close(); err != nil {
		return fmt.Errorf("close tab: %w", err)
	}
	return nil
}

type element struct {
	handle playwright.ElementHandle
}

// Attribute reports an empty value as absent; Playwright returns "" for
// both a missing and an empty attribute.
func (e element) Attribute(ctx context.Context, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	v, err := e.handle.GetAttribute(name)
	if err != nil {
		return "", false, fmt.Errorf("read attribute %q: %w", name, err)
	}
	return v, v != "", nil
}
