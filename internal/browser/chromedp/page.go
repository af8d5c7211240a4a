package chromedp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/pagecount-runner/internal/browser"
)

// Page is one Chrome tab.
type Page struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

var _ browser.Page = (*Page)(nil)

// scope derives a context bound to both the tab and the caller.
func (p *Page) scope(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// loadWaiter records DOMContentLoaded lifecycle events per loader so a
// navigation only completes on the document it started.
type loadWaiter struct {
	mu     sync.Mutex
	fired  map[cdp.LoaderID]cdp.FrameID
	notify chan struct{}
}

func newLoadWaiter() *loadWaiter {
	return &loadWaiter{
		fired:  make(map[cdp.LoaderID]cdp.FrameID),
		notify: make(chan struct{}, 1),
	}
}

func (w *loadWaiter) observe(ev any) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok || e.Name != "DOMContentLoaded" {
		return
	}
	w.mu.Lock()
	w.fired[e.LoaderID] = e.FrameID
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *loadWaiter) seen(frame cdp.FrameID, loader cdp.LoaderID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	got, ok := w.fired[loader]
	return ok && got == frame
}

// wait blocks until frame reports DOMContentLoaded for loader.
func (w *loadWaiter) wait(ctx context.Context, frame cdp.FrameID, loader cdp.LoaderID) error {
	for !w.seen(frame, loader) {
		select {
		case <-w.notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Goto navigates and waits for DOMContentLoaded of the new document, not the
// full load event.
func (p *Page) Goto(ctx context.Context, url string) error {
	runCtx, cancel := p.scope(ctx, p.timeout)
	defer cancel()

	waiter := newLoadWaiter()
	chromedp.ListenTarget(runCtx, waiter.observe)

	var res page.NavigateReturns
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return err
		}
		if err := cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), &res); err != nil {
			return err
		}
		if res.ErrorText != "" {
			return errors.New(res.ErrorText)
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", browser.ErrNavigation, url, err)
	}
	// Same-document navigations have no loader and fire no lifecycle events.
	if res.LoaderID == "" {
		return nil
	}

	if err := waiter.wait(runCtx, res.FrameID, res.LoaderID); err != nil {
		return fmt.Errorf("%w: %s: timeout %s exceeded: %w", browser.ErrNavigation, url, p.timeout, err)
	}
	return nil
}

// QueryAll returns all nodes matching selector in the current document.
func (p *Page) QueryAll(ctx context.Context, selector string) ([]browser.Element, error) {
	runCtx, cancel := p.scope(ctx, p.timeout)
	defer cancel()

	var nodes []*cdp.Node
	if err := chromedp.Run(runCtx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	out := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, element{node: n})
	}
	return out, nil
}

// Close closes the tab.
func (p *Page) Close() error {
	p.cancel()
	return nil
}

type element struct {
	node *cdp.Node
}

// Attribute reads from the attributes captured with the node.
func (e element) Attribute(_ context.Context, name string) (string, bool, error) {
	v, ok := e.node.Attribute(name)
	return v, ok, nil
}
