// Package browser defines the contract the item processor needs from a
// headless browser: open a page, navigate it and read element attributes.
package browser

import (
	"context"
	"errors"
	"time"
)

// FlagDisableSearchEngineChoice suppresses Chrome's first-run search engine
// picker, which otherwise blocks navigation in fresh profiles.
const FlagDisableSearchEngineChoice = "disable-search-engine-choice-screen"

// DefaultNavigationTimeout bounds a single navigation when none is configured.
const DefaultNavigationTimeout = 30 * time.Second

// ErrNavigation marks a failed or timed out page load.
var ErrNavigation = errors.New("navigation failed")

// Options control how an engine launches its browser.
type Options struct {
	Headless                  bool
	DisableSearchEngineChoice bool
	NavigationTimeout         time.Duration
	// ExecPath overrides the browser executable lookup.
	ExecPath string
	// Install lets an engine download chromium when it is missing.
	Install bool
	// NoSandbox is needed when running as root inside containers.
	NoSandbox bool
	UserAgent string
}

// DefaultOptions mirrors the stock launch: headless, no search engine prompt.
func DefaultOptions() Options {
	return Options{
		Headless:                  true,
		DisableSearchEngineChoice: true,
		NavigationTimeout:         DefaultNavigationTimeout,
	}
}

// NavTimeout returns the configured navigation timeout or the default.
func (o Options) NavTimeout() time.Duration {
	if o.NavigationTimeout > 0 {
		return o.NavigationTimeout
	}
	return DefaultNavigationTimeout
}

// Element is a DOM element captured by a query.
type Element interface {
	// Attribute reports the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
}

// Page is a single browser tab reused across work items.
type Page interface {
	// Goto navigates and returns once DOMContentLoaded fired.
	Goto(ctx context.Context, url string) error
	// QueryAll returns every element matching selector, possibly none.
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	Close() error
}

// Session owns a running browser process.
type Session interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}
