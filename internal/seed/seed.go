// Package seed resets a workqueue to a known list of URLs.
package seed

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagecount-runner/internal/metrics"
	"github.com/JakeFAU/pagecount-runner/internal/workqueue"
)

// DefaultSites is the stock seed list, in insertion order.
var DefaultSites = []string{
	"https://www.cnn.com",
	"https://www.bbc.com",
	"https://www.nytimes.com",
	"https://www.theguardian.com",
	"https://www.reuters.com",
	"https://www.washingtonpost.com",
	"https://www.aljazeera.com",
	"https://www.foxnews.com",
	"https://www.nbcnews.com",
	"https://www.usatoday.com",
}

// Queue is the part of the workqueue seeding needs.
type Queue interface {
	Clear(ctx context.Context, status workqueue.Status) error
	Add(ctx context.Context, data workqueue.ItemData, reference string) (workqueue.Item, error)
}

// Failure records one URL that could not be enqueued.
type Failure struct {
	// Index is the 1-based position of URL in the seed list.
	Index int
	URL   string
	Err   error
}

// Result summarizes a seeding run.
type Result struct {
	Attempted int
	Added     int
	Failures  []Failure
}

// Populator clears pending items and enqueues the seed list.
type Populator struct {
	queue  Queue
	urls   []string
	logger *zap.Logger
}

// New builds a Populator. An empty urls falls back to DefaultSites.
func New(queue Queue, urls []string, logger *zap.Logger) *Populator {
	if len(urls) == 0 {
		urls = DefaultSites
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Populator{
		queue:  queue,
		urls:   append([]string(nil), urls...),
		logger: logger,
	}
}

// URLs returns the list Run enqueues.
func (p *Populator) URLs() []string {
	return append([]string(nil), p.urls...)
}

// Run clears every item still in status new, then adds one item per URL with
// zeroed counts and the URL as reference. Items in other statuses are left
// alone. A failed add is logged and skipped; a failed clear aborts the run.
func (p *Populator) Run(ctx context.Context) (Result, error) {
	if err := p.queue.Clear(ctx, workqueue.StatusNew); err != nil {
		return Result{}, fmt.Errorf("clear pending items: %w", err)
	}

	var res Result
	for i, u := range p.urls {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("seeding canceled after %d of %d: %w", res.Attempted, len(p.urls), err)
		}
		res.Attempted++
		if _, err := p.queue.Add(ctx, workqueue.NewItemData(u), u); err != nil {
			p.logger.Error("failed to add item",
				zap.Int("index", i+1),
				zap.String("url", u),
				zap.Error(err),
			)
			res.Failures = append(res.Failures, Failure{Index: i + 1, URL: u, Err: err})
			metrics.ObserveSeed("failed")
			continue
		}
		res.Added++
		metrics.ObserveSeed("added")
	}
	p.logger.Info("queue seeded",
		zap.Int("attempted", res.Attempted),
		zap.Int("added", res.Added),
		zap.Int("failed", len(res.Failures)),
	)
	return res, nil
}
