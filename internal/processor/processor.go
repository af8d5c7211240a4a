// Package processor consumes work items: it loads each URL in a browser
// page, counts images and links and writes the counts back to the item.
package processor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagecount-runner/internal/browser"
	"github.com/JakeFAU/pagecount-runner/internal/metrics"
	"github.com/JakeFAU/pagecount-runner/internal/workqueue"
)

// Queue iterates claimed items and owns their completion.
type Queue interface {
	Each(ctx context.Context, fn func(context.Context, *workqueue.Handle)) (int, error)
	Scope(ctx context.Context, h *workqueue.Handle, fn func(context.Context, *workqueue.Handle) error) error
}

// Pacer blocks between items.
type Pacer interface {
	Wait(ctx context.Context) (time.Duration, error)
}

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Summary counts the outcomes of a run. Items whose terminal status could not
// be recorded are counted as Unfinalized rather than Succeeded or Failed.
type Summary struct {
	Processed   int
	Succeeded   int
	Failed      int
	Unfinalized int
}

// statusUnfinalized labels items the backend still reports as in progress.
const statusUnfinalized = "unfinalized"

const tracerName = "github.com/JakeFAU/pagecount-runner/internal/processor"

// Processor visits queued URLs one at a time on a single shared page.
type Processor struct {
	queue  Queue
	page   browser.Page
	pacer  Pacer
	clock  Clock
	tracer trace.Tracer
	logger *zap.Logger
}

// Option customizes a Processor.
type Option func(*Processor)

// WithTracerProvider traces items with tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Processor) {
		p.tracer = tp.Tracer(tracerName)
	}
}

// New constructs a Processor.
func New(queue Queue, page browser.Page, pacer Pacer, clock Clock, logger *zap.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Processor{
		queue:  queue,
		page:   page,
		pacer:  pacer,
		clock:  clock,
		tracer: otel.Tracer(tracerName),
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run drains the queue. Item failures are recorded on the item and never
// stop the run; only errors claiming the next item are returned. Every item
// is followed by exactly one pacing delay.
func (p *Processor) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	n, err := p.queue.Each(ctx, func(ctx context.Context, h *workqueue.Handle) {
		start := p.clock.Now()
		itemCtx, span := p.tracer.Start(ctx, "process item", trace.WithAttributes(
			attribute.String("item.id", h.ID()),
			attribute.String("url", h.Data().URL),
		))
		scopeErr := p.queue.Scope(itemCtx, h, p.process)

		var status string
		switch {
		case !h.Status().Terminal():
			status = statusUnfinalized
			sum.Unfinalized++
			span.RecordError(scopeErr)
			span.SetStatus(codes.Error, "item status not recorded")
			p.logger.Warn("item left unfinalized",
				zap.String("id", h.ID()),
				zap.String("status", string(h.Status())),
				zap.Error(scopeErr),
			)
		case h.Failed():
			status = string(workqueue.StatusFailed)
			sum.Failed++
			span.SetStatus(codes.Error, "item failed")
		default:
			status = string(workqueue.StatusCompleted)
			sum.Succeeded++
		}
		data := h.Data()
		span.SetAttributes(
			attribute.Int("images", data.ImageCount),
			attribute.Int("hrefs", data.HrefCount),
			attribute.String("status", status),
		)
		span.End()
		metrics.ObserveItem(data.URL, status, data.ImageCount, data.HrefCount, p.clock.Now().Sub(start))

		if _, err := p.pacer.Wait(ctx); err != nil {
			p.logger.Warn("pacing interrupted", zap.Error(err))
		}
	})
	sum.Processed = n
	if err != nil {
		return sum, fmt.Errorf("process queue: %w", err)
	}
	return sum, nil
}

// process handles one item inside its scope. Failures are reported through
// the handle rather than returned.
func (p *Processor) process(ctx context.Context, h *workqueue.Handle) error {
	data := h.Data()
	err := p.count(ctx, &data)
	if err == nil {
		h.SetData(data)
		err = h.Update(ctx)
	}
	if err != nil {
		p.logger.Error("failed to process item",
			zap.String("id", h.ID()),
			zap.String("url", data.URL),
			zap.Error(err),
		)
		data.HrefCount = workqueue.HrefCountFailed
		h.SetData(data)
		if uerr := h.Update(context.WithoutCancel(ctx)); uerr != nil {
			p.logger.Warn("failed to record failed counts", zap.String("id", h.ID()), zap.Error(uerr))
		}
		if ferr := h.Fail(ctx, err.Error()); ferr != nil {
			p.logger.Warn("failed to mark item failed", zap.String("id", h.ID()), zap.Error(ferr))
		}
		return nil
	}

	p.logger.Info("processed",
		zap.String("url", data.URL),
		zap.Int("images", data.ImageCount),
		zap.Int("hrefs", data.HrefCount),
	)
	return nil
}

// count fills data progressively, so a failure while counting links leaves
// the image count in place.
func (p *Processor) count(ctx context.Context, data *workqueue.ItemData) error {
	if err := p.page.Goto(ctx, data.URL); err != nil {
		return err
	}

	images, err := p.page.QueryAll(ctx, "img")
	if err != nil {
		return err
	}
	data.ImageCount = len(images)

	anchors, err := p.page.QueryAll(ctx, "a")
	if err != nil {
		return err
	}
	hrefs := 0
	for _, a := range anchors {
		v, ok, err := a.Attribute(ctx, "href")
		if err != nil {
			return err
		}
		if ok && v != "" {
			hrefs++
		}
	}
	data.HrefCount = hrefs
	return nil
}
