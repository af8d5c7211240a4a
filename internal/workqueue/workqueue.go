package workqueue

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Workqueue wraps a Backend with iteration and per-item lifecycle handling.
type Workqueue struct {
	backend Backend
	logger  *zap.Logger
}

// New constructs a Workqueue over backend.
func New(backend Backend, logger *zap.Logger) *Workqueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workqueue{
		backend: backend,
		logger:  logger,
	}
}

// Add enqueues a new item.
func (q *Workqueue) Add(ctx context.Context, data ItemData, reference string) (Item, error) {
	item, err := q.backend.Add(ctx, data, reference)
	if err != nil {
		return Item{}, fmt.Errorf("add item %q: %w", reference, err)
	}
	return item, nil
}

// Clear removes every item in the given status.
func (q *Workqueue) Clear(ctx context.Context, status Status) error {
	if err := q.backend.Clear(ctx, status); err != nil {
		return fmt.Errorf("clear %q items: %w", status, err)
	}
	return nil
}

// Each claims pending items one at a time and hands each to fn until the
// backend reports the queue is drained. It returns the number of items
// visited. Errors raised while claiming an item end the iteration; fn owns
// every error of the item it was given.
func (q *Workqueue) Each(ctx context.Context, fn func(context.Context, *Handle)) (int, error) {
	visited := 0
	for {
		if err := ctx.Err(); err != nil {
			return visited, fmt.Errorf("iteration canceled: %w", err)
		}
		item, err := q.backend.Next(ctx)
		if errors.Is(err, ErrEmpty) {
			return visited, nil
		}
		if err != nil {
			return visited, fmt.Errorf("next item: %w", err)
		}
		visited++
		q.logger.Debug("claimed item", zap.String("id", item.ID), zap.String("reference", item.Reference))
		fn(ctx, newHandle(q.backend, item))
	}
}

// Scope runs fn while owning h's completion. When fn returns, h is finalized:
// as failed if Fail was called, fn returned an error, or fn panicked, and as
// completed otherwise. Finalization runs even when ctx is canceled.
func (q *Workqueue) Scope(ctx context.Context, h *Handle, fn func(context.Context, *Handle) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing item %s: %v", h.ID(), r)
		}
		if ferr := h.finalize(context.WithoutCancel(ctx), err); ferr != nil {
			q.logger.Error("finalize item failed",
				zap.String("id", h.ID()),
				zap.String("status", string(h.Status())),
				zap.Error(ferr),
			)
			err = errors.Join(err, ferr)
		}
	}()
	return fn(ctx, h)
}
