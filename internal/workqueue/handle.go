package workqueue

import (
	"context"
	"fmt"
)

// Handle is the consumer's view of a claimed item. It is not safe for
// concurrent use.
type Handle struct {
	backend   Backend
	item      Item
	failed    bool
	reason    string
	finalized bool
}

func newHandle(backend Backend, item Item) *Handle {
	return &Handle{backend: backend, item: item}
}

// ID returns the backend identifier of the item.
func (h *Handle) ID() string { return h.item.ID }

// Reference returns the item's reference.
func (h *Handle) Reference() string { return h.item.Reference }

// Data returns a copy of the item's local payload.
func (h *Handle) Data() ItemData { return h.item.Data }

// SetData replaces the local payload without persisting it.
func (h *Handle) SetData(data ItemData) { h.item.Data = data }

// Status returns the last status recorded for the item.
func (h *Handle) Status() Status { return h.item.Status }

// Failed reports whether the item has been marked failed.
func (h *Handle) Failed() bool { return h.failed }

// Update persists the local payload to the queue.
func (h *Handle) Update(ctx context.Context) error {
	if err := h.backend.Update(ctx, h.item.ID, h.item.Data, h.item.Reference); err != nil {
		return fmt.Errorf("update item %s: %w", h.item.ID, err)
	}
	return nil
}

// Fail marks the item failed with reason. The failure is recorded locally
// even when the backend call errors, so the enclosing scope retries it
// instead of completing the item.
func (h *Handle) Fail(ctx context.Context, reason string) error {
	h.failed = true
	h.reason = reason
	return h.setTerminal(ctx, StatusFailed, reason)
}

func (h *Handle) finalize(ctx context.Context, bodyErr error) error {
	if h.finalized {
		return nil
	}
	if bodyErr != nil && !h.failed {
		h.failed = true
		h.reason = bodyErr.Error()
	}
	if h.failed {
		return h.setTerminal(ctx, StatusFailed, h.reason)
	}
	return h.setTerminal(ctx, StatusCompleted, "")
}

func (h *Handle) setTerminal(ctx context.Context, status Status, message string) error {
	if err := h.backend.SetStatus(ctx, h.item.ID, status, message); err != nil {
		return fmt.Errorf("set item %s status %q: %w", h.item.ID, status, err)
	}
	h.item.Status = status
	h.item.Message = message
	h.finalized = true
	return nil
}
