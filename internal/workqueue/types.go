// Package workqueue defines the work item model shared by every queue backend
// and the scoped lifecycle that finalizes each consumed item exactly once.
package workqueue

import (
	"context"
	"errors"
)

// Status is the lifecycle state of a work item as reported by the queue service.
type Status string

// Work item status values used by the Automation Server workqueue API.
const (
	StatusNew               Status = "new"
	StatusInProgress        Status = "in progress"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusPendingUserAction Status = "pending user action"
)

// Terminal reports whether no further transition is expected from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// HrefCountFailed is written to ItemData.HrefCount when processing an item fails.
const HrefCountFailed = -1

// ErrEmpty is returned by Backend.Next when no pending item remains.
var ErrEmpty = errors.New("workqueue is empty")

// ErrNotFound is returned when an operation targets an unknown item id.
var ErrNotFound = errors.New("work item not found")

// ItemData is the payload carried by every work item.
type ItemData struct {
	URL        string `json:"url"`
	ImageCount int    `json:"imagecount"`
	HrefCount  int    `json:"hrefcount"`
}

// NewItemData returns the payload a freshly seeded item starts with.
func NewItemData(url string) ItemData {
	return ItemData{URL: url}
}

// Item is a single unit of work as stored by a backend.
type Item struct {
	ID        string
	Reference string
	Data      ItemData
	Status    Status
	Message   string
}

// Backend is the queue service contract consumed by this module.
type Backend interface {
	// Add enqueues a new item with the given payload and reference.
	Add(ctx context.Context, data ItemData, reference string) (Item, error)
	// Clear removes every item currently in the given status.
	Clear(ctx context.Context, status Status) error
	// Next claims the next pending item. It returns ErrEmpty when none remain.
	Next(ctx context.Context) (Item, error)
	// Update replaces the payload of an item. reference is the item's
	// existing reference and is never derived from data.
	Update(ctx context.Context, id string, data ItemData, reference string) error
	// SetStatus records a status transition with an optional message.
	SetStatus(ctx context.Context, id string, status Status, message string) error
}

// IDGenerator produces identifiers for backends that assign their own ids.
type IDGenerator interface {
	NewID() (string, error)
}
