// Package memory provides an in-process workqueue backend for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/JakeFAU/pagecount-runner/internal/workqueue"
)

// Queue keeps items in insertion order and hands out new items FIFO.
type Queue struct {
	mu    sync.Mutex
	items []*workqueue.Item
	ids   workqueue.IDGenerator
	seq   int
}

// NewQueue constructs an empty queue. When ids is nil, items get sequential ids.
func NewQueue(ids workqueue.IDGenerator) *Queue {
	return &Queue{ids: ids}
}

// Add appends a new item.
func (q *Queue) Add(ctx context.Context, data workqueue.ItemData, reference string) (workqueue.Item, error) {
	if err := ctx.Err(); err != nil {
		return workqueue.Item{}, fmt.Errorf("add canceled: %w", err)
	}
	id, err := q.nextID()
	if err != nil {
		return workqueue.Item{}, err
	}
	item := &workqueue.Item{
		ID:        id,
		Reference: reference,
		Data:      data,
		Status:    workqueue.StatusNew,
	}
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	return *item, nil
}

// Clear drops every item in the given status.
func (q *Queue) Clear(ctx context.Context, status workqueue.Status) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("clear canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	for _, item := range q.items {
		if item.Status != status {
			kept = append(kept, item)
		}
	}
	clear(q.items[len(kept):])
	q.items = kept
	return nil
}

// Next claims the oldest new item.
func (q *Queue) Next(ctx context.Context) (workqueue.Item, error) {
	if err := ctx.Err(); err != nil {
		return workqueue.Item{}, fmt.Errorf("next canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.Status == workqueue.StatusNew {
			item.Status = workqueue.StatusInProgress
			return *item, nil
		}
	}
	return workqueue.Item{}, workqueue.ErrEmpty
}

// Update replaces the payload of an item.
func (q *Queue) Update(_ context.Context, id string, data workqueue.ItemData, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.find(id)
	if item == nil {
		return fmt.Errorf("%w: %s", workqueue.ErrNotFound, id)
	}
	item.Data = data
	return nil
}

// SetStatus records a status transition.
func (q *Queue) SetStatus(_ context.Context, id string, status workqueue.Status, message string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.find(id)
	if item == nil {
		return fmt.Errorf("%w: %s", workqueue.ErrNotFound, id)
	}
	item.Status = status
	item.Message = message
	return nil
}

// Items returns a snapshot of every stored item in insertion order.
func (q *Queue) Items() []workqueue.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]workqueue.Item, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, *item)
	}
	return out
}

func (q *Queue) find(id string) *workqueue.Item {
	for _, item := range q.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func (q *Queue) nextID() (string, error) {
	if q.ids != nil {
		id, err := q.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("generate item id: %w", err)
		}
		return id, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	return strconv.Itoa(q.seq), nil
}
