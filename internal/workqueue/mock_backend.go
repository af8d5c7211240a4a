package workqueue

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockBackend is a mock implementation of the Backend interface for testing.
type MockBackend struct {
	mock.Mock
}

// Add is the mock implementation of the Add method.
func (m *MockBackend) Add(ctx context.Context, data ItemData, reference string) (Item, error) {
	args := m.Called(ctx, data, reference)
	item, _ := args.Get(0).(Item)
	return item, args.Error(1)
}

// Clear is the mock implementation of the Clear method.
func (m *MockBackend) Clear(ctx context.Context, status Status) error {
	args := m.Called(ctx, status)
	return args.Error(0)
}

// Next is the mock implementation of the Next method.
func (m *MockBackend) Next(ctx context.Context) (Item, error) {
	args := m.Called(ctx)
	item, _ := args.Get(0).(Item)
	return item, args.Error(1)
}

// Update is the mock implementation of the Update method.
func (m *MockBackend) Update(ctx context.Context, id string, data ItemData, reference string) error {
	args := m.Called(ctx, id, data, reference)
	return args.Error(0)
}

// SetStatus is the mock implementation of the SetStatus method.
func (m *MockBackend) SetStatus(ctx context.Context, id string, status Status, message string) error {
	args := m.Called(ctx, id, status, message)
	return args.Error(0)
}
