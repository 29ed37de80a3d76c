package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mselser95/esports-arb/internal/storage"
	"github.com/mselser95/esports-arb/pkg/types"
)

// MockStorage records stored intents and finals for assertions.
type MockStorage struct {
	mu      sync.Mutex
	intents []*types.OrderIntent
	finals  []*types.TruthFinal
	closed  bool
}

var _ storage.Storage = (*MockStorage)(nil)

// NewMockStorage creates an empty recording storage.
func NewMockStorage() *MockStorage {
	return &MockStorage{}
}

// StoreIntent records the intent.
func (s *MockStorage) StoreIntent(_ context.Context, intent *types.OrderIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.intents = append(s.intents, intent)

	return nil
}

// StoreTruthFinal records the final.
func (s *MockStorage) StoreTruthFinal(_ context.Context, final *types.TruthFinal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finals = append(s.finals, final)

	return nil
}

// Close marks the storage closed.
func (s *MockStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return nil
}

// Intents returns a copy of the recorded order intents.
func (s *MockStorage) Intents() []*types.OrderIntent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.OrderIntent, len(s.intents))
	copy(out, s.intents)

	return out
}

// Finals returns a copy of the recorded truth finals.
func (s *MockStorage) Finals() []*types.TruthFinal {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.TruthFinal, len(s.finals))
	copy(out, s.finals)

	return out
}

// Closed reports whether Close has been called.
func (s *MockStorage) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// WaitFor polls cond until it holds or the timeout expires. Bus dispatch is
// asynchronous, so integration assertions poll instead of sleeping a fixed
// interval.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}

		if time.Now().After(deadline) {
			t.Fatalf("timed out after %v waiting for %s", timeout, msg)
		}

		time.Sleep(10 * time.Millisecond)
	}
}
