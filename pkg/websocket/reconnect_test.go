package websocket

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestReconnectManager(t *testing.T, jitter float64) *ReconnectManager {
	t.Helper()

	return NewReconnectManager(ReconnectConfig{
		Name:              "grid",
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          400 * time.Millisecond,
		BackoffMultiplier: 2.0,
		JitterPercent:     jitter,
	}, zaptest.NewLogger(t))
}

func TestBackoffWithoutJitterIsExact(t *testing.T) {
	t.Parallel()

	rm := newTestReconnectManager(t, 0)

	if got := rm.nextBackoff(); got != 100*time.Millisecond {
		t.Errorf("nextBackoff() = %v, want 100ms", got)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	rm := newTestReconnectManager(t, 0)

	want := []time.Duration{
		200 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond, // capped
	}

	for i, expected := range want {
		rm.incrementBackoff()

		if got := rm.nextBackoff(); got != expected {
			t.Errorf("backoff after %d increments = %v, want %v", i+1, got, expected)
		}
	}
}

func TestBackoffJitterStaysInBand(t *testing.T) {
	t.Parallel()

	rm := newTestReconnectManager(t, 0.2)

	min := 100 * time.Millisecond
	max := 120 * time.Millisecond

	for i := 0; i < 50; i++ {
		if got := rm.nextBackoff(); got < min || got > max {
			t.Fatalf("jittered backoff = %v, want within [%v, %v]", got, min, max)
		}
	}
}

func TestResetReturnsToInitialDelay(t *testing.T) {
	t.Parallel()

	rm := newTestReconnectManager(t, 0)

	rm.incrementBackoff()
	rm.incrementBackoff()
	rm.Reset()

	if got := rm.nextBackoff(); got != 100*time.Millisecond {
		t.Errorf("backoff after reset = %v, want 100ms", got)
	}
}

func TestReconnectHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	rm := newTestReconnectManager(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rm.Reconnect(ctx, func(context.Context) error {
		t.Error("connect func ran on cancelled context")

		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Reconnect() error = %v, want context.Canceled", err)
	}
}

func TestReconnectRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	rm := NewReconnectManager(ReconnectConfig{
		Name:              "grid",
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		JitterPercent:     0,
	}, zaptest.NewLogger(t))

	attempts := 0
	connect := func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}

		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rm.Reconnect(ctx, connect); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}

	// Success resets the backoff for the next outage.
	if got := rm.nextBackoff(); got != time.Millisecond {
		t.Errorf("backoff after success = %v, want 1ms", got)
	}
}
