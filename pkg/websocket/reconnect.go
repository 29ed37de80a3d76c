package websocket

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReconnectConfig holds the configuration for exponential backoff reconnection.
type ReconnectConfig struct {
	// Name identifies the feed in metrics.
	Name              string
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterPercent     float64 // 0.2 = 20%
}

// ReconnectManager retries a connect function with jittered exponential
// backoff until it succeeds or the context ends.
type ReconnectManager struct {
	config ReconnectConfig
	logger *zap.Logger

	mu             sync.Mutex
	currentBackoff time.Duration
}

// NewReconnectManager creates a new reconnection manager.
func NewReconnectManager(cfg ReconnectConfig, logger *zap.Logger) *ReconnectManager {
	return &ReconnectManager{
		config:         cfg,
		logger:         logger,
		currentBackoff: cfg.InitialDelay,
	}
}

// Reconnect attempts the connect function until it succeeds. Each failure
// grows the next delay by the multiplier up to MaxDelay; success resets it.
func (rm *ReconnectManager) Reconnect(ctx context.Context, connectFunc func(context.Context) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		backoff := rm.nextBackoff()

		rm.logger.Info("attempting-reconnection", zap.Duration("backoff", backoff))
		ReconnectAttemptsTotal.WithLabelValues(rm.config.Name).Inc()

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		err := connectFunc(ctx)
		if err == nil {
			rm.Reset()
			rm.logger.Info("reconnection-successful")

			return nil
		}

		rm.logger.Warn("reconnection-failed", zap.Error(err))
		ReconnectFailuresTotal.WithLabelValues(rm.config.Name).Inc()

		rm.incrementBackoff()
	}
}

// Reset returns the backoff to the initial delay.
func (rm *ReconnectManager) Reset() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.currentBackoff = rm.config.InitialDelay
}

// nextBackoff returns the current backoff with jitter applied:
// backoff * (1 + random(0, JitterPercent)).
func (rm *ReconnectManager) nextBackoff() time.Duration {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	jitter := rand.Float64() * rm.config.JitterPercent

	return time.Duration(float64(rm.currentBackoff) * (1.0 + jitter))
}

// incrementBackoff grows the backoff by the multiplier, capped at MaxDelay.
func (rm *ReconnectManager) incrementBackoff() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	next := time.Duration(float64(rm.currentBackoff) * rm.config.BackoffMultiplier)
	if next > rm.config.MaxDelay {
		next = rm.config.MaxDelay
	}

	rm.currentBackoff = next
}
