// Package bus implements the partitioned event bus. Every event names a
// partition key; each partition is a bounded FIFO served by one consumer
// goroutine, so handlers observe per-partition publish order and may assume
// serial execution per key. Handler failures retry with exponential backoff
// and exhausted retries land in an unbounded dead letter queue.
package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/esports-arb/pkg/clock"
	"github.com/mselser95/esports-arb/pkg/types"
)

// OverflowPolicy selects what Publish does when a partition queue is full.
type OverflowPolicy string

const (
	// PolicyDrop discards the incoming event and logs.
	PolicyDrop OverflowPolicy = "drop"
	// PolicyCoalesce merges the incoming event into the newest pending event
	// of the same kind; without a Coalescer it behaves like drop.
	PolicyCoalesce OverflowPolicy = "coalesce"
	// PolicyBlock suspends the publisher until the partition has room.
	PolicyBlock OverflowPolicy = "block"
	// PolicyHalt refuses the event with a BackpressureError the caller must
	// treat as fatal for that partition.
	PolicyHalt OverflowPolicy = "halt"
)

// Handler processes one event. A non-nil error triggers the retry loop and,
// once retries are exhausted, a DLQ record.
type Handler func(ctx context.Context, ev types.Event) error

// Coalescer merges an incoming event into the newest pending event of the
// same kind when a partition is full under the coalesce policy. It returns
// the event that replaces the pending one.
type Coalescer func(pending, incoming types.Event) types.Event

// Subscription is the stable handle returned by Subscribe and consumed by
// Unsubscribe. Two subscriptions with the same name share one delivery slot
// per event.
type Subscription struct {
	Kind     types.EventKind
	Name     string
	Priority int

	fn  Handler
	seq uint64
}

// FailedEvent is one DLQ record: an event a handler could not process within
// its retry budget.
type FailedEvent struct {
	Event        types.Event
	HandlerName  string
	ErrorMessage string
	FailedAt     time.Time
	AttemptCount int
	PartitionKey string
}

// Config holds the configuration for the event bus.
type Config struct {
	Logger           *zap.Logger
	Clock            clock.Clock
	MaxQueueSize     int
	OverflowPolicy   OverflowPolicy
	HandlerTimeout   time.Duration
	MaxRetryAttempts int
	RetryBaseDelay   time.Duration

	// Coalescer is consulted under the coalesce policy. Nil keeps the
	// drop-equivalent fallback.
	Coalescer Coalescer
}

// Bus delivers events to subscribed handlers with per-partition FIFO
// ordering.
type Bus struct {
	logger           *zap.Logger
	clock            clock.Clock
	maxQueueSize     int
	policy           OverflowPolicy
	handlerTimeout   time.Duration
	maxRetryAttempts int
	retryBaseDelay   time.Duration
	coalescer        Coalescer

	mu         sync.RWMutex
	running    bool
	partitions map[string]*partition
	ctx        context.Context
	cancel     context.CancelFunc

	subMu   sync.RWMutex
	subs    map[types.EventKind][]*Subscription
	nextSeq uint64

	dlqMu sync.Mutex
	dlq   []FailedEvent

	wg sync.WaitGroup
}

// New creates a new event bus.
func New(cfg *Config) (*Bus, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock cannot be nil")
	}

	if cfg.MaxQueueSize <= 0 {
		return nil, fmt.Errorf("max queue size must be positive, got %d", cfg.MaxQueueSize)
	}

	if cfg.MaxRetryAttempts <= 0 {
		return nil, fmt.Errorf("max retry attempts must be positive, got %d", cfg.MaxRetryAttempts)
	}

	policy := cfg.OverflowPolicy
	if policy == "" {
		policy = PolicyDrop
	}

	switch policy {
	case PolicyDrop, PolicyCoalesce, PolicyBlock, PolicyHalt:
	default:
		return nil, fmt.Errorf("unknown overflow policy %q", policy)
	}

	handlerTimeout := cfg.HandlerTimeout
	if handlerTimeout <= 0 {
		handlerTimeout = 5 * time.Second
	}

	retryBaseDelay := cfg.RetryBaseDelay
	if retryBaseDelay <= 0 {
		retryBaseDelay = 100 * time.Millisecond
	}

	return &Bus{
		logger:           cfg.Logger,
		clock:            cfg.Clock,
		maxQueueSize:     cfg.MaxQueueSize,
		policy:           policy,
		handlerTimeout:   handlerTimeout,
		maxRetryAttempts: cfg.MaxRetryAttempts,
		retryBaseDelay:   retryBaseDelay,
		coalescer:        cfg.Coalescer,
		partitions:       make(map[string]*partition),
		subs:             make(map[types.EventKind][]*Subscription),
	}, nil
}

// Start launches one consumer per known partition and begins accepting
// publishes. Starting a running bus is a no-op.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	b.running = true

	for _, p := range b.partitions {
		b.wg.Add(1)
		go b.consume(b.ctx, p)
	}

	b.logger.Info("event-bus-started",
		zap.String("overflow_policy", string(b.policy)),
		zap.Int("max_queue_size", b.maxQueueSize),
		zap.Int("max_retry_attempts", b.maxRetryAttempts),
	)

	return nil
}

// Stop cancels consumers and in-flight handlers cooperatively and waits for
// them to finish. Events still queued are discarded. Stopping a stopped bus
// is a no-op.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}

	b.running = false
	cancel := b.cancel
	b.mu.Unlock()

	cancel()
	b.wg.Wait()

	b.logger.Info("event-bus-stopped", zap.Int("dlq_size", b.DLQSize()))
}

// Subscribe registers fn for events of the given kind and every kind
// descending from it. Handlers for one event run in descending priority;
// ties keep registration order. The returned handle is the only way to
// unsubscribe.
func (b *Bus) Subscribe(kind types.EventKind, name string, priority int, fn Handler) *Subscription {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	sub := &Subscription{
		Kind:     kind,
		Name:     name,
		Priority: priority,
		fn:       fn,
		seq:      b.nextSeq,
	}
	b.nextSeq++
	b.subs[kind] = append(b.subs[kind], sub)

	return sub
}

// Unsubscribe removes the handler identified by sub. It reports whether the
// handle was found.
func (b *Bus) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}

	b.subMu.Lock()
	defer b.subMu.Unlock()

	list := b.subs[sub.Kind]
	for i, s := range list {
		if s == sub {
			b.subs[sub.Kind] = append(list[:i], list[i+1:]...)
			return true
		}
	}

	return false
}

// Publish enqueues ev on its partition and reports acceptance. A false
// return means the overflow policy rejected the event or the bus is not
// running; use PublishE when the cause matters.
func (b *Bus) Publish(ev types.Event) bool {
	accepted, _ := b.PublishE(ev)
	return accepted
}

// PublishE is Publish with the rejection cause: types.ErrBusStopped when the
// bus is not running, a *types.BackpressureError when a full partition under
// the halt policy refuses the event. Drop and coalesce rejections carry no
// error and are reported by the bool alone.
func (b *Bus) PublishE(ev types.Event) (bool, error) {
	b.mu.RLock()
	if !b.running {
		b.mu.RUnlock()
		return false, types.ErrBusStopped
	}
	ctx := b.ctx
	b.mu.RUnlock()

	p := b.partitionFor(ev.PartitionKey())
	if p.tryPush(ev, b.maxQueueSize) {
		EventsPublishedTotal.WithLabelValues(string(ev.Kind())).Inc()
		return true, nil
	}

	switch b.policy {
	case PolicyCoalesce:
		if b.coalescer != nil && p.coalesceInto(ev, b.coalescer) {
			EventsCoalescedTotal.Inc()
			return true, nil
		}
		b.rejected(PolicyCoalesce, p.key, ev)
		return false, nil

	case PolicyBlock:
		for {
			select {
			case <-ctx.Done():
				EventsRejectedTotal.WithLabelValues(string(PolicyBlock)).Inc()
				return false, types.ErrBusStopped
			case <-p.spaceReady:
			}

			if p.tryPush(ev, b.maxQueueSize) {
				EventsPublishedTotal.WithLabelValues(string(ev.Kind())).Inc()
				return true, nil
			}
		}

	case PolicyHalt:
		EventsRejectedTotal.WithLabelValues(string(PolicyHalt)).Inc()
		b.logger.Error("bus-partition-full",
			zap.String("partition", p.key),
			zap.String("kind", string(ev.Kind())),
		)
		return false, &types.BackpressureError{Partition: p.key}

	default: // drop
		b.rejected(PolicyDrop, p.key, ev)
		return false, nil
	}
}

func (b *Bus) rejected(policy OverflowPolicy, partitionKey string, ev types.Event) {
	EventsRejectedTotal.WithLabelValues(string(policy)).Inc()
	b.logger.Warn("bus-event-dropped",
		zap.String("partition", partitionKey),
		zap.String("kind", string(ev.Kind())),
		zap.String("event_id", ev.EventID()),
	)
}

// GetDLQEvents drains the dead letter queue and returns its records in
// failure order.
func (b *Bus) GetDLQEvents() []FailedEvent {
	b.dlqMu.Lock()
	out := b.dlq
	b.dlq = nil
	b.dlqMu.Unlock()

	DLQDepth.Set(0)

	return out
}

// ReplayDLQEvent re-publishes the inner event of a DLQ record.
func (b *Bus) ReplayDLQEvent(failed FailedEvent) bool {
	return b.Publish(failed.Event)
}

// DLQSize reports the number of parked failed events.
func (b *Bus) DLQSize() int {
	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()

	return len(b.dlq)
}

// QueueDepths snapshots the pending-event count of every partition.
func (b *Bus) QueueDepths() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]int, len(b.partitions))
	for key, p := range b.partitions {
		out[key] = p.depth()
	}

	return out
}

// partitionFor returns the partition for key, creating it and its consumer
// on first use.
func (b *Bus) partitionFor(key string) *partition {
	b.mu.RLock()
	p, ok := b.partitions[key]
	b.mu.RUnlock()
	if ok {
		return p
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok = b.partitions[key]; ok {
		return p
	}

	p = newPartition(key)
	b.partitions[key] = p
	if b.running {
		b.wg.Add(1)
		go b.consume(b.ctx, p)
	}

	b.logger.Debug("bus-partition-created", zap.String("partition", key))

	return p
}

// consume serves one partition: pop in FIFO order, dispatch, repeat. The
// wait is interruptible so a stop request is observed promptly.
func (b *Bus) consume(ctx context.Context, p *partition) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev, ok := p.tryPop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-p.dataReady:
			}
			continue
		}

		b.dispatch(ctx, p.key, ev)
	}
}

// dispatch runs every matching handler for ev in order. A failing handler
// lands in the DLQ after its retry budget; it never stalls the partition.
func (b *Bus) dispatch(ctx context.Context, partitionKey string, ev types.Event) {
	handlers := b.handlersFor(ev.Kind())
	if len(handlers) == 0 {
		return
	}

	EventsDispatchedTotal.WithLabelValues(string(ev.Kind())).Inc()

	for _, sub := range handlers {
		b.runHandler(ctx, partitionKey, sub, ev)
	}
}

// handlersFor assembles the ordered handler list for an event kind: every
// subscription whose kind the event's kind equals or descends from, sorted
// by priority descending with registration order breaking ties, handler
// names deduplicated keeping the first instance after sorting.
func (b *Bus) handlersFor(kind types.EventKind) []*Subscription {
	b.subMu.RLock()
	var matched []*Subscription
	for subKind, list := range b.subs {
		if kind.Is(subKind) {
			matched = append(matched, list...)
		}
	}
	b.subMu.RUnlock()

	if len(matched) == 0 {
		return nil
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].seq < matched[j].seq
	})

	seen := make(map[string]struct{}, len(matched))
	out := matched[:0]
	for _, s := range matched {
		if _, dup := seen[s.Name]; dup {
			continue
		}
		seen[s.Name] = struct{}{}
		out = append(out, s)
	}

	return out
}

// runHandler executes one handler with retries. Each attempt runs under a
// fresh handler timeout; between attempts it sleeps retryBaseDelay·2^attempt.
// Cancellation from Stop aborts without retry and without a DLQ record.
func (b *Bus) runHandler(ctx context.Context, partitionKey string, sub *Subscription, ev types.Event) {
	var lastErr error

	for attempt := 0; attempt < b.maxRetryAttempts; attempt++ {
		startNs := b.clock.MonotonicNs()
		err := b.attempt(ctx, sub, ev)
		if err == nil {
			HandlerDurationSeconds.Observe(float64(b.clock.MonotonicNs()-startNs) / 1e9)
			return
		}

		if ctx.Err() != nil {
			return
		}

		lastErr = err
		b.logger.Warn("bus-handler-attempt-failed",
			zap.String("handler", sub.Name),
			zap.String("kind", string(ev.Kind())),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		if attempt < b.maxRetryAttempts-1 {
			HandlerRetriesTotal.Inc()

			delay := b.retryBaseDelay * (1 << attempt)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}

	b.deadLetter(partitionKey, sub, ev, lastErr)
}

// attempt runs the handler once under a fresh per-attempt deadline. A
// handler that ignores its context still only charges the handler timeout
// against this attempt.
func (b *Bus) attempt(ctx context.Context, sub *Subscription, ev types.Event) error {
	attemptCtx, cancel := context.WithTimeout(ctx, b.handlerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- sub.fn(attemptCtx, ev)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return types.ErrHandlerTimeout
	}
}

func (b *Bus) deadLetter(partitionKey string, sub *Subscription, ev types.Event, cause error) {
	failed := FailedEvent{
		Event:        ev,
		HandlerName:  sub.Name,
		ErrorMessage: cause.Error(),
		FailedAt:     b.clock.Now().WallTime,
		AttemptCount: b.maxRetryAttempts,
		PartitionKey: partitionKey,
	}

	b.dlqMu.Lock()
	b.dlq = append(b.dlq, failed)
	size := len(b.dlq)
	b.dlqMu.Unlock()

	DLQDepth.Set(float64(size))
	HandlerFailuresTotal.WithLabelValues(sub.Name).Inc()

	b.logger.Error("bus-handler-exhausted-retries",
		zap.String("handler", sub.Name),
		zap.String("event_id", ev.EventID()),
		zap.String("kind", string(ev.Kind())),
		zap.String("partition", partitionKey),
		zap.Int("attempts", b.maxRetryAttempts),
		zap.Error(cause),
	)
}

// partition is one bounded FIFO plus its wakeup channels. items is guarded
// by mu; dataReady and spaceReady hold at most one pending pulse so pushes
// and pops never block on notification.
type partition struct {
	key        string
	mu         sync.Mutex
	items      []types.Event
	dataReady  chan struct{}
	spaceReady chan struct{}
}

func newPartition(key string) *partition {
	return &partition{
		key:        key,
		dataReady:  make(chan struct{}, 1),
		spaceReady: make(chan struct{}, 1),
	}
}

// tryPush appends ev if the queue has room.
func (p *partition) tryPush(ev types.Event, maxSize int) bool {
	p.mu.Lock()
	if len(p.items) >= maxSize {
		p.mu.Unlock()
		return false
	}
	p.items = append(p.items, ev)
	depth := len(p.items)
	p.mu.Unlock()

	QueueDepth.WithLabelValues(p.key).Set(float64(depth))
	pulse(p.dataReady)

	return true
}

// coalesceInto replaces the newest pending event of ev's kind with the merge
// of the two. It reports whether a merge happened.
func (p *partition) coalesceInto(ev types.Event, merge Coalescer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := len(p.items) - 1; i >= 0; i-- {
		if p.items[i].Kind() == ev.Kind() {
			p.items[i] = merge(p.items[i], ev)
			return true
		}
	}

	return false
}

// tryPop removes and returns the oldest pending event.
func (p *partition) tryPop() (types.Event, bool) {
	p.mu.Lock()
	if len(p.items) == 0 {
		p.mu.Unlock()
		return nil, false
	}
	ev := p.items[0]
	p.items[0] = nil
	p.items = p.items[1:]
	depth := len(p.items)
	p.mu.Unlock()

	QueueDepth.WithLabelValues(p.key).Set(float64(depth))
	pulse(p.spaceReady)

	return ev, true
}

func (p *partition) depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.items)
}

func pulse(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
