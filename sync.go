package gatherly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Gateway is the subset of the REST API the sync core depends on.
// *Client implements it.
type Gateway interface {
	ListEvents(ctx context.Context) ([]Event, error)
	CreateEvent(ctx context.Context, draft EventDraft) (*Event, error)
	JoinEvent(ctx context.Context, eventID int64) error
	LeaveEvent(ctx context.Context, eventID int64) error
}

// State is a snapshot of the sync core's reactive surface.
type State struct {
	Events  []Event
	Loading bool
	Err     error
}

// ============================================================================
// Event Emitter
// ============================================================================

// EventHandler handles named sync core notifications.
type EventHandler func(event string, payload any)

type emitter struct {
	mu        sync.RWMutex
	listeners map[string][]EventHandler
}

func (e *emitter) On(event string, handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], handler)
}

func (e *emitter) emit(event string, payload any) {
	e.mu.RLock()
	handlers := e.listeners[event]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() { recover() }() // swallow panics in user callbacks
			h(event, payload)
		}()
	}
}

func (e *emitter) removeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[string][]EventHandler)
}

// SyncResult is the payload of the "sync.complete" event.
type SyncResult struct {
	Replayed int
	Failed   int
}

// ============================================================================
// Sync Core
// ============================================================================

// SyncOption configures a SyncCore.
type SyncOption func(*SyncCore)

func WithLogger(logger *slog.Logger) SyncOption {
	return func(c *SyncCore) { c.logger = logger }
}

func WithMetrics(m *Metrics) SyncOption {
	return func(c *SyncCore) { c.metrics = m }
}

// WithOperationTimeout bounds every store, probe and gateway call.
func WithOperationTimeout(d time.Duration) SyncOption {
	return func(c *SyncCore) { c.timeout = d }
}

func WithClock(now func() time.Time) SyncOption {
	return func(c *SyncCore) { c.now = now }
}

// SyncCore owns the local view of events and the offline action outbox.
type SyncCore struct {
	emitter
	store   SecureStore
	probe   Probe
	gateway Gateway
	outbox  *outbox

	logger  *slog.Logger
	metrics *Metrics
	timeout time.Duration
	now     func() time.Time

	// eventsMu serializes writers of the collection so the cache write and
	// the in-memory assignment happen as one unit.
	eventsMu sync.Mutex

	mu      sync.Mutex
	events  []Event
	loading bool
	err     error

	subsMu  sync.Mutex
	subs    map[int]chan State
	nextSub int

	syncMu  sync.Mutex
	syncing bool

	closeOnce sync.Once
}

// NewSyncCore creates a sync core. Call Close to stop its outbox worker.
func NewSyncCore(store SecureStore, probe Probe, gateway Gateway, opts ...SyncOption) *SyncCore {
	c := &SyncCore{
		emitter: emitter{listeners: make(map[string][]EventHandler)},
		store:   store,
		probe:   probe,
		gateway: gateway,
		logger:  discardLogger(),
		timeout: 15 * time.Second,
		now:     time.Now,
		events:  []Event{},
		subs:    make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.outbox = newOutbox(store, c.logger)
	return c
}

// Close stops the outbox worker and releases subscribers.
func (c *SyncCore) Close() {
	c.closeOnce.Do(func() {
		c.outbox.stop()
		c.removeAll()
		c.subsMu.Lock()
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
		c.subsMu.Unlock()
	})
}

// ── Reactive surface ──────────────────────────────────────

// Snapshot returns a deep copy of the current state.
func (c *SyncCore) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *SyncCore) snapshotLocked() State {
	return State{
		Events:  cloneEvents(c.events),
		Loading: c.loading,
		Err:     c.err,
	}
}

// Subscribe returns a channel that always holds the latest state after each
// change, and a function that cancels the subscription.
func (c *SyncCore) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	c.subsMu.Lock()
	ch <- c.Snapshot()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subsMu.Lock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
			c.subsMu.Unlock()
		})
	}
}

func (c *SyncCore) notify() {
	s := c.Snapshot()
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

func (c *SyncCore) setStatus(loading bool, err error) {
	c.mu.Lock()
	c.loading = loading
	c.err = err
	c.mu.Unlock()
	c.notify()
}

// replaceEvents persists events and swaps them in. Callers hold eventsMu.
func (c *SyncCore) replaceEvents(ctx context.Context, events []Event) {
	data, err := json.Marshal(events)
	if err == nil {
		octx, cancel := c.opCtx(ctx)
		err = c.store.Set(octx, KeyEventsCache, string(data))
		cancel()
	}
	if err != nil {
		c.logger.Warn("failed to persist events cache", "err", err)
	}

	c.mu.Lock()
	c.events = events
	c.mu.Unlock()
}

func (c *SyncCore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *SyncCore) reachable(ctx context.Context) bool {
	octx, cancel := c.opCtx(ctx)
	defer cancel()
	return c.probe.Reachable(octx)
}

// ── Fetch ─────────────────────────────────────────────────

// FetchEvents shows the cached collection first, then replaces it with the
// server's list when the network is reachable. Being offline is not an
// error. A gateway failure is recorded in State.Err and returned, and the
// previous collection is kept.
func (c *SyncCore) FetchEvents(ctx context.Context) error {
	c.setStatus(true, nil)

	c.eventsMu.Lock()
	if cached, ok := c.readCache(ctx); ok {
		c.mu.Lock()
		c.events = cached
		c.mu.Unlock()
		c.notify()
	}
	c.eventsMu.Unlock()

	if !c.reachable(ctx) {
		c.setStatus(false, nil)
		return nil
	}

	octx, cancel := c.opCtx(ctx)
	events, err := c.gateway.ListEvents(octx)
	cancel()
	if err != nil {
		c.metrics.fetched(false)
		c.logger.Warn("fetch events failed", "err", err)
		c.setStatus(false, err)
		return fmt.Errorf("fetch events: %w", err)
	}
	if events == nil {
		events = []Event{}
	}

	c.eventsMu.Lock()
	c.replaceEvents(ctx, events)
	c.eventsMu.Unlock()

	c.metrics.fetched(true)
	c.setStatus(false, nil)
	c.emit("events.updated", len(events))
	return nil
}

func (c *SyncCore) readCache(ctx context.Context) ([]Event, bool) {
	octx, cancel := c.opCtx(ctx)
	raw, err := c.store.Get(octx, KeyEventsCache)
	cancel()
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("failed to read events cache", "err", err)
		}
		return nil, false
	}
	var events []Event
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		c.logger.Warn("ignoring unreadable events cache", "err", err)
		return nil, false
	}
	if events == nil {
		events = []Event{}
	}
	return events, true
}

// refresh runs FetchEvents for its side effects; the error is already
// recorded in State.Err.
func (c *SyncCore) refresh(ctx context.Context) {
	_ = c.FetchEvents(ctx)
}

// ── Create ────────────────────────────────────────────────

// CreateEvent sends draft to the server regardless of connectivity and
// prepends the created event. The draft is not validated here; callers run
// EventDraft.Validate first.
func (c *SyncCore) CreateEvent(ctx context.Context, draft EventDraft) (*Event, error) {
	octx, cancel := c.opCtx(ctx)
	created, err := c.gateway.CreateEvent(octx, draft)
	cancel()
	if err != nil {
		return nil, err
	}

	c.eventsMu.Lock()
	c.mu.Lock()
	events := make([]Event, 0, len(c.events)+1)
	events = append(events, created.clone())
	events = append(events, c.events...)
	c.mu.Unlock()
	c.replaceEvents(ctx, events)
	c.eventsMu.Unlock()

	c.notify()
	c.emit("events.updated", len(events))
	return created, nil
}

// ── Membership ────────────────────────────────────────────

// JoinEvent joins eventID, or records the intent for later when offline.
func (c *SyncCore) JoinEvent(ctx context.Context, eventID int64) error {
	return c.mutateMembership(ctx, ActionJoin, eventID)
}

// LeaveEvent leaves eventID, or records the intent for later when offline.
func (c *SyncCore) LeaveEvent(ctx context.Context, eventID int64) error {
	return c.mutateMembership(ctx, ActionLeave, eventID)
}

func (c *SyncCore) mutateMembership(ctx context.Context, kind ActionKind, eventID int64) error {
	if !c.reachable(ctx) {
		action := PendingAction{
			ID:        uuid.NewString(),
			Kind:      kind,
			EventID:   eventID,
			Timestamp: c.now().UnixMilli(),
		}
		octx, cancel := c.opCtx(ctx)
		depth, err := c.outbox.enqueue(octx, action)
		cancel()
		if err != nil {
			return fmt.Errorf("queue %s for event %d: %w", kind, eventID, err)
		}
		c.logger.Info("queued offline action", "kind", kind, "event_id", eventID, "depth", depth)
		c.metrics.actionQueued(depth)
		c.emit("outbox.queued", action)
		return nil
	}

	if err := c.apply(ctx, kind, eventID); err != nil {
		return err
	}
	c.refresh(ctx)
	return nil
}

var errUnknownAction = errors.New("unknown action kind")

func (c *SyncCore) apply(ctx context.Context, kind ActionKind, eventID int64) error {
	octx, cancel := c.opCtx(ctx)
	defer cancel()
	switch kind {
	case ActionJoin:
		return c.gateway.JoinEvent(octx, eventID)
	case ActionLeave:
		return c.gateway.LeaveEvent(octx, eventID)
	default:
		return fmt.Errorf("%w %q", errUnknownAction, kind)
	}
}

// PendingActions returns the outbox contents in replay order.
func (c *SyncCore) PendingActions(ctx context.Context) ([]PendingAction, error) {
	octx, cancel := c.opCtx(ctx)
	defer cancel()
	return c.outbox.load(octx)
}

// ── Sync engine ───────────────────────────────────────────

// SyncPendingActions replays the outbox in order when online. Successful
// actions are dropped; failed ones stay queued in their original relative
// order and are retried on the next call, with no backoff or retry limit.
// Replay failures are never returned. After a non-empty pass the event list
// is refreshed.
func (c *SyncCore) SyncPendingActions(ctx context.Context) error {
	if !c.reachable(ctx) {
		return nil
	}

	c.syncMu.Lock()
	if c.syncing {
		c.syncMu.Unlock()
		return nil
	}
	c.syncing = true
	c.syncMu.Unlock()

	defer func() {
		c.syncMu.Lock()
		c.syncing = false
		c.syncMu.Unlock()
	}()

	octx, cancel := c.opCtx(ctx)
	actions, err := c.outbox.load(octx)
	cancel()
	if err != nil {
		c.logger.Warn("failed to load outbox", "err", err)
		return nil
	}
	if len(actions) == 0 {
		return nil
	}

	var residual []PendingAction
	replayed := 0
	for _, action := range actions {
		err := c.apply(ctx, action.Kind, action.EventID)
		switch {
		case err == nil:
			replayed++
			c.metrics.actionReplayed(action.Kind, true)
			c.emit("outbox.replayed", action)
		case errors.Is(err, errUnknownAction):
			c.logger.Warn("dropping unknown outbox action", "kind", action.Kind, "event_id", action.EventID)
		default:
			residual = append(residual, action)
			c.metrics.actionReplayed(action.Kind, false)
			c.logger.Info("outbox replay failed, keeping action", "kind", action.Kind, "event_id", action.EventID, "err", err)
			c.emit("outbox.failed", map[string]any{"action": action, "error": err.Error()})
		}
	}

	// The pass already happened on the server; record it even if the
	// caller's context has gone away.
	cctx, cancel := c.opCtx(context.WithoutCancel(ctx))
	depth, err := c.outbox.commit(cctx, len(actions), residual)
	cancel()
	if err != nil {
		c.logger.Error("failed to rewrite outbox", "err", err)
	} else {
		c.metrics.setOutboxDepth(depth)
	}

	c.refresh(ctx)
	c.emit("sync.complete", SyncResult{Replayed: replayed, Failed: len(residual)})
	return nil
}
