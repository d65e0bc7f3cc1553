package gatherly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var errOutboxClosed = errors.New("outbox closed")

// outbox owns the pending-actions blob. Every read-modify-write runs on a
// single goroutine, so enqueue and drain never interleave.
type outbox struct {
	store  SecureStore
	logger *slog.Logger

	reqs     chan func()
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

func newOutbox(store SecureStore, logger *slog.Logger) *outbox {
	o := &outbox{
		store:  store,
		logger: logger,
		reqs:   make(chan func()),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *outbox) run() {
	defer close(o.doneCh)
	for {
		select {
		case <-o.stopCh:
			return
		case fn := <-o.reqs:
			fn()
		}
	}
}

func (o *outbox) stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	<-o.doneCh
}

// do runs fn on the actor goroutine and waits for its result. ctx only
// bounds the hand-off: once the actor has taken fn, do reports fn's own
// result, so an error always means the change was not written. fn observes
// ctx through its store calls.
func (o *outbox) do(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case o.reqs <- func() { errCh <- fn() }:
	case <-o.stopCh:
		return errOutboxClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-errCh
}

// read decodes the blob. A missing, corrupt or undecodable blob is an empty
// outbox; other store failures are returned.
func (o *outbox) read(ctx context.Context) ([]PendingAction, error) {
	raw, err := o.store.Get(ctx, KeyPendingActions)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if errors.Is(err, ErrCorrupt) {
		o.logger.Warn("discarding corrupt outbox", "err", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read outbox: %w", err)
	}
	var actions []PendingAction
	if err := json.Unmarshal([]byte(raw), &actions); err != nil {
		o.logger.Warn("discarding unreadable outbox", "err", err)
		return nil, nil
	}
	return actions, nil
}

func (o *outbox) write(ctx context.Context, actions []PendingAction) error {
	data, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("encode outbox: %w", err)
	}
	if err := o.store.Set(ctx, KeyPendingActions, string(data)); err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}
	return nil
}

// enqueue appends action and returns the new outbox length.
func (o *outbox) enqueue(ctx context.Context, action PendingAction) (int, error) {
	var depth int
	err := o.do(ctx, func() error {
		actions, err := o.read(ctx)
		if err != nil {
			return err
		}
		actions = append(actions, action)
		if err := o.write(ctx, actions); err != nil {
			return err
		}
		depth = len(actions)
		return nil
	})
	return depth, err
}

func (o *outbox) load(ctx context.Context) ([]PendingAction, error) {
	var actions []PendingAction
	err := o.do(ctx, func() error {
		var err error
		actions, err = o.read(ctx)
		return err
	})
	return actions, err
}

// commit replaces the first taken entries (the ones a drain pass loaded) with
// residual. Entries enqueued after the load stay behind the residual. An
// outbox that ends up empty has its key deleted.
func (o *outbox) commit(ctx context.Context, taken int, residual []PendingAction) (int, error) {
	var depth int
	err := o.do(ctx, func() error {
		current, err := o.read(ctx)
		if err != nil {
			return err
		}
		var later []PendingAction
		if taken < len(current) {
			later = current[taken:]
		}
		next := make([]PendingAction, 0, len(residual)+len(later))
		next = append(next, residual...)
		next = append(next, later...)
		depth = len(next)

		if len(next) == 0 {
			if err := o.store.Delete(ctx, KeyPendingActions); err != nil {
				return fmt.Errorf("delete outbox: %w", err)
			}
			return nil
		}
		return o.write(ctx, next)
	})
	return depth, err
}
