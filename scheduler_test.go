package gatherly

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchedulerRejectsBadSchedule(t *testing.T) {
	core, _ := newTestCore(t, NewMemoryStore(), true, newFakeGateway())
	_, err := NewScheduler(core, "every tuesday", nil)
	assert.Error(t, err)
}

func TestSchedulerTick(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	gw := newFakeGateway()
	core, probe := newTestCore(t, store, false, gw)

	s, err := NewScheduler(core, "", nil)
	require.NoError(t, err)

	// Nothing queued: the tick does not touch the network.
	s.tick()
	assert.Empty(t, gw.Calls())

	require.NoError(t, core.JoinEvent(ctx, 4))
	probe.SetOnline(true)
	s.tick()
	assert.Equal(t, []string{"join 4", "list"}, gw.Calls())
	assert.Empty(t, storedOutbox(t, store))
}

func TestSchedulerRuns(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	gw := newFakeGateway()
	core, probe := newTestCore(t, store, false, gw)
	require.NoError(t, core.JoinEvent(ctx, 1))
	probe.SetOnline(true)

	s, err := NewScheduler(core, "@every 1s", nil)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		actions, err := core.PendingActions(ctx)
		return err == nil && len(actions) == 0
	}, 5*time.Second, 50*time.Millisecond)
}

// breakingStore starts failing outbox reads once broken is set.
type breakingStore struct {
	*MemoryStore
	broken atomic.Bool
}

func (s *breakingStore) Get(ctx context.Context, key string) (string, error) {
	if key == KeyPendingActions && s.broken.Load() {
		return "", errors.New("disk unavailable")
	}
	return s.MemoryStore.Get(ctx, key)
}

// breakAfterJoin breaks the store as soon as a join reaches the server.
type breakAfterJoin struct {
	*fakeGateway
	store *breakingStore
}

func (g breakAfterJoin) JoinEvent(ctx context.Context, id int64) error {
	err := g.fakeGateway.JoinEvent(ctx, id)
	g.store.broken.Store(true)
	return err
}

func TestSchedulerTickReportsUnreadableOutbox(t *testing.T) {
	ctx := context.Background()
	store := &breakingStore{MemoryStore: NewMemoryStore()}
	gw := newFakeGateway()
	core, probe := newTestCore(t, store, false, breakAfterJoin{fakeGateway: gw, store: store})
	require.NoError(t, core.JoinEvent(ctx, 9))
	probe.SetOnline(true)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s, err := NewScheduler(core, "", logger)
	require.NoError(t, err)

	s.tick()
	assert.Contains(t, gw.Calls(), "join 9")
	assert.Contains(t, buf.String(), "outbox unreadable")
	assert.Contains(t, buf.String(), "disk unavailable")
	assert.NotContains(t, buf.String(), "remaining=")
}
