package gatherly

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.actionQueued(1)
	m.actionReplayed(ActionJoin, true)
	m.setOutboxDepth(0)
	m.fetched(false)
	m.chatOpened()
	m.chatClosed()
	m.chatMessage("in")
}

func TestNewMetricsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestSyncCoreMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	gw := newFakeGateway(Event{ID: 1})
	gw.failLeave[2] = errors.New("down")
	probe := NewStaticProbe(false)
	core := NewSyncCore(NewMemoryStore(), probe, gw, WithMetrics(m))
	defer core.Close()

	require.NoError(t, core.JoinEvent(ctx, 1))
	require.NoError(t, core.LeaveEvent(ctx, 2))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.outboxQueued))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.outboxDepth))

	probe.SetOnline(true)
	require.NoError(t, core.SyncPendingActions(ctx))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.outboxReplayed.WithLabelValues("join", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outboxReplayed.WithLabelValues("leave", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outboxDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchTotal.WithLabelValues("ok")))

	gw.mu.Lock()
	gw.listErr = errors.New("list down")
	gw.mu.Unlock()
	_ = core.FetchEvents(ctx)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchTotal.WithLabelValues("error")))
}

func TestChatMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	cs := newChatServer(t)
	chat := NewChatManager(cs.srv.URL, WithChatMetrics(m))
	defer chat.Close()
	ctx := context.Background()

	require.NoError(t, chat.Connect(ctx, 1, chatToken))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chatConnections))

	require.NoError(t, chat.Send(ctx, 1, "ping"))
	waitFor(t, "echo", func() bool { return len(chat.Messages(1)) == 1 })
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chatMessages.WithLabelValues("out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chatMessages.WithLabelValues("in")))

	require.NoError(t, chat.Disconnect(1))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.chatConnections))
}
