package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-keeper/internal/config"
	"trade-keeper/internal/exchange"
	"trade-keeper/internal/store"
	"trade-keeper/internal/task"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "monitor.db"), MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewService(context.Background(), st, nil)
	require.NoError(t, err)
	return svc
}

func TestServiceRecordsTaskLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tk := task.New(3, task.StrategyBart, exchange.KindBitmex, task.Plan{Amount: 1000, Enter: 10005}, time.Now())
	svc.RecordSubmitted(ctx, tk.Snapshot())

	require.NoError(t, tk.Transition(task.StateInit, time.Now()))
	svc.RecordTransition(ctx, tk.Snapshot(), task.StateConstructed)
	svc.RecordFailure(ctx, tk.Snapshot(), errors.New("boom"))
	svc.RecordAlert(ctx, tk.Snapshot(), "Task 3 critical: boom")
	svc.RecordCancel(ctx, 3, true, "Destroyed", nil)

	all, err := svc.ListEvents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, EventTaskCancelled, all[0].Type)
	assert.Equal(t, EventTaskSubmitted, all[4].Type)
	for _, e := range all {
		assert.Equal(t, int64(3), e.TaskID)
	}

	changes, err := svc.ListEvents(ctx, EventStateChanged, 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)

	var payload struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	raw, ok := changes[0].Payload.(json.RawMessage)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "Constructed", payload.From)
	assert.Equal(t, "Init", payload.To)
}

func TestListEventsRespectsLimit(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Record(ctx, Event{Type: EventAlert, Payload: AlertPayload{Message: "x"}}))
	}

	events, err := svc.ListEvents(ctx, EventAlert, 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Zero(t, events[0].TaskID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestRecordSurvivesCancelledContext(t *testing.T) {
	svc := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.RecordCancel(ctx, 9, false, "Destroyed", nil)

	events, err := svc.ListEvents(context.Background(), EventTaskCancelled, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(9), events[0].TaskID)
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := NewService(context.Background(), nil, nil)
	assert.Error(t, err)
}
