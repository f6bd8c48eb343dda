package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trade-keeper/internal/exchange"
	"trade-keeper/internal/monitor"
	"trade-keeper/internal/task"
)

type fakeEvents struct {
	gotType  monitor.EventType
	gotLimit int
	err      error
}

func (f *fakeEvents) ListEvents(ctx context.Context, eventType monitor.EventType, limit int) ([]monitor.Event, error) {
	f.gotType, f.gotLimit = eventType, limit
	if f.err != nil {
		return nil, f.err
	}
	return []monitor.Event{{Type: monitor.EventAlert, TaskID: 1, Timestamp: time.Unix(0, 0).UTC()}}, nil
}

type fakeTasks []task.Snapshot

func (f fakeTasks) Status() []task.Snapshot { return f }

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestMonitorRouterHealthcheck(t *testing.T) {
	h := newMonitorRouter(&fakeEvents{}, fakeTasks{}, zap.NewNop())

	rec := get(t, h, "/healthcheck")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestMonitorRouterTasks(t *testing.T) {
	tasks := fakeTasks{{ID: 2, Strategy: task.StrategyZigzag, Exchange: exchange.KindBinance, State: task.StateInside}}
	h := newMonitorRouter(&fakeEvents{}, tasks, zap.NewNop())

	rec := get(t, h, "/tasks")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "Inside", body[0]["state"])
	assert.Equal(t, "zigzag", body[0]["strategy"])
}

func TestMonitorRouterEventsQuery(t *testing.T) {
	events := &fakeEvents{}
	h := newMonitorRouter(events, fakeTasks{}, zap.NewNop())

	rec := get(t, h, "/events?type=ALERT&limit=5000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, monitor.EventAlert, events.gotType)
	assert.Equal(t, maxEventLimit, events.gotLimit)

	get(t, h, "/events?limit=abc")
	assert.Equal(t, monitor.EventType(""), events.gotType)
	assert.Equal(t, defaultEventLimit, events.gotLimit)

	events.err = errors.New("db closed")
	rec = get(t, h, "/events")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
