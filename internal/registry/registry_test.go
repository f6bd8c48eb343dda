package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-keeper/internal/exchange"
	"trade-keeper/internal/task"
	"trade-keeper/internal/worker"
)

type stubGateway struct {
	mu       sync.Mutex
	seq      exchange.Handle
	open     map[exchange.Handle]bool
	cancels  []exchange.Handle
	lastErr  string
	placeErr error
	block    chan struct{}

	halt chan struct{}
	once sync.Once
}

func newStubGateway() *stubGateway {
	return &stubGateway{open: map[exchange.Handle]bool{}, halt: make(chan struct{})}
}

func (g *stubGateway) stopped() bool {
	select {
	case <-g.halt:
		return true
	default:
		return false
	}
}

func (g *stubGateway) place() (exchange.Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped() {
		return 0, exchange.ErrStopped
	}
	if g.placeErr != nil {
		return 0, g.placeErr
	}
	g.seq++
	g.open[g.seq] = true
	return g.seq, nil
}

func (g *stubGateway) PlaceMarketOrder(context.Context, float64) (exchange.Handle, error) {
	return g.place()
}

func (g *stubGateway) PlaceStopLimitOrder(context.Context, float64, float64, float64) (exchange.Handle, error) {
	return g.place()
}

func (g *stubGateway) PlaceStopMarketOrder(context.Context, float64, float64) (exchange.Handle, error) {
	return g.place()
}

func (g *stubGateway) PlaceTakeLimitOrder(context.Context, float64, float64, float64) (exchange.Handle, error) {
	return g.place()
}

func (g *stubGateway) CancelOrder(ctx context.Context, h exchange.Handle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped() {
		return exchange.ErrStopped
	}
	g.cancels = append(g.cancels, h)
	delete(g.open, h)
	return nil
}

func (g *stubGateway) GetOrders(ctx context.Context) ([]exchange.Handle, error) {
	if g.block != nil {
		select {
		case <-g.block:
		case <-g.halt:
			return nil, exchange.ErrStopped
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped() {
		return nil, exchange.ErrStopped
	}
	handles := make([]exchange.Handle, 0, len(g.open))
	for h := range g.open {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles, nil
}

func (g *stubGateway) HasOrder(ctx context.Context, h exchange.Handle) (bool, error) {
	handles, err := g.GetOrders(ctx)
	if err != nil {
		return false, err
	}
	for _, live := range handles {
		if live == h {
			return true, nil
		}
	}
	return false, nil
}

func (g *stubGateway) GetLeverage(context.Context) (float64, error) { return 5, nil }
func (g *stubGateway) HardStop()                                   { g.once.Do(func() { close(g.halt) }) }

func (g *stubGateway) LastError() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastErr
}

type journalEntry struct {
	kind   string
	id     int64
	result string
}

type memoryJournal struct {
	mu      sync.Mutex
	entries []journalEntry
}

func (j *memoryJournal) add(e journalEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
}

func (j *memoryJournal) RecordTransition(ctx context.Context, snap task.Snapshot, from task.State) {
	j.add(journalEntry{kind: "transition", id: snap.ID, result: snap.State.String()})
}

func (j *memoryJournal) RecordFailure(ctx context.Context, snap task.Snapshot, err error) {
	j.add(journalEntry{kind: "failure", id: snap.ID, result: err.Error()})
}

func (j *memoryJournal) RecordAlert(ctx context.Context, snap task.Snapshot, message string) {
	j.add(journalEntry{kind: "alert", id: snap.ID, result: message})
}

func (j *memoryJournal) RecordSubmitted(ctx context.Context, snap task.Snapshot) {
	j.add(journalEntry{kind: "submitted", id: snap.ID})
}

func (j *memoryJournal) RecordCancel(ctx context.Context, id int64, force bool, result string, err error) {
	j.add(journalEntry{kind: "cancel", id: id, result: result})
}

func (j *memoryJournal) kinds(kind string) []journalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []journalEntry
	for _, e := range j.entries {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	reg      *Registry
	journal  *memoryJournal
	mu       sync.Mutex
	gateways []*stubGateway
	prepare  func(*stubGateway)
}

func newFixture(t *testing.T, wopts worker.Options) *fixture {
	t.Helper()
	if wopts.PollInterval == 0 {
		wopts.PollInterval = 5 * time.Millisecond
	}
	if wopts.CancelWait == 0 {
		wopts.CancelWait = time.Second
	}

	f := &fixture{journal: &memoryJournal{}}
	factory := func(kind exchange.Kind) (worker.Gateway, error) {
		gw := newStubGateway()
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.prepare != nil {
			f.prepare(gw)
		}
		f.gateways = append(f.gateways, gw)
		return gw, nil
	}

	f.reg = New(context.Background(), factory, Options{
		Limits: task.Limits{MaxOrderSize: 300000, CandlePeriod: 4 * time.Hour},
		Worker: wopts,
	}, nil, f.journal, nil)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for _, snap := range f.reg.Status() {
			_, _ = f.reg.Cancel(ctx, snap.ID, true)
		}
		_ = f.reg.Shutdown(ctx)
	})
	return f
}

func (f *fixture) gatewayCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.gateways)
}

func (f *fixture) gateway(i int) *stubGateway {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gateways[i]
}

func TestSubmitStartsTaskAndRendersStatus(t *testing.T) {
	f := newFixture(t, worker.Options{PollInterval: time.Hour})

	snap, err := f.reg.Submit(context.Background(), "Bart", "BITMEX", []string{"1000", "10000", "9800"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), snap.ID)
	assert.Equal(t, task.StateWaiting, snap.State)
	assert.True(t, snap.Plan.IsLong)
	assert.Equal(t, 10005.0, snap.Plan.Enter)
	require.Eventually(t, func() bool {
		w, ok := f.reg.Get(1)
		return ok && w.Task().Snapshot().Leverage == 5.0
	}, time.Second, time.Millisecond)

	text := f.reg.StatusText()
	assert.Contains(t, text, `Stock "bitmex", type "bart":`)
	assert.Contains(t, text, "Id: 1")
	assert.Contains(t, text, `"state": "Waiting"`)
	assert.Contains(t, text, "Last stock error: None")
	assert.NotContains(t, text, "stub")

	f.gateway(0).mu.Lock()
	f.gateway(0).lastErr = "2024-01-02T03:04:05Z :: HTTP 503"
	f.gateway(0).mu.Unlock()
	assert.Contains(t, f.reg.StatusText(), "Last stock error: 2024-01-02T03:04:05Z :: HTTP 503")

	assert.Len(t, f.journal.kinds("submitted"), 1)
}

func TestSubmitRejectsInvalidInputWithoutState(t *testing.T) {
	f := newFixture(t, worker.Options{})
	ctx := context.Background()

	_, err := f.reg.Submit(ctx, "grid", "bitmex", []string{"1000", "10000", "9800"})
	assert.ErrorIs(t, err, task.ErrUnknownStrategy)

	_, err = f.reg.Submit(ctx, "bart", "okex", []string{"1000", "10000", "9800"})
	assert.ErrorIs(t, err, exchange.ErrUnknownExchange)

	_, err = f.reg.Submit(ctx, "bart", "bitmex", []string{"1000", "ten", "9800"})
	assert.ErrorIs(t, err, task.ErrInvalidParams)

	_, err = f.reg.Submit(ctx, "bart", "bitmex", []string{"1000", "10000", "9999.9"})
	assert.ErrorIs(t, err, task.ErrInconsistentLevels)

	assert.Zero(t, f.gatewayCount())
	assert.Empty(t, f.reg.Status())
	assert.Equal(t, "No any tasks", f.reg.StatusText())
}

func TestStatusGroupsByExchangeThenStrategy(t *testing.T) {
	f := newFixture(t, worker.Options{PollInterval: time.Hour})
	ctx := context.Background()

	submits := [][]string{
		{"zigzag", "binance", "1000", "9800", "10000"},
		{"bart", "bitmex", "1000", "10000", "9800"},
		{"stop", "bitmex", "10", "9500", "9490"},
		{"bart", "binance", "1000", "10000", "9800"},
	}
	for _, s := range submits {
		_, err := f.reg.Submit(ctx, s[0], s[1], s[2:])
		require.NoError(t, err)
	}

	var order []int64
	for _, snap := range f.reg.Status() {
		order = append(order, snap.ID)
	}
	assert.Equal(t, []int64{2, 3, 4, 1}, order)
}

func TestCancelUnknownTask(t *testing.T) {
	f := newFixture(t, worker.Options{})
	_, err := f.reg.Cancel(context.Background(), 42, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGracefulCancelRemovesTask(t *testing.T) {
	f := newFixture(t, worker.Options{})
	ctx := context.Background()

	snap, err := f.reg.Submit(ctx, "bart", "bitmex", []string{"1000", "10000", "9800"})
	require.NoError(t, err)

	res, err := f.reg.Cancel(ctx, snap.ID, false)
	require.NoError(t, err)
	assert.False(t, res.Forced)
	assert.Equal(t, task.StateDestroyed, res.Task.State)

	_, ok := f.reg.Get(snap.ID)
	assert.False(t, ok)
	assert.ElementsMatch(t, []exchange.Handle{1, 2}, f.gateway(0).cancels)

	cancels := f.journal.kinds("cancel")
	require.Len(t, cancels, 1)
	assert.Equal(t, "Destroyed", cancels[0].result)
}

func TestForcedCancelDoesNotWaitForStuckGateway(t *testing.T) {
	f := newFixture(t, worker.Options{})
	f.prepare = func(gw *stubGateway) { gw.block = make(chan struct{}) }
	ctx := context.Background()

	snap, err := f.reg.Submit(ctx, "zigzag", "bitmex", []string{"1000", "9800", "10000"})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	res, err := f.reg.Cancel(ctx, snap.ID, true)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.True(t, res.Forced)
	assert.Equal(t, task.StateDestroyed, res.Task.State)
	assert.Empty(t, f.gateway(0).cancels)

	_, ok := f.reg.Get(snap.ID)
	assert.False(t, ok)
}

func TestFailedGracefulCancelKeepsTask(t *testing.T) {
	f := newFixture(t, worker.Options{CancelWait: 20 * time.Millisecond})
	f.prepare = func(gw *stubGateway) { gw.block = make(chan struct{}) }
	ctx := context.Background()

	snap, err := f.reg.Submit(ctx, "bart", "binance", []string{"1000", "10000", "9800"})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	_, err = f.reg.Cancel(ctx, snap.ID, false)
	assert.ErrorIs(t, err, worker.ErrCancelTimeout)

	_, ok := f.reg.Get(snap.ID)
	assert.True(t, ok)

	cancels := f.journal.kinds("cancel")
	require.Len(t, cancels, 1)
	assert.Equal(t, "failed", cancels[0].result)
}

func TestStartFailureKeepsCriticalTask(t *testing.T) {
	f := newFixture(t, worker.Options{})
	f.prepare = func(gw *stubGateway) { gw.placeErr = errors.New("account suspended") }

	snap, err := f.reg.Submit(context.Background(), "stop", "bitmex", []string{"10", "9500", "9490"})
	require.ErrorIs(t, err, ErrStartFailed)
	assert.Contains(t, err.Error(), "account suspended")
	assert.Equal(t, task.StateCritical, snap.State)

	w, ok := f.reg.Get(snap.ID)
	require.True(t, ok)
	assert.Contains(t, w.Task().LastError(), "account suspended")
	assert.Len(t, f.journal.kinds("failure"), 1)
}

func TestShutdownStopsLoops(t *testing.T) {
	f := newFixture(t, worker.Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.reg.Submit(ctx, "bart", "bitmex", []string{"1000", "10000", "9800"})
		require.NoError(t, err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, f.reg.Shutdown(shutdownCtx))

	for _, snap := range f.reg.Status() {
		assert.Equal(t, task.StateWaiting, snap.State)
	}
	for i := 0; i < 3; i++ {
		assert.Empty(t, f.gateway(i).cancels)
	}
}
