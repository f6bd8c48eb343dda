package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"trade-keeper/internal/exchange"
	"trade-keeper/internal/task"
	"trade-keeper/internal/worker"
)

var (
	// ErrNotFound 表示任务编号不存在。
	ErrNotFound = errors.New("task not found")
	// ErrStartFailed 表示初始委托未能完成，任务保留供操作员处理。
	ErrStartFailed = errors.New("task start failed")
)

// GatewayFactory 为每个任务创建独立的网关。
type GatewayFactory func(kind exchange.Kind) (worker.Gateway, error)

// Journal 在 worker.Journal 之外记录提交与撤销。
type Journal interface {
	worker.Journal
	RecordSubmitted(ctx context.Context, snap task.Snapshot)
	RecordCancel(ctx context.Context, id int64, force bool, result string, err error)
}

// Options 汇总参数校验与 Worker 配置。
type Options struct {
	Limits task.Limits
	Worker worker.Options
}

// CancelResult 描述一次成功的撤销。
type CancelResult struct {
	Task   task.Snapshot
	Forced bool
}

// Registry 持有所有存活任务，并把撤销与状态查询路由到对应 Worker。
type Registry struct {
	base       context.Context
	baseCancel context.CancelFunc

	newGateway GatewayFactory
	alerter    worker.Alerter
	journal    Journal
	logger     *zap.Logger
	opts       Options
	now        func() time.Time

	mu      sync.RWMutex
	seq     int64
	workers map[int64]*worker.Worker
}

// New 创建注册表。ctx 决定所有任务循环的生命周期。
func New(ctx context.Context, factory GatewayFactory, opts Options, alerter worker.Alerter, journal Journal, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(ctx)
	return &Registry{
		base:       base,
		baseCancel: cancel,
		newGateway: factory,
		alerter:    alerter,
		journal:    journal,
		logger:     logger,
		opts:       opts,
		now:        time.Now,
		workers:    make(map[int64]*worker.Worker),
	}
}

// Submit 校验参数、计算价位、创建任务并同步完成初始下单。
// 校验失败时不创建任何状态；启动失败时任务保留在注册表中。
func (r *Registry) Submit(ctx context.Context, strategyName, exchangeName string, tokens []string) (task.Snapshot, error) {
	strategy, err := task.ParseStrategy(strategyName)
	if err != nil {
		return task.Snapshot{}, err
	}
	kind, err := exchange.ParseKind(exchangeName)
	if err != nil {
		return task.Snapshot{}, err
	}
	params, err := task.ParseParams(strategy, tokens, r.opts.Limits)
	if err != nil {
		return task.Snapshot{}, err
	}
	plan, err := task.Calculate(strategy, params, r.opts.Limits)
	if err != nil {
		return task.Snapshot{}, err
	}

	gw, err := r.newGateway(kind)
	if err != nil {
		return task.Snapshot{}, fmt.Errorf("创建网关失败: %w", err)
	}

	r.mu.Lock()
	r.seq++
	id := r.seq
	t := task.New(id, strategy, kind, plan, r.now())
	w, err := worker.New(t, gw, r.opts.Worker, r.alerter, r.journal, r.logger)
	if err != nil {
		r.mu.Unlock()
		return task.Snapshot{}, err
	}
	r.workers[id] = w
	r.mu.Unlock()

	r.logger.Info("任务已创建",
		zap.Int64("task_id", id),
		zap.String("strategy", string(strategy)),
		zap.String("exchange", string(kind)),
		zap.Bool("is_long", plan.IsLong),
		zap.Float64("amount", plan.Amount),
	)
	if r.journal != nil {
		r.journal.RecordSubmitted(ctx, t.Snapshot())
	}

	if err := w.Start(r.base); err != nil {
		return r.snapshot(w), fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	return r.snapshot(w), nil
}

// Get 按编号查找 Worker。
func (r *Registry) Get(id int64) (*worker.Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	return w, ok
}

// Status 返回所有任务快照，按交易所、策略、编号排序。
func (r *Registry) Status() []task.Snapshot {
	r.mu.RLock()
	workers := make([]*worker.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.mu.RUnlock()

	snaps := make([]task.Snapshot, 0, len(workers))
	for _, w := range workers {
		snaps = append(snaps, r.snapshot(w))
	}

	sort.Slice(snaps, func(i, j int) bool {
		a, b := snaps[i], snaps[j]
		if ai, bi := kindOrder(a.Exchange), kindOrder(b.Exchange); ai != bi {
			return ai < bi
		}
		if ai, bi := strategyOrder(a.Strategy), strategyOrder(b.Strategy); ai != bi {
			return ai < bi
		}
		return a.ID < b.ID
	})
	return snaps
}

// StatusText 渲染操作员可读的状态报告。
func (r *Registry) StatusText() string {
	snaps := r.Status()
	if len(snaps) == 0 {
		return "No any tasks"
	}

	blocks := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		blocks = append(blocks, RenderSnapshot(snap))
	}
	return strings.Join(blocks, "\n\n")
}

// RenderSnapshot 渲染单个任务的状态块。
func RenderSnapshot(snap task.Snapshot) string {
	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		body = []byte(snap.State.String())
	}

	stockErr := snap.StockError
	if stockErr == "" {
		stockErr = "None"
	}

	return strings.Join([]string{
		fmt.Sprintf("Stock %q, type %q:", snap.Exchange, snap.Strategy),
		fmt.Sprintf("Id: %d", snap.ID),
		fmt.Sprintf("Status: %s", body),
		fmt.Sprintf("Last stock error: %s", stockErr),
	}, "\n")
}

// Cancel 撤销任务。优雅撤销成功或强制撤销后任务从注册表删除；
// 优雅撤销失败时任务保留。
func (r *Registry) Cancel(ctx context.Context, id int64, force bool) (CancelResult, error) {
	w, ok := r.Get(id)
	if !ok {
		return CancelResult{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	if err := w.Cancel(ctx, force); err != nil {
		r.logger.Warn("撤销任务失败", zap.Int64("task_id", id), zap.Bool("force", force), zap.Error(err))
		if r.journal != nil {
			r.journal.RecordCancel(ctx, id, force, "failed", err)
		}
		return CancelResult{Task: r.snapshot(w)}, err
	}

	r.mu.Lock()
	delete(r.workers, id)
	r.mu.Unlock()

	snap := r.snapshot(w)
	r.logger.Info("任务已撤销", zap.Int64("task_id", id), zap.Bool("force", force))
	if r.journal != nil {
		r.journal.RecordCancel(ctx, id, force, snap.State.String(), nil)
	}
	return CancelResult{Task: snap, Forced: force}, nil
}

// Shutdown 停止所有循环但不触碰交易所挂单，等待循环退出或 ctx 结束。
func (r *Registry) Shutdown(ctx context.Context) error {
	r.baseCancel()

	r.mu.RLock()
	workers := make([]*worker.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.mu.RUnlock()

	for _, w := range workers {
		select {
		case <-w.Done():
		case <-ctx.Done():
			return fmt.Errorf("等待任务循环退出超时: %w", ctx.Err())
		}
	}
	r.logger.Info("所有任务循环已停止", zap.Int("tasks", len(workers)))
	return nil
}

func (r *Registry) snapshot(w *worker.Worker) task.Snapshot {
	snap := w.Task().Snapshot()
	snap.StockError = w.Gateway().LastError()
	return snap
}

func kindOrder(k exchange.Kind) int {
	for i, known := range exchange.Kinds() {
		if known == k {
			return i
		}
	}
	return len(exchange.Kinds())
}

func strategyOrder(s task.Strategy) int {
	for i, known := range task.Strategies() {
		if known == s {
			return i
		}
	}
	return len(task.Strategies())
}
