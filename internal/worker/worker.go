package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"trade-keeper/internal/config"
	"trade-keeper/internal/exchange"
	"trade-keeper/internal/task"
)

// ErrCancelTimeout 表示在等待时间内未能安全停止循环。
var ErrCancelTimeout = errors.New("cant do safe cancel")

// Alerter 为外部告警通道，失败不再升级。
type Alerter interface {
	Alert(ctx context.Context, message string) error
}

// Journal 记录任务状态迁移、失败与告警。
type Journal interface {
	RecordTransition(ctx context.Context, snap task.Snapshot, from task.State)
	RecordFailure(ctx context.Context, snap task.Snapshot, err error)
	RecordAlert(ctx context.Context, snap task.Snapshot, message string)
}

// Options 控制轮询与撤销行为。
type Options struct {
	PollInterval  time.Duration
	CancelWait    time.Duration
	CandlesToDrop int
	Now           func() time.Time
}

// OptionsFromConfig 从配置构建 Options。
func OptionsFromConfig(cfg config.WorkerConfig) Options {
	return Options{
		PollInterval:  cfg.PollInterval,
		CancelWait:    cfg.CancelWait,
		CandlesToDrop: cfg.CandlesToDrop,
	}
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.CancelWait <= 0 {
		o.CancelWait = time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Worker 驱动单个任务从下单到结束的状态机。
type Worker struct {
	task     *task.Task
	gw       Gateway
	strategy Strategy
	alerter  Alerter
	journal  Journal
	logger   *zap.Logger
	opts     Options

	// iterMu 保证循环迭代之间、迭代与撤单之间不会交错
	iterMu sync.Mutex

	startOnce sync.Once
	stopReq   chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	doneOnce  sync.Once
}

// New 为任务创建 Worker，策略在此时选定。
func New(t *task.Task, gw Gateway, opts Options, alerter Alerter, journal Journal, logger *zap.Logger) (*Worker, error) {
	if t == nil || gw == nil {
		return nil, errors.New("worker: task 与 gateway 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if alerter == nil {
		alerter = nopAlerter{}
	}
	if journal == nil {
		journal = nopJournal{}
	}
	opts = opts.withDefaults()

	strategy, err := NewStrategy(t.Strategy(), opts)
	if err != nil {
		return nil, err
	}

	return &Worker{
		task:     t,
		gw:       gw,
		strategy: strategy,
		alerter:  alerter,
		journal:  journal,
		logger: logger.With(
			zap.Int64("task_id", t.ID()),
			zap.String("strategy", string(t.Strategy())),
			zap.String("exchange", string(t.Exchange())),
		),
		opts:    opts,
		stopReq: make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

func (w *Worker) Task() *task.Task { return w.task }
func (w *Worker) Gateway() Gateway { return w.gw }

// Done 在轮询循环退出（或初始化失败）后关闭。
func (w *Worker) Done() <-chan struct{} { return w.done }

// Start 同步下初始委托，成功后启动轮询循环。ctx 决定循环的生命周期。
func (w *Worker) Start(ctx context.Context) error {
	first := false
	w.startOnce.Do(func() { first = true })
	if !first {
		return errors.New("worker: 重复启动")
	}

	w.iterMu.Lock()
	err := w.init(ctx)
	w.iterMu.Unlock()
	if err != nil {
		w.closeDone()
		return err
	}

	go w.run(ctx)
	go w.readLeverage(ctx)
	return nil
}

func (w *Worker) init(ctx context.Context) error {
	if err := w.moveTo(ctx, task.StateInit); err != nil {
		return err
	}

	next, err := w.strategy.PlaceInitOrders(ctx, w.env())
	if err != nil {
		return w.fail(ctx, err)
	}
	if err := w.moveTo(ctx, next); err != nil {
		return w.fail(ctx, err)
	}
	return nil
}

// readLeverage 只用于状态展示，独立于状态机运行，循环停止时一并放弃。
func (w *Worker) readLeverage(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopReq:
		case <-w.done:
		case <-ctx.Done():
		}
		cancel()
	}()

	leverage, err := w.gw.GetLeverage(ctx)
	if err != nil {
		w.logger.Warn("读取杠杆失败", zap.Error(err))
		return
	}
	w.task.SetLeverage(leverage)
}

func (w *Worker) run(ctx context.Context) {
	defer w.closeDone()

	timer := time.NewTimer(w.opts.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("轮询循环随进程退出")
			return
		case <-w.stopReq:
			w.logger.Info("轮询循环已停止")
			return
		case <-timer.C:
		}

		if finished := w.iterate(ctx); finished {
			return
		}
		timer.Reset(w.opts.PollInterval)
	}
}

// iterate 执行一次状态推进，返回 true 表示循环应当结束。
func (w *Worker) iterate(ctx context.Context) (finished bool) {
	w.iterMu.Lock()
	defer w.iterMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			_ = w.fail(ctx, fmt.Errorf("迭代 panic: %v", r))
			finished = true
		}
	}()

	select {
	case <-w.stopReq:
		return true
	default:
	}

	var (
		next task.State
		err  error
	)
	env := w.env()
	switch state := w.task.State(); state {
	case task.StateWaiting:
		next, err = w.strategy.EvaluateWaiting(ctx, env)
	case task.StateInside:
		next, err = w.strategy.EvaluateInside(ctx, env)
	default:
		return true
	}
	if err != nil {
		_ = w.fail(ctx, err)
		return true
	}

	if err := w.moveTo(ctx, next); err != nil {
		_ = w.fail(ctx, err)
		return true
	}

	if next.Resolved() {
		w.normalize(next)
		return true
	}
	return false
}

// normalize 是止盈/止损后的保留步骤，目前只记录日志。
func (w *Worker) normalize(state task.State) {
	if w.task.Plan().DisableNormalizing {
		w.logger.Info("已禁用仓位归一化", zap.Stringer("state", state))
		return
	}
	w.logger.Info("仓位归一化暂无操作", zap.Stringer("state", state))
}

// Cancel 撤销任务。force 时立即硬停止网关并标记 Destroyed，不清理挂单；
// 否则等待当前迭代结束后撤销所有挂单。
func (w *Worker) Cancel(ctx context.Context, force bool) error {
	if force {
		w.gw.HardStop()
		w.requestStop()
		w.destroy(ctx)
		w.logger.Warn("任务已强制撤销，交易所挂单可能需要手动清理")
		return nil
	}

	w.requestStop()

	timer := time.NewTimer(w.opts.CancelWait)
	defer timer.Stop()
	select {
	case <-w.done:
	case <-timer.C:
		w.logger.Warn("等待循环停止超时", zap.Duration("wait", w.opts.CancelWait))
		return ErrCancelTimeout
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCancelTimeout, ctx.Err())
	}

	w.iterMu.Lock()
	defer w.iterMu.Unlock()

	handles, err := w.gw.GetOrders(ctx)
	if err != nil {
		return fmt.Errorf("拉取挂单失败: %w", err)
	}
	for _, h := range handles {
		if err := w.gw.CancelOrder(ctx, h); err != nil {
			return fmt.Errorf("撤销委托 %d 失败: %w", h, err)
		}
	}

	w.destroy(ctx)
	w.logger.Info("任务已安全撤销", zap.Int("cancelled_orders", len(handles)))
	return nil
}

func (w *Worker) destroy(ctx context.Context) {
	if w.task.State() == task.StateDestroyed {
		return
	}
	if err := w.moveTo(ctx, task.StateDestroyed); err != nil && !errors.Is(err, exchange.ErrStopped) {
		w.logger.Error("标记 Destroyed 失败", zap.Error(err))
	}
}

// moveTo 迁移任务状态；任务已被强制撤销时返回 ErrStopped。
func (w *Worker) moveTo(ctx context.Context, to task.State) error {
	from := w.task.State()
	if from == to {
		return nil
	}

	if err := w.task.Transition(to, w.opts.Now()); err != nil {
		if w.task.State() == task.StateDestroyed {
			return exchange.ErrStopped
		}
		return err
	}

	w.logger.Info("任务状态变更", zap.Stringer("from", from), zap.Stringer("to", to))
	w.journal.RecordTransition(ctx, w.task.Snapshot(), from)
	return nil
}

// fail 记录循环致命错误并转入 Critical；硬停止与退出信号不视为失败。
func (w *Worker) fail(ctx context.Context, err error) error {
	if exchange.IsStopped(err) || w.task.State() == task.StateDestroyed {
		return err
	}

	w.task.Fail(err)
	if terr := w.moveTo(ctx, task.StateCritical); terr != nil {
		w.logger.Error("转入 Critical 失败", zap.Error(terr))
	}

	w.logger.Error("任务进入 Critical 状态", zap.Error(err))
	w.journal.RecordFailure(ctx, w.task.Snapshot(), err)
	w.alert(ctx, fmt.Sprintf("Task %d critical: %v", w.task.ID(), err))
	return err
}

func (w *Worker) alert(ctx context.Context, message string) {
	w.journal.RecordAlert(ctx, w.task.Snapshot(), message)
	if err := w.alerter.Alert(ctx, message); err != nil {
		w.logger.Warn("告警发送失败", zap.String("message", message), zap.Error(err))
	}
}

func (w *Worker) env() Env {
	return Env{
		Gateway: w.gw,
		Task:    w.task,
		Now:     w.opts.Now,
		Alert:   w.alert,
	}
}

func (w *Worker) requestStop() {
	w.stopOnce.Do(func() { close(w.stopReq) })
}

func (w *Worker) closeDone() {
	w.doneOnce.Do(func() { close(w.done) })
}

type nopAlerter struct{}

func (nopAlerter) Alert(context.Context, string) error { return nil }

type nopJournal struct{}

func (nopJournal) RecordTransition(context.Context, task.Snapshot, task.State) {}
func (nopJournal) RecordFailure(context.Context, task.Snapshot, error)         {}
func (nopJournal) RecordAlert(context.Context, task.Snapshot, string)          {}
