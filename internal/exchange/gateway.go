package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultRetryDelay = 3 * time.Second

// venue 是单个交易所的原始接口，每个方法只做一次尝试。
type venue interface {
	submit(ctx context.Context, req OrderRequest) (string, error)
	cancel(ctx context.Context, exchangeID string) error
	openOrders(ctx context.Context) ([]OpenOrder, error)
	leverage(ctx context.Context) (float64, error)
}

// Gateway 为单个任务提供带无限重试与硬停止语义的交易所访问。
type Gateway struct {
	kind       Kind
	venue      venue
	book       *book
	logger     *zap.Logger
	retryDelay time.Duration
	now        func() time.Time
	newID      func() string

	halt     context.Context
	haltFn   context.CancelFunc
	haltOnce sync.Once

	errMu     sync.RWMutex
	lastError string
}

func newGateway(kind Kind, v venue, retryDelay time.Duration, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}

	halt, haltFn := context.WithCancel(context.Background())

	return &Gateway{
		kind:       kind,
		venue:      v,
		book:       newBook(),
		logger:     logger.With(zap.String("exchange", string(kind))),
		retryDelay: retryDelay,
		now:        time.Now,
		newID:      uuid.NewString,
		halt:       halt,
		haltFn:     haltFn,
	}
}

// Exchange 返回网关对应的交易所。
func (g *Gateway) Exchange() Kind {
	return g.kind
}

// PlaceLimitOrder 提交限价单。
func (g *Gateway) PlaceLimitOrder(ctx context.Context, price, amount float64) (Handle, error) {
	return g.place(ctx, OrderRequest{Type: OrderLimit, Price: price, Amount: amount})
}

// PlaceMarketOrder 提交市价单。
func (g *Gateway) PlaceMarketOrder(ctx context.Context, amount float64) (Handle, error) {
	return g.place(ctx, OrderRequest{Type: OrderMarket, Amount: amount})
}

// PlaceStopLimitOrder 提交止损限价单。
func (g *Gateway) PlaceStopLimitOrder(ctx context.Context, price, trigger, amount float64) (Handle, error) {
	return g.place(ctx, OrderRequest{Type: OrderStopLimit, Price: price, Trigger: trigger, Amount: amount})
}

// PlaceStopMarketOrder 提交止损市价单。
func (g *Gateway) PlaceStopMarketOrder(ctx context.Context, trigger, amount float64) (Handle, error) {
	return g.place(ctx, OrderRequest{Type: OrderStopMarket, Trigger: trigger, Amount: amount})
}

// PlaceTakeLimitOrder 提交止盈限价单。
func (g *Gateway) PlaceTakeLimitOrder(ctx context.Context, price, trigger, amount float64) (Handle, error) {
	return g.place(ctx, OrderRequest{Type: OrderTakeLimit, Price: price, Trigger: trigger, Amount: amount})
}

// PlaceTakeMarketOrder 提交止盈市价单。
func (g *Gateway) PlaceTakeMarketOrder(ctx context.Context, trigger, amount float64) (Handle, error) {
	return g.place(ctx, OrderRequest{Type: OrderTakeMarket, Trigger: trigger, Amount: amount})
}

func (g *Gateway) place(ctx context.Context, req OrderRequest) (Handle, error) {
	if err := req.validate(); err != nil {
		return 0, err
	}

	var (
		handle    Handle
		submitted bool
	)

	err := g.callWithRetry(ctx, "place_"+string(req.Type), func(ctx context.Context) error {
		if submitted {
			// 上一次提交可能已经到达交易所，先按客户端委托号认领
			open, err := g.venue.openOrders(ctx)
			if err != nil {
				return err
			}
			if existing, ok := findByClientID(open, req.ClientID); ok {
				handle = g.book.add(existing.ID, existing.ClientID)
				return nil
			}
		}

		req.ClientID = g.newID()
		submitted = true

		id, err := g.venue.submit(ctx, req)
		if err != nil {
			return err
		}
		if id == "" {
			return ErrNoOrderID
		}

		handle = g.book.add(id, req.ClientID)
		return nil
	})
	if err != nil {
		return 0, err
	}

	g.logger.Info("委托已提交",
		zap.String("type", string(req.Type)),
		zap.Int64("handle", int64(handle)),
		zap.Float64("price", req.Price),
		zap.Float64("trigger", req.Trigger),
		zap.Float64("amount", req.Amount),
	)
	return handle, nil
}

// CancelOrder 撤销委托，直到交易所挂单列表中不再出现该委托才返回。
func (g *Gateway) CancelOrder(ctx context.Context, h Handle) error {
	exchangeID, ok := g.book.lookup(h)
	if !ok {
		return nil
	}

	err := g.callWithRetry(ctx, "cancel_order", func(ctx context.Context) error {
		open, err := g.venue.openOrders(ctx)
		if err != nil {
			return err
		}
		if !containsOrder(open, exchangeID) {
			return nil
		}

		if err := g.venue.cancel(ctx, exchangeID); err != nil {
			return err
		}

		open, err = g.venue.openOrders(ctx)
		if err != nil {
			return err
		}
		if containsOrder(open, exchangeID) {
			return fmt.Errorf("%w: %s", ErrCancelNotConfirmed, exchangeID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	g.book.remove(h)
	g.logger.Info("委托已撤销", zap.Int64("handle", int64(h)))
	return nil
}

// GetOrders 拉取交易所挂单并校正本地映射，返回仍然存活的句柄。
func (g *Gateway) GetOrders(ctx context.Context) ([]Handle, error) {
	var open []OpenOrder
	err := g.callWithRetry(ctx, "get_orders", func(ctx context.Context) error {
		result, err := g.venue.openOrders(ctx)
		if err != nil {
			return err
		}
		open = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	return g.book.reconcile(open), nil
}

// HasOrder 判断句柄对应的委托是否仍在挂单中。
func (g *Gateway) HasOrder(ctx context.Context, h Handle) (bool, error) {
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

// GetLeverage 读取账户杠杆。
func (g *Gateway) GetLeverage(ctx context.Context) (float64, error) {
	var leverage float64
	err := g.callWithRetry(ctx, "get_leverage", func(ctx context.Context) error {
		value, err := g.venue.leverage(ctx)
		if err != nil {
			return err
		}
		leverage = value
		return nil
	})
	return leverage, err
}

// HardStop 不可逆地终止网关，进行中与后续的调用都会立即返回 ErrStopped。
func (g *Gateway) HardStop() {
	g.haltOnce.Do(func() {
		g.haltFn()
		g.logger.Warn("网关已硬停止", zap.Int("tracked_orders", g.book.size()))
	})
}

// Stopped 报告是否已经硬停止。
func (g *Gateway) Stopped() bool {
	return g.halt.Err() != nil
}

// LastError 返回最近一次失败描述，未发生过失败时为空。
func (g *Gateway) LastError() string {
	g.errMu.RLock()
	defer g.errMu.RUnlock()
	return g.lastError
}

func (g *Gateway) recordError(err error) {
	g.errMu.Lock()
	defer g.errMu.Unlock()
	g.lastError = fmt.Sprintf("%s :: %s", g.now().UTC().Format(time.RFC3339), err.Error())
}

// callWithRetry 以固定间隔无限重试 fn，只有硬停止或 ctx 结束时才返回错误。
func (g *Gateway) callWithRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if g.Stopped() {
		return ErrStopped
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWatch := context.AfterFunc(g.halt, cancel)
	defer stopWatch()

	attempt := 0
	for {
		if g.Stopped() {
			return ErrStopped
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := g.attempt(callCtx, fn)
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				g.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		if g.Stopped() {
			return ErrStopped
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		g.recordError(err)
		g.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", g.retryDelay),
			zap.Duration("latency", duration),
			zap.Error(err),
		)

		timer := time.NewTimer(g.retryDelay)
		select {
		case <-callCtx.Done():
			timer.Stop()
			if g.Stopped() {
				return ErrStopped
			}
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// attempt 在独立 goroutine 中执行一次调用，硬停止时不等待其返回。
func (g *Gateway) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("交易所调用 panic: %v", r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
