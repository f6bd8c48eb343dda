package worker

import (
	"context"
	"fmt"
	"time"

	"trade-keeper/internal/exchange"
	"trade-keeper/internal/task"
)

// Gateway 是 Worker 依赖的交易所能力，*exchange.Gateway 满足该接口。
type Gateway interface {
	PlaceMarketOrder(ctx context.Context, amount float64) (exchange.Handle, error)
	PlaceStopLimitOrder(ctx context.Context, price, trigger, amount float64) (exchange.Handle, error)
	PlaceStopMarketOrder(ctx context.Context, trigger, amount float64) (exchange.Handle, error)
	PlaceTakeLimitOrder(ctx context.Context, price, trigger, amount float64) (exchange.Handle, error)
	CancelOrder(ctx context.Context, h exchange.Handle) error
	GetOrders(ctx context.Context) ([]exchange.Handle, error)
	HasOrder(ctx context.Context, h exchange.Handle) (bool, error)
	GetLeverage(ctx context.Context) (float64, error)
	HardStop()
	LastError() string
}

// Env 是策略每次执行时可用的依赖。
type Env struct {
	Gateway Gateway
	Task    *task.Task
	Now     func() time.Time
	Alert   func(ctx context.Context, message string)
}

// Strategy 定义下单与状态推进策略，返回值为下一个状态。
type Strategy interface {
	PlaceInitOrders(ctx context.Context, env Env) (task.State, error)
	EvaluateWaiting(ctx context.Context, env Env) (task.State, error)
	EvaluateInside(ctx context.Context, env Env) (task.State, error)
}

// NewStrategy 在任务构建时选定策略实现。
func NewStrategy(kind task.Strategy, opts Options) (Strategy, error) {
	switch kind {
	case task.StrategyBart:
		return &bracket{}, nil
	case task.StrategyZigzag:
		return &bracket{candlesToDrop: opts.CandlesToDrop}, nil
	case task.StrategyStop:
		return &stopOrder{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", task.ErrUnknownStrategy, kind)
	}
}

func containsHandle(handles []exchange.Handle, h exchange.Handle) bool {
	for _, live := range handles {
		if live == h {
			return true
		}
	}
	return false
}
