package worker

import (
	"context"
	"fmt"
	"time"

	"trade-keeper/internal/exchange"
	"trade-keeper/internal/task"
)

const dropAlertMessage = "Drop old position"

// bracket 实现 bart 与 zigzag：止损市价入场、止盈限价出场、入场后挂止损。
// candlesToDrop > 0 时，持仓超过该数量的完整 K 线后按市价平仓。
type bracket struct {
	candlesToDrop int

	enterOrder exchange.Handle
	takeOrder  exchange.Handle
	stopOrder  exchange.Handle
}

func (b *bracket) PlaceInitOrders(ctx context.Context, env Env) (task.State, error) {
	plan := env.Task.Plan()

	enter, err := env.Gateway.PlaceStopMarketOrder(ctx, plan.Enter, plan.Amount)
	if err != nil {
		return task.StateInit, fmt.Errorf("入场委托失败: %w", err)
	}
	b.enterOrder = enter

	take, err := env.Gateway.PlaceTakeLimitOrder(ctx, plan.Take, plan.TakeTrigger, plan.TakeAmount)
	if err != nil {
		return task.StateInit, fmt.Errorf("止盈委托失败: %w", err)
	}
	b.takeOrder = take

	return task.StateWaiting, nil
}

func (b *bracket) EvaluateWaiting(ctx context.Context, env Env) (task.State, error) {
	open, err := env.Gateway.HasOrder(ctx, b.enterOrder)
	if err != nil {
		return task.StateWaiting, err
	}
	if open {
		return task.StateWaiting, nil
	}

	plan := env.Task.Plan()
	stop, err := env.Gateway.PlaceStopMarketOrder(ctx, plan.Stop, plan.StopAmount)
	if err != nil {
		return task.StateWaiting, fmt.Errorf("止损委托失败: %w", err)
	}
	b.stopOrder = stop

	return task.StateInside, nil
}

func (b *bracket) EvaluateInside(ctx context.Context, env Env) (task.State, error) {
	handles, err := env.Gateway.GetOrders(ctx)
	if err != nil {
		return task.StateInside, err
	}
	hasTake := containsHandle(handles, b.takeOrder)
	hasStop := containsHandle(handles, b.stopOrder)

	if !hasTake {
		if err := env.Gateway.CancelOrder(ctx, b.stopOrder); err != nil {
			return task.StateInside, err
		}
		return task.StateTake, nil
	}

	if !hasStop {
		if err := env.Gateway.CancelOrder(ctx, b.takeOrder); err != nil {
			return task.StateInside, err
		}
		return task.StateLoss, nil
	}

	if b.candlesToDrop > 0 {
		plan := env.Task.Plan()
		if fullCandles(env.Task.EnterTime(), env.Now(), plan.CandlePeriod) >= b.candlesToDrop {
			return b.drop(ctx, env)
		}
	}

	return task.StateInside, nil
}

func (b *bracket) drop(ctx context.Context, env Env) (task.State, error) {
	if err := env.Gateway.CancelOrder(ctx, b.takeOrder); err != nil {
		return task.StateInside, err
	}
	if err := env.Gateway.CancelOrder(ctx, b.stopOrder); err != nil {
		return task.StateInside, err
	}
	if _, err := env.Gateway.PlaceMarketOrder(ctx, env.Task.Plan().StopAmount); err != nil {
		return task.StateInside, fmt.Errorf("市价平仓失败: %w", err)
	}

	env.Alert(ctx, dropAlertMessage)
	return task.StateLoss, nil
}

// fullCandles 统计入场后已经完整走完的 K 线数量，K 线边界按 time.Truncate 对齐。
func fullCandles(enter, now time.Time, period time.Duration) int {
	if enter.IsZero() || period <= 0 || !now.After(enter) {
		return 0
	}

	first := enter.Truncate(period)
	if first.Before(enter) {
		first = first.Add(period)
	}
	last := now.Truncate(period)
	if !last.After(first) {
		return 0
	}
	return int(last.Sub(first) / period)
}
