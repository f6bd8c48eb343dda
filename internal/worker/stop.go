package worker

import (
	"context"
	"fmt"

	"trade-keeper/internal/exchange"
	"trade-keeper/internal/task"
)

// stopOrder 只挂一张止损限价单，成交即视为完成。
type stopOrder struct {
	order exchange.Handle
}

func (s *stopOrder) PlaceInitOrders(ctx context.Context, env Env) (task.State, error) {
	plan := env.Task.Plan()
	h, err := env.Gateway.PlaceStopLimitOrder(ctx, plan.Price, plan.Trigger, plan.Amount)
	if err != nil {
		return task.StateInit, fmt.Errorf("止损限价委托失败: %w", err)
	}
	s.order = h
	return task.StateWaiting, nil
}

func (s *stopOrder) EvaluateWaiting(ctx context.Context, env Env) (task.State, error) {
	open, err := env.Gateway.HasOrder(ctx, s.order)
	if err != nil {
		return task.StateWaiting, err
	}
	if open {
		return task.StateWaiting, nil
	}
	return task.StateInside, nil
}

// EvaluateInside 无条件转入 Take：止损单离开委托簿即视为仓位已了结，没有后续委托可观察。
func (s *stopOrder) EvaluateInside(ctx context.Context, env Env) (task.State, error) {
	return task.StateTake, nil
}
