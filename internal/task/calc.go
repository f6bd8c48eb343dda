package task

import (
	"fmt"
	"math"
	"time"
)

const (
	bartTakeDistance         = 0.86
	bartStopDistance         = -0.86
	zigzagDistance           = 2.8
	badMovePercent           = 0.2
	enterSafeMarginPercent   = 0.05
	exitTriggerMarginPercent = 0.15
)

// Plan 是计算完成、可直接下单的价位与数量。
type Plan struct {
	IsLong bool    `json:"isLong"`
	Amount float64 `json:"amount"`

	Enter       float64 `json:"enter,omitempty"`
	Stop        float64 `json:"stop,omitempty"`
	StopAmount  float64 `json:"stopAmount,omitempty"`
	Take        float64 `json:"take,omitempty"`
	TakeTrigger float64 `json:"takeTrigger,omitempty"`
	TakeAmount  float64 `json:"takeAmount,omitempty"`

	Trigger float64 `json:"trigger,omitempty"`
	Price   float64 `json:"price,omitempty"`

	CandlePeriod       time.Duration `json:"candlePeriod,omitempty"`
	DisableNormalizing bool          `json:"disableNormalizing"`
}

// Calculate 根据策略常量计算入场、止盈、止损价位与平仓数量。
func Calculate(strategy Strategy, p Params, limits Limits) (Plan, error) {
	switch strategy {
	case StrategyBart, StrategyZigzag:
		plan := calcBracket(strategy, p)
		if err := plan.checkBracket(); err != nil {
			return Plan{}, err
		}
		return plan, nil
	case StrategyStop:
		return calcStop(p, limits)
	default:
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

func calcBracket(strategy Strategy, p Params) Plan {
	plan := Plan{
		IsLong:             p.Stop < p.Enter,
		Amount:             p.Amount,
		Enter:              p.Enter,
		Stop:               p.Stop,
		CandlePeriod:       p.CandlePeriod,
		DisableNormalizing: p.DisableNormalizing,
	}

	move := p.Stop/p.Enter - 1
	switch strategy {
	case StrategyBart:
		plan.Take = jsRound(p.Enter * (1 - move*bartTakeDistance))
		// 止损价先被改写，随后的 stopAmount 基于改写后的价位
		plan.Stop = jsRound(p.Enter * (1 - move*bartStopDistance))
	case StrategyZigzag:
		plan.Take = jsRound(p.Enter * (1 - move*zigzagDistance))
	}

	badMove := badMovePercent / 100
	if plan.IsLong {
		plan.TakeAmount = jsRound(-plan.Amount * (plan.Take/p.Enter - badMove))
		plan.StopAmount = jsRound(-plan.Amount * (2 - (p.Enter/plan.Stop + badMove)))
		plan.Enter = jsRound(p.Enter * (1 + enterSafeMarginPercent/100))
		plan.TakeTrigger = jsRound(plan.Take * (1 - exitTriggerMarginPercent/100))
	} else {
		plan.Amount = jsRound(-plan.Amount)
		plan.TakeAmount = jsRound(-plan.Amount * (plan.Take/p.Enter + badMove))
		plan.StopAmount = jsRound(-plan.Amount * (2 - (p.Enter/plan.Stop - badMove)))
		plan.Enter = jsRound(p.Enter * (1 - enterSafeMarginPercent/100))
		plan.TakeTrigger = jsRound(plan.Take * (1 + exitTriggerMarginPercent/100))
	}
	return plan
}

func (p Plan) checkBracket() error {
	for _, v := range []float64{p.Amount, p.Enter, p.Stop, p.Take, p.TakeTrigger, p.TakeAmount, p.StopAmount} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: 计算结果非有限数", ErrInconsistentLevels)
		}
	}

	if p.IsLong {
		if !(p.Stop < p.Enter && p.Enter < p.Take) {
			return fmt.Errorf("%w: 多头需要 stop(%.0f) < enter(%.0f) < take(%.0f)", ErrInconsistentLevels, p.Stop, p.Enter, p.Take)
		}
	} else if !(p.Take < p.Enter && p.Enter < p.Stop) {
		return fmt.Errorf("%w: 空头需要 take(%.0f) < enter(%.0f) < stop(%.0f)", ErrInconsistentLevels, p.Take, p.Enter, p.Stop)
	}

	if p.StopAmount == 0 || p.TakeAmount == 0 {
		return fmt.Errorf("%w: 平仓数量不能为0", ErrInconsistentLevels)
	}
	if sameSign(p.StopAmount, p.Amount) || sameSign(p.TakeAmount, p.Amount) {
		return fmt.Errorf("%w: 平仓数量方向必须与开仓相反", ErrInconsistentLevels)
	}
	return nil
}

func calcStop(p Params, limits Limits) (Plan, error) {
	for _, v := range []float64{p.Amount, p.Trigger, p.Price} {
		if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return Plan{}, fmt.Errorf("%w: amount/trigger/price 必须为非零有限数", ErrInvalidParams)
		}
	}
	if limits.MaxOrderSize > 0 && math.Abs(p.Amount) > limits.MaxOrderSize {
		return Plan{}, fmt.Errorf("%w: amount 超过上限 %.0f", ErrInvalidParams, limits.MaxOrderSize)
	}
	if p.Trigger < 0 || p.Price < 0 {
		return Plan{}, fmt.Errorf("%w: 价格必须为正数", ErrInvalidParams)
	}

	return Plan{
		IsLong:             p.Amount > 0,
		Amount:             p.Amount,
		Trigger:            p.Trigger,
		Price:              p.Price,
		DisableNormalizing: true,
	}, nil
}

// jsRound 与 JavaScript Math.round 一致：.5 向正无穷取整。
func jsRound(x float64) float64 {
	return math.Floor(x + 0.5)
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
