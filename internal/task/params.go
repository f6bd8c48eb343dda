package task

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const flagNoNormalize = "nonorm"

// Params 是从命令参数解析出的原始输入。
type Params struct {
	Amount float64
	Enter  float64
	Stop   float64

	// Stop 策略使用
	Trigger float64
	Price   float64

	CandlePeriod       time.Duration
	DisableNormalizing bool
}

// Limits 是解析与计算时使用的配置约束。
type Limits struct {
	MaxOrderSize float64
	CandlePeriod time.Duration
}

// ParseParams 解析策略参数。
// bart/zigzag: amount enter stop [period] [nonorm]；stop: amount trigger price。
func ParseParams(strategy Strategy, tokens []string, limits Limits) (Params, error) {
	switch strategy {
	case StrategyBart, StrategyZigzag:
		return parseBracket(tokens, limits)
	case StrategyStop:
		return parseStop(tokens)
	default:
		return Params{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

func parseBracket(tokens []string, limits Limits) (Params, error) {
	if len(tokens) < 3 || len(tokens) > 5 {
		return Params{}, fmt.Errorf("%w: 需要 amount enter stop [period] [nonorm]", ErrInvalidParams)
	}

	values, err := parseNumbers(tokens[:3])
	if err != nil {
		return Params{}, err
	}

	p := Params{
		Amount:       values[0],
		Enter:        values[1],
		Stop:         values[2],
		CandlePeriod: limits.CandlePeriod,
	}

	for _, raw := range tokens[3:] {
		token := strings.ToLower(strings.TrimSpace(raw))
		if token == flagNoNormalize {
			if p.DisableNormalizing {
				return Params{}, fmt.Errorf("%w: 重复的 %s", ErrInvalidParams, flagNoNormalize)
			}
			p.DisableNormalizing = true
			continue
		}

		period, err := parseCandlePeriod(token)
		if err != nil || period <= 0 {
			return Params{}, fmt.Errorf("%w: 无法识别的参数 %q", ErrInvalidParams, raw)
		}
		p.CandlePeriod = period
	}

	if p.Amount <= 0 {
		return Params{}, fmt.Errorf("%w: amount 必须为正数", ErrInvalidParams)
	}
	if p.Enter <= 0 || p.Stop <= 0 {
		return Params{}, fmt.Errorf("%w: 价格必须为正数", ErrInvalidParams)
	}
	if p.Enter == p.Stop {
		return Params{}, fmt.Errorf("%w: enter 与 stop 不能相同", ErrInvalidParams)
	}
	if limits.MaxOrderSize > 0 && p.Amount > limits.MaxOrderSize {
		return Params{}, fmt.Errorf("%w: amount 超过上限 %.0f", ErrInvalidParams, limits.MaxOrderSize)
	}
	return p, nil
}

func parseStop(tokens []string) (Params, error) {
	if len(tokens) != 3 {
		return Params{}, fmt.Errorf("%w: 需要 amount trigger price", ErrInvalidParams)
	}

	values, err := parseNumbers(tokens)
	if err != nil {
		return Params{}, err
	}
	return Params{Amount: values[0], Trigger: values[1], Price: values[2]}, nil
}

// parseNumbers 严格解析十进制数字，拒绝 NaN、Inf 与空串。
func parseNumbers(tokens []string) ([]float64, error) {
	values := make([]float64, len(tokens))
	for i, raw := range tokens {
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %q 不是有效数字", ErrInvalidParams, raw)
		}
		f, _ := d.Float64()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: %q 超出范围", ErrInvalidParams, raw)
		}
		values[i] = f
	}
	return values, nil
}

// parseCandlePeriod 在 time.ParseDuration 之外接受整数天，如 "1d"。
func parseCandlePeriod(token string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(token, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(token)
}
