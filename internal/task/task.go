package task

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"trade-keeper/internal/exchange"
)

var (
	// ErrUnknownStrategy 表示未知的策略名称。
	ErrUnknownStrategy = errors.New("unknown strategy")
	// ErrInvalidParams 表示命令参数非法。
	ErrInvalidParams = errors.New("invalid params")
	// ErrInconsistentLevels 表示计算出的价位方向不一致。
	ErrInconsistentLevels = errors.New("inconsistent price levels")
	// ErrIllegalTransition 表示状态迁移不在允许的边上。
	ErrIllegalTransition = errors.New("illegal state transition")
)

// Strategy 表示任务使用的交易策略。
type Strategy string

const (
	StrategyBart   Strategy = "bart"
	StrategyZigzag Strategy = "zigzag"
	StrategyStop   Strategy = "stop"
)

// Strategies 按状态展示顺序列出所有策略。
func Strategies() []Strategy {
	return []Strategy{StrategyBart, StrategyZigzag, StrategyStop}
}

// ParseStrategy 解析策略名称，大小写不敏感。
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Strategies() {
		if known == s {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// State 表示任务生命周期状态。
type State int

const (
	StateConstructed State = iota
	StateInit
	StateDestroyed
	StateCritical
	StateWaiting
	StateInside
	StateTake
	StateLoss
)

var stateNames = [...]string{
	StateConstructed: "Constructed",
	StateInit:        "Init",
	StateDestroyed:   "Destroyed",
	StateCritical:    "Critical",
	StateWaiting:     "Waiting",
	StateInside:      "Inside",
	StateTake:        "Take",
	StateLoss:        "Loss",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText 以状态名序列化。
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Resolved 表示交易已经以止盈或止损结束。
func (s State) Resolved() bool {
	return s == StateTake || s == StateLoss
}

var transitions = map[State][]State{
	StateConstructed: {StateInit, StateDestroyed},
	StateInit:        {StateWaiting, StateCritical, StateDestroyed},
	StateWaiting:     {StateInside, StateCritical, StateDestroyed},
	StateInside:      {StateTake, StateLoss, StateCritical, StateDestroyed},
	StateTake:        {StateDestroyed},
	StateLoss:        {StateDestroyed},
	StateCritical:    {StateDestroyed},
}

// CanTransition 判断 from→to 是否为合法迁移。
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Task 是单个受管仓位的计划与生命周期记录。
type Task struct {
	id       int64
	strategy Strategy
	exchange exchange.Kind
	plan     Plan

	mu        sync.RWMutex
	state     State
	createdAt time.Time
	enterTime time.Time
	exitTime  time.Time
	leverage  float64
	lastError string
}

// New 创建处于 Constructed 状态的任务。
func New(id int64, strategy Strategy, kind exchange.Kind, plan Plan, createdAt time.Time) *Task {
	return &Task{
		id:        id,
		strategy:  strategy,
		exchange:  kind,
		plan:      plan,
		state:     StateConstructed,
		createdAt: createdAt,
	}
}

func (t *Task) ID() int64               { return t.id }
func (t *Task) Strategy() Strategy      { return t.strategy }
func (t *Task) Exchange() exchange.Kind { return t.exchange }
func (t *Task) Plan() Plan              { return t.plan }

// State 返回当前状态。
func (t *Task) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// EnterTime 返回入场时间，未入场时为零值。
func (t *Task) EnterTime() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enterTime
}

// LastError 返回最近一次循环错误。
func (t *Task) LastError() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastError
}

// Transition 沿合法边迁移状态，并记录入场/出场时间。
func (t *Task) Transition(to State, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !CanTransition(t.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.state, to)
	}

	t.state = to
	switch to {
	case StateInside:
		t.enterTime = at
	case StateTake, StateLoss:
		t.exitTime = at
	}
	return nil
}

// Fail 覆盖记录最近一次错误，不改变状态。
func (t *Task) Fail(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastError = err.Error()
}

// SetLeverage 记录启动时读取的账户杠杆。
func (t *Task) SetLeverage(leverage float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leverage = leverage
}

// Snapshot 是任务的只读副本，只携带策略与交易所名称。
type Snapshot struct {
	ID        int64         `json:"id"`
	Strategy  Strategy      `json:"strategy"`
	Exchange  exchange.Kind `json:"exchange"`
	State     State         `json:"state"`
	Plan      Plan          `json:"plan"`
	Leverage  float64       `json:"leverage,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	EnterTime *time.Time    `json:"enterTime,omitempty"`
	ExitTime  *time.Time    `json:"exitTime,omitempty"`
	LastError string        `json:"lastError,omitempty"`
	// StockError 为网关最近一次失败，由注册表填充。
	StockError string `json:"stockError,omitempty"`
}

// Snapshot 返回当前状态的值拷贝。
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		ID:        t.id,
		Strategy:  t.strategy,
		Exchange:  t.exchange,
		State:     t.state,
		Plan:      t.plan,
		Leverage:  t.leverage,
		CreatedAt: t.createdAt,
		LastError: t.lastError,
	}
	if !t.enterTime.IsZero() {
		enter := t.enterTime
		snap.EnterTime = &enter
	}
	if !t.exitTime.IsZero() {
		exit := t.exitTime
		snap.ExitTime = &exit
	}
	return snap
}
