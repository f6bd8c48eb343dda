package exchange

import (
	"fmt"
	"strings"
)

// Kind 标识交易所。
type Kind string

const (
	KindBitmex  Kind = "bitmex"
	KindBinance Kind = "binance"
)

// Kinds 按状态展示顺序列出所有交易所。
func Kinds() []Kind {
	return []Kind{KindBitmex, KindBinance}
}

// ParseKind 解析交易所名称，大小写不敏感。
func ParseKind(name string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(name)))
	for _, k := range Kinds() {
		if k == kind {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownExchange, name)
}

// Handle 是网关内部生成的委托句柄，与交易所委托号一一对应。
type Handle int64

// OrderType 表示委托类型。
type OrderType string

const (
	OrderLimit      OrderType = "limit"
	OrderMarket     OrderType = "market"
	OrderStopLimit  OrderType = "stopLimit"
	OrderStopMarket OrderType = "stopMarket"
	OrderTakeLimit  OrderType = "takeLimit"
	OrderTakeMarket OrderType = "takeMarket"
)

func (t OrderType) hasPrice() bool {
	return t == OrderLimit || t == OrderStopLimit || t == OrderTakeLimit
}

func (t OrderType) hasTrigger() bool {
	return t == OrderStopLimit || t == OrderStopMarket || t == OrderTakeLimit || t == OrderTakeMarket
}

// OrderRequest 描述一次下单。Amount 带符号：正数买入，负数卖出。
type OrderRequest struct {
	Type     OrderType
	Price    float64
	Trigger  float64
	Amount   float64
	ClientID string
}

// Side 返回买卖方向。
func (r OrderRequest) Side() string {
	if r.Amount < 0 {
		return "sell"
	}
	return "buy"
}

// Quantity 返回不带符号的数量。
func (r OrderRequest) Quantity() float64 {
	if r.Amount < 0 {
		return -r.Amount
	}
	return r.Amount
}

func (r OrderRequest) validate() error {
	if r.Amount == 0 {
		return fmt.Errorf("%w: amount 不能为0", ErrInvalidOrder)
	}
	if r.Type.hasPrice() && r.Price <= 0 {
		return fmt.Errorf("%w: %s 需要正的价格", ErrInvalidOrder, r.Type)
	}
	if r.Type.hasTrigger() && r.Trigger <= 0 {
		return fmt.Errorf("%w: %s 需要正的触发价", ErrInvalidOrder, r.Type)
	}
	return nil
}

// OpenOrder 为交易所返回的未完成委托。
type OpenOrder struct {
	ID       string
	ClientID string
}
