package exchange

import (
	"context"
	"errors"
)

var (
	// ErrStopped 表示网关已被硬停止，所有调用立即失败。
	ErrStopped = errors.New("gateway hard stopped")
	// ErrNoOrderID 表示下单响应缺少交易所委托号，需要重新提交。
	ErrNoOrderID = errors.New("exchange response without order id")
	// ErrCancelNotConfirmed 表示撤单后委托仍在挂单列表中。
	ErrCancelNotConfirmed = errors.New("cancel not confirmed by exchange")
	// ErrInvalidOrder 表示委托参数本身非法，不会重试。
	ErrInvalidOrder = errors.New("invalid order request")
	// ErrUnknownExchange 表示未知的交易所名称。
	ErrUnknownExchange = errors.New("unknown exchange")
)

// IsStopped 判断错误是否意味着调用方应立即放弃。
func IsStopped(err error) bool {
	return errors.Is(err, ErrStopped) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
