package exchange

import (
	"fmt"

	"go.uber.org/zap"

	"trade-keeper/internal/config"
)

// New 为单个任务创建独立的网关实例。
func New(kind Kind, cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("exchange: 配置不能为空")
	}

	var v venue
	switch kind {
	case KindBitmex:
		v = newBitmexVenue(cfg.Exchanges.Bitmex, cfg.Gateway.SignatureTTL)
	case KindBinance:
		v = newBinanceVenue(cfg.Exchanges.Binance)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExchange, kind)
	}

	return newGateway(kind, v, cfg.Gateway.RetryDelay, logger), nil
}
