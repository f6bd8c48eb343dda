package exchange

import (
	"context"
	"fmt"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"trade-keeper/internal/config"
)

type binanceClient interface {
	CreateOrder(symbol string, typeVar string, side string, amount float64, options ...ccxt.CreateOrderOptions) (ccxt.Order, error)
	CancelOrder(id string, options ...ccxt.CancelOrderOptions) (ccxt.Order, error)
	FetchOpenOrders(options ...ccxt.FetchOpenOrdersOptions) ([]ccxt.Order, error)
	FetchPositions(options ...ccxt.FetchPositionsOptions) ([]ccxt.Position, error)
}

type binanceVenue struct {
	client binanceClient
	symbol string
}

func newBinanceVenue(cfg config.BinanceConfig) *binanceVenue {
	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &binanceVenue{client: ex, symbol: cfg.Symbol}
}

func binanceOrderType(t OrderType) string {
	switch t {
	case OrderLimit:
		return "limit"
	case OrderMarket:
		return "market"
	case OrderStopLimit:
		return "STOP"
	case OrderStopMarket:
		return "STOP_MARKET"
	case OrderTakeLimit:
		return "TAKE_PROFIT"
	case OrderTakeMarket:
		return "TAKE_PROFIT_MARKET"
	}
	return string(t)
}

func (v *binanceVenue) submit(ctx context.Context, req OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := map[string]interface{}{}
	if req.ClientID != "" {
		params["clientOrderId"] = req.ClientID
	}
	if req.Type.hasTrigger() {
		params["stopPrice"] = req.Trigger
		params["workingType"] = "CONTRACT_PRICE"
	}

	opts := []ccxt.CreateOrderOptions{ccxt.WithCreateOrderParams(params)}
	if req.Type.hasPrice() {
		opts = append(opts, ccxt.WithCreateOrderPrice(req.Price))
	}

	order, err := v.client.CreateOrder(v.symbol, binanceOrderType(req.Type), req.Side(), req.Quantity(), opts...)
	if err != nil {
		return "", fmt.Errorf("binance create_order: %w", err)
	}
	return derefString(order.Id), nil
}

func (v *binanceVenue) cancel(ctx context.Context, exchangeID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := v.client.CancelOrder(exchangeID, ccxt.WithCancelOrderSymbol(v.symbol)); err != nil {
		return fmt.Errorf("binance cancel_order: %w", err)
	}
	return nil
}

func (v *binanceVenue) openOrders(ctx context.Context) ([]OpenOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	orders, err := v.client.FetchOpenOrders(ccxt.WithFetchOpenOrdersSymbol(v.symbol))
	if err != nil {
		return nil, fmt.Errorf("binance fetch_open_orders: %w", err)
	}

	result := make([]OpenOrder, 0, len(orders))
	for _, o := range orders {
		result = append(result, OpenOrder{ID: derefString(o.Id), ClientID: derefString(o.ClientOrderId)})
	}
	return result, nil
}

func (v *binanceVenue) leverage(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	positions, err := v.client.FetchPositions()
	if err != nil {
		return 0, fmt.Errorf("binance fetch_positions: %w", err)
	}

	for _, p := range positions {
		if !strings.EqualFold(derefString(p.Symbol), v.symbol) {
			continue
		}
		if p.Leverage != nil {
			return *p.Leverage, nil
		}
	}
	return 0, nil
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
