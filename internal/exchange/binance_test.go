package exchange

import (
	"context"
	"errors"
	"testing"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockBinanceClient struct {
	calls     []string
	types     []string
	sides     []string
	amounts   []float64
	open      []ccxt.Order
	positions []ccxt.Position
	createErr error
}

func strPtr(v string) *string    { return &v }
func fltPtr(v float64) *float64 { return &v }

func (m *mockBinanceClient) CreateOrder(symbol string, typeVar string, side string, amount float64, options ...ccxt.CreateOrderOptions) (ccxt.Order, error) {
	m.calls = append(m.calls, "CreateOrder")
	m.types = append(m.types, typeVar)
	m.sides = append(m.sides, side)
	m.amounts = append(m.amounts, amount)
	if m.createErr != nil {
		return ccxt.Order{}, m.createErr
	}
	return ccxt.Order{Id: strPtr("bn-1")}, nil
}

func (m *mockBinanceClient) CancelOrder(id string, options ...ccxt.CancelOrderOptions) (ccxt.Order, error) {
	m.calls = append(m.calls, "CancelOrder:"+id)
	return ccxt.Order{Id: strPtr(id)}, nil
}

func (m *mockBinanceClient) FetchOpenOrders(options ...ccxt.FetchOpenOrdersOptions) ([]ccxt.Order, error) {
	m.calls = append(m.calls, "FetchOpenOrders")
	return m.open, nil
}

func (m *mockBinanceClient) FetchPositions(options ...ccxt.FetchPositionsOptions) ([]ccxt.Position, error) {
	m.calls = append(m.calls, "FetchPositions")
	return m.positions, nil
}

func TestBinanceSubmitMapsOrderTypes(t *testing.T) {
	client := &mockBinanceClient{}
	v := &binanceVenue{client: client, symbol: "BTC/USDT:USDT"}

	reqs := []OrderRequest{
		{Type: OrderLimit, Price: 100, Amount: 2},
		{Type: OrderMarket, Amount: -2},
		{Type: OrderStopLimit, Price: 99, Trigger: 100, Amount: 2},
		{Type: OrderStopMarket, Trigger: 100, Amount: -2},
		{Type: OrderTakeLimit, Price: 110, Trigger: 109, Amount: -2},
		{Type: OrderTakeMarket, Trigger: 109, Amount: 2},
	}
	for _, req := range reqs {
		id, err := v.submit(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "bn-1", id)
	}

	assert.Equal(t, []string{"limit", "market", "STOP", "STOP_MARKET", "TAKE_PROFIT", "TAKE_PROFIT_MARKET"}, client.types)
	assert.Equal(t, []string{"buy", "sell", "buy", "sell", "sell", "buy"}, client.sides)
	for _, amount := range client.amounts {
		assert.Equal(t, 2.0, amount)
	}
}

func TestBinanceSubmitWrapsErrors(t *testing.T) {
	v := &binanceVenue{client: &mockBinanceClient{createErr: errors.New("insufficient margin")}, symbol: "BTC/USDT:USDT"}
	_, err := v.submit(context.Background(), OrderRequest{Type: OrderMarket, Amount: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient margin")
}

func TestBinanceOpenOrdersAndLeverage(t *testing.T) {
	client := &mockBinanceClient{
		open: []ccxt.Order{
			{Id: strPtr("1"), ClientOrderId: strPtr("c1")},
			{Id: strPtr("2")},
		},
		positions: []ccxt.Position{
			{Symbol: strPtr("ETH/USDT:USDT"), Leverage: fltPtr(5)},
			{Symbol: strPtr("BTC/USDT:USDT"), Leverage: fltPtr(20)},
		},
	}
	v := &binanceVenue{client: client, symbol: "BTC/USDT:USDT"}

	orders, err := v.openOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []OpenOrder{{ID: "1", ClientID: "c1"}, {ID: "2"}}, orders)

	lev, err := v.leverage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20.0, lev)

	require.NoError(t, v.cancel(context.Background(), "1"))
	assert.Contains(t, client.calls, "CancelOrder:1")
}

func TestBinanceVenueHonoursCancelledContext(t *testing.T) {
	client := &mockBinanceClient{}
	v := &binanceVenue{client: client, symbol: "BTC/USDT:USDT"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.openOrders(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, client.calls)
}
