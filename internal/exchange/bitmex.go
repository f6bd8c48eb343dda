package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"trade-keeper/internal/config"
)

const bitmexAPIPoint = "/api/v1/"

type bitmexOrder struct {
	OrderID string `json:"orderID"`
	ClOrdID string `json:"clOrdID"`
}

type bitmexPosition struct {
	Symbol   string  `json:"symbol"`
	Leverage float64 `json:"leverage"`
}

type bitmexVenue struct {
	http      *resty.Client
	apiKey    string
	apiSecret string
	symbol    string
	ttl       time.Duration
	now       func() time.Time
}

func newBitmexVenue(cfg config.BitmexConfig, ttl time.Duration) *bitmexVenue {
	if ttl <= 0 {
		ttl = time.Minute
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("X-Requested-With", "XMLHttpRequest")

	return &bitmexVenue{
		http:      httpClient,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		symbol:    cfg.Symbol,
		ttl:       ttl,
		now:       time.Now,
	}
}

// signBitmex 计算 HEX(HMAC-SHA256(secret, METHOD+PATH+EXPIRES+BODY))。
func signBitmex(secret, method, path string, expires int64, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(method + path + strconv.FormatInt(expires, 10) + body))
	return hex.EncodeToString(mac.Sum(nil))
}

// encodeBitmexQuery 将参数编码为查询串，嵌套对象序列化为 JSON。
func encodeBitmexQuery(params map[string]interface{}) (string, error) {
	values := url.Values{}
	for key, value := range params {
		switch v := value.(type) {
		case string:
			values.Set(key, v)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			values.Set(key, string(raw))
		}
	}
	return values.Encode(), nil
}

func (v *bitmexVenue) request(ctx context.Context, method, point string, params map[string]interface{}, result interface{}) error {
	path := bitmexAPIPoint + point
	body := ""

	req := v.http.R().SetContext(ctx)

	if method == http.MethodGet {
		if len(params) > 0 {
			query, err := encodeBitmexQuery(params)
			if err != nil {
				return fmt.Errorf("bitmex: 编码查询参数失败: %w", err)
			}
			path += "?" + query
		}
	} else if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("bitmex: 序列化请求失败: %w", err)
		}
		body = string(raw)
		req = req.SetBody(raw)
	}

	expires := v.now().Add(v.ttl).Unix()
	req = req.
		SetHeader("Content-Type", "application/json").
		SetHeader("api-expires", strconv.FormatInt(expires, 10)).
		SetHeader("api-key", v.apiKey).
		SetHeader("api-signature", signBitmex(v.apiSecret, method, path, expires, body))

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("bitmex %s %s: %w", method, point, err)
	}

	raw := resp.Body()
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return fmt.Errorf("bitmex %s %s: HTTP %d: %s", method, point, resp.StatusCode(), string(raw))
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("bitmex %s %s: 解析响应失败: %w", method, point, err)
	}
	return nil
}

func (v *bitmexVenue) orderParams(req OrderRequest) map[string]interface{} {
	side := "Buy"
	if req.Amount < 0 {
		side = "Sell"
	}

	params := map[string]interface{}{
		"symbol":   v.symbol,
		"side":     side,
		"orderQty": req.Quantity(),
	}
	if req.ClientID != "" {
		params["clOrdID"] = req.ClientID
	}

	switch req.Type {
	case OrderLimit:
		params["ordType"] = "Limit"
	case OrderMarket:
		params["ordType"] = "Market"
	case OrderStopLimit:
		params["ordType"] = "StopLimit"
	case OrderStopMarket:
		params["ordType"] = "Stop"
	case OrderTakeLimit:
		params["ordType"] = "LimitIfTouched"
	case OrderTakeMarket:
		params["ordType"] = "MarketIfTouched"
	}

	if req.Type.hasPrice() {
		params["price"] = req.Price
	}
	if req.Type.hasTrigger() {
		params["stopPx"] = req.Trigger
		params["execInst"] = "LastPrice"
	}
	if req.Type != OrderMarket {
		params["timeInForce"] = "GoodTillCancel"
	}

	return params
}

func (v *bitmexVenue) submit(ctx context.Context, req OrderRequest) (string, error) {
	var order bitmexOrder
	if err := v.request(ctx, http.MethodPost, "order", v.orderParams(req), &order); err != nil {
		return "", err
	}
	return order.OrderID, nil
}

func (v *bitmexVenue) cancel(ctx context.Context, exchangeID string) error {
	var orders []bitmexOrder
	return v.request(ctx, http.MethodDelete, "order", map[string]interface{}{"orderID": exchangeID}, &orders)
}

func (v *bitmexVenue) openOrders(ctx context.Context) ([]OpenOrder, error) {
	var orders []bitmexOrder
	params := map[string]interface{}{
		"symbol": v.symbol,
		"filter": map[string]interface{}{"open": true},
	}
	if err := v.request(ctx, http.MethodGet, "order", params, &orders); err != nil {
		return nil, err
	}

	result := make([]OpenOrder, 0, len(orders))
	for _, o := range orders {
		result = append(result, OpenOrder{ID: o.OrderID, ClientID: o.ClOrdID})
	}
	return result, nil
}

func (v *bitmexVenue) leverage(ctx context.Context) (float64, error) {
	var positions []bitmexPosition
	params := map[string]interface{}{
		"filter": map[string]interface{}{"symbol": v.symbol},
	}
	if err := v.request(ctx, http.MethodGet, "position", params, &positions); err != nil {
		return 0, err
	}
	if len(positions) == 0 {
		return 0, nil
	}
	return positions[0].Leverage, nil
}
