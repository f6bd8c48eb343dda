package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"trade-keeper/internal/config"
)

const sendPath = "/sys/send.php"

// PhoneCaller 通过 SMSC 发起语音电话告警。
type PhoneCaller struct {
	http   *resty.Client
	cfg    config.AlertConfig
	logger *zap.Logger
}

// NewPhoneCaller 创建电话告警通道。
func NewPhoneCaller(cfg config.AlertConfig, logger *zap.Logger) (*PhoneCaller, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("alert: base_url 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "text/plain")

	return &PhoneCaller{
		http:   client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Alert 以消息内容拨打所有配置的号码。
func (p *PhoneCaller) Alert(ctx context.Context, message string) error {
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"login":  p.cfg.Login,
			"psw":    p.cfg.Password,
			"phones": p.cfg.Phones,
			"mes":    message,
			"call":   "1",
			"voice":  p.cfg.Voice,
			"param":  p.cfg.Param,
		}).
		Get(sendPath)
	if err != nil {
		return fmt.Errorf("alert: 请求 SMSC 失败: %w", err)
	}

	body := strings.TrimSpace(string(resp.Body()))
	if resp.IsError() {
		return fmt.Errorf("alert: HTTP %d: %s", resp.StatusCode(), body)
	}
	// SMSC 以 200 返回业务错误，格式为 "ERROR = N (...)"
	if strings.HasPrefix(strings.ToUpper(body), "ERROR") {
		return fmt.Errorf("alert: SMSC 拒绝: %s", body)
	}

	p.logger.Info("电话告警已发送", zap.String("message", message), zap.String("response", body))
	return nil
}
