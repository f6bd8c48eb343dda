package alert

import (
	"context"

	"go.uber.org/multierr"
)

// Alerter 接收纯文本告警。
type Alerter interface {
	Alert(ctx context.Context, message string) error
}

// Multi 将告警依次发往所有通道，单个通道失败不影响其他通道。
type Multi []Alerter

func (m Multi) Alert(ctx context.Context, message string) error {
	var err error
	for _, a := range m {
		if a == nil {
			continue
		}
		err = multierr.Append(err, a.Alert(ctx, message))
	}
	return err
}

// Nop 丢弃所有告警。
type Nop struct{}

func (Nop) Alert(context.Context, string) error { return nil }
