package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"trade-keeper/internal/config"
)

const (
	replyPrivateOnly = "Just private use only."
	startedMessage   = "Started!"
	pollTimeout      = 60
)

// Handler 把一条命令文本转换为回复。
type Handler interface {
	Handle(ctx context.Context, text string) string
}

type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	StopReceivingUpdates()
}

// Bot 是操作员的私聊入口，同时作为一个告警通道。
type Bot struct {
	api     botAPI
	ownerID int64
	logger  *zap.Logger

	wg sync.WaitGroup
}

// New 连接 Telegram 并校验 token。
func New(cfg config.TelegramConfig, logger *zap.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: token 不能为空")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: 初始化失败: %w", err)
	}
	bot := newBot(api, cfg.OwnerID, logger)
	bot.logger.Info("Telegram 已连接", zap.String("username", api.Self.UserName))
	return bot, nil
}

func newBot(api botAPI, ownerID int64, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{api: api, ownerID: ownerID, logger: logger.Named("telegram")}
}

// Notify 给机器人主人发送消息。
func (b *Bot) Notify(_ context.Context, text string) error {
	return b.send(b.ownerID, text)
}

// Alert 实现告警通道。
func (b *Bot) Alert(ctx context.Context, message string) error {
	return b.Notify(ctx, message)
}

// Run 拉取更新直到 ctx 结束，每条消息在独立 goroutine 中处理。
func (b *Bot) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.New("telegram: handler 不能为空")
	}
	if err := b.Notify(ctx, startedMessage); err != nil {
		return fmt.Errorf("telegram: 发送启动消息失败: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := b.api.GetUpdatesChan(u)
	defer func() {
		b.api.StopReceivingUpdates()
		b.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.dispatch(ctx, handler, update)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, handler Handler, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID
	if chatID != b.ownerID {
		b.logger.Warn("拒绝非主人消息", zap.Int64("chat_id", chatID))
		if err := b.send(chatID, replyPrivateOnly); err != nil {
			b.logger.Warn("回复失败", zap.Int64("chat_id", chatID), zap.Error(err))
		}
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("处理命令时发生 panic", zap.Any("panic", r), zap.String("text", text))
			}
		}()

		reply := handler.Handle(ctx, text)
		if err := b.send(chatID, reply); err != nil {
			b.logger.Warn("回复失败", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}()
}

// send 不受 ctx 约束，退出过程中的回复和告警仍需送达。
func (b *Bot) send(chatID int64, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}
