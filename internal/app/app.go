package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trade-keeper/internal/alert"
	"trade-keeper/internal/command"
	"trade-keeper/internal/config"
	"trade-keeper/internal/exchange"
	"trade-keeper/internal/monitor"
	"trade-keeper/internal/registry"
	"trade-keeper/internal/store"
	"trade-keeper/internal/task"
	"trade-keeper/internal/telegram"
	"trade-keeper/internal/worker"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 启动操作员入口与监控接口，阻塞直到 ctx 结束。
// 退出时只停止任务循环，交易所挂单保持原样。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("执行引擎已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("bitmex_symbol", a.cfg.Exchanges.Bitmex.Symbol),
		zap.String("binance_symbol", a.cfg.Exchanges.Binance.Symbol),
	)

	events, err := monitor.NewService(ctx, a.store, a.logger)
	if err != nil {
		return err
	}

	alerters := alert.Multi{}
	if a.cfg.Alert.Enabled {
		phone, err := alert.NewPhoneCaller(a.cfg.Alert, a.logger)
		if err != nil {
			return err
		}
		alerters = append(alerters, phone)
	}

	var bot *telegram.Bot
	if a.cfg.Telegram.Enabled {
		bot, err = telegram.New(a.cfg.Telegram, a.logger)
		if err != nil {
			return err
		}
		alerters = append(alerters, bot)
	}

	limits := task.Limits{
		MaxOrderSize: a.cfg.Worker.MaxOrderSize,
		CandlePeriod: a.cfg.Worker.CandlePeriod,
	}
	reg := registry.New(ctx, a.gatewayFactory, registry.Options{
		Limits: limits,
		Worker: worker.OptionsFromConfig(a.cfg.Worker),
	}, alerters, events, a.logger)
	controller := command.NewController(reg, limits, a.logger)

	group, groupCtx := errgroup.WithContext(ctx)

	if bot != nil {
		group.Go(func() error {
			return bot.Run(groupCtx, controller)
		})
	} else {
		a.logger.Warn("Telegram 未启用，无法接收操作员命令")
	}

	if a.cfg.Monitor.Enabled {
		router := newMonitorRouter(events, reg, a.logger)
		group.Go(func() error {
			return serveMonitor(groupCtx, router, a.cfg.Monitor.Port, a.logger)
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		a.logger.Info("系统收到退出信号，正在停止任务循环")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Worker.CancelWait)
		defer cancel()
		return reg.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	return nil
}

func (a *App) gatewayFactory(kind exchange.Kind) (worker.Gateway, error) {
	gw, err := exchange.New(kind, a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("任务网关已创建", zap.String("exchange", string(gw.Exchange())))
	return gw, nil
}
