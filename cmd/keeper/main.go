package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"trade-keeper/internal/app"
	"trade-keeper/internal/command"
	"trade-keeper/internal/config"
	"trade-keeper/internal/log"
	"trade-keeper/internal/store"
	"trade-keeper/internal/task"
)

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "keeper"
	cliApp.Usage = "仓位执行引擎"

	cliApp.Commands = []cli.Command{
		runCMD,
		planCMD,
	}

	if err := cliApp.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "配置文件路径，默认使用 configs/config.yaml",
	}
	envFileFlag = cli.StringFlag{
		Name:  "env-file",
		Usage: "可选的 .env 文件，用于注入 KEEPER_* 环境变量",
		Value: ".env",
	}

	runCMD = cli.Command{
		Name:        "run",
		Usage:       "启动执行引擎",
		Action:      runAction,
		Flags:       []cli.Flag{configFlag, envFileFlag},
		Description: `连接交易所，接收 Telegram 命令并驱动任务`,
	}
	planCMD = cli.Command{
		Name:        "plan",
		Usage:       "离线计算价位",
		Action:      planAction,
		ArgsUsage:   "{strategy} {stock} {args...}",
		Flags:       []cli.Flag{envFileFlag},
		Description: `只做参数校验与价位计算，不访问交易所`,
	}
)

func loadEnv(c *cli.Context) {
	path := c.String("env-file")
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "加载 %s 失败: %v\n", path, err)
	}
}

func runAction(c *cli.Context) error {
	loadEnv(c)

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		return err
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	keeper := app.New(cfg, logger, sqliteStore)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := keeper.Run(ctx); err != nil {
		logger.Error("系统运行异常", zap.Error(err))
		return err
	}

	logger.Info("系统已安全退出")
	return nil
}

func planAction(c *cli.Context) error {
	loadEnv(c)

	args := c.Args()
	if len(args) < 2 {
		return cli.NewExitError("用法: keeper plan {strategy} {stock} {args...}", 2)
	}

	cfg, err := config.Defaults()
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	limits := task.Limits{MaxOrderSize: cfg.Worker.MaxOrderSize, CandlePeriod: cfg.Worker.CandlePeriod}
	plan, err := command.Preview(args[0], args[1], args[2:], limits)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(plan)
}
