package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"trade-keeper/internal/exchange"
	"trade-keeper/internal/registry"
	"trade-keeper/internal/task"
	"trade-keeper/internal/worker"
)

const (
	replyUnknown        = "Unknown command"
	replyInvalid        = "Invalid params"
	replyCalcFail       = "Calculation fail"
	replyNotFound       = "Not found"
	replyCantSafeCancel = "Cant do safe cancel"
	replyCancelError    = "Error on cancel task"
	replySubmitError    = "Error on submit task"
)

var helpText = strings.Join([]string{
	"help => print this message",
	"alias /help",
	"",
	"status => show all tasks status",
	"",
	"cancel {id} => cancel task by id",
	"",
	"cancel {id} force => cancel task by id with force",
	"",
	"submit {strategy} {stock} {args...} => start task",
	"alias {strategy} {stock} {args...}",
	"",
	"plan {strategy} {stock} {args...} => show calculated levels only",
	"",
	"_____________________________________________________",
	"",
	"strategy: bart, zigzag, stop",
	"stock: bitmex, binance",
	"",
	"bart/zigzag args: {amount} {enter} {stop} [candle period: 30m, 4h, 1d] [nonorm]",
	"stop args: {amount} {trigger} {price}",
}, "\n")

// Registry 是控制器依赖的任务注册表能力。
type Registry interface {
	Submit(ctx context.Context, strategy, exchange string, tokens []string) (task.Snapshot, error)
	StatusText() string
	Cancel(ctx context.Context, id int64, force bool) (registry.CancelResult, error)
}

// Controller 把操作员文本命令翻译为注册表调用，所有路径都返回可读回复。
type Controller struct {
	registry Registry
	limits   task.Limits
	logger   *zap.Logger
}

// NewController 创建命令控制器。
func NewController(reg Registry, limits task.Limits, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{registry: reg, limits: limits, logger: logger}
}

// Handle 处理一条命令并返回回复文本。
func (c *Controller) Handle(ctx context.Context, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return replyUnknown
	}

	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "help", "/help":
		return helpText
	case "status", "/status":
		return c.registry.StatusText()
	case "cancel", "/cancel":
		return c.cancel(ctx, args)
	case "submit", "/submit":
		if len(args) < 2 {
			return replyInvalid
		}
		return c.submit(ctx, args[0], args[1], args[2:])
	case "plan", "/plan":
		if len(args) < 2 {
			return replyInvalid
		}
		return c.plan(args[0], args[1], args[2:])
	}

	if _, err := task.ParseStrategy(cmd); err == nil {
		if len(args) < 1 {
			return replyInvalid
		}
		return c.submit(ctx, cmd, args[0], args[1:])
	}
	return replyUnknown
}

func (c *Controller) submit(ctx context.Context, strategy, stock string, tokens []string) string {
	snap, err := c.registry.Submit(ctx, strategy, stock, tokens)
	switch {
	case err == nil:
		return c.registry.StatusText()
	case isValidationError(err):
		c.logger.Info("拒绝非法任务参数", zap.String("strategy", strategy), zap.String("stock", stock), zap.Error(err))
		return replyInvalid
	case errors.Is(err, task.ErrInconsistentLevels):
		c.logger.Info("价位计算不一致", zap.Error(err))
		return replyCalcFail
	case errors.Is(err, registry.ErrStartFailed):
		return fmt.Sprintf("Task %d failed to start: %v\n\n%s", snap.ID, err, c.registry.StatusText())
	default:
		c.logger.Error("提交任务失败", zap.Error(err))
		return replySubmitError
	}
}

func (c *Controller) plan(strategy, stock string, tokens []string) string {
	plan, err := Preview(strategy, stock, tokens, c.limits)
	switch {
	case err == nil:
	case errors.Is(err, task.ErrInconsistentLevels):
		return replyCalcFail
	default:
		return replyInvalid
	}

	body, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return replySubmitError
	}
	return string(body)
}

func (c *Controller) cancel(ctx context.Context, args []string) string {
	if len(args) == 0 || len(args) > 2 {
		return replyInvalid
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return replyInvalid
	}
	force := false
	if len(args) == 2 {
		if !strings.EqualFold(args[1], "force") {
			return replyInvalid
		}
		force = true
	}

	res, err := c.registry.Cancel(ctx, id, force)
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrNotFound):
		return replyNotFound
	case errors.Is(err, worker.ErrCancelTimeout):
		return replyCantSafeCancel
	default:
		c.logger.Error("撤销任务失败", zap.Int64("task_id", id), zap.Error(err))
		return replyCancelError
	}

	head := fmt.Sprintf("Task %d cancelled", res.Task.ID)
	if res.Forced {
		head = fmt.Sprintf("Task %d destroyed by force, exchange orders may remain", res.Task.ID)
	}
	return head + "\n\n" + c.registry.StatusText()
}

// Preview 只做参数校验与价位计算，不访问网络。
func Preview(strategy, stock string, tokens []string, limits task.Limits) (task.Plan, error) {
	s, err := task.ParseStrategy(strategy)
	if err != nil {
		return task.Plan{}, err
	}
	if _, err := exchange.ParseKind(stock); err != nil {
		return task.Plan{}, err
	}
	params, err := task.ParseParams(s, tokens, limits)
	if err != nil {
		return task.Plan{}, err
	}
	return task.Calculate(s, params, limits)
}

func isValidationError(err error) bool {
	return errors.Is(err, task.ErrUnknownStrategy) ||
		errors.Is(err, task.ErrInvalidParams) ||
		errors.Is(err, exchange.ErrUnknownExchange)
}
