package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"OpenMCP-Sui/internal/agent"
	xerrors "OpenMCP-Sui/internal/errors"
	"OpenMCP-Sui/internal/observability/alerting"
	"OpenMCP-Sui/pkg/logger"
)

// Executor 定义了处理器所需的解析能力，由 agent.Resolver 实现。
type Executor interface {
	Chat(ctx context.Context, message, account string) (*agent.Outcome, error)
}

// Processor 负责从队列消费任务并交给解析器执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerts      alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 在任务进入终态失败时推送告警。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerts = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logger.Named("task")
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) || stdErrors.Is(err, ErrTaskExhausted) {
			p.logger.Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		return err
	}

	outcome, execErr := p.executor.Chat(ctx, task.Message, task.Account)
	if execErr != nil {
		return p.handleExecutionFailure(ctx, task, execErr)
	}

	if err := p.store.MarkSucceeded(ctx, task.ID, outcome); err != nil {
		p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		if storeErr := p.store.MarkFailed(ctx, task.ID, CodeTaskProcessing, err.Error(), false); storeErr != nil {
			return storeErr
		}
		return p.requeue(ctx, task, "标记成功失败后")
	}
	attrs := []any{slog.String("task_id", task.ID), slog.String("account", task.Account)}
	if outcome != nil {
		attrs = append(attrs, slog.String("action", string(outcome.Intent.Action)), slog.String("state", string(outcome.State)))
	}
	logger.Audit().Info("任务执行成功", attrs...)
	return nil
}

// handleExecutionFailure 记录失败；只有可重试的基础设施错误才会重新入队。
func (p *Processor) handleExecutionFailure(ctx context.Context, task *Task, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := task.Attempts >= task.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), terminal); storeErr != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)
	if terminal {
		p.alert(ctx, task, code, execErr)
		return nil
	}
	return p.requeue(ctx, task, "")
}

func (p *Processor) alert(ctx context.Context, task *Task, code xerrors.Code, execErr error) {
	if p.alerts == nil {
		return
	}
	severity := xerrors.AttributesOf(code).Severity
	if !alerting.ShouldAlert(severity) {
		return
	}
	event := alerting.Event{
		Code:       code,
		Message:    execErr.Error(),
		Severity:   severity,
		TaskID:     task.ID,
		Account:    task.Account,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		OccurredAt: time.Now().UTC(),
	}
	if e, ok := xerrors.From(execErr); ok {
		event.Metadata = e.Metadata()
	}
	if err := p.alerts.Notify(ctx, event); err != nil {
		p.logger.Warn("告警推送失败", slog.Any("error", err), slog.String("task_id", task.ID))
	}
}

func (p *Processor) requeue(ctx context.Context, task *Task, stage string) error {
	if p.producer == nil {
		return nil
	}
	if err := p.producer.Publish(ctx, task.ID); err != nil {
		return xerrors.Wrap(CodeTaskPublish, err, fmt.Sprintf("任务 %s %s重投失败", task.ID, stage))
	}
	p.logger.Debug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	return nil
}
