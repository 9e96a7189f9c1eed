package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"OpenMCP-Sui/internal/api"
	"OpenMCP-Sui/internal/config"
	"OpenMCP-Sui/internal/observability/alerting"
	"OpenMCP-Sui/internal/observability/metrics"
	"OpenMCP-Sui/internal/task"
	"OpenMCP-Sui/pkg/logger"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the chat task workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	queue, err := newTaskQueue(ctx, cfg)
	if err != nil {
		return err
	}
	store := task.NewMemoryStore()
	service := task.NewService(store, queue, cfg.TaskQueue.MaxRetries)
	defer service.Close()
	processor := task.NewProcessor(a.resolver, store, queue, queue,
		task.WithWorkerCount(cfg.TaskQueue.Workers),
		task.WithAlertDispatcher(newAlertDispatcher(cfg)),
	)

	opts := []api.Option{
		api.WithResolver(a.resolver),
		api.WithExecutor(a.dispatcher),
		api.WithTaskService(service),
		api.WithTransactionReader(a.ledger),
	}
	if a.contacts != nil {
		opts = append(opts, api.WithContacts(a.contacts))
	}
	server := api.NewServer(cfg.Server.Address, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(server.Start(gctx)) })
	g.Go(func() error { return ignoreCanceled(processor.Start(gctx)) })
	if cfg.Metrics.Enabled {
		g.Go(func() error { return ignoreCanceled(metrics.StartServer(gctx, cfg.Metrics.Address)) })
	}
	logger.L().Info("openmcp-sui 已启动",
		slog.String("addr", cfg.Server.Address),
		slog.String("queue", cfg.TaskQueue.Driver),
		slog.Int("workers", cfg.TaskQueue.Workers),
	)
	return g.Wait()
}

func newTaskQueue(ctx context.Context, cfg *config.Config) (task.Queue, error) {
	q := cfg.TaskQueue
	switch strings.ToLower(q.Driver) {
	case "", "memory":
		return task.NewMemoryQueue(1024), nil
	case "redis":
		return task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:  q.Redis.Address,
			Password: q.Redis.Password,
			DB:       q.Redis.DB,
			Queue:    q.RedisQueue,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:      q.RabbitMQ.URL,
			Queue:    q.RabbitMQ.Queue,
			Prefetch: q.RabbitMQ.Prefetch,
			Durable:  true,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", q.Driver)
	}
}

// newAlertDispatcher 始终写入审计日志，配置了 webhook 时额外推送。
func newAlertDispatcher(cfg *config.Config) *alerting.FanoutDispatcher {
	notifiers := []alerting.Notifier{alerting.AuditNotifier{}}
	timeout := time.Duration(cfg.Alerting.TimeoutSeconds) * time.Second
	if webhook := alerting.NewWebhookNotifier(cfg.Alerting.WebhookURL, timeout); webhook != nil {
		notifiers = append(notifiers, webhook)
	}
	return alerting.NewFanout(notifiers...)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
