package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	xerrors "OpenMCP-Sui/internal/errors"
	"OpenMCP-Sui/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelWebhook Channel = "webhook"
	ChannelAudit   Channel = "audit"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	TaskID     string
	Account    string
	Attempts   int
	MaxRetries int
	Metadata   map[string]string
	OccurredAt time.Time
}

// Summary 生成单行的告警摘要。
func (e Event) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s (任务 %s, 重试 %d/%d)", e.Severity, e.Code, e.Message, e.TaskID, e.Attempts, e.MaxRetries)
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, e.Metadata[k])
		}
	}
	return b.String()
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers []Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher，同一渠道只保留最后一个通知器。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	index := make(map[Channel]int, len(notifiers))
	set := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		if i, ok := index[n.Channel()]; ok {
			set[i] = n
			continue
		}
		index[n.Channel()] = len(set)
		set = append(set, n)
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	return errors.Join(errs...)
}

// AuditNotifier 把告警写入审计日志。
type AuditNotifier struct{}

// Channel 返回审计渠道。
func (AuditNotifier) Channel() Channel { return ChannelAudit }

// Notify 写入一条审计记录。
func (AuditNotifier) Notify(_ context.Context, event Event) error {
	logger.Audit().Error("任务告警",
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("task_id", event.TaskID),
		slog.String("account", event.Account),
		slog.Int("attempts", event.Attempts),
		slog.Int("max_retries", event.MaxRetries),
		slog.String("message", event.Message),
	)
	return nil
}

// WebhookNotifier 以 JSON 形式推送告警，text 字段兼容 Slack 与钉钉的机器人格式。
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

// NewWebhookNotifier 构造 WebhookNotifier，URL 为空时返回 nil。
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{URL: url, Client: &http.Client{Timeout: timeout}}
}

// Channel 返回 Webhook 渠道。
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

type webhookPayload struct {
	Text       string            `json:"text"`
	Code       string            `json:"code"`
	Severity   string            `json:"severity"`
	TaskID     string            `json:"task_id"`
	Account    string            `json:"user_address,omitempty"`
	Attempts   int               `json:"attempts"`
	MaxRetries int               `json:"max_retries"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notify 发送 Webhook 请求。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.URL == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("task_id", event.TaskID))
		return nil
	}
	body, err := json.Marshal(webhookPayload{
		Text:       event.Summary(),
		Code:       string(event.Code),
		Severity:   string(event.Severity),
		TaskID:     event.TaskID,
		Account:    event.Account,
		Attempts:   event.Attempts,
		MaxRetries: event.MaxRetries,
		Metadata:   event.Metadata,
		OccurredAt: event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}
	return nil
}

// ShouldAlert 判断失败是否值得告警：仅 warning 及以上级别。
func ShouldAlert(severity xerrors.Severity) bool {
	return severity == xerrors.SeverityWarning || severity == xerrors.SeverityCritical
}
