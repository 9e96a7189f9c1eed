package task

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"OpenMCP-Sui/internal/agent"
	xerrors "OpenMCP-Sui/internal/errors"
	"OpenMCP-Sui/internal/intent"
	"OpenMCP-Sui/internal/observability/alerting"
)

type recordingAlerts struct {
	events chan alerting.Event
}

func (r *recordingAlerts) Notify(_ context.Context, event alerting.Event) error {
	r.events <- event
	return nil
}

type fakeResolver struct {
	processed atomic.Int32
	latency   time.Duration
	fail      func(attempt int32) error
	calls     atomic.Int32
}

func (f *fakeResolver) Chat(ctx context.Context, message, account string) (*agent.Outcome, error) {
	attempt := f.calls.Add(1)
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		if err := f.fail(attempt); err != nil {
			return nil, err
		}
	}
	f.processed.Add(1)
	return &agent.Outcome{
		Intent:  intent.Intent{Action: intent.ActionGetBalance},
		State:   agent.StateInformational,
		Message: "echo: " + message,
	}, nil
}

func startProcessor(t *testing.T, resolver Executor, opts ...ProcessorOption) (*Service, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	service := NewService(store, queue, 3)
	processor := NewProcessor(resolver, store, queue, queue, opts...)
	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("processor exited: %v", err)
		}
	}()
	t.Cleanup(cancel)
	return service, cancel
}

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	resolver := &fakeResolver{latency: 5 * time.Millisecond}
	service, cancel := startProcessor(t, resolver, WithWorkerCount(8))
	ctx := context.Background()

	total := 200
	for i := 0; i < total; i++ {
		if _, err := service.Submit(ctx, ChatRequest{Message: fmt.Sprintf("msg-%d", i), UserAddress: "0xabc"}); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for int(resolver.processed.Load()) < total {
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", resolver.processed.Load())
		case <-time.After(20 * time.Millisecond):
		}
	}
	cancel()
}

func TestProcessorRetriesRetryableErrors(t *testing.T) {
	resolver := &fakeResolver{fail: func(attempt int32) error {
		if attempt < 3 {
			return xerrors.New(xerrors.CodeLedgerUnavailable, "rpc down")
		}
		return nil
	}}
	service, _ := startProcessor(t, resolver)
	ctx := context.Background()

	submitted, err := service.Submit(ctx, ChatRequest{Message: "what's my balance", UserAddress: "0xabc"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	task, err := service.WaitUntilCompleted(waitCtx, submitted.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if task.Status != StatusSucceeded || task.Attempts != 3 {
		t.Fatalf("unexpected task: %+v", task)
	}
	if task.Result == nil || task.Result.Message != "echo: what's my balance" {
		t.Fatalf("unexpected result: %+v", task.Result)
	}
}

func TestProcessorStopsOnNonRetryableError(t *testing.T) {
	resolver := &fakeResolver{fail: func(int32) error {
		return xerrors.New(xerrors.CodeMissingAccount, "User address is required")
	}}
	service, _ := startProcessor(t, resolver)
	ctx := context.Background()

	submitted, err := service.Submit(ctx, ChatRequest{Message: "stake 1 SUI"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	task, err := service.WaitUntilCompleted(waitCtx, submitted.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if task.Status != StatusFailed || task.ErrorCode != string(xerrors.CodeMissingAccount) {
		t.Fatalf("unexpected task: %+v", task)
	}
	if got := resolver.calls.Load(); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestServiceSubmitIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	service := NewService(store, queue, 0)
	ctx := context.Background()

	if _, err := service.Submit(ctx, ChatRequest{Message: "  "}); !xerrors.HasCode(err, CodeTaskValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	first, err := service.Submit(ctx, ChatRequest{ID: "fixed", Message: "hello"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := service.Submit(ctx, ChatRequest{ID: "fixed", Message: "other"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if first.ID != second.ID || second.Message != "hello" || second.MaxRetries != 3 {
		t.Fatalf("unexpected resubmit result: %+v", second)
	}
}

func TestServiceSubmitPublishFailure(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(1)
	_ = queue.Close()
	service := NewService(store, queue, 3)

	_, err := service.Submit(context.Background(), ChatRequest{ID: "x", Message: "hi"})
	if !xerrors.HasCode(err, CodeTaskPublish) {
		t.Fatalf("expected publish error, got %v", err)
	}
	task, _ := store.Get(context.Background(), "x")
	if task.Status != StatusFailed || !task.Done() {
		t.Fatalf("unexpected task after publish failure: %+v", task)
	}
}

func TestProcessorAlertsWhenRetriesExhausted(t *testing.T) {
	resolver := &fakeResolver{fail: func(int32) error {
		return xerrors.New(xerrors.CodeLedgerUnavailable, "rpc down", xerrors.WithMetadata("method", "suix_getBalance"))
	}}
	alerts := &recordingAlerts{events: make(chan alerting.Event, 4)}
	service, _ := startProcessor(t, resolver, WithAlertDispatcher(alerts))

	submitted, err := service.Submit(context.Background(), ChatRequest{Message: "balance", UserAddress: "0xabc"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case event := <-alerts.events:
		if event.TaskID != submitted.ID || event.Code != xerrors.CodeLedgerUnavailable || event.Attempts != 3 {
			t.Fatalf("unexpected alert: %+v", event)
		}
		if event.Metadata["method"] != "suix_getBalance" || event.Account != "0xabc" {
			t.Fatalf("alert lost context: %+v", event)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected an alert for exhausted task")
	}
}

func TestProcessorSkipsAlertsForUserErrors(t *testing.T) {
	resolver := &fakeResolver{fail: func(int32) error {
		return xerrors.New(xerrors.CodeMissingAccount, "User address is required")
	}}
	alerts := &recordingAlerts{events: make(chan alerting.Event, 4)}
	service, _ := startProcessor(t, resolver, WithAlertDispatcher(alerts))
	ctx := context.Background()

	submitted, err := service.Submit(ctx, ChatRequest{Message: "stake 1 SUI"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := service.WaitUntilCompleted(waitCtx, submitted.ID, 10*time.Millisecond); err != nil {
		t.Fatalf("wait: %v", err)
	}
	select {
	case event := <-alerts.events:
		t.Fatalf("unexpected alert: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}
