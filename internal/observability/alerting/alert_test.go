package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "OpenMCP-Sui/internal/errors"
)

type stubNotifier struct {
	channel Channel
	err     error
	events  []Event
}

func (s *stubNotifier) Channel() Channel { return s.channel }

func (s *stubNotifier) Notify(_ context.Context, event Event) error {
	s.events = append(s.events, event)
	return s.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	first := &stubNotifier{channel: ChannelAudit}
	replaced := &stubNotifier{channel: ChannelWebhook}
	failing := &stubNotifier{channel: ChannelWebhook, err: errors.New("boom")}

	dispatcher := NewFanout(first, nil, replaced, failing)
	err := dispatcher.Notify(context.Background(), Event{Code: xerrors.CodeLedgerUnavailable, TaskID: "t-1"})
	if err == nil || !strings.Contains(err.Error(), "channel webhook") {
		t.Fatalf("expected joined channel error, got %v", err)
	}
	if len(first.events) != 1 || len(failing.events) != 1 {
		t.Fatalf("unexpected deliveries: %d %d", len(first.events), len(failing.events))
	}
	if len(replaced.events) != 0 {
		t.Fatalf("replaced notifier should not be called")
	}
	if first.events[0].OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be filled")
	}
}

func TestNilFanoutIsNoop(t *testing.T) {
	var dispatcher *FanoutDispatcher
	if err := dispatcher.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWebhookNotifierPostsPayload(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(srv.URL, time.Second)
	err := notifier.Notify(context.Background(), Event{
		Code:       xerrors.CodeLedgerUnavailable,
		Message:    "rpc down",
		Severity:   xerrors.SeverityWarning,
		TaskID:     "t-1",
		Attempts:   3,
		MaxRetries: 3,
		Metadata:   map[string]string{"method": "suix_getBalance"},
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.TaskID != "t-1" || got.Code != string(xerrors.CodeLedgerUnavailable) {
		t.Fatalf("unexpected payload: %+v", got)
	}
	want := "[warning] LEDGER_UNAVAILABLE: rpc down (任务 t-1, 重试 3/3) method=suix_getBalance"
	if got.Text != want {
		t.Fatalf("unexpected text: %q", got.Text)
	}
}

func TestWebhookNotifierReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, time.Second).Notify(context.Background(), Event{TaskID: "t-2"})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestNewWebhookNotifierRequiresURL(t *testing.T) {
	if n := NewWebhookNotifier("  ", 0); n != nil {
		t.Fatalf("expected nil notifier, got %+v", n)
	}
}

func TestShouldAlert(t *testing.T) {
	if ShouldAlert(xerrors.SeverityInfo) {
		t.Fatalf("info should not alert")
	}
	if !ShouldAlert(xerrors.SeverityWarning) || !ShouldAlert(xerrors.SeverityCritical) {
		t.Fatalf("warning and critical should alert")
	}
}
