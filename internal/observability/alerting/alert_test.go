package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "AgentHub/internal/errors"
)

type countingNotifier struct {
	channel Channel
	count   int
	err     error
}

func (n *countingNotifier) Channel() Channel { return n.channel }

func (n *countingNotifier) Notify(context.Context, Event) error {
	n.count++
	return n.err
}

func TestFanoutDispatchesAndJoinsErrors(t *testing.T) {
	ok := &countingNotifier{channel: "a"}
	broken := &countingNotifier{channel: "b", err: errors.New("down")}
	d := NewFanout(ok, broken, nil)

	err := d.Notify(context.Background(), Event{Code: "X", Severity: xerrors.SeverityCritical})
	if err == nil || !strings.Contains(err.Error(), "channel b") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if ok.count != 1 || broken.count != 1 {
		t.Fatalf("every notifier should be called once")
	}

	d.WithMinimumSeverity(xerrors.SeverityCritical)
	_ = d.Notify(context.Background(), Event{Severity: xerrors.SeverityWarning})
	if ok.count != 1 {
		t.Fatalf("events below the minimum severity should be dropped")
	}

	var nilDispatcher *FanoutDispatcher
	if err := nilDispatcher.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil dispatcher should be a no-op")
	}
}

func TestLogNotifierWritesRecord(t *testing.T) {
	var buf bytes.Buffer
	n := &LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	err := n.Notify(context.Background(), Event{
		Code:     xerrors.CodeIterationBudget,
		Message:  "out of steps",
		Severity: xerrors.SeverityCritical,
		TaskID:   "t1",
		Metadata: map[string]string{"stage": "terminal"},
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	out := buf.String()
	for _, fragment := range []string{`"level":"ERROR"`, "out of steps", `"task_id":"t1"`, `"stage":"terminal"`} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("log output missing %s: %s", fragment, out)
		}
	}
}

func TestWebhookNotifier(t *testing.T) {
	var received Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		if received.TaskID == "fail" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := &WebhookNotifier{URL: server.URL, Client: server.Client()}
	if err := n.Notify(context.Background(), Event{Code: "X", TaskID: "t1", OccurredAt: time.Now()}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received.TaskID != "t1" || received.Code != "X" {
		t.Fatalf("unexpected payload %+v", received)
	}
	if err := n.Notify(context.Background(), Event{TaskID: "fail"}); err == nil {
		t.Fatalf("expected error for non-2xx response")
	}
	if err := (&WebhookNotifier{}).Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("unconfigured webhook should be skipped, got %v", err)
	}
}
