package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xhttp "riskpilot/pkg/http"
	"riskpilot/pkg/logger"
)

func TestWebhookJobPostsAlert(t *testing.T) {
	var got webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("unmarshal webhook body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	job := NewWebhookJob(xhttp.NewClient(), srv.URL, logger.Nop())

	alert := Alert{
		Severity:  SeverityWarning,
		Title:     "liquidation distance",
		Message:   "BTCUSDT at 3.1%",
		Count:     3,
		FirstSeen: time.Now().UTC(),
		LastSeen:  time.Now().UTC(),
	}
	raw, err := json.Marshal(alert)
	if err != nil {
		t.Fatalf("marshal alert: %v", err)
	}

	// The queue hands payloads to jobs as raw JSON.
	if err := job.Handle(context.Background(), json.RawMessage(raw)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if got.Source != "riskpilot" {
		t.Fatalf("source = %q", got.Source)
	}
	if got.Severity != SeverityWarning || got.Title != "liquidation distance" {
		t.Fatalf("unexpected alert fields: %+v", got)
	}
	if got.Text != "BTCUSDT at 3.1% (x3)" {
		t.Fatalf("text = %q, want count suffix", got.Text)
	}
	if got.Count != 3 {
		t.Fatalf("count = %d, want 3", got.Count)
	}
}

func TestWebhookJobSingleAlertKeepsPlainText(t *testing.T) {
	var got webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	job := NewWebhookJob(xhttp.NewClient(), srv.URL, logger.Nop())
	err := job.Handle(context.Background(), Alert{
		Severity: SeverityCritical,
		Title:    "margin level",
		Message:  "ratio 1.05 below cut",
		Count:    1,
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if got.Text != "ratio 1.05 below cut" {
		t.Fatalf("text = %q", got.Text)
	}
}

func TestWebhookJobPropagatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	job := NewWebhookJob(xhttp.NewClient(), srv.URL, logger.Nop())
	err := job.Handle(context.Background(), Alert{Severity: SeverityWarning, Title: "t", Message: "m", Count: 1})
	if err == nil {
		t.Fatal("expected delivery error")
	}
}

func TestWebhookJobRejectsBadPayload(t *testing.T) {
	job := NewWebhookJob(xhttp.NewClient(), "http://unused.local", logger.Nop())
	if err := job.Handle(context.Background(), 42); err == nil {
		t.Fatal("expected payload error")
	}
}
