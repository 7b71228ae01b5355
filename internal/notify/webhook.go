package notify

import (
	"context"
	"fmt"
	"time"

	xhttp "riskpilot/pkg/http"
	"riskpilot/pkg/logger"
	"riskpilot/pkg/queue"
)

// webhookBody is the JSON document posted to the configured webhook.
type webhookBody struct {
	Source    string    `json:"source"`
	Severity  string    `json:"severity"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	SentAt    time.Time `json:"sent_at"`
}

// WebhookJob delivers queued alerts to an HTTP endpoint. Delivery errors
// surface to the queue, which retries and eventually dead-letters.
type WebhookJob struct {
	client *xhttp.Client
	url    string
	logger *logger.Logger
}

// NewWebhookJob creates the job. Register it with the queue before Start.
func NewWebhookJob(client *xhttp.Client, url string, lgr *logger.Logger) *WebhookJob {
	return &WebhookJob{
		client: client,
		url:    url,
		logger: lgr,
	}
}

func (j *WebhookJob) Name() string { return "alert-webhook" }

func (j *WebhookJob) Type() string { return alertJobType }

func (j *WebhookJob) Handle(ctx context.Context, payload any) error {
	alert, err := queue.ParsePayload[Alert](payload)
	if err != nil {
		return fmt.Errorf("parse alert payload: %w", err)
	}

	text := alert.Message
	if alert.Count > 1 {
		text = fmt.Sprintf("%s (x%d)", alert.Message, alert.Count)
	}
	body := webhookBody{
		Source:    "riskpilot",
		Severity:  alert.Severity,
		Title:     alert.Title,
		Text:      text,
		Count:     alert.Count,
		FirstSeen: alert.FirstSeen,
		SentAt:    time.Now().UTC(),
	}

	if err := j.client.PostJSON(ctx, j.url, body); err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}

	j.logger.Debug("alert delivered",
		logger.String("title", alert.Title),
		logger.String("severity", alert.Severity))
	return nil
}
