package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// WebhookNotifier posts notifications as JSON to a single HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

type webhookPayload struct {
	Type       EventKind `json:"type"`
	AssetID    string    `json:"asset_id"`
	ProjectID  string    `json:"project_id,omitempty"`
	StageOrder int       `json:"stage_order,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

// NotifyReviewers posts a reviewers_pending message.
func (n *WebhookNotifier) NotifyReviewers(ctx context.Context, stageOrder int, projectID, assetID string) error {
	return n.post(ctx, webhookPayload{
		Type:       EventReviewersPending,
		AssetID:    assetID,
		ProjectID:  projectID,
		StageOrder: stageOrder,
	})
}

// NotifyOwner posts an owner_pending message.
func (n *WebhookNotifier) NotifyOwner(ctx context.Context, assetID string) error {
	return n.post(ctx, webhookPayload{Type: EventOwnerPending, AssetID: assetID})
}

func (n *WebhookNotifier) post(ctx context.Context, payload webhookPayload) error {
	payload.SentAt = time.Now().UTC()
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook rejected notification: status code %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier writes notifications to the log. It is used when no delivery
// channel is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a new LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyReviewers(ctx context.Context, stageOrder int, projectID, assetID string) error {
	n.logger.InfoContext(ctx, "review pending", "asset_id", assetID, "project_id", projectID, "stage_order", stageOrder)
	return nil
}

func (n *LogNotifier) NotifyOwner(ctx context.Context, assetID string) error {
	n.logger.InfoContext(ctx, "final approval pending", "asset_id", assetID)
	return nil
}
