package actions

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"remedyd/internal/config"
	"remedyd/pkg/models"
)

// WebhookRunner implements the notify action by POSTing the trigger payload
// to a webhook. The target URL comes from the action's "url" parameter,
// falling back to the configured default.
type WebhookRunner struct {
	client     *http.Client
	defaultURL string
	log        *slog.Logger
}

type webhookPayload struct {
	RuleExpression string            `json:"rule_expression"`
	Fields         map[string]string `json:"fields,omitempty"`
	ObservedAt     time.Time         `json:"observed_at"`
	Message        string            `json:"message,omitempty"`
}

// NewWebhookRunner constructs the notify runner from the notify configuration.
func NewWebhookRunner(cfg config.NotifyConfig, log *slog.Logger) *WebhookRunner {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.SkipTLSVerify}, // #nosec G402
	}
	return &WebhookRunner{
		client:     &http.Client{Timeout: timeout, Transport: transport},
		defaultURL: cfg.WebhookURL,
		log:        log.With("component", "webhook_runner"),
	}
}

// Run posts the trigger payload to the webhook target.
func (r *WebhookRunner) Run(ctx context.Context, spec models.ActionSpec, trigger models.TriggerData) (Result, error) {
	url := spec.Params["url"]
	if url == "" {
		url = r.defaultURL
	}
	if url == "" {
		return Result{}, fmt.Errorf("notify action requires a url parameter or a configured default webhook")
	}

	payload := webhookPayload{
		RuleExpression: trigger.Expression,
		Fields:         trigger.Fields,
		ObservedAt:     trigger.ObservedAt,
		Message:        spec.Params["message"],
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return Result{Output: fmt.Sprintf("webhook %s returned %d", url, resp.StatusCode)}, nil
}
