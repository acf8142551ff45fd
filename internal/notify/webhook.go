package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
)

// WebhookPlatform represents a detected webhook platform
type WebhookPlatform string

const (
	PlatformGeneric WebhookPlatform = "generic"
	PlatformDiscord WebhookPlatform = "discord"
	PlatformSlack   WebhookPlatform = "slack"
)

// DetectWebhookPlatform determines the webhook platform from URL
func DetectWebhookPlatform(url string) WebhookPlatform {
	switch {
	case strings.Contains(url, "discord.com/api/webhooks") || strings.Contains(url, "discordapp.com/api/webhooks"):
		return PlatformDiscord
	case strings.Contains(url, "hooks.slack.com"):
		return PlatformSlack
	default:
		return PlatformGeneric
	}
}

// WebhookConfig configures a webhook channel
type WebhookConfig struct {
	URL        string
	Secret     string
	RetryCount int
	Timeout    time.Duration
	// Backoff is the first retry delay, doubled on every attempt up to 30s
	Backoff time.Duration
}

// WebhookDeliverer posts events to an HTTP endpoint, signing the body with
// HMAC-SHA256 when a secret is configured
type WebhookDeliverer struct {
	cfg        WebhookConfig
	platform   WebhookPlatform
	httpClient *http.Client
}

// NewWebhookDeliverer creates a new webhook channel
func NewWebhookDeliverer(cfg WebhookConfig) *WebhookDeliverer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	return &WebhookDeliverer{
		cfg:      cfg,
		platform: DetectWebhookPlatform(cfg.URL),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (w *WebhookDeliverer) Name() string { return "webhook" }

// Deliver sends the event with retry and exponential backoff
func (w *WebhookDeliverer) Deliver(ctx context.Context, event models.Event) error {
	body, err := formatPayload(w.platform, event)
	if err != nil {
		return fmt.Errorf("failed to format payload for platform %s: %w", w.platform, err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.cfg.RetryCount; attempt++ {
		if attempt > 0 {
			backoff := w.cfg.Backoff << uint(attempt-1)
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}

			debug.Log("Retrying webhook", map[string]interface{}{
				"event_id": event.ID.String(),
				"attempt":  attempt + 1,
				"backoff":  backoff.String(),
			})

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := w.sendRequest(ctx, event, body)
		if err == nil {
			return nil
		}
		lastErr = err
		debug.Warning("Webhook delivery attempt %d for event %s failed: %v", attempt+1, event.ID, err)
	}

	return fmt.Errorf("webhook delivery failed after %d attempts: %w", w.cfg.RetryCount+1, lastErr)
}

func (w *WebhookDeliverer) sendRequest(ctx context.Context, event models.Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "KrakenHashes-Coordinator/1.0")
	req.Header.Set("X-KrakenHashes-Event", string(event.Type))
	req.Header.Set("X-KrakenHashes-Delivery", event.ID.String())

	if w.cfg.Secret != "" {
		signature := ComputeSignature(body, w.cfg.Secret)
		req.Header.Set("X-Signature-256", "sha256="+signature)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// ComputeSignature computes the hex HMAC-SHA256 of the payload
func ComputeSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header value, with or without the "sha256=" prefix
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := ComputeSignature(payload, secret)
	signature = strings.TrimPrefix(signature, "sha256=")
	return hmac.Equal([]byte(expected), []byte(signature))
}

func formatPayload(platform WebhookPlatform, event models.Event) ([]byte, error) {
	switch platform {
	case PlatformDiscord:
		return json.Marshal(map[string]interface{}{"content": Summary(event)})
	case PlatformSlack:
		return json.Marshal(map[string]interface{}{"text": Summary(event)})
	default:
		return json.Marshal(event)
	}
}

// Summary renders the event as one line of text for chat platforms
func Summary(event models.Event) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[campaign %d] %s", event.CampaignID, strings.ReplaceAll(string(event.Type), "_", " "))
	if event.AttackID != nil {
		fmt.Fprintf(&sb, " attack=%d", *event.AttackID)
	}
	if event.TaskID != nil {
		fmt.Fprintf(&sb, " task=%s", event.TaskID.String())
	}
	if event.OldState != "" || event.NewState != "" {
		fmt.Fprintf(&sb, ": %s -> %s", event.OldState, event.NewState)
	}
	if reason, ok := event.Data["reason"].(string); ok && reason != "" {
		fmt.Fprintf(&sb, " (%s)", reason)
	}
	return sb.String()
}
