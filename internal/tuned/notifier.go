package tuned

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/looptune/looptune/pkg/logger"
)

var (
	ErrInvalidURL       = errors.New("invalid callback url")
	ErrMetadataEndpoint = errors.New("callback url targets a metadata endpoint")
)

// NotificationPayload is the JSON body posted to a session's callback URL.
type NotificationPayload struct {
	SessionID       string         `json:"session_id"`
	Status          string         `json:"status"`
	CreatedAtUnixMs int64          `json:"created_at_unix_ms"`
	StartedAtUnixMs int64          `json:"started_at_unix_ms,omitempty"`
	EndedAtUnixMs   int64          `json:"ended_at_unix_ms,omitempty"`
	Error           string         `json:"error,omitempty"`
	Evaluated       int            `json:"evaluated"`
	Best            map[string]any `json:"best,omitempty"`
	Timestamp       int64          `json:"timestamp"`
}

// Notifier posts session completions to client callbacks.
type Notifier struct {
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewNotifier() *Notifier {
	return &Notifier{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxRetries: 3,
		baseDelay:  1 * time.Second,
		logger:     logger.Default,
	}
}

// validateCallbackURL accepts absolute http(s) URLs that do not point at
// cloud metadata services.
func validateCallbackURL(raw string) error {
	u, err := url.Parse(strings.ReplaceAll(raw, "{session_id}", "x"))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if host == "169.254.169.254" || host == "metadata.google.internal" {
		return fmt.Errorf("%w: %s", ErrMetadataEndpoint, host)
	}
	return nil
}

func newPayload(rec *SessionRecord) NotificationPayload {
	p := NotificationPayload{
		SessionID:       rec.ID,
		Status:          rec.Status.String(),
		CreatedAtUnixMs: rec.CreatedAtUnixMs,
		StartedAtUnixMs: rec.StartedAtUnixMs,
		EndedAtUnixMs:   rec.EndedAtUnixMs,
		Error:           rec.Error,
		Evaluated:       rec.Evaluated,
		Timestamp:       time.Now().UTC().UnixMilli(),
	}
	if rec.Report != nil {
		if best := rec.Report.Best(); best != nil {
			p.Best = bestJSON(best)
		}
	}
	return p
}

// Notify posts rec to its callback URL in the background.
func (n *Notifier) Notify(rec *SessionRecord) {
	target := rec.Input.CallbackURL
	if target == "" {
		return
	}
	if err := validateCallbackURL(target); err != nil {
		n.logger.Warn("Callback rejected", "session_id", rec.ID, "error", err)
		return
	}
	target = strings.ReplaceAll(target, "{session_id}", rec.ID)
	payload := newPayload(rec)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.Send(context.Background(), target, rec.Input.CallbackSecret, payload); err != nil {
			n.logger.Error("Failed to send notification after retries",
				"callback_url", target,
				"session_id", payload.SessionID,
				"max_retries", n.maxRetries,
				"error", err)
		}
	}()
}

// Wait blocks until pending notifications have been delivered or given up.
func (n *Notifier) Wait() { n.wg.Wait() }

// Send posts payload with exponential backoff between attempts.
func (n *Notifier) Send(ctx context.Context, callbackURL, secret string, payload NotificationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			delay := n.baseDelay * time.Duration(1<<uint(attempt-1))
			n.logger.Debug("Retrying notification",
				"callback_url", callbackURL,
				"session_id", payload.SessionID,
				"attempt", attempt,
				"delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "looptune/1.0")
		if secret != "" {
			req.Header.Set("X-Looptune-Callback-Secret", secret)
		}

		resp, err := n.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			n.logger.Warn("Notification attempt failed",
				"session_id", payload.SessionID,
				"attempt", attempt+1,
				"error", err)
			continue
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			n.logger.Info("Notification sent",
				"session_id", payload.SessionID,
				"status", payload.Status,
				"status_code", resp.StatusCode)
			return nil
		}
		lastErr = fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		n.logger.Warn("Notification returned non-2xx status",
			"session_id", payload.SessionID,
			"status_code", resp.StatusCode,
			"response_body", string(respBody),
			"attempt", attempt+1)
	}
	return lastErr
}
