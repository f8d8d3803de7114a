// Package webhook delivers lifecycle events as signed HTTP POSTs.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/events"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/log"
)

// Sender posts events to one webhook URL.
type Sender struct {
	httpClient *http.Client
	url        string
	signingKey string
	maxRetries int
}

// NewSender creates a sender for url. Requests are signed when signingKey is
// non-empty.
func NewSender(url, signingKey string) *Sender {
	client := &http.Client{Timeout: 10 * time.Second}
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return fmt.Errorf("too many redirects")
		}
		return nil
	}
	return &Sender{
		httpClient: client,
		url:        url,
		signingKey: signingKey,
		maxRetries: 4, // total attempts (initial + 3 retries)
	}
}

// SendResult contains the result of sending a webhook.
type SendResult struct {
	Success    bool
	Attempts   int
	StatusCode int
	Error      string
}

// Name implements events.Sink.
func (s *Sender) Name() string { return "webhook" }

// Publish implements events.Sink.
func (s *Sender) Publish(ctx context.Context, e *events.Event) error {
	result := s.Send(ctx, e)
	if !result.Success {
		return errors.New(result.Error)
	}
	return nil
}

// Send posts e with retries.
func (s *Sender) Send(ctx context.Context, e *events.Event) *SendResult {
	body, err := json.Marshal(e)
	if err != nil {
		return &SendResult{Error: fmt.Sprintf("marshal event: %v", err)}
	}
	return s.sendWithRetries(ctx, e, body)
}

func (s *Sender) sendWithRetries(ctx context.Context, e *events.Event, body []byte) *SendResult {
	result := &SendResult{}
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		result.Attempts = attempt

		if delay := retryDelay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				result.Error = "context canceled"
				return result
			case <-time.After(delay):
			}
		}

		statusCode, err := s.sendOnce(ctx, e.ID, body)
		result.StatusCode = statusCode

		if err == nil && statusCode >= 200 && statusCode < 300 {
			result.Success = true
			result.Error = ""
			log.Debug("webhook sent",
				zap.String("event_id", e.ID),
				zap.String("event_type", string(e.Type)),
				zap.Int("attempt", attempt),
			)
			return result
		}

		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		} else {
			errMsg = fmt.Sprintf("HTTP %d", statusCode)
		}

		log.Warn("webhook delivery failed",
			zap.String("event_id", e.ID),
			zap.String("event_type", string(e.Type)),
			zap.Int("attempt", attempt),
			zap.String("error", errMsg),
		)

		result.Error = errMsg
	}

	return result
}

func retryDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := time.Second * time.Duration(1<<(attempt-2))
	if delay > 10*time.Second {
		return 10 * time.Second
	}
	return delay
}

func (s *Sender) sendOnce(ctx context.Context, eventID string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", eventID)
	if s.signingKey != "" {
		timestamp := time.Now().Unix()
		req.Header.Set("X-Timestamp", fmt.Sprintf("%d", timestamp))
		req.Header.Set("X-Signature-256", "sha256="+s.sign(timestamp, body))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

// sign returns HMAC-SHA256(key, "{timestamp}.{body}") in hex.
func (s *Sender) sign(timestamp int64, body []byte) string {
	message := fmt.Sprintf("%d.%s", timestamp, string(body))
	mac := hmac.New(sha256.New, []byte(s.signingKey))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by Sender. Timestamps more
// than five minutes away from now are rejected.
func VerifySignature(signingKey, signature string, timestamp int64, body []byte) bool {
	now := time.Now().Unix()
	if abs(now-timestamp) > 300 {
		return false
	}

	message := fmt.Sprintf("%d.%s", timestamp, string(body))
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(message))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
