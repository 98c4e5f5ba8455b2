package retry

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

	"github.com/hornet-soc/hornet/pkg/models"
)

// Signature header carried on every outbound webhook delivery.
const (
	SignatureHeader = "X-HORNET-Signature"
	DeliveryHeader  = "X-HORNET-Delivery"
	EventHeader     = "X-HORNET-Event"
)

// JobTypeWebhook is the retry job type handled by WebhookDeliverer.
const JobTypeWebhook = "webhook_delivery"

// WebhookDeliverer posts job payloads to tenant-registered endpoints,
// signing each body so receivers can authenticate the sender.
type WebhookDeliverer struct {
	client *http.Client
	secret []byte
}

// NewWebhookDeliverer creates a deliverer signing with secret.
func NewWebhookDeliverer(secret string) *WebhookDeliverer {
	return &WebhookDeliverer{
		client: &http.Client{Timeout: 25 * time.Second},
		secret: []byte(secret),
	}
}

// Handler adapts the deliverer to the processor's handler contract.
func (w *WebhookDeliverer) Handler() Handler {
	return w.Deliver
}

// Deliver posts the job payload to job.Target. Any non-2xx response is a
// failed attempt.
func (w *WebhookDeliverer) Deliver(ctx context.Context, job *models.RetryJob) error {
	body, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.Target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, SignBody(w.secret, body))
	req.Header.Set(DeliveryHeader, job.ID)
	req.Header.Set(EventHeader, job.JobType)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// SignBody computes the signature header value for a request body.
func SignBody(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyBody checks a received signature header against the body in
// constant time. Receivers use this to authenticate deliveries.
func VerifyBody(secret, body []byte, header string) bool {
	if !strings.HasPrefix(header, "sha256=") {
		return false
	}
	return hmac.Equal([]byte(SignBody(secret, body)), []byte(header))
}
