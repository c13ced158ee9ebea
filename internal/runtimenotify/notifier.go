// Package runtimenotify propagates revocations to the external runtime fleet
// so live connections backed by revoked sessions are torn down promptly.
package runtimenotify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Notification is the payload sent to the runtime endpoint.
type Notification struct {
	Reason     string   `json:"reason"`
	SessionIDs []string `json:"session_ids"`
	DeviceIDs  []string `json:"device_ids"`
}

// Notifier delivers a revocation notification. Best-effort; session state is
// already committed before a notifier runs, so failures never roll back a
// revocation.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// SignaturePrefix versions the notification signature scheme.
const SignaturePrefix = "v1."

// Sign computes the versioned HMAC-SHA256 signature for a notification body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// HTTPNotifier POSTs signed notifications to a single runtime endpoint.
type HTTPNotifier struct {
	url    string
	secret string
	client *http.Client
}

// NewHTTPNotifier returns a notifier for the given endpoint. Returns nil when
// no URL is configured; a nil *HTTPNotifier is safe to use.
func NewHTTPNotifier(url, secret string, timeout time.Duration) *HTTPNotifier {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPNotifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
	}
}

// Notify POSTs the JSON payload with an X-Notify-Signature header carrying the
// versioned body HMAC.
func (h *HTTPNotifier) Notify(ctx context.Context, n *Notification) error {
	if h == nil || n == nil {
		return nil
	}
	if n.SessionIDs == nil {
		n.SessionIDs = []string{}
	}
	if n.DeviceIDs == nil {
		n.DeviceIDs = []string{}
	}
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Notify-Signature", Sign(h.secret, body))
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("runtimenotify: endpoint returned %s", resp.Status)
	}
	return nil
}

// NotifyAsync runs Notify in a goroutine so revocation responses are never
// delayed by a slow runtime. The goroutine uses context.Background() so the
// request finishing does not abort delivery; errors are logged and dropped.
func NotifyAsync(n Notifier, notification *Notification) {
	if n == nil || notification == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.Notify(ctx, notification); err != nil {
			log.Printf("runtimenotify: delivery failed: %v", err)
		}
	}()
}
