// Package webhook posts relayed patches to outgoing webhook endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
)

// SignatureHeader carries the HMAC-SHA256 of the body when a secret is set.
const SignatureHeader = "X-Plangrid-Signature"

// Endpoint is one webhook target. Ops filters by patch op; empty means all.
type Endpoint struct {
	Name       string
	URL        string
	Secret     string
	Ops        []string
	MaxRetries int
	RetryDelay time.Duration
}

// Notifier sends outgoing webhook notifications for relayed patches.
type Notifier struct {
	endpoints  []Endpoint
	client     *http.Client
	deadLetter *DeadLetterStore
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewNotifier creates a notifier with the given endpoints and dead letter store.
func NewNotifier(endpoints []Endpoint, deadLetter *DeadLetterStore, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		endpoints: endpoints,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		deadLetter: deadLetter,
		logger:     logger,
	}
}

// Payload is the JSON body sent to webhook endpoints.
type Payload struct {
	Op        patch.Op        `json:"op"`
	Project   string          `json:"project"`
	User      string          `json:"user,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Patch     json.RawMessage `json:"patch"`
}

// Notify sends a patch to all matching endpoints without blocking.
func (n *Notifier) Notify(ctx context.Context, p patch.Patch) {
	wire, err := patch.Encode(p)
	if err != nil {
		n.logger.Warn("webhook: cannot encode patch", "op", p.Op(), "error", err)
		return
	}
	body, err := json.Marshal(Payload{
		Op:        p.Op(),
		Project:   p.Project,
		User:      p.User,
		Timestamp: time.Now().UTC(),
		Patch:     wire,
	})
	if err != nil {
		return
	}

	for _, ep := range n.endpoints {
		if len(ep.Ops) > 0 && !slices.Contains(ep.Ops, string(p.Op())) {
			continue
		}
		n.wg.Add(1)
		go func(ep Endpoint) {
			defer n.wg.Done()
			n.deliver(context.WithoutCancel(ctx), ep, p, body)
		}(ep)
	}
}

// Wait blocks until in-flight deliveries finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) deliver(ctx context.Context, ep Endpoint, p patch.Patch, body []byte) {
	maxRetries := ep.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := ep.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	retryer := retry.New[struct{}](retry.Config{
		MaxAttempts:   maxRetries,
		InitialDelay:  retryDelay,
		BackoffPolicy: retry.BackoffExponential,
	})
	_, err := retryer.Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, n.send(ctx, ep, body)
	})
	if err == nil {
		return
	}

	n.logger.Warn("webhook delivery failed", "webhook", ep.Name, "project", p.Project, "op", p.Op(), "error", err)
	if n.deadLetter != nil {
		dl := DeadLetter{
			Timestamp:   time.Now().UTC(),
			Project:     p.Project,
			WebhookName: ep.Name,
			URL:         ep.URL,
			Op:          string(p.Op()),
			Payload:     string(body),
			Error:       err.Error(),
			Attempts:    maxRetries,
		}
		if err := n.deadLetter.Append(dl); err != nil {
			n.logger.Error("webhook: dead letter write failed", "error", err)
		}
	}
}

func (n *Notifier) send(ctx context.Context, ep Endpoint, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Plangrid-Webhook/1.0")

	if ep.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, ep.Secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// Sign computes the HMAC-SHA256 of the payload using the secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
