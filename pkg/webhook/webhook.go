// Package webhook drives outbound HMAC-signed deliveries (agent
// notifyUrl pings, defence invites, post-seal notifications) against
// the webhook_outbox polling table, the same queued-and-swept shape
// pkg/seal uses for mint jobs.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Ciaran88/opencawt/pkg/ids"
	"github.com/Ciaran88/opencawt/pkg/retry"
	"github.com/Ciaran88/opencawt/pkg/store"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body,
// computed with the deployment's signing key.
const SignatureHeader = "X-OpenCawt-Signature"

// Kinds of outbound delivery (store.WebhookOutboxEntry.Kind).
const (
	KindAgentNotify   = "agent_notify"
	KindDefenceInvite = "defence_invite"
	KindCaseSealed    = "case_sealed"
)

// Dispatcher enqueues and drives webhook deliveries.
type Dispatcher struct {
	Store      *store.Store
	HTTPClient *http.Client
	SigningKey []byte
	Policy     retry.BackoffPolicy
	Now        func() time.Time
}

// NewDispatcher builds a Dispatcher with the default bounded-retry
// policy: 6 attempts, 2s base, capped at 10 minutes, matching the seal
// pipeline's shape but with a longer ceiling since webhook targets are
// third-party agent endpoints outside this deployment's control.
func NewDispatcher(s *store.Store, signingKey []byte) *Dispatcher {
	return &Dispatcher{
		Store:      s,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		SigningKey: signingKey,
		Policy: retry.BackoffPolicy{
			PolicyID:    "webhook-delivery",
			BaseMs:      2000,
			MaxMs:       600000,
			MaxJitterMs: 5000,
			MaxAttempts: 6,
		},
		Now: time.Now,
	}
}

// Enqueue schedules one delivery for immediate (or delayed) dispatch.
func (d *Dispatcher) Enqueue(ctx context.Context, kind, targetURL string, body []byte) (*store.WebhookOutboxEntry, error) {
	now := d.Now()
	e := &store.WebhookOutboxEntry{
		ID:          ids.New(),
		TargetURL:   targetURL,
		Kind:        kind,
		Body:        body,
		Status:      store.WebhookPending,
		ScheduledAt: now,
		CreatedAt:   now,
	}
	if err := d.Store.Q().EnqueueWebhook(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// sign computes the hex HMAC-SHA256 of the raw JSON body under the
// per-deployment signing key.
func (d *Dispatcher) sign(body []byte) string {
	mac := hmac.New(sha256.New, d.SigningKey)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// DeliverOne POSTs one outbox entry and records the result on it,
// returning only a store error: a 2xx response marks the entry done; anything else bumps
// the attempt counter and reschedules (or fails it once attempts are
// exhausted).
func (d *Dispatcher) DeliverOne(ctx context.Context, e *store.WebhookOutboxEntry) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.TargetURL, bytes.NewReader(e.Body))
	if err != nil {
		return d.retryOrFail(ctx, e, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, d.sign(e.Body))

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return d.retryOrFail(ctx, e, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return d.Store.Q().MarkWebhookDone(ctx, e.ID)
	}
	return d.retryOrFail(ctx, e, fmt.Sprintf("delivery returned status %d", resp.StatusCode))
}

func (d *Dispatcher) retryOrFail(ctx context.Context, e *store.WebhookOutboxEntry, lastError string) error {
	exhausted := e.Attempts+1 >= d.Policy.MaxAttempts
	next := d.Now()
	if !exhausted {
		params := retry.BackoffParams{Component: "webhook", OperationID: e.ID, AttemptIndex: e.Attempts, SeedHash: e.Kind}
		delay := retry.ComputeBackoff(params, d.Policy)
		next = next.Add(delay)
	}
	return d.Store.Q().MarkWebhookRetry(ctx, e.ID, next.UTC().Format(time.RFC3339Nano), lastError, exhausted)
}

// SweepPending drives every due delivery once, returning how many
// were attempted. Intended to run on a short interval from its own
// background loop.
func (d *Dispatcher) SweepPending(ctx context.Context, limit int) (int, error) {
	due, err := d.Store.Q().PendingWebhooks(ctx, d.Now().UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return 0, err
	}
	for _, e := range due {
		if err := d.DeliverOne(ctx, e); err != nil {
			return 0, err
		}
	}
	return len(due), nil
}
