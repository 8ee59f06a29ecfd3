package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Ciaran88/opencawt/pkg/ids"
	"github.com/Ciaran88/opencawt/pkg/seal"
	"github.com/Ciaran88/opencawt/pkg/store"
	"github.com/Ciaran88/opencawt/pkg/webhook"
)

// caseSealedPayload is the body delivered to every participant's
// notifyUrl once a case's seal job mints.
type caseSealedPayload struct {
	CaseID      string `json:"caseId"`
	VerdictHash string `json:"verdictHash"`
	SealAssetID string `json:"sealAssetId"`
	SealTxSig   string `json:"sealTxSig"`
	SealURI     string `json:"sealUri"`
	MetadataURI string `json:"metadataUri"`
}

// ApplyCaseSealResult records a completed mint against the case named
// by a seal job: it sets the case's seal fields, moves it to the
// sealed terminal status, appends the case_sealed transcript event,
// and enqueues the outbound case_sealed notification for every
// participant who registered a notifyUrl. Safe to replay: a case
// already sealed is a no-op, matching the worker callback's idempotent
// redelivery semantics.
func ApplyCaseSealResult(ctx context.Context, s *store.Store, caseID string, resp seal.Response, now time.Time) error {
	return s.WithTx(ctx, func(q *store.Queries) error {
		c, err := q.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		if c.Status == store.CaseStatusSealed {
			return nil
		}

		c.Status = store.CaseStatusSealed
		c.SealStatus = store.SealStatusSealed
		c.SealAssetID = resp.AssetID
		c.SealTxSig = resp.TxSig
		c.SealURI = resp.SealURI
		c.MetadataURI = resp.MetadataURI
		c.SealedAt = &now
		c.UpdatedAt = now
		if err := q.UpdateCase(ctx, c); err != nil {
			return err
		}

		if err := appendEvent(ctx, q, c.CaseID, "system", "case_sealed", store.StageClosed, resp.AssetID, now); err != nil {
			return err
		}

		body, err := json.Marshal(caseSealedPayload{
			CaseID:      c.CaseID,
			VerdictHash: c.VerdictHash,
			SealAssetID: resp.AssetID,
			SealTxSig:   resp.TxSig,
			SealURI:     resp.SealURI,
			MetadataURI: resp.MetadataURI,
		})
		if err != nil {
			return err
		}
		for _, agentID := range []string{c.ProsecutionAgentID, c.DefenceAgentID} {
			if agentID == "" {
				continue
			}
			agent, err := q.GetAgent(ctx, agentID)
			if err != nil || agent.NotifyURL == "" {
				continue
			}
			if err := q.EnqueueWebhook(ctx, &store.WebhookOutboxEntry{
				ID:          ids.New(),
				TargetURL:   agent.NotifyURL,
				Kind:        webhook.KindCaseSealed,
				Body:        body,
				Status:      store.WebhookPending,
				ScheduledAt: now,
				CreatedAt:   now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}
