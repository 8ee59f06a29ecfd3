// Package seal drives the at-most-once mint pipeline for closed cases
// and sealed agreements. The claim primitive is the conditional
// queued/failed→minting UPDATE already implemented in
// pkg/store/sealjobs.go, so this package owns only orchestration:
// enqueueing, driving a worker round, and the retry sweep.
package seal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ciaran88/opencawt/pkg/ids"
	"github.com/Ciaran88/opencawt/pkg/retry"
	"github.com/Ciaran88/opencawt/pkg/store"
)

// Request is the canonical payload handed to the worker for minting.
type Request struct {
	CaseID      string `json:"caseId,omitempty"`
	ProposalID  string `json:"proposalId,omitempty"`
	PayloadHash string `json:"payloadHash"`
	Metadata    any    `json:"metadata"`
}

// Response is what a worker returns on completion.
type Response struct {
	AssetID     string `json:"assetId"`
	TxSig       string `json:"txSig"`
	SealURI     string `json:"sealUri"`
	MetadataURI string `json:"metadataUri"`
}

// Worker performs the actual mint for a claimed job. The HTTP driver
// (sealWorkerMode=="http") and the stub driver both satisfy this.
type Worker interface {
	Mint(ctx context.Context, req Request) (Response, error)
}

// Pipeline owns enqueue/claim/finalize/retry against the store.
type Pipeline struct {
	Store  *store.Store
	Worker Worker
	Policy retry.BackoffPolicy
	Now    func() time.Time

	// OnMinted runs once a job's mint succeeds and its terminal state
	// is durably recorded, letting the case and agreement domains
	// apply the result onto their own rows without this package
	// needing to know about either. Left nil, minting still completes;
	// the caller is responsible for wiring a hook that dispatches on
	// job.CaseID/job.ProposalID.
	OnMinted func(ctx context.Context, job *store.SealJob, resp Response) error
}

// NewPipeline builds a pipeline with the default retry policy used for
// seal-job minting attempts.
func NewPipeline(s *store.Store, w Worker) *Pipeline {
	return &Pipeline{
		Store:  s,
		Worker: w,
		Policy: retry.BackoffPolicy{
			PolicyID:    "seal-job-mint",
			BaseMs:      500,
			MaxMs:       60000,
			MaxJitterMs: 1000,
			MaxAttempts: 8,
		},
		Now: time.Now,
	}
}

// EnqueueForCase creates exactly one seal job per case id; the
// unique constraint on case_id enforces at-most-one.
func (p *Pipeline) EnqueueForCase(ctx context.Context, caseID, payloadHash string, metadata any) (*store.SealJob, error) {
	payload, err := json.Marshal(Request{CaseID: caseID, PayloadHash: payloadHash, Metadata: metadata})
	if err != nil {
		return nil, err
	}
	job := &store.SealJob{
		JobID:       ids.New(),
		CaseID:      caseID,
		Status:      store.SealJobQueued,
		PayloadHash: payloadHash,
		RequestJSON: payload,
		CreatedAt:   p.Now(),
	}
	if err := p.Store.Q().CreateSealJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// EnqueueForAgreement creates exactly one seal job per agreement
// proposal id.
func (p *Pipeline) EnqueueForAgreement(ctx context.Context, proposalID, payloadHash string, metadata any) (*store.SealJob, error) {
	payload, err := json.Marshal(Request{ProposalID: proposalID, PayloadHash: payloadHash, Metadata: metadata})
	if err != nil {
		return nil, err
	}
	job := &store.SealJob{
		JobID:       ids.New(),
		ProposalID:  proposalID,
		Status:      store.SealJobQueued,
		PayloadHash: payloadHash,
		RequestJSON: payload,
		CreatedAt:   p.Now(),
	}
	if err := p.Store.Q().CreateSealJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// ErrAlreadyFinalised is returned by Drive when a job's terminal
// state is replayed; the caller treats this as a successful no-op,
// mirroring the worker callback's idempotent redelivery handling.
var ErrAlreadyFinalised = fmt.Errorf("seal: job already finalised")

// Drive claims one queued/failed job and runs it to completion against
// the configured Worker. Claiming is the conditional UPDATE in
// pkg/store: only one concurrent caller observes claimed==true.
func (p *Pipeline) Drive(ctx context.Context, jobID string) error {
	job, err := p.Store.Q().GetSealJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == store.SealJobMinted {
		return ErrAlreadyFinalised
	}

	claimed, err := p.Store.Q().ClaimSealJob(ctx, jobID, p.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	var req Request
	if err := json.Unmarshal(job.RequestJSON, &req); err != nil {
		return p.fail(ctx, jobID, fmt.Sprintf("%smalformed request payload: %v", store.NonRetryablePrefix, err))
	}

	resp, mintErr := p.Worker.Mint(ctx, req)
	if mintErr != nil {
		return p.fail(ctx, jobID, mintErr.Error())
	}

	respJSON, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if err := p.Store.Q().FinalizeSealJob(ctx, jobID, store.SealJobMinted, "", respJSON, p.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	if p.OnMinted != nil {
		job.Status = store.SealJobMinted
		return p.OnMinted(ctx, job, resp)
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, jobID, lastError string) error {
	return p.Store.Q().FinalizeSealJob(ctx, jobID, store.SealJobFailed, lastError, nil, p.Now().UTC().Format(time.RFC3339Nano))
}

// SweepRetryable drives, in turn, every queued or failed job whose
// backoff window has elapsed and whose retry budget remains. Jobs marked
// with the store.NonRetryablePrefix error are skipped permanently by
// ListRetryableSealJobs itself.
func (p *Pipeline) SweepRetryable(ctx context.Context) (int, error) {
	cutoff := p.Now().Add(-time.Duration(p.Policy.BaseMs) * time.Millisecond).UTC().Format(time.RFC3339Nano)
	jobs, err := p.Store.Q().ListRetryableSealJobs(ctx, cutoff, p.Policy.MaxAttempts)
	if err != nil {
		return 0, err
	}

	driven := 0
	for _, j := range jobs {
		params := retry.BackoffParams{Component: "seal", OperationID: j.JobID, AttemptIndex: j.Attempts, SeedHash: j.PayloadHash}
		delay := retry.ComputeBackoff(params, p.Policy)
		if j.ClaimedAt != nil && p.Now().Sub(*j.ClaimedAt) < delay {
			continue
		}
		if err := p.Drive(ctx, j.JobID); err != nil && err != ErrAlreadyFinalised {
			return driven, err
		}
		driven++
	}
	return driven, nil
}
