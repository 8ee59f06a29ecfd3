package seal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Ciaran88/opencawt/pkg/crypto"
)

// StubWorker synthesises a deterministic mint result without talking
// to any chain, for sealWorkerMode=="stub" deployments (local dev and
// tests).
type StubWorker struct{}

func (StubWorker) Mint(_ context.Context, req Request) (Response, error) {
	seed := req.PayloadHash
	if seed == "" {
		seed = req.CaseID + req.ProposalID
	}
	assetID := crypto.HashBytesHex([]byte("asset:" + seed))[:32]
	txSig := crypto.HashBytesHex([]byte("tx:" + seed))[:44]
	return Response{
		AssetID:     assetID,
		TxSig:       txSig,
		SealURI:     "stub://seal/" + assetID,
		MetadataURI: "stub://metadata/" + assetID,
	}, nil
}

// HTTPWorker posts the mint request to an external minting service
// (sealWorkerMode=="http"), authenticated with a bearer worker token.
type HTTPWorker struct {
	Endpoint    string
	WorkerToken string
	HTTP        *http.Client
}

func NewHTTPWorker(endpoint, workerToken string) *HTTPWorker {
	return &HTTPWorker{Endpoint: endpoint, WorkerToken: workerToken, HTTP: &http.Client{Timeout: 30 * time.Second}}
}

func (w *HTTPWorker) Mint(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+w.WorkerToken)

	resp, err := w.HTTP.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("seal worker returned status %d", resp.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("seal worker response decode failed: %w", err)
	}
	return out, nil
}
