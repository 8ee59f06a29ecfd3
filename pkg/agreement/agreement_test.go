package agreement

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ciaran88/opencawt/pkg/crypto"
	"github.com/Ciaran88/opencawt/pkg/ids"
	"github.com/Ciaran88/opencawt/pkg/seal"
	"github.com/Ciaran88/opencawt/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type party struct {
	agentID string
	signer  *crypto.Ed25519Signer
}

func newParty(t *testing.T) party {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return party{
		agentID: crypto.EncodeAgentID(pub),
		signer:  crypto.NewEd25519SignerFromKey(priv, "test"),
	}
}

func attest(t *testing.T, p party, proposalID, termsHash, agreementCode, partyA, partyB, expiresISO string) string {
	t.Helper()
	sig, err := crypto.SignAgreementAttestation(p.signer, proposalID, termsHash, agreementCode, partyA, partyB, expiresISO)
	require.NoError(t, err)
	return sig
}

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	s := newTestStore(t)
	svc := NewService(s, seal.NewPipeline(s, seal.StubWorker{}))
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return now }
	svc.Seal.Now = svc.Now
	return svc, s
}

func TestService_ProposeAcceptVerifyRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	a, b := newParty(t), newParty(t)

	terms := map[string]any{"amount": 100, "currency": "USD"}
	termsHash, err := crypto.CanonicalHashHex(terms)
	require.NoError(t, err)

	proposalID := ids.New()
	agreementCode := ids.NewPublicCode(proposalID)
	expiresAt := svc.Now().Add(24 * time.Hour)
	expiresISO := expiresAt.UTC().Format(time.RFC3339Nano)

	sigA := attest(t, a, proposalID, termsHash, agreementCode, a.agentID, b.agentID, expiresISO)

	agreed, err := svc.Propose(context.Background(), ProposeRequest{
		ProposalID:    proposalID,
		Mode:          store.AgreementPrivate,
		PartyAAgentID: a.agentID,
		PartyBAgentID: b.agentID,
		Terms:         terms,
		SigA:          sigA,
		ExpiresAt:     expiresAt,
	})
	require.NoError(t, err)
	require.Equal(t, store.AgreementPending, agreed.Status)
	require.Equal(t, agreementCode, agreed.AgreementCode)

	sigB := attest(t, b, proposalID, termsHash, agreementCode, a.agentID, b.agentID, expiresISO)
	accepted, job, err := svc.Accept(context.Background(), proposalID, sigB)
	require.NoError(t, err)
	require.Equal(t, store.AgreementAccepted, accepted.Status)
	require.Equal(t, store.SealJobQueued, job.Status)

	require.NoError(t, svc.ApplySealResult(context.Background(), proposalID, seal.Response{
		AssetID: "asset-1", TxSig: "tx-1", SealURI: "seal://1", MetadataURI: "meta://1",
	}))

	result, err := svc.Verify(context.Background(), proposalID)
	require.NoError(t, err)
	require.True(t, result.TermsHashValid)
	require.True(t, result.SigAValid)
	require.True(t, result.SigBValid)
	require.True(t, result.OverallValid)
	require.Empty(t, result.Reason)

	byCode, err := svc.Verify(context.Background(), agreementCode)
	require.NoError(t, err)
	require.True(t, byCode.OverallValid)
}

func TestService_ProposeRejectsBadSignature(t *testing.T) {
	svc, _ := newTestService(t)
	a, b := newParty(t), newParty(t)
	impostor := newParty(t)

	terms := map[string]any{"amount": 1}
	termsHash, err := crypto.CanonicalHashHex(terms)
	require.NoError(t, err)

	proposalID := ids.New()
	agreementCode := ids.NewPublicCode(proposalID)
	expiresAt := svc.Now().Add(24 * time.Hour)
	expiresISO := expiresAt.UTC().Format(time.RFC3339Nano)

	badSig := attest(t, impostor, proposalID, termsHash, agreementCode, a.agentID, b.agentID, expiresISO)

	_, err = svc.Propose(context.Background(), ProposeRequest{
		ProposalID:    proposalID,
		PartyAAgentID: a.agentID,
		PartyBAgentID: b.agentID,
		Terms:         terms,
		SigA:          badSig,
		ExpiresAt:     expiresAt,
	})
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestService_VerifyDetectsTamperedTerms(t *testing.T) {
	svc, s := newTestService(t)
	a, b := newParty(t), newParty(t)

	terms := map[string]any{"amount": 100}
	termsHash, err := crypto.CanonicalHashHex(terms)
	require.NoError(t, err)

	proposalID := ids.New()
	agreementCode := ids.NewPublicCode(proposalID)
	expiresAt := svc.Now().Add(24 * time.Hour)
	expiresISO := expiresAt.UTC().Format(time.RFC3339Nano)
	sigA := attest(t, a, proposalID, termsHash, agreementCode, a.agentID, b.agentID, expiresISO)

	_, err = svc.Propose(context.Background(), ProposeRequest{
		ProposalID:    proposalID,
		PartyAAgentID: a.agentID,
		PartyBAgentID: b.agentID,
		Terms:         terms,
		SigA:          sigA,
		ExpiresAt:     expiresAt,
	})
	require.NoError(t, err)

	// canonical_terms is immutable post-propose; tamper the row
	// directly to simulate corruption for the hash-mismatch path.
	_, err = s.DB.Exec(`UPDATE agreements SET canonical_terms = $1 WHERE proposal_id = $2`, `{"amount":999}`, proposalID)
	require.NoError(t, err)

	result, err := svc.Verify(context.Background(), proposalID)
	require.NoError(t, err)
	require.False(t, result.TermsHashValid)
	require.False(t, result.OverallValid)
	require.NotEmpty(t, result.Reason)
}

func TestService_AcceptRejectsWrongSigner(t *testing.T) {
	svc, _ := newTestService(t)
	a, b := newParty(t), newParty(t)
	impostor := newParty(t)

	terms := map[string]any{"amount": 5}
	termsHash, err := crypto.CanonicalHashHex(terms)
	require.NoError(t, err)
	proposalID := ids.New()
	agreementCode := ids.NewPublicCode(proposalID)
	expiresAt := svc.Now().Add(24 * time.Hour)
	expiresISO := expiresAt.UTC().Format(time.RFC3339Nano)
	sigA := attest(t, a, proposalID, termsHash, agreementCode, a.agentID, b.agentID, expiresISO)

	_, err = svc.Propose(context.Background(), ProposeRequest{
		ProposalID:    proposalID,
		PartyAAgentID: a.agentID,
		PartyBAgentID: b.agentID,
		Terms:         terms,
		SigA:          sigA,
		ExpiresAt:     expiresAt,
	})
	require.NoError(t, err)

	wrongSigB := attest(t, impostor, proposalID, termsHash, agreementCode, a.agentID, b.agentID, expiresISO)
	_, _, err = svc.Accept(context.Background(), proposalID, wrongSigB)
	require.ErrorIs(t, err, ErrSignatureInvalid)
}
