package agreement

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ciaran88/opencawt/pkg/ids"
	"github.com/Ciaran88/opencawt/pkg/store"
)

func TestValidateTerms(t *testing.T) {
	cases := []struct {
		name  string
		terms any
		ok    bool
	}{
		{"object with scalar values", map[string]any{"amount": 100, "currency": "USD"}, true},
		{"nested object", map[string]any{"payment": map[string]any{"amount": 5}}, true},
		{"array value", map[string]any{"milestones": []any{"m1", "m2"}}, true},
		{"empty object", map[string]any{}, false},
		{"top-level array", []any{"a", "b"}, false},
		{"top-level string", "just text", false},
		{"oversized string value", map[string]any{"blob": strings.Repeat("x", 9000)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateTerms(tc.terms)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidTerms)
			}
		})
	}
}

func TestService_ProposeRejectsInvalidTerms(t *testing.T) {
	svc, _ := newTestService(t)
	a, b := newParty(t), newParty(t)

	_, err := svc.Propose(context.Background(), ProposeRequest{
		ProposalID:    ids.New(),
		Mode:          store.AgreementPrivate,
		PartyAAgentID: a.agentID,
		PartyBAgentID: b.agentID,
		Terms:         []any{"not", "an", "object"},
		SigA:          "irrelevant",
		ExpiresAt:     svc.Now().Add(24 * time.Hour),
	})
	require.ErrorIs(t, err, ErrInvalidTerms)
}
