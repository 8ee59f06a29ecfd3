package auth

import (
	"context"
	"errors"
)

// Agent is the authenticated caller behind a signed mutation: the
// agent id (a base58-encoded Ed25519 public key) and the raw public
// key used to verify the request signature.
type Agent struct {
	AgentID   string
	PublicKey string // hex-encoded Ed25519 public key
}

type contextKey string

const agentKey contextKey = "agent"

// WithAgent attaches the authenticated Agent to the context.
func WithAgent(ctx context.Context, a Agent) context.Context {
	return context.WithValue(ctx, agentKey, a)
}

// GetAgent retrieves the Agent the signed-mutation pipeline verified
// for this request.
func GetAgent(ctx context.Context) (Agent, error) {
	a, ok := ctx.Value(agentKey).(Agent)
	if !ok {
		return Agent{}, errors.New("no agent in context")
	}
	return a, nil
}

// MustGetAgent panics if no agent is present; only safe to call from
// handlers mounted behind the signed-mutation middleware, which
// guarantees the value is set for every request it lets through.
func MustGetAgent(ctx context.Context) Agent {
	a, err := GetAgent(ctx)
	if err != nil {
		panic(err)
	}
	return a
}
