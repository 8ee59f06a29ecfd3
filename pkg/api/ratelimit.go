package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Ciaran88/opencawt/pkg/ratelimit"
)

// ratelimitAgent enforces one of the configured per-agent throughput
// policies against s.RateLimits, keyed by
// agent+action so each action class gets its own bucket.
func ratelimitAgent(r *http.Request, s *Server, agentID, action string, policy ratelimit.Policy) error {
	key := agentID + ":" + action
	ok, err := s.RateLimits.Allow(r.Context(), key, policy, 1)
	if err != nil {
		return err
	}
	if !ok {
		return &Error{
			Code:        CodeRateLimited,
			Message:     fmt.Sprintf("rate limit exceeded for %s", action),
			RetryAfterS: 60,
		}
	}
	return nil
}

// writeRateLimitErr writes the stable-code envelope for a
// ratelimitAgent failure, falling back to a plain 500 when err didn't
// come from ratelimitAgent itself (a genuine backend failure talking
// to s.RateLimits, e.g. Redis being unreachable).
func writeRateLimitErr(w http.ResponseWriter, err error) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		WriteTooManyRequests(w, apiErr.Code, apiErr.RetryAfterS)
		return
	}
	WriteInternal(w, "", err)
}

// checkSoftDailyCaseCap enforces the service-wide day-granularity case
// filing cap independently of any one agent's own quota: every filed
// case draws from one shared bucket keyed "global:create_case", sized
// so it refills to the full cap once every 24h. In "warn" mode a
// breach is only logged; in "enforce" mode the caller is rejected with
// CodeSoftCapExceeded and the configured cap in the error details, so
// a client can read the number it's bumping against.
func (s *Server) checkSoftDailyCaseCap(r *http.Request) error {
	dailyCap := s.Config.SoftDailyCaseCap
	if dailyCap <= 0 {
		return nil
	}
	policy := ratelimit.Policy{RPM: (dailyCap + 1439) / 1440, Burst: dailyCap}
	ok, err := s.SoftCapLimiter.Allow(r.Context(), "global:create_case", policy, 1)
	if err != nil {
		s.Logger.Error("soft cap limiter backend failed, allowing request", "error", err)
		return nil
	}
	if ok {
		return nil
	}
	if s.Config.SoftCapMode != "enforce" {
		s.Logger.Warn("service-wide soft daily case cap exceeded", "cap", dailyCap, "mode", s.Config.SoftCapMode)
		return nil
	}
	return &Error{
		Code:    CodeSoftCapExceeded,
		Message: "the service-wide daily case filing cap has been reached",
		Details: map[string]any{"cap": dailyCap},
	}
}
