package api

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Ciaran88/opencawt/pkg/store"
)

// capabilityClaims is the JWT claim set carried by a minted capability
// token: the owning agent as subject, the granted scope, and the usual
// issued-at/expiry pair. Only the token hash is ever stored, so the
// JWT itself is the single bearer credential.
type capabilityClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// capabilityKey is the HMAC signing key for capability JWTs. The
// system API key doubles as the signing secret so a deployment needs
// only one operator-provisioned secret; the dev fallback keeps lite
// mode bootable with zero configuration.
func (s *Server) capabilityKey() []byte {
	if s.Config != nil && s.Config.SystemAPIKey != "" {
		return []byte(s.Config.SystemAPIKey)
	}
	return []byte("opencawt-dev-capability-key")
}

// mintCapabilityToken signs a capability JWT for agentID and returns
// the compact token plus its sha256 hash (the storage key).
func (s *Server) mintCapabilityToken(agentID, scope, jti string, issuedAt time.Time, expiresAt *time.Time) (token string, tokenHash string, err error) {
	claims := capabilityClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       jti,
			Subject:  agentID,
			Issuer:   "opencawt",
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
	}
	if expiresAt != nil {
		claims.ExpiresAt = jwt.NewNumericDate(*expiresAt)
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.capabilityKey())
	if err != nil {
		return "", "", err
	}
	sum := sha256.Sum256([]byte(token))
	return token, hex.EncodeToString(sum[:]), nil
}

var errCapabilityInvalid = errors.New("api: capability token invalid")

// capabilityFromBearer validates the Authorization: Bearer token on a
// request: the JWT signature and expiry first, then the stored row —
// a token whose hash has been revoked is dead even if the JWT itself
// is still within its validity window.
func (s *Server) capabilityFromBearer(r *http.Request) (*store.AgentCapability, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, errCapabilityInvalid
	}

	var claims capabilityClaims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errCapabilityInvalid
		}
		return s.capabilityKey(), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.Now))
	if err != nil || !parsed.Valid {
		return nil, errCapabilityInvalid
	}

	sum := sha256.Sum256([]byte(raw))
	cap, err := s.Store.Q().GetAgentCapability(r.Context(), hex.EncodeToString(sum[:]))
	if err != nil {
		return nil, errCapabilityInvalid
	}
	if !cap.Active(s.Now()) || cap.AgentID != claims.Subject {
		return nil, errCapabilityInvalid
	}
	return cap, nil
}
