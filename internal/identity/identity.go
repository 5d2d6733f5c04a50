// Package identity turns an Authorization header into a stable caller id.
//
// Tokens are verified against the issuer's JWKS. When verification is not
// possible the raw token is hashed into a pseudo identity so quota stays
// attached to the same caller while verification is degraded.
package identity

import (
	"context"
	"encoding/hex"
	"errors"

	"nexus-api/internal/metrics"
	"nexus-api/internal/shared"

	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
)

type Source string

const (
	SourceAnonymous Source = "anonymous"
	SourceVerified  Source = "verified"
	SourceFallback  Source = "fallback"
)

const (
	pseudoPrefix = "tok_"
	pseudoHexLen = 24
)

var (
	ErrNoVerifier     = errors.New("no token verifier configured")
	ErrMissingSubject = errors.New("token has no subject claim")
)

type Caller struct {
	ID     string
	Source Source
}

// Anonymous reports whether no credential was presented.
func (c Caller) Anonymous() bool {
	return c.Source == SourceAnonymous
}

// MeterID is the key used for quota accounting.
func (c Caller) MeterID() string {
	if c.ID == "" {
		return shared.AnonymousCallerID
	}
	return c.ID
}

// Verifier checks a bearer token and returns its subject.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

type Resolver struct {
	verifier Verifier
	log      *zap.SugaredLogger
}

// NewResolver accepts a nil verifier, in which case every token resolves to
// its pseudo identity.
func NewResolver(verifier Verifier, log *zap.SugaredLogger) *Resolver {
	return &Resolver{verifier: verifier, log: log}
}

func (r *Resolver) Resolve(ctx context.Context, authorization string) Caller {
	token, err := shared.ParseBearer(authorization)
	if err != nil {
		return Caller{Source: SourceAnonymous}
	}

	sub, err := r.verify(ctx, token)
	if err == nil {
		return Caller{ID: sub, Source: SourceVerified}
	}

	reason := "invalid_token"
	switch {
	case errors.Is(err, ErrNoVerifier):
		reason = "no_verifier"
	case errors.Is(err, ErrMissingSubject):
		reason = "missing_subject"
	case errors.Is(err, ErrJWKSUnavailable):
		reason = "jwks_unavailable"
	}
	metrics.IdentityFallbacks.WithLabelValues(reason).Inc()
	r.log.Debugw("Token verification failed, using pseudo identity", "reason", reason, "error", err)
	return Caller{ID: PseudoID(token), Source: SourceFallback}
}

func (r *Resolver) verify(ctx context.Context, token string) (string, error) {
	if r.verifier == nil {
		return "", ErrNoVerifier
	}
	sub, err := r.verifier.Verify(ctx, token)
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", ErrMissingSubject
	}
	return sub, nil
}

// PseudoID maps a raw token to a deterministic, non-secret identifier.
func PseudoID(token string) string {
	sum := sha3.Sum256([]byte(token))
	return pseudoPrefix + hex.EncodeToString(sum[:])[:pseudoHexLen]
}
