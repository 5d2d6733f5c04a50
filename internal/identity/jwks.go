package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"nexus-api/internal/shared"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var ErrJWKSUnavailable = errors.New("jwks unavailable")

// JWKSURL picks the key set location, preferring an explicit URL over the
// issuer's well-known path.
func JWKSURL(jwksURL, issuerURL string) string {
	if jwksURL != "" {
		return jwksURL
	}
	if issuerURL == "" {
		return ""
	}
	return strings.TrimSuffix(issuerURL, "/") + "/.well-known/jwks.json"
}

// JWKSVerifier verifies RS256 session tokens against a remote key set.
// The key set is fetched on first use and refreshed in the background by
// keyfunc. Only one fetch runs at a time; calls made while it is running, or
// shortly after it failed, report ErrJWKSUnavailable without waiting.
type JWKSVerifier struct {
	url string
	log *zap.SugaredLogger

	mu          sync.Mutex
	kf          keyfunc.Keyfunc
	loading     chan struct{}
	loadErr     error
	nextAttempt time.Time
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewJWKSVerifier(url string, log *zap.SugaredLogger) *JWKSVerifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &JWKSVerifier{url: url, log: log, ctx: ctx, cancel: cancel}
}

func (v *JWKSVerifier) keyfunc(ctx context.Context) (keyfunc.Keyfunc, error) {
	v.mu.Lock()
	if v.kf != nil {
		kf := v.kf
		v.mu.Unlock()
		return kf, nil
	}
	if v.ctx.Err() != nil {
		v.mu.Unlock()
		return nil, errors.Join(ErrJWKSUnavailable, v.ctx.Err())
	}
	if v.loading != nil {
		v.mu.Unlock()
		return nil, errors.Join(ErrJWKSUnavailable, errors.New("key set still loading"))
	}
	if time.Now().Before(v.nextAttempt) {
		err := v.loadErr
		v.mu.Unlock()
		return nil, errors.Join(ErrJWKSUnavailable, err)
	}
	done := make(chan struct{})
	v.loading = done
	v.mu.Unlock()

	go v.load(done)

	// The caller that started the fetch waits for it, bounded by the init timeout
	initCtx, cancel := context.WithTimeout(ctx, shared.JWKSInitTimeout)
	defer cancel()
	select {
	case <-done:
	case <-initCtx.Done():
		return nil, errors.Join(ErrJWKSUnavailable, initCtx.Err())
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.kf == nil {
		return nil, errors.Join(ErrJWKSUnavailable, v.loadErr)
	}
	return v.kf, nil
}

func (v *JWKSVerifier) load(done chan struct{}) {
	defer close(done)
	kf, err := keyfunc.NewDefaultOverrideCtx(v.ctx, []string{v.url}, keyfunc.Override{
		Client:      &http.Client{Timeout: shared.JWKSInitTimeout},
		HTTPTimeout: shared.JWKSInitTimeout,
	})

	v.mu.Lock()
	defer v.mu.Unlock()
	v.loading = nil
	if err != nil {
		v.loadErr = err
		v.nextAttempt = time.Now().Add(shared.JWKSRetryInterval)
		v.log.Warnw("Failed loading JWKS", "url", v.url, "error", err)
		return
	}
	v.kf = kf
	v.loadErr = nil
	v.log.Infow("Loaded JWKS", "url", v.url)
}

func (v *JWKSVerifier) Verify(ctx context.Context, token string) (string, error) {
	kf, err := v.keyfunc(ctx)
	if err != nil {
		return "", err
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, kf.Keyfunc, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return "", fmt.Errorf("failed verifying token: %w", err)
	}
	if !parsed.Valid {
		return "", errors.New("token is not valid")
	}
	if claims.Subject == "" {
		return "", ErrMissingSubject
	}
	return claims.Subject, nil
}

// Close stops background key refreshes.
func (v *JWKSVerifier) Close() {
	v.cancel()
}
