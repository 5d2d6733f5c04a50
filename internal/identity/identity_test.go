package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nexus-api/internal/shared"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type fakeVerifier struct {
	sub   string
	err   error
	calls int
}

func (f *fakeVerifier) Verify(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.sub, f.err
}

func TestResolveAnonymous(t *testing.T) {
	v := &fakeVerifier{sub: "user_1"}
	r := NewResolver(v, zap.NewNop().Sugar())
	for _, header := range []string{"", "Basic abc", "Bearer ", "bearer tok"} {
		c := r.Resolve(context.Background(), header)
		if !c.Anonymous() || c.ID != "" {
			t.Fatalf("header %q: expected anonymous caller, got %+v", header, c)
		}
		if c.MeterID() != "anonymous" {
			t.Fatalf("anonymous meter id = %q", c.MeterID())
		}
	}
	if v.calls != 0 {
		t.Fatalf("verifier must not be called without a bearer token, calls=%d", v.calls)
	}
}

func TestResolveVerified(t *testing.T) {
	r := NewResolver(&fakeVerifier{sub: "user_42"}, zap.NewNop().Sugar())
	c := r.Resolve(context.Background(), "Bearer good.token")
	if c.Source != SourceVerified || c.ID != "user_42" {
		t.Fatalf("unexpected caller: %+v", c)
	}
}

func TestResolveFallback(t *testing.T) {
	tests := []struct {
		name     string
		verifier Verifier
	}{
		{name: "no verifier", verifier: nil},
		{name: "verify error", verifier: &fakeVerifier{err: errors.New("bad signature")}},
		{name: "jwks down", verifier: &fakeVerifier{err: ErrJWKSUnavailable}},
		{name: "empty subject", verifier: &fakeVerifier{sub: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.verifier, zap.NewNop().Sugar())
			c := r.Resolve(context.Background(), "Bearer some-token")
			if c.Source != SourceFallback {
				t.Fatalf("expected fallback source, got %+v", c)
			}
			if c.ID != PseudoID("some-token") {
				t.Fatalf("fallback id = %q, want %q", c.ID, PseudoID("some-token"))
			}
		})
	}
}

func TestPseudoIDStableAndDistinct(t *testing.T) {
	r := NewResolver(nil, zap.NewNop().Sugar())
	// Two JWT-shaped tokens that share a long common prefix.
	a := "eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9.eyJzdWIiOiJhIn0.sigA"
	b := "eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9.eyJzdWIiOiJiIn0.sigB"

	first := r.Resolve(context.Background(), "Bearer "+a)
	for range 3 {
		again := r.Resolve(context.Background(), "Bearer "+a)
		if again.ID != first.ID {
			t.Fatalf("pseudo identity not stable: %q vs %q", again.ID, first.ID)
		}
	}
	other := r.Resolve(context.Background(), "Bearer "+b)
	if other.ID == first.ID {
		t.Fatalf("distinct tokens mapped to the same identity %q", first.ID)
	}
	if !strings.HasPrefix(first.ID, "tok_") || len(first.ID) != len("tok_")+24 {
		t.Fatalf("unexpected pseudo id shape: %q", first.ID)
	}
}

func TestJWKSURL(t *testing.T) {
	tests := []struct {
		jwks, issuer, want string
	}{
		{"https://keys.example/jwks", "https://issuer.example", "https://keys.example/jwks"},
		{"", "https://issuer.example/", "https://issuer.example/.well-known/jwks.json"},
		{"", "https://issuer.example", "https://issuer.example/.well-known/jwks.json"},
		{"", "", ""},
	}
	for _, tt := range tests {
		if got := JWKSURL(tt.jwks, tt.issuer); got != tt.want {
			t.Errorf("JWKSURL(%q, %q) = %q, want %q", tt.jwks, tt.issuer, got, tt.want)
		}
	}
}

func newJWKSServer(t *testing.T, key *rsa.PrivateKey, kid string) *httptest.Server {
	t.Helper()
	pub := key.PublicKey
	body, err := json.Marshal(map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": kid,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestJWKSVerifierRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	srv := newJWKSServer(t, key, "test-kid")
	v := NewJWKSVerifier(srv.URL, zap.NewNop().Sugar())
	defer v.Close()

	now := time.Now()
	token := signToken(t, key, "test-kid", jwt.RegisteredClaims{
		Subject:   "user_2abc",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	r := NewResolver(v, zap.NewNop().Sugar())
	c := r.Resolve(context.Background(), "Bearer "+token)
	if c.Source != SourceVerified || c.ID != "user_2abc" {
		t.Fatalf("expected verified caller, got %+v", c)
	}

	expired := signToken(t, key, "test-kid", jwt.RegisteredClaims{
		Subject:   "user_2abc",
		ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
	})
	c = r.Resolve(context.Background(), "Bearer "+expired)
	if c.Source != SourceFallback || c.ID != PseudoID(expired) {
		t.Fatalf("expired token should fall back, got %+v", c)
	}

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	forged := signToken(t, otherKey, "test-kid", jwt.RegisteredClaims{
		Subject:   "user_2abc",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	c = r.Resolve(context.Background(), "Bearer "+forged)
	if c.Source != SourceFallback {
		t.Fatalf("token signed by another key should fall back, got %+v", c)
	}
}

func TestJWKSVerifierUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	url := srv.URL
	srv.Close()

	v := NewJWKSVerifier(url, zap.NewNop().Sugar())
	defer v.Close()
	r := NewResolver(v, zap.NewNop().Sugar())
	c := r.Resolve(context.Background(), "Bearer not-a-jwt")
	if c.Source != SourceFallback || c.ID != PseudoID("not-a-jwt") {
		t.Fatalf("unreachable jwks should fall back, got %+v", c)
	}
}

func TestJWKSVerifierHungEndpointDoesNotQueue(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	v := NewJWKSVerifier(srv.URL, zap.NewNop().Sugar())
	defer v.Close()
	r := NewResolver(v, zap.NewNop().Sugar())

	const callers = 3
	durations := make(chan time.Duration, callers)
	start := time.Now()
	for range callers {
		go func() {
			began := time.Now()
			c := r.Resolve(context.Background(), "Bearer tok")
			if c.Source != SourceFallback || c.ID != PseudoID("tok") {
				t.Errorf("expected fallback caller, got %+v", c)
			}
			durations <- time.Since(began)
		}()
	}

	limit := shared.JWKSInitTimeout + 2*time.Second
	for range callers {
		select {
		case d := <-durations:
			if d > limit {
				t.Fatalf("resolve took %v with a hung key set", d)
			}
		case <-time.After(2 * limit):
			t.Fatalf("resolve did not return within %v", 2*limit)
		}
	}
	if total := time.Since(start); total > limit {
		t.Fatalf("concurrent resolves were serialised: %v", total)
	}

	// a failed or pending load is not retried on every request
	began := time.Now()
	if c := r.Resolve(context.Background(), "Bearer tok"); c.Source != SourceFallback {
		t.Fatalf("expected fallback caller, got %+v", c)
	}
	if d := time.Since(began); d > time.Second {
		t.Fatalf("follow-up resolve waited %v", d)
	}
}
