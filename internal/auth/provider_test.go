package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

const (
	testClientID = "test-client-id"
	testKeyID    = "test-key"
)

// testIssuer はディスカバリとJWKSを提供するテスト用OIDC issuer。
type testIssuer struct {
	server *httptest.Server
	key    *rsa.PrivateKey
}

func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	ti := &testIssuer{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                ti.server.URL,
			"authorization_endpoint":                ti.server.URL + "/dialog/oauth",
			"jwks_uri":                              ti.server.URL + "/.well-known/oauth/openid/jwks/",
			"response_types_supported":              []string{"id_token", "token id_token"},
			"subject_types_supported":               []string{"pairwise"},
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/.well-known/oauth/openid/jwks/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{
			Keys: []jose.JSONWebKey{{
				Key:       &key.PublicKey,
				KeyID:     testKeyID,
				Algorithm: string(jose.RS256),
				Use:       "sig",
			}},
		})
	})
	ti.server = httptest.NewServer(mux)
	t.Cleanup(ti.server.Close)

	return ti
}

// idTokenClaims はテスト用id_tokenのクレーム。
type idTokenClaims struct {
	jwt.Claims
	Nonce string `json:"nonce,omitempty"`
	Email string `json:"email,omitempty"`
}

func (ti *testIssuer) defaultClaims(nonce string) idTokenClaims {
	now := time.Now()
	return idTokenClaims{
		Claims: jwt.Claims{
			Issuer:   ti.server.URL,
			Subject:  "abc",
			Audience: jwt.Audience{testClientID},
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Nonce: nonce,
		Email: "a@b.com",
	}
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, claims idTokenClaims) string {
	t.Helper()
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", testKeyID),
	)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	raw, err := jwt.Signed(signer).Claims(claims).CompactSerialize()
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return raw
}

func newTestProvider(t *testing.T, ti *testIssuer) *OIDCProvider {
	t.Helper()
	p, err := NewOIDCProvider(context.Background(), OIDCProviderConfig{
		Name:        "facebook",
		Issuer:      ti.server.URL,
		ClientID:    testClientID,
		RedirectURL: "https://app.example.com/callback",
		HTTPClient:  ti.server.Client(),
	})
	if err != nil {
		t.Fatalf("NewOIDCProvider returned error: %v", err)
	}
	return p
}

func TestNewOIDCProvider_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  OIDCProviderConfig
	}{
		{name: "missing name", cfg: OIDCProviderConfig{Issuer: "https://www.facebook.com", ClientID: "id"}},
		{name: "missing client id", cfg: OIDCProviderConfig{Name: "facebook", Issuer: "https://www.facebook.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewOIDCProvider(context.Background(), tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewOIDCProvider_DiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewOIDCProvider(context.Background(), OIDCProviderConfig{
		Name:       "facebook",
		Issuer:     srv.URL,
		ClientID:   testClientID,
		HTTPClient: srv.Client(),
	})
	if err == nil {
		t.Fatal("expected discovery error")
	}
}

func TestOIDCProvider_AuthorizationURL(t *testing.T) {
	ti := newTestIssuer(t)
	p := newTestProvider(t, ti)

	raw := p.AuthorizationURL(AuthorizationRequest{State: "state-1", Nonce: "nonce-1"})

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse URL: %v", err)
	}
	if got := u.Scheme + "://" + u.Host + u.Path; got != ti.server.URL+"/dialog/oauth" {
		t.Errorf("unexpected authorization endpoint: %s", got)
	}

	want := map[string]string{
		"client_id":     testClientID,
		"redirect_uri":  "https://app.example.com/callback",
		"response_type": "id_token",
		"response_mode": "fragment",
		"scope":         "openid",
		"state":         "state-1",
		"nonce":         "nonce-1",
	}
	q := u.Query()
	for key, value := range want {
		if got := q.Get(key); got != value {
			t.Errorf("expected %s=%q, got %q", key, value, got)
		}
	}
}

func TestOIDCProvider_Verify_Success(t *testing.T) {
	ti := newTestIssuer(t)
	p := newTestProvider(t, ti)

	raw := signIDToken(t, ti.key, ti.defaultClaims("nonce-1"))

	claims, err := p.Verify(context.Background(), raw, "nonce-1")
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if claims.Subject != "abc" {
		t.Errorf("expected subject abc, got %q", claims.Subject)
	}
	if claims.Email != "a@b.com" {
		t.Errorf("expected email a@b.com, got %q", claims.Email)
	}
}

func TestOIDCProvider_Verify_Failures(t *testing.T) {
	ti := newTestIssuer(t)
	p := newTestProvider(t, ti)

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	tests := []struct {
		name    string
		token   func() string
		nonce   string
		wantErr error
	}{
		{
			name:    "nonce mismatch",
			token:   func() string { return signIDToken(t, ti.key, ti.defaultClaims("nonce-1")) },
			nonce:   "nonce-2",
			wantErr: ErrNonceMismatch,
		},
		{
			name:    "token without nonce",
			token:   func() string { return signIDToken(t, ti.key, ti.defaultClaims("")) },
			nonce:   "nonce-1",
			wantErr: ErrNonceMismatch,
		},
		{
			name:    "signed by unknown key",
			token:   func() string { return signIDToken(t, otherKey, ti.defaultClaims("nonce-1")) },
			nonce:   "nonce-1",
			wantErr: ErrTokenVerification,
		},
		{
			name: "wrong audience",
			token: func() string {
				c := ti.defaultClaims("nonce-1")
				c.Audience = jwt.Audience{"another-client"}
				return signIDToken(t, ti.key, c)
			},
			nonce:   "nonce-1",
			wantErr: ErrTokenVerification,
		},
		{
			name: "wrong issuer",
			token: func() string {
				c := ti.defaultClaims("nonce-1")
				c.Issuer = "https://evil.example.com"
				return signIDToken(t, ti.key, c)
			},
			nonce:   "nonce-1",
			wantErr: ErrTokenVerification,
		},
		{
			name: "expired",
			token: func() string {
				c := ti.defaultClaims("nonce-1")
				c.IssuedAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Hour))
				c.Expiry = jwt.NewNumericDate(time.Now().Add(-time.Hour))
				return signIDToken(t, ti.key, c)
			},
			nonce:   "nonce-1",
			wantErr: ErrTokenVerification,
		},
		{
			name:    "malformed",
			token:   func() string { return "not-a-jwt" },
			nonce:   "nonce-1",
			wantErr: ErrTokenVerification,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Verify(context.Background(), tt.token(), tt.nonce)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
