package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

type provider struct {
	srv       *httptest.Server
	key       *rsa.PrivateKey
	jwksCalls atomic.Int32
}

func newProvider(t *testing.T) *provider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	p := &provider{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   p.srv.URL,
			"jwks_uri": p.srv.URL + "/keys",
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		p.jwksCalls.Add(1)
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key: &key.PublicKey, KeyID: "k1", Algorithm: string(jose.RS256), Use: "sig",
		}}})
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *provider) token(t *testing.T, c jwt.Claims) string {
	t.Helper()
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: p.key},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", "k1"),
	)
	require.NoError(t, err)
	raw, err := jwt.Signed(signer).Claims(c).Serialize()
	require.NoError(t, err)
	return raw
}

func (p *provider) verifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(Settings{
		Enabled:          true,
		ClientID:         "chat-api",
		OIDCDiscoveryURL: p.srv.URL + "/.well-known/openid-configuration",
		TTLSeconds:       60,
	}, p.srv.Client())
	require.NoError(t, err)
	return v
}

func validClaims(issuer string) jwt.Claims {
	return jwt.Claims{
		Issuer:   issuer,
		Subject:  "user-1",
		Audience: jwt.Audience{"api://chat-api"},
		Expiry:   jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

func TestVerifyAcceptsValidToken(t *testing.T) {
	p := newProvider(t)
	v := p.verifier(t)

	claims, err := v.Verify(context.Background(), p.token(t, validClaims(p.srv.URL)))
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)

	// keys are cached between verifications
	_, err = v.Verify(context.Background(), p.token(t, validClaims(p.srv.URL)))
	require.NoError(t, err)
	require.EqualValues(t, 1, p.jwksCalls.Load())
}

func TestVerifyRejects(t *testing.T) {
	p := newProvider(t)
	v := p.verifier(t)

	expired := validClaims(p.srv.URL)
	expired.Expiry = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	_, err := v.Verify(context.Background(), p.token(t, expired))
	ae, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusUnauthorized, ae.Status)
	require.Contains(t, ae.Message, "Expired Signature")

	wrongAud := validClaims(p.srv.URL)
	wrongAud.Audience = jwt.Audience{"api://other"}
	_, err = v.Verify(context.Background(), p.token(t, wrongAud))
	require.ErrorContains(t, err, "Any claim is invalid")

	_, err = v.Verify(context.Background(), "not-a-jwt")
	require.ErrorContains(t, err, "Signature is invalid")
}

func TestMiddleware(t *testing.T) {
	p := newProvider(t)
	var status int
	onError := func(w http.ResponseWriter, r *http.Request, err error) {
		ae, ok := AsError(err)
		require.True(t, ok)
		status = ae.Status
		w.WriteHeader(ae.Status)
	}
	h := Middleware(p.verifier(t), onError)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rest/chat/conversations", nil))
	require.Equal(t, http.StatusUnauthorized, status)

	req := httptest.NewRequest(http.MethodPost, "/rest/chat/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+p.token(t, validClaims(p.srv.URL)))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// disabled security passes everything through
	rec = httptest.NewRecorder()
	Middleware(nil, onError)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestConfig(t *testing.T) {
	require.Equal(t, Config{}, Settings{ClientID: "x"}.Config())

	c := Settings{Enabled: true, FrontendClientID: "spa", Authority: "https://login.example.org"}.Config()
	require.True(t, c.Enabled)
	require.Equal(t, "spa", *c.ClientID)
	require.Nil(t, c.Logout)
}
