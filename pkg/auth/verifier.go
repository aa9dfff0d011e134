package auth

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var allowedAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
}

// Error carries the HTTP status an authentication failure maps to.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

func unauthorized(msg string) *Error { return &Error{Status: http.StatusUnauthorized, Message: msg} }

func AsError(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Verifier validates bearer JWTs against the keys published by an OIDC provider.
type Verifier struct {
	discoveryURL string
	audience     string
	ttl          time.Duration
	http         *http.Client
	now          func() time.Time

	mu        sync.Mutex
	keys      *jose.JSONWebKeySet
	issuer    string
	fetchedAt time.Time
}

func NewVerifier(s Settings, hc *http.Client) (*Verifier, error) {
	if strings.TrimSpace(s.OIDCDiscoveryURL) == "" {
		return nil, errors.New("auth: oidc discovery url is required when security is enabled")
	}
	if strings.TrimSpace(s.ClientID) == "" {
		return nil, errors.New("auth: client id is required when security is enabled")
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	ttl := time.Duration(s.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Verifier{
		discoveryURL: s.OIDCDiscoveryURL,
		audience:     "api://" + s.ClientID,
		ttl:          ttl,
		http:         hc,
		now:          time.Now,
	}, nil
}

// Verify checks signature, issuer, audience and expiry of token.
func (v *Verifier) Verify(ctx context.Context, token string) (*jwt.Claims, error) {
	keys, issuer, err := v.keySet(ctx)
	if err != nil {
		return nil, err
	}
	tok, err := jwt.ParseSigned(token, allowedAlgorithms)
	if err != nil {
		return nil, unauthorized("Signature is invalid: " + err.Error())
	}
	var claims jwt.Claims
	if err := tok.Claims(keys, &claims); err != nil {
		return nil, unauthorized("Signature is invalid: " + err.Error())
	}
	err = claims.ValidateWithLeeway(jwt.Expected{
		Issuer:      issuer,
		AnyAudience: jwt.Audience{v.audience},
		Time:        v.now(),
	}, 0)
	switch {
	case err == nil:
		return &claims, nil
	case stderrors.Is(err, jwt.ErrExpired):
		return nil, unauthorized("Expired Signature: " + err.Error())
	default:
		return nil, unauthorized("Any claim is invalid in any way: " + err.Error())
	}
}

func (v *Verifier) keySet(ctx context.Context) (*jose.JSONWebKeySet, string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.keys != nil && v.now().Sub(v.fetchedAt) < v.ttl {
		return v.keys, v.issuer, nil
	}

	var discovery struct {
		JWKSURI string `json:"jwks_uri"`
		Issuer  string `json:"issuer"`
	}
	if err := v.getJSON(ctx, v.discoveryURL, &discovery); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("url", v.discoveryURL).Msg("Failed to fetch OpenID Configuration")
		return nil, "", errors.Wrap(err, "auth: fetch OpenID configuration")
	}
	if discovery.JWKSURI == "" {
		return nil, "", errors.New("auth: jwks_uri not found in the OpenID Configuration")
	}
	if discovery.Issuer == "" {
		return nil, "", errors.New("auth: issuer not found in the OpenID Configuration")
	}
	var keys jose.JSONWebKeySet
	if err := v.getJSON(ctx, discovery.JWKSURI, &keys); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("url", discovery.JWKSURI).Msg("Failed to get issuer keys")
		return nil, "", errors.Wrap(err, "auth: fetch issuer keys")
	}
	v.keys, v.issuer, v.fetchedAt = &keys, discovery.Issuer, v.now()
	return v.keys, v.issuer, nil
}

func (v *Verifier) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Middleware rejects requests without a valid bearer token. A nil verifier lets every request
// through, which is how a disabled security section is wired.
func Middleware(v *Verifier, onError func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if v == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				onError(w, r, unauthorized("Not authenticated"))
				return
			}
			claims, err := v.Verify(r.Context(), token)
			if err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("rejected bearer token")
				onError(w, r, err)
				return
			}
			logger := zerolog.Ctx(r.Context()).With().Str("subject", claims.Subject).Logger()
			next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
		})
	}
}

func bearer(h string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
