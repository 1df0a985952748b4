package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"epochvault/crypto"
)

type contextKey string

const contextKeyCaller contextKey = "vault_caller"

var errAuthDisabled = errors.New("bearer authentication not configured")

// AuthOptions configures HMAC bearer token verification.
type AuthOptions struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Authenticator verifies HS256 bearer tokens. The token subject is the
// caller's address and becomes the signer of the requested operation.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewAuthenticator returns an authenticator, or nil when no secret is
// configured. A nil authenticator rejects every protected request.
func NewAuthenticator(opts AuthOptions) *Authenticator {
	secret := strings.TrimSpace(opts.Secret)
	if secret == "" {
		return nil
	}
	return &Authenticator{
		secret:   []byte(secret),
		issuer:   strings.TrimSpace(opts.Issuer),
		audience: strings.TrimSpace(opts.Audience),
		leeway:   opts.Leeway,
		now:      time.Now,
	}
}

// Verify parses token and returns the caller address in its subject.
func (a *Authenticator) Verify(token string) (crypto.Address, error) {
	if a == nil {
		return crypto.Address{}, errAuthDisabled
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return a.now() }),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	if a.leeway > 0 {
		opts = append(opts, jwt.WithLeeway(a.leeway))
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return crypto.Address{}, err
	}
	if !parsed.Valid {
		return crypto.Address{}, errors.New("token validation failed")
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return crypto.Address{}, errors.New("token subject missing")
	}
	caller, err := crypto.DecodeAddress(subject)
	if err != nil {
		return crypto.Address{}, errors.New("token subject is not an address")
	}
	return caller, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller on the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			writeError(w, http.StatusServiceUnavailable, "auth_disabled", errAuthDisabled.Error())
			return
		}
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		scheme, token, found := strings.Cut(authz, " ")
		if authz == "" || !found || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
			return
		}
		caller, err := a.Verify(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid authorization token")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyCaller, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerFromContext returns the address attached by the auth middleware.
func CallerFromContext(ctx context.Context) (crypto.Address, bool) {
	caller, ok := ctx.Value(contextKeyCaller).(crypto.Address)
	if !ok || caller.IsZero() {
		return crypto.Address{}, false
	}
	return caller, true
}

// IssueToken signs a bearer token for subject. The CLI and tests share the
// daemon's secret to mint their own tokens; the secret is operator-only since
// any holder can sign for any subject.
func IssueToken(opts AuthOptions, subject crypto.Address, ttl time.Duration) (string, error) {
	secret := strings.TrimSpace(opts.Secret)
	if secret == "" {
		return "", errAuthDisabled
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject.String(),
		Issuer:    strings.TrimSpace(opts.Issuer),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if aud := strings.TrimSpace(opts.Audience); aud != "" {
		claims.Audience = jwt.ClaimStrings{aud}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
