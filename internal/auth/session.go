// Package auth issues and verifies the signed session cookie.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"cointraq/internal/core"
)

const (
	CookieName = "cointraq_session"
	issuer     = "cointraq"
)

type sessionClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email,omitempty"`
	Upstream string `json:"upstream,omitempty"`
}

// Sessions signs HS256 tokens carrying a Principal.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

type Option func(*Sessions)

func WithClock(now func() time.Time) Option {
	return func(s *Sessions) { s.now = now }
}

// WithSecureCookie sets the Secure attribute on issued cookies.
func WithSecureCookie(secure bool) Option {
	return func(s *Sessions) { s.secure = secure }
}

func NewSessions(secret string, ttl time.Duration, opts ...Option) (*Sessions, error) {
	if len(secret) < 32 {
		return nil, errors.New("session secret must be at least 32 characters")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %s", ttl)
	}
	s := &Sessions{secret: []byte(secret), ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue returns a signed token for p and its expiry.
func (s *Sessions) Issue(p core.Principal) (string, time.Time, error) {
	if p.Anonymous() {
		return "", time.Time{}, core.ErrUnauthorized
	}
	now := s.now().UTC()
	exp := now.Add(s.ttl)
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Email:    p.Email,
		Upstream: p.UpstreamSession,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return token, exp, nil
}

// Parse verifies a token and returns its principal. Every failure wraps
// core.ErrUnauthorized.
func (s *Sessions) Parse(token string) (core.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return core.Principal{}, core.ErrUnauthorized
	}
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return core.Principal{}, fmt.Errorf("%w: %s", core.ErrUnauthorized, mapJWTError(err))
	}
	if claims.Subject == "" {
		return core.Principal{}, fmt.Errorf("%w: session has no subject", core.ErrUnauthorized)
	}
	return core.Principal{
		UserID:          claims.Subject,
		Email:           claims.Email,
		UpstreamSession: claims.Upstream,
	}, nil
}

func mapJWTError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "session expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "session signature is invalid"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "session alg is invalid"
	}
	return "session is invalid"
}

// SetCookie issues a session for p and writes it as an HttpOnly cookie.
func (s *Sessions) SetCookie(w http.ResponseWriter, p core.Principal) error {
	token, exp, err := s.Issue(p)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// ClearCookie expires the session cookie.
func (s *Sessions) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// FromRequest reads and verifies the session cookie.
func (s *Sessions) FromRequest(r *http.Request) (core.Principal, error) {
	ck, err := r.Cookie(CookieName)
	if err != nil {
		return core.Principal{}, core.ErrUnauthorized
	}
	return s.Parse(ck.Value)
}

type contextKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p core.Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFrom returns the principal attached by WithPrincipal, if any.
func PrincipalFrom(ctx context.Context) (core.Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(core.Principal)
	return p, ok && !p.Anonymous()
}
