package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cointraq/internal/core"
)

const secret = "0123456789abcdef0123456789abcdef"

func clockAt(t time.Time) Option {
	return WithClock(func() time.Time { return t })
}

func TestNewSessionsValidates(t *testing.T) {
	if _, err := NewSessions("short", time.Hour); err == nil {
		t.Fatalf("expected error for short secret")
	}
	if _, err := NewSessions(secret, 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

func TestIssueAndParse(t *testing.T) {
	s, err := NewSessions(secret, time.Hour)
	if err != nil {
		t.Fatalf("new sessions: %v", err)
	}
	want := core.Principal{UserID: "u-1", Email: "ada@example.com", UpstreamSession: "token=abc"}
	token, exp, err := s.Issue(want)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expiry in the past: %v", exp)
	}
	got, err := s.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	if _, _, err := s.Issue(core.Principal{}); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("anonymous principals must not get a session, got %v", err)
	}
}

func TestParseRejects(t *testing.T) {
	issuedAt := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s, _ := NewSessions(secret, time.Hour, clockAt(issuedAt))
	token, _, err := s.Issue(core.Principal{UserID: "u-1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	later, _ := NewSessions(secret, time.Hour, clockAt(issuedAt.Add(2*time.Hour)))
	other, _ := NewSessions(strings.Repeat("x", 32), time.Hour, clockAt(issuedAt))

	cases := map[string]struct {
		s     *Sessions
		token string
	}{
		"expired":       {later, token},
		"wrong secret":  {other, token},
		"garbage":       {s, "not.a.jwt"},
		"empty":         {s, ""},
		"tampered body": {s, tamper(token)},
	}
	for name, tc := range cases {
		if _, err := tc.s.Parse(tc.token); !errors.Is(err, core.ErrUnauthorized) {
			t.Fatalf("%s: expected ErrUnauthorized, got %v", name, err)
		}
	}
}

func tamper(token string) string {
	parts := strings.Split(token, ".")
	parts[1] = strings.ToUpper(parts[1])
	return strings.Join(parts, ".")
}

func TestCookieRoundTrip(t *testing.T) {
	s, _ := NewSessions(secret, time.Hour, WithSecureCookie(true))
	rec := httptest.NewRecorder()
	if err := s.SetCookie(rec, core.Principal{UserID: "u-1"}); err != nil {
		t.Fatalf("set cookie: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || !cookies[0].HttpOnly || !cookies[0].Secure {
		t.Fatalf("unexpected cookies %+v", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	p, err := s.FromRequest(req)
	if err != nil || p.UserID != "u-1" {
		t.Fatalf("from request: %+v %v", p, err)
	}

	if _, err := s.FromRequest(httptest.NewRequest(http.MethodGet, "/", nil)); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected unauthorized without cookie, got %v", err)
	}

	rec = httptest.NewRecorder()
	s.ClearCookie(rec)
	if c := rec.Result().Cookies(); len(c) != 1 || c[0].MaxAge >= 0 {
		t.Fatalf("expected expiring cookie, got %+v", c)
	}
}

func TestPrincipalContext(t *testing.T) {
	if _, ok := PrincipalFrom(context.Background()); ok {
		t.Fatalf("empty context must have no principal")
	}
	ctx := WithPrincipal(context.Background(), core.Principal{UserID: "u-1"})
	if p, ok := PrincipalFrom(ctx); !ok || p.UserID != "u-1" {
		t.Fatalf("unexpected principal %+v %v", p, ok)
	}
}
