package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-invoice/internal/common"
)

const (
	testSecret   = "super-secret-jwt-key"
	testIssuer   = "https://project.supabase.co/auth/v1"
	testAudience = "authenticated"
	testSubject  = "6f1c2a3b-0000-4000-8000-000000000001"
)

func signToken(t *testing.T, alg jwa.SignatureAlgorithm, secret string, mutate func(*jwt.Builder) *jwt.Builder) string {
	t.Helper()
	now := time.Now()
	b := jwt.NewBuilder().
		Issuer(testIssuer).
		Audience([]string{testAudience}).
		Subject(testSubject).
		IssuedAt(now).
		Expiration(now.Add(time.Hour))
	if mutate != nil {
		b = mutate(b)
	}
	tok, err := b.Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	return signBuilt(t, alg, secret, tok)
}

func signBuilt(t *testing.T, alg jwa.SignatureAlgorithm, secret string, tok jwt.Token) string {
	t.Helper()
	signed, err := jwt.Sign(tok, jwt.WithKey(alg, []byte(secret)))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return string(signed)
}

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{Secret: testSecret, Issuer: testIssuer, Audience: testAudience, ClockSkew: 30 * time.Second})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func TestVerifierParseAccessToken(t *testing.T) {
	v := newTestVerifier(t)
	sub, err := v.ParseAccessToken(signToken(t, jwa.HS256, testSecret, nil))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sub != testSubject {
		t.Fatalf("unexpected subject %q", sub)
	}
}

func TestVerifierRejectsBadTokens(t *testing.T) {
	v := newTestVerifier(t)
	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"wrong secret": signToken(t, jwa.HS256, "other-secret", nil),
		"wrong alg":    signToken(t, jwa.HS512, testSecret, nil),
		"expired": signToken(t, jwa.HS256, testSecret, func(b *jwt.Builder) *jwt.Builder {
			return b.Expiration(time.Now().Add(-time.Hour))
		}),
		"wrong audience": signToken(t, jwa.HS256, testSecret, func(b *jwt.Builder) *jwt.Builder {
			return b.Audience([]string{"anon"})
		}),
		"wrong issuer": signToken(t, jwa.HS256, testSecret, func(b *jwt.Builder) *jwt.Builder {
			return b.Issuer("https://elsewhere")
		}),
		"not yet valid": signToken(t, jwa.HS256, testSecret, func(b *jwt.Builder) *jwt.Builder {
			return b.NotBefore(time.Now().Add(5 * time.Minute))
		}),
		"no expiry":  signBuilt(t, jwa.HS256, testSecret, mustBuild(t, jwt.NewBuilder().Subject(testSubject).Issuer(testIssuer).Audience([]string{testAudience}))),
		"no subject": signBuilt(t, jwa.HS256, testSecret, mustBuild(t, jwt.NewBuilder().Expiration(time.Now().Add(time.Hour)).Issuer(testIssuer).Audience([]string{testAudience}))),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.ParseAccessToken(token)
			if err == nil {
				t.Fatal("expected error")
			}
			if common.CodeOf(err) != common.CodeUnauthorized {
				t.Fatalf("expected UNAUTHORIZED, got %s", common.CodeOf(err))
			}
		})
	}
}

func mustBuild(t *testing.T, b *jwt.Builder) jwt.Token {
	t.Helper()
	tok, err := b.Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	return tok
}

func TestVerifierAllowsClockSkew(t *testing.T) {
	token := signToken(t, jwa.HS256, testSecret, func(b *jwt.Builder) *jwt.Builder {
		return b.Expiration(time.Now().Add(-10 * time.Second))
	})
	if _, err := newTestVerifier(t).ParseAccessToken(token); err != nil {
		t.Fatalf("expected token within skew to pass: %v", err)
	}
}

func TestVerifierUsesInjectedClock(t *testing.T) {
	token := signToken(t, jwa.HS256, testSecret, nil)
	v, err := NewVerifier(Config{Secret: testSecret, Now: func() time.Time { return time.Now().Add(2 * time.Hour) }})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if _, err := v.ParseAccessToken(token); err == nil {
		t.Fatal("expected token to be expired at injected clock")
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier(Config{}); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestRequireAuth(t *testing.T) {
	mw := Middleware{Parser: newTestVerifier(t)}
	var seen string
	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = common.UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout-sessions", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwa.HS256, testSecret, nil))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if seen != testSubject {
		t.Fatalf("user id not propagated: %q", seen)
	}

	for name, header := range map[string]string{
		"missing":    "",
		"not bearer": "Basic abc",
		"invalid":    "Bearer broken",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout-sessions", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			var body common.ErrorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Code != common.CodeUnauthorized {
				t.Fatalf("unexpected code %q", body.Code)
			}
		})
	}
}
