package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/idtoken"
)

func fakeValidate(payloads map[string]*idtoken.Payload) validateFunc {
	return func(_ context.Context, token, audience string) (*idtoken.Payload, error) {
		p, ok := payloads[token]
		if !ok || p.Audience != audience {
			return nil, errors.New("idtoken: invalid token")
		}
		return p, nil
	}
}

func testPayloads() map[string]*idtoken.Payload {
	exp := time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	return map[string]*idtoken.Payload{
		"good": {
			Audience: "client-1",
			Subject:  "user-1",
			Expires:  exp,
			Claims:   map[string]any{"email": "ana@example.com", "email_verified": true, "name": "Ana"},
		},
		"outsider": {
			Audience: "client-1",
			Subject:  "user-2",
			Expires:  exp,
			Claims:   map[string]any{"email": "bob@other.org", "email_verified": true},
		},
		"unverified": {
			Audience: "client-1",
			Subject:  "user-3",
			Expires:  exp,
			Claims:   map[string]any{"email": "eve@example.com", "email_verified": false},
		},
		"other-client": {
			Audience: "client-2",
			Subject:  "user-1",
			Expires:  exp,
			Claims:   map[string]any{"email": "ana@example.com", "email_verified": true},
		},
	}
}

func TestGoogleVerifier(t *testing.T) {
	tests := []struct {
		name    string
		domains []string
		token   string
		wantErr error
		wantSub string
	}{
		{name: "valid token", domains: []string{"Example.com"}, token: "good", wantSub: "user-1"},
		{name: "any domain when unrestricted", token: "outsider", wantSub: "user-2"},
		{name: "wrong domain", domains: []string{"example.com"}, token: "outsider", wantErr: ErrForbidden},
		{name: "unverified email", domains: []string{"example.com"}, token: "unverified", wantErr: ErrForbidden},
		{name: "wrong audience", token: "other-client", wantErr: ErrInvalidToken},
		{name: "unknown token", token: "garbage", wantErr: ErrInvalidToken},
		{name: "empty token", token: "", wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newGoogleVerifier("client-1", tt.domains, fakeValidate(testPayloads()))
			id, err := v.Verify(context.Background(), tt.token)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Verify() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if id.Subject != tt.wantSub {
				t.Errorf("Subject = %q, want %q", id.Subject, tt.wantSub)
			}
			if id.ExpiresAt.Year() != 2030 {
				t.Errorf("ExpiresAt = %v", id.ExpiresAt)
			}
		})
	}
}

func TestNewGoogleVerifierRequiresAudience(t *testing.T) {
	if _, err := NewGoogleVerifier(context.Background(), "", nil); err == nil {
		t.Fatal("expected error without audience")
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := TokenFromRequest(r); got != "" {
		t.Errorf("TokenFromRequest() = %q, want empty", got)
	}

	r.AddCookie(&http.Cookie{Name: CookieName, Value: "from-cookie"})
	if got := TokenFromRequest(r); got != "from-cookie" {
		t.Errorf("TokenFromRequest() = %q, want cookie value", got)
	}

	r.Header.Set("Authorization", "Bearer from-header")
	if got := TokenFromRequest(r); got != "from-header" {
		t.Errorf("TokenFromRequest() = %q, header must win", got)
	}
}

func TestMiddleware(t *testing.T) {
	verifier := newGoogleVerifier("client-1", []string{"example.com"}, fakeValidate(testPayloads()))
	handler := Middleware(verifier, "/login")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Error("identity missing from context")
		}
		w.Write([]byte(id.Email))
	}))

	tests := []struct {
		name         string
		path         string
		accept       string
		bearer       string
		cookie       string
		wantStatus   int
		wantLocation string
	}{
		{name: "bearer ok", path: "/api/metrics", bearer: "good", wantStatus: http.StatusOK},
		{name: "cookie ok", path: "/", cookie: "good", accept: "text/html", wantStatus: http.StatusOK},
		{name: "api without token", path: "/api/metrics", accept: "text/html", wantStatus: http.StatusUnauthorized},
		{name: "browser without token", path: "/?x=1", accept: "text/html,application/xhtml+xml", wantStatus: http.StatusSeeOther, wantLocation: "/login?next=%2F%3Fx%3D1"},
		{name: "forbidden domain", path: "/api/metrics", bearer: "outsider", wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: CookieName, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantLocation != "" && rec.Header().Get("Location") != tt.wantLocation {
				t.Errorf("Location = %q, want %q", rec.Header().Get("Location"), tt.wantLocation)
			}
			if tt.wantStatus == http.StatusOK && rec.Body.String() != "ana@example.com" {
				t.Errorf("body = %q", rec.Body.String())
			}
		})
	}
}

func TestSessionCookies(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSessionCookie(rec, "tok", time.Now().Add(time.Hour), true)
	set := rec.Header().Get("Set-Cookie")
	for _, want := range []string{CookieName + "=tok", "HttpOnly", "Secure", "SameSite=Lax"} {
		if !strings.Contains(set, want) {
			t.Errorf("Set-Cookie %q missing %q", set, want)
		}
	}

	rec = httptest.NewRecorder()
	ClearSessionCookie(rec, false)
	if set := rec.Header().Get("Set-Cookie"); !strings.Contains(set, "Max-Age=0") {
		t.Errorf("Set-Cookie %q should expire the cookie", set)
	}
}
