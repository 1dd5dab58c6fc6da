// Package auth protects the dashboard with Google ID tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/idtoken"
)

var (
	// ErrInvalidToken is returned for tokens that fail signature, audience or
	// expiry checks.
	ErrInvalidToken = errors.New("invalid identity token")
	// ErrForbidden is returned for valid tokens of users outside the allowed
	// domains.
	ErrForbidden = errors.New("identity not allowed")
)

// Identity is the authenticated user.
type Identity struct {
	Subject   string
	Email     string
	Name      string
	ExpiresAt time.Time
}

// Verifier checks an identity token and returns who it belongs to.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

type validateFunc func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// GoogleVerifier validates Google-issued ID tokens for one OAuth client.
type GoogleVerifier struct {
	audience       string
	allowedDomains []string
	validate       validateFunc
}

// NewGoogleVerifier builds a verifier for tokens issued to audience, the
// OAuth client id. An empty allowedDomains accepts any verified e-mail.
func NewGoogleVerifier(ctx context.Context, audience string, allowedDomains []string) (*GoogleVerifier, error) {
	if audience == "" {
		return nil, fmt.Errorf("google verifier: audience is required")
	}
	v, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, fmt.Errorf("create id token validator: %w", err)
	}
	return newGoogleVerifier(audience, allowedDomains, v.Validate), nil
}

func newGoogleVerifier(audience string, allowedDomains []string, validate validateFunc) *GoogleVerifier {
	domains := make([]string, 0, len(allowedDomains))
	for _, d := range allowedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains = append(domains, d)
		}
	}
	return &GoogleVerifier{audience: audience, allowedDomains: domains, validate: validate}
}

// Verify implements Verifier.
func (g *GoogleVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	payload, err := g.validate(ctx, token, g.audience)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id := Identity{
		Subject:   payload.Subject,
		Email:     claimString(payload.Claims, "email"),
		Name:      claimString(payload.Claims, "name"),
		ExpiresAt: time.Unix(payload.Expires, 0).UTC(),
	}

	if len(g.allowedDomains) == 0 {
		return id, nil
	}
	if verified, _ := payload.Claims["email_verified"].(bool); !verified {
		return Identity{}, fmt.Errorf("%w: e-mail not verified", ErrForbidden)
	}
	if !g.domainAllowed(id.Email) {
		return Identity{}, fmt.Errorf("%w: %s", ErrForbidden, id.Email)
	}
	return id, nil
}

func (g *GoogleVerifier) domainAllowed(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, d := range g.allowedDomains {
		if domain == d {
			return true
		}
	}
	return false
}

func claimString(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return s
}
