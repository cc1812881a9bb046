// Package jwtsession resolves the primary member session from an HS256 JWT
// issued by the member login service.
//
// The token is read from the Authorization header ("Bearer <token>") or, when
// configured, from a cookie. The subject claim carries the identity id.
package jwtsession

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/wispberry-tech/wispy-admin/core"
)

// DefaultLifetime is the lifetime of tokens minted by Issue.
const DefaultLifetime = 24 * time.Hour

// Config configures a Provider.
type Config struct {
	Secret   []byte           // HMAC secret (required)
	Issuer   string           // Expected and issued "iss" claim; empty disables the check
	Cookie   string           // Cookie carrying the token; empty reads the header only
	Lifetime time.Duration    // Lifetime of issued tokens (defaults to DefaultLifetime)
	Clock    func() time.Time // Time source (defaults to time.Now)
}

// Claims are the JWT claims of a member session.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Provider implements core.PrimarySessionProvider over JWTs.
type Provider struct {
	cfg Config
}

// New creates a Provider.
func New(cfg Config) (*Provider, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.Lifetime == 0 {
		cfg.Lifetime = DefaultLifetime
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Provider{cfg: cfg}, nil
}

// Issue signs a member session token for the identity.
func (p *Provider) Issue(identityID, email string) (string, error) {
	now := p.cfg.Clock()
	claims := &Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   identityID,
			Issuer:    p.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.cfg.Lifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.cfg.Secret)
}

// Verify parses and validates a token and returns its claims.
func (p *Provider) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(p.cfg.Clock),
		jwt.WithExpirationRequired(),
	}
	if p.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// CurrentIdentity returns the identity of a valid token on the request. Missing
// or invalid tokens mean no primary session.
func (p *Provider) CurrentIdentity(r *http.Request) (*core.PrimaryIdentity, error) {
	tokenString := p.tokenFromRequest(r)
	if tokenString == "" {
		return nil, nil
	}

	claims, err := p.Verify(tokenString)
	if err != nil {
		slog.Debug("Ignoring invalid member token", "error", err)
		return nil, nil
	}
	return &core.PrimaryIdentity{ID: claims.Subject, Email: claims.Email}, nil
}

func (p *Provider) tokenFromRequest(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if p.cfg.Cookie != "" {
		if cookie, err := r.Cookie(p.cfg.Cookie); err == nil {
			return cookie.Value
		}
	}
	return ""
}

var _ core.PrimarySessionProvider = (*Provider)(nil)
