package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/evdms/evdms/internal/rbac"
	"github.com/evdms/evdms/internal/shared"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
	issuer           = "evdms"
)

// Claims carried by issued tokens.
type Claims struct {
	Name      string    `json:"name"`
	Role      rbac.Role `json:"role"`
	DealerID  string    `json:"dealer_id,omitempty"`
	TokenType string    `json:"token_type"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 tokens.
type Signer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewSigner constructs a Signer. The secret must not be empty.
func NewSigner(secret string, accessTTL, refreshTTL time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: jwt secret must be provided", shared.ErrConfiguration)
	}
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &Signer{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}, nil
}

// Issue creates an access and refresh token pair for p.
func (s *Signer) Issue(p rbac.Principal) (Grant, error) {
	now := s.now()
	access, err := s.sign(p, tokenTypeAccess, now, s.accessTTL)
	if err != nil {
		return Grant{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.sign(p, tokenTypeRefresh, now, s.refreshTTL)
	if err != nil {
		return Grant{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return Grant{
		AccessToken:  access,
		RefreshToken: refresh,
		Principal:    p,
		ExpiresAt:    now.Add(s.accessTTL),
	}, nil
}

func (s *Signer) sign(p rbac.Principal, tokenType string, now time.Time, ttl time.Duration) (string, error) {
	claims := &Claims{
		Name:      p.DisplayName,
		Role:      p.Role,
		DealerID:  p.DealerID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks signature, expiry and token type.
func (s *Signer) Verify(token, tokenType string) (*Claims, error) {
	return s.parse(token, tokenType, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
}

// parseIgnoringExpiry checks the signature only; used to revoke tokens that
// may already have expired.
func (s *Signer) parseIgnoringExpiry(token string) (*Claims, error) {
	return s.parse(token, "", jwt.WithoutClaimsValidation())
}

func (s *Signer) parse(token, tokenType string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", shared.ErrUnauthenticated)
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrUnauthenticated, err)
	}
	if tokenType != "" && claims.TokenType != tokenType {
		return nil, fmt.Errorf("%w: expected %s token", shared.ErrUnauthenticated, tokenType)
	}
	return claims, nil
}

// Principal rebuilds the actor carried by claims.
func (c *Claims) Principal() rbac.Principal {
	return rbac.Principal{ID: c.Subject, DisplayName: c.Name, Role: c.Role, DealerID: c.DealerID}
}
