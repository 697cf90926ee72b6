package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultIssuer = "meridian"

var errMissingSecret = errors.New("auth: token secret is not configured")

// Claims represents the JWT claims carried by session bearer tokens.
type Claims struct {
	Email     string `json:"email"`
	Role      string `json:"role"`
	KYCStatus string `json:"kyc,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS256 session tokens. Tokens are minted by
// the session provider; the codec only needs to read them, Issue exists for
// tooling and tests.
type TokenCodec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// TokenOption configures a TokenCodec.
type TokenOption func(*TokenCodec)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(c *TokenCodec) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			c.issuer = issuer
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(c *TokenCodec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewTokenCodec builds a codec for secret.
func NewTokenCodec(secret string, opts ...TokenOption) (*TokenCodec, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errMissingSecret
	}
	c := &TokenCodec{secret: []byte(secret), issuer: defaultIssuer, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token for identity valid for ttl.
func (c *TokenCodec) Issue(id Identity, ttl time.Duration) (string, error) {
	id.ID = strings.TrimSpace(id.ID)
	if id.ID == "" {
		return "", fmt.Errorf("%w: identity id is required", ErrInvalidInput)
	}
	if !id.Role.Valid() {
		return "", ErrUnknownRole
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: ttl must be greater than zero", ErrInvalidInput)
	}
	now := c.now().UTC()
	claims := Claims{
		Email:     strings.ToLower(strings.TrimSpace(id.Email)),
		Role:      string(id.Role),
		KYCStatus: id.KYCStatus,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the token signature and required claims.
func (c *TokenCodec) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now), jwt.WithIssuer(c.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Identity converts verified claims into a session identity. The active flag
// is optimistic; the gate re-checks account state before any decision.
func (c *Claims) Identity() (Identity, error) {
	role, err := ParseRole(c.Role)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		ID:        c.Subject,
		Email:     c.Email,
		Role:      role,
		Active:    true,
		KYCStatus: c.KYCStatus,
	}, nil
}

// ResolveIdentity resolves the caller from a bearer token attached with
// ContextWithToken.
func (c *TokenCodec) ResolveIdentity(ctx context.Context) (Identity, error) {
	raw, ok := TokenFromContext(ctx)
	if !ok {
		return Identity{}, ErrUnauthenticated
	}
	claims, err := c.Parse(raw)
	if err != nil {
		return Identity{}, ErrUnauthenticated
	}
	id, err := claims.Identity()
	if err != nil {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}
