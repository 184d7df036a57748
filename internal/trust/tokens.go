package trust

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	huberrors "github.com/blueberrycongee/memoryhub/pkg/errors"
)

const defaultTokenTTL = 24 * time.Hour

// Claims is the JWT payload carried by issued tokens. Trust is the score at
// issue time; enforcement always re-reads the live score.
type Claims struct {
	Roles []string `json:"roles"`
	Trust float64  `json:"trust"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HMAC-signed bearer tokens.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// TokenManagerConfig configures token issuance.
type TokenManagerConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

// NewTokenManager creates a token manager. The secret is required.
func NewTokenManager(cfg TokenManagerConfig) (*TokenManager, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "memoryhub"
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	return &TokenManager{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TokenTTL,
	}, nil
}

// Issue signs a token for the identity, embedding the trust score at issue
// time. A non-positive ttl uses the configured default.
func (tm *TokenManager) Issue(identity string, roles []string, trust float64, ttl time.Duration) (string, *Claims, error) {
	if identity == "" {
		return "", nil, huberrors.NewValidationError("token identity is required")
	}
	if len(roles) == 0 {
		roles = []string{RoleGuest}
	}
	if ttl <= 0 {
		ttl = tm.ttl
	}

	now := time.Now()
	claims := &Claims{
		Roles: roles,
		Trust: trust,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			Issuer:    tm.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify parses and validates a signed token, rejecting expired tokens and
// tokens signed with a different method or secret.
func (tm *TokenManager) Verify(signed string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(signed, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return tm.secret, nil
	}, jwt.WithIssuer(tm.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, huberrors.NewUnauthorizedError("invalid token: " + err.Error())
	}
	if !token.Valid {
		return nil, huberrors.NewUnauthorizedError("invalid token")
	}
	return claims, nil
}
