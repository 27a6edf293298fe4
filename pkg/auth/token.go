package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/farmlink/farmlink-backend/pkg/config"
)

// clockSkew tolerates small drift between the identity service and this API.
const clockSkew = 30 * time.Second

var (
	ErrMissingSecret = errors.New("jwt secret is required")
	ErrMissingIssuer = errors.New("jwt issuer is required")
	ErrBadClaims     = errors.New("token claims are incomplete")
)

var signingMethod = jwt.SigningMethodHS256

func checkConfig(cfg config.JWTConfig) error {
	switch {
	case cfg.Secret == "":
		return ErrMissingSecret
	case cfg.Issuer == "":
		return ErrMissingIssuer
	}
	return nil
}

func (c *AccessTokenClaims) check() error {
	if c.UserID == uuid.Nil {
		return fmt.Errorf("%w: user_id missing", ErrBadClaims)
	}
	if !c.Role.IsValid() {
		return fmt.Errorf("%w: unknown role %q", ErrBadClaims, c.Role)
	}
	return nil
}

// MintAccessToken signs an HS256 token for payload valid from now for the
// configured number of minutes. Production tokens come from the identity
// service; this exists for tooling and tests sharing the secret.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	if err := checkConfig(cfg); err != nil {
		return "", err
	}
	if cfg.ExpirationMinutes <= 0 {
		return "", fmt.Errorf("jwt expiration minutes must be positive")
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}
	claims := &AccessTokenClaims{
		UserID: payload.UserID,
		Role:   payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    cfg.Issuer,
			Subject:   payload.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
		},
	}
	if err := claims.check(); err != nil {
		return "", err
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies signature, issuer and expiry, then requires a
// user id and a known role.
func ParseAccessToken(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}

	claims := &AccessTokenClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}); err != nil {
		return nil, err
	}
	if err := claims.check(); err != nil {
		return nil, err
	}
	return claims, nil
}
