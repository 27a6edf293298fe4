package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmlink/farmlink-backend/pkg/config"
	"github.com/farmlink/farmlink-backend/pkg/enums"
)

var testCfg = config.JWTConfig{Secret: "secret", Issuer: "farmlink", ExpirationMinutes: 30}

func signRaw(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestMintAndParseAccessToken(t *testing.T) {
	now := time.Now().UTC()
	userID := uuid.New()

	token, err := MintAccessToken(testCfg, now, AccessTokenPayload{UserID: userID, Role: enums.UserRoleBuyer})
	require.NoError(t, err)

	claims, err := ParseAccessToken(testCfg, token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, enums.UserRoleBuyer, claims.Role)
	assert.Equal(t, testCfg.Issuer, claims.Issuer)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, now.Add(30*time.Minute), claims.ExpiresAt.Time, time.Second)
}

func TestMintKeepsExplicitJTI(t *testing.T) {
	token, err := MintAccessToken(testCfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleAdmin, JTI: " abc "})
	require.NoError(t, err)
	claims, err := ParseAccessToken(testCfg, token)
	require.NoError(t, err)
	assert.Equal(t, "abc", claims.ID)
}

func TestParseAccessTokenRejects(t *testing.T) {
	valid, err := MintAccessToken(testCfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleBuyer})
	require.NoError(t, err)
	expired, err := MintAccessToken(testCfg, time.Now().Add(-time.Hour), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleFarmer})
	require.NoError(t, err)

	future := jwt.NewNumericDate(time.Now().Add(time.Minute))
	unknownRole := signRaw(t, jwt.SigningMethodHS256, []byte(testCfg.Secret), AccessTokenClaims{
		UserID:           uuid.New(),
		Role:             "superuser",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: testCfg.Issuer, ExpiresAt: future},
	})
	noExpiry := signRaw(t, jwt.SigningMethodHS256, []byte(testCfg.Secret), AccessTokenClaims{
		UserID:           uuid.New(),
		Role:             enums.UserRoleBuyer,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: testCfg.Issuer},
	})
	wrongAlg := signRaw(t, jwt.SigningMethodHS512, []byte(testCfg.Secret), AccessTokenClaims{
		UserID:           uuid.New(),
		Role:             enums.UserRoleBuyer,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: testCfg.Issuer, ExpiresAt: future},
	})
	otherIssuer := testCfg
	otherIssuer.Issuer = "someone-else"
	otherSecret := testCfg
	otherSecret.Secret = "rotated"

	cases := map[string]struct {
		cfg   config.JWTConfig
		token string
		want  error
	}{
		"bad signature": {otherSecret, valid, jwt.ErrTokenSignatureInvalid},
		"wrong issuer":  {otherIssuer, valid, jwt.ErrTokenInvalidIssuer},
		"expired":       {testCfg, expired, jwt.ErrTokenExpired},
		"no expiry":     {testCfg, noExpiry, jwt.ErrTokenRequiredClaimMissing},
		"wrong alg":     {testCfg, wrongAlg, jwt.ErrTokenSignatureInvalid},
		"unknown role":  {testCfg, unknownRole, ErrBadClaims},
		"no secret":     {config.JWTConfig{Issuer: "farmlink"}, valid, ErrMissingSecret},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAccessToken(tc.cfg, tc.token)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestMintAccessTokenInvalidPayload(t *testing.T) {
	_, err := MintAccessToken(testCfg, time.Now(), AccessTokenPayload{UserID: uuid.New()})
	assert.ErrorIs(t, err, ErrBadClaims)
	_, err = MintAccessToken(testCfg, time.Now(), AccessTokenPayload{Role: enums.UserRoleBuyer})
	assert.ErrorIs(t, err, ErrBadClaims)
	_, err = MintAccessToken(config.JWTConfig{Secret: "s", Issuer: "i"}, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleBuyer})
	assert.Error(t, err)
}
