package testutil

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Nijaek/analytics-dashboard/pkg/auth"
)

// TokenHelper mints JWTs for handler and middleware tests.
type TokenHelper struct {
	Secret []byte
}

// NewTokenHelper creates a token helper signing with a fixed test secret.
func NewTokenHelper() *TokenHelper {
	return &TokenHelper{
		Secret: []byte("test-secret-for-unit-tests"),
	}
}

// NewTokenHelperWithSecret creates a token helper signing with a custom secret.
func NewTokenHelperWithSecret(secret []byte) *TokenHelper {
	return &TokenHelper{
		Secret: secret,
	}
}

// AccessToken mints a valid access token and returns it with its jti.
func (h *TokenHelper) AccessToken(userID int64) (string, string, error) {
	return auth.GenerateToken(userID, auth.TokenTypeAccess, auth.DefaultAccessTTL, h.Secret)
}

// RefreshToken mints a valid refresh token and returns it with its jti.
func (h *TokenHelper) RefreshToken(userID int64) (string, string, error) {
	return auth.GenerateToken(userID, auth.TokenTypeRefresh, auth.DefaultRefreshTTL, h.Secret)
}

// ExpiredAccessToken mints an access token that expired an hour ago.
func (h *TokenHelper) ExpiredAccessToken(userID int64) (string, error) {
	claims := &auth.Claims{
		TokenType: auth.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ID:        "expired-jti",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.Secret)
}

// WrongSecretToken mints an otherwise valid access token signed with a
// different secret.
func (h *TokenHelper) WrongSecretToken(userID int64) (string, error) {
	signed, _, err := auth.GenerateToken(userID, auth.TokenTypeAccess, auth.DefaultAccessTTL, []byte("wrong-secret"))
	return signed, err
}

// NoneAlgorithmToken mints an unsigned token using alg=none. Validation
// must refuse it regardless of the claims inside.
func (h *TokenHelper) NoneAlgorithmToken(userID int64) (string, error) {
	claims := &auth.Claims{
		TokenType: auth.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ID:        "none-jti",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	return token.SignedString(jwt.UnsafeAllowNoneSignatureType)
}

// MalformedToken returns a string that is not a JWT at all.
func (h *TokenHelper) MalformedToken() string {
	return "invalid.jwt.token.format"
}

// Validate parses a token using the helper's secret.
func (h *TokenHelper) Validate(tokenString string) (*auth.Claims, error) {
	return auth.ValidateToken(tokenString, h.Secret)
}
