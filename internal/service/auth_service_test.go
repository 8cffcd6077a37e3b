package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/models"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
)

func newAuthServiceForTest() *AuthService {
	return NewAuthService(zap.NewNop(), AuthConfig{
		AccessTokenSecret: "secret",
		AccessTokenExpiry: time.Hour,
		Issuer:            "timetable-api",
	})
}

func TestAuthServiceIssueAndValidate(t *testing.T) {
	svc := newAuthServiceForTest()
	token, expiresAt, err := svc.IssueToken("user-1", models.RoleScheduler, "ops@example.com")
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleScheduler, claims.Role)
	assert.Equal(t, "ops@example.com", claims.Email)
}

func TestAuthServiceRejectsBadTokens(t *testing.T) {
	svc := newAuthServiceForTest()

	_, _, err := svc.IssueToken("user-1", models.UserRole("ROOT"), "")
	requireAppError(t, err, appErrors.ErrValidation.Code)

	token, _, err := svc.IssueToken("user-1", models.RoleAdmin, "")
	require.NoError(t, err)

	other := NewAuthService(zap.NewNop(), AuthConfig{AccessTokenSecret: "other", Issuer: "timetable-api"})
	_, err = other.ValidateToken(token)
	requireAppError(t, err, appErrors.ErrUnauthorized.Code)

	wrongIssuer := NewAuthService(zap.NewNop(), AuthConfig{AccessTokenSecret: "secret", Issuer: "someone-else"})
	_, err = wrongIssuer.ValidateToken(token)
	requireAppError(t, err, appErrors.ErrUnauthorized.Code)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.ValidateToken(token)
	appErr := requireAppError(t, err, appErrors.ErrUnauthorized.Code)
	assert.True(t, errors.Is(appErr, jwt.ErrTokenExpired))
}

func TestAuthServiceRejectsNoneAlgorithm(t *testing.T) {
	svc := newAuthServiceForTest()
	claims := &models.JWTClaims{UserID: "user-1", Role: models.RoleAdmin}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.ValidateToken(unsigned)
	requireAppError(t, err, appErrors.ErrUnauthorized.Code)
}
