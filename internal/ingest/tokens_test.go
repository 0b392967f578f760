package ingest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restitch/restitch/internal/config"
)

func newJWTServer(t *testing.T, secret string) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.JWTSecret = secret
	require.NoError(t, cfg.Validate())

	return NewServer(cfg, nil)
}

func TestIssueAndValidateDeviceToken(t *testing.T) {
	srv := newJWTServer(t, "test-secret-key-12345")

	token, err := IssueDeviceToken([]byte("test-secret-key-12345"), "sensor-0042", 24*time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := srv.validateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "sensor-0042", claims.Subject)
	assert.Equal(t, "restitch", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestIssueDeviceToken_NoExpiry(t *testing.T) {
	srv := newJWTServer(t, "test-secret-key")

	token, err := IssueDeviceToken([]byte("test-secret-key"), "sensor-0042", 0)
	require.NoError(t, err)

	claims, err := srv.validateToken(token)
	require.NoError(t, err)
	assert.Nil(t, claims.ExpiresAt)
}

func TestIssueDeviceToken_EmptyDevice(t *testing.T) {
	_, err := IssueDeviceToken([]byte("test-secret-key"), "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device is required")
}

func TestValidateToken_WrongSecret(t *testing.T) {
	srv := newJWTServer(t, "secret-key-1")

	// Token signed with a different key
	token, err := IssueDeviceToken([]byte("secret-key-2"), "sensor-0042", 0)
	require.NoError(t, err)

	_, err = srv.validateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_Expired(t *testing.T) {
	srv := newJWTServer(t, "test-secret-key")

	claims := jwt.RegisteredClaims{
		Subject:   "sensor-0042",
		Issuer:    "restitch",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-key"))
	require.NoError(t, err)

	_, err = srv.validateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_Garbage(t *testing.T) {
	srv := newJWTServer(t, "test-secret-key")

	_, err := srv.validateToken("invalid-token")
	assert.Error(t, err)

	_, err = srv.validateToken("")
	assert.Error(t, err)
}

func TestValidateToken_NoSubject(t *testing.T) {
	srv := newJWTServer(t, "test-secret-key")

	claims := jwt.RegisteredClaims{Issuer: "restitch"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-key"))
	require.NoError(t, err)

	_, err = srv.validateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no subject")
}
