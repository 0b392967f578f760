package ingest

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// deviceClaims is the payload of a device token. The subject names the one
// device the token may upload for.
type deviceClaims struct {
	jwt.RegisteredClaims
}

// IssueDeviceToken mints an HS256 bearer token for a device. A zero ttl
// issues a token without expiry.
func IssueDeviceToken(secret []byte, device string, ttl time.Duration) (string, error) {
	if device == "" {
		return "", fmt.Errorf("device is required")
	}

	now := time.Now()
	claims := deviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.New().String(),
			Subject:  device,
			Issuer:   "restitch",
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// validateToken checks a device token against the configured secret and
// returns its claims.
func (s *Server) validateToken(tokenString string) (*deviceClaims, error) {
	claims := &deviceClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}
