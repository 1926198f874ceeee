package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const JWTSecretEnv = "API_JWT_SECRET"

var (
	ErrAuthDisabled = errors.New("auth: no jwt secret configured")
	ErrInvalidToken = errors.New("auth: invalid token")

	secretMu  sync.RWMutex
	jwtSecret []byte
)

// SetJWTSecret enables bearer authentication. An empty secret disables it.
func SetJWTSecret(secret string) {
	secretMu.Lock()
	defer secretMu.Unlock()
	jwtSecret = []byte(strings.TrimSpace(secret))
}

func Enabled() bool {
	secretMu.RLock()
	defer secretMu.RUnlock()
	return len(jwtSecret) > 0
}

func secret() []byte {
	secretMu.RLock()
	defer secretMu.RUnlock()
	return jwtSecret
}

// GenerateJWT issues an HS256 token for subject valid for ttl.
func GenerateJWT(subject string, ttl time.Duration) (string, error) {
	key := secret()
	if len(key) == 0 {
		return "", ErrAuthDisabled
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return token, nil
}

func ValidateJWT(tokenString string) (jwt.MapClaims, error) {
	key := secret()
	if len(key) == 0 {
		return nil, ErrAuthDisabled
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
