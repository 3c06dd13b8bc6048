package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies an anonymous submitter session.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Config represents JWT configuration
type Config struct {
	Secret        string
	Expiry        time.Duration
	Issuer        string
	SigningMethod jwt.SigningMethod
}

// DefaultConfig returns default JWT configuration
func DefaultConfig(secret string, expiry time.Duration) *Config {
	if expiry <= 0 {
		expiry = 30 * 24 * time.Hour
	}
	return &Config{
		Secret:        secret,
		Expiry:        expiry,
		Issuer:        "floodreport",
		SigningMethod: jwt.SigningMethodHS256,
	}
}

// GenerateSessionToken signs a session token for sessionID and returns it
// with its expiry.
func GenerateSessionToken(sessionID string, cfg *Config) (string, time.Time, error) {
	if cfg == nil {
		return "", time.Time{}, errors.New("JWT config is required")
	}
	if cfg.Secret == "" {
		return "", time.Time{}, errors.New("JWT secret is required")
	}

	now := time.Now()
	expires := now.Add(cfg.Expiry)
	claims := &Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    cfg.Issuer,
			Subject:   sessionID,
		},
	}

	token := jwt.NewWithClaims(cfg.SigningMethod, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// ValidateToken validates and parses a session token
func ValidateToken(tokenString string, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.SessionID == "" {
		return nil, errors.New("token has no session id")
	}
	return claims, nil
}
