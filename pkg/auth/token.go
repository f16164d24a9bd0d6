package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/webhook-relay/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// AdminClaims identify the operator calling the admin endpoints.
type AdminClaims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// MintAdminToken issues a short lived operator token.
func MintAdminToken(cfg config.AdminConfig, now time.Time, operator string) (string, error) {
	if cfg.JWTSecret == "" {
		return "", fmt.Errorf("admin jwt secret is required")
	}
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return "", fmt.Errorf("operator is required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	claims := AdminClaims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseAdminToken validates the signature, issuer and expiry of an operator token.
func ParseAdminToken(cfg config.AdminConfig, tokenString string) (*AdminClaims, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("admin jwt secret is required")
	}
	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.JWTSecret), nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.Operator == "" {
		return nil, fmt.Errorf("token has no operator")
	}
	return claims, nil
}
