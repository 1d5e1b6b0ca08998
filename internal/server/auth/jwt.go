// Package auth issues and verifies operator credentials. The engine
// treats the resulting operator id as an opaque verified identity.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shelfmesh/shelfmesh/internal/shared"
)

// Claims carries the standard claims plus the operator id.
type Claims struct {
	jwt.RegisteredClaims
	OperatorID string
}

func GenerateToken(operatorID string, secretKey []byte, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
		},
		OperatorID: operatorID,
	})

	return token.SignedString(secretKey)
}

func GetOperatorIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", shared.ErrTokenExpired
		}
		return "", shared.ErrInvalidToken
	}

	if !token.Valid {
		return "", shared.ErrInvalidToken
	}

	return claims.OperatorID, nil
}
