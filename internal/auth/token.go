package auth

import (
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// ParseToken validates an HS256 bearer token and extracts its role claim.
func ParseToken(secret, tokenString string) (Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !token.Valid {
		return Principal{}, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, fmt.Errorf("unexpected claims type")
	}
	subject, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if subject == "" || !Role(role).Valid() {
		return Principal{}, fmt.Errorf("token lacks a subject or a known role")
	}
	return Principal{Subject: subject, Role: Role(role)}, nil
}

// IssueToken signs a token for p valid for ttl.
func IssueToken(secret string, p Principal, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  p.Subject,
		"role": string(p.Role),
		"exp":  time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
