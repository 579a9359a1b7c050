package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/credoservice/advisor/internal/config"
)

// tokenIssuer identifies tokens minted by this service; foreign HS256 tokens
// signed with the same secret by another system are rejected.
const tokenIssuer = "creditwise-advisor"

func tokenTTL() time.Duration {
	if config.AppConfig.JWTTTLHours > 0 {
		return time.Duration(config.AppConfig.JWTTTLHours) * time.Hour
	}
	return 24 * time.Hour
}

// GenerateJWT mints a bearer token for the external user id.
func GenerateJWT(userID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iss": tokenIssuer,
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL()).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.JWTSecret))
}

// ValidateJWT verifies the signature, expiry and issuer, and returns the
// external user id the token was minted for.
func ValidateJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(config.AppConfig.JWTSecret), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}
