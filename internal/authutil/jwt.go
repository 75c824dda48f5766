package authutil

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

var (
	secretOnce sync.Once // Ensure that the key is only read and initialized once.
	secretKey  []byte
)

// Claims is the token payload: the subject is the decimal user id and Type
// separates access from refresh tokens.
type Claims struct {
	Type string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// getSecret retrieves the signing key from the environment or defaults for development.
func getSecret() []byte {
	secretOnce.Do(func() {
		key := os.Getenv("CHAT_AUTH_SECRET")
		if key == "" {
			key = "dev-secret-change-me"
		}
		secretKey = []byte(key)
	})
	return secretKey
}

// IssueToken returns a signed JWT of the given kind for userID.
func IssueToken(userID int64, kind string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Type: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(getSecret())
}

// ValidateToken verifies signature, expiry and kind, returning the user id.
func ValidateToken(tokenStr, kind string) (int64, error) {
	if tokenStr == "" {
		return 0, errors.New("empty token")
	}
	claims := &Claims{}
	// check if token method is the HMAC and validate signature
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return getSecret(), nil
	})
	if err != nil {
		return 0, err
	}
	if !token.Valid {
		return 0, errors.New("invalid token")
	}
	if kind != "" && claims.Type != kind {
		return 0, fmt.Errorf("expected %s token, got %q", kind, claims.Type)
	}
	return subjectID(claims)
}

// Inspect decodes claims without verifying the signature. The client only
// holds the token; the server remains the authority on its validity.
func Inspect(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, errors.New("empty token")
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// SubjectID returns the user id carried in the token's subject claim.
func SubjectID(tokenStr string) (int64, error) {
	claims, err := Inspect(tokenStr)
	if err != nil {
		return 0, err
	}
	return subjectID(claims)
}

// Expired reports whether the token's exp claim is at or before now.
// Tokens without exp are treated as expired.
func Expired(tokenStr string, now time.Time) bool {
	claims, err := Inspect(tokenStr)
	if err != nil || claims.ExpiresAt == nil {
		return true
	}
	return !now.Before(claims.ExpiresAt.Time)
}

func subjectID(claims *Claims) (int64, error) {
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid subject %q", claims.Subject)
	}
	return id, nil
}
