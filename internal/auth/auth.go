// Package auth is the access-token collaborator. Credential issuance lives
// outside this service; the core only needs to turn a bearer token into an
// identity before accepting a query or subscription.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/b3vet/swiftbase/internal/model"
)

// Identity is the authenticated principal of a request.
type Identity struct {
	SubjectID string
	IsAdmin   bool
}

// Validator validates access tokens. Authorization is a pre-condition of
// query execution, never the engine's concern.
type Validator interface {
	ValidateAccessToken(token string) (Identity, error)
}

// Claims holds the token claims swiftbase reads.
type Claims struct {
	jwt.RegisteredClaims
	Admin bool `json:"admin,omitempty"`
}

// HMACValidator validates HS256 tokens against a shared secret.
type HMACValidator struct {
	secret []byte
}

func NewHMACValidator(secret []byte) *HMACValidator {
	return &HMACValidator{secret: secret}
}

func (v *HMACValidator) ValidateAccessToken(token string) (Identity, error) {
	if len(v.secret) == 0 {
		return Identity{}, model.Unauthorized("no token secret configured")
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, model.Unauthorized("invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, model.Unauthorized("invalid token")
	}
	return Identity{SubjectID: claims.Subject, IsAdmin: claims.Admin}, nil
}

// NewToken mints an HS256 token, used by tests and local tooling.
func NewToken(secret []byte, subject string, admin bool, expiry time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
		Admin: admin,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
