// Package identity verifies phone-login identity tokens, issues the signed
// session cookie, and checks legacy passwords.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/DoyleJ11/challenge-zone-backend/internal/types"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// IdentityClaims are the claims carried by a phone-login identity token.
type IdentityClaims struct {
	jwt.RegisteredClaims
	PhoneNumber string `json:"phone_number,omitempty"`
	Email       string `json:"email,omitempty"`
	Name        string `json:"name,omitempty"`
}

// Keys signs and verifies identity tokens with a shared HS256 secret.
type Keys struct {
	secret []byte
	issuer string
}

func NewKeys(secret, issuer string) *Keys {
	return &Keys{secret: []byte(secret), issuer: issuer}
}

// Sign issues an identity token for id, valid for ttl.
func (k *Keys) Sign(id types.Identity, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UID,
			Issuer:    k.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		PhoneNumber: id.Phone,
		Email:       id.Email,
		Name:        id.Name,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(k.secret)
}

// Verify checks signature, issuer and expiry, and returns the identity.
func (k *Keys) Verify(tokenString string) (types.Identity, error) {
	claims := &IdentityClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, k.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(k.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return types.Identity{}, ErrInvalidToken
	}
	return types.Identity{
		UID:   claims.Subject,
		Phone: claims.PhoneNumber,
		Email: claims.Email,
		Name:  claims.Name,
	}, nil
}

func (k *Keys) keyFunc(*jwt.Token) (any, error) {
	return k.secret, nil
}
