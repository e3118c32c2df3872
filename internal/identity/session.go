package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// CookieName carries the signed session token.
	CookieName = "user_id"
	// DefaultSessionTTL is how long a login lasts.
	DefaultSessionTTL = 7 * 24 * time.Hour
)

// ErrNoSession means the request carried no session cookie.
var ErrNoSession = errors.New("no session")

type SessionClaims struct {
	jwt.RegisteredClaims
}

// Sessions issues and verifies the session cookie. The cookie value is a
// signed JWT whose subject is the user id.
type Sessions struct {
	secret []byte
	issuer string
	ttl    time.Duration
	secure bool
}

func NewSessions(secret, issuer string, ttl time.Duration, secure bool) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{secret: []byte(secret), issuer: issuer, ttl: ttl, secure: secure}
}

// Issue signs a session token for userID.
func (s *Sessions) Issue(userID string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(s.ttl)
	claims := SessionClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{"session"},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return token, exp, nil
}

// Verify returns the user id inside a session token.
func (s *Sessions) Verify(token string) (string, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience("session"),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Resolve maps a session token to a user id.
func (s *Sessions) Resolve(_ context.Context, token string) (string, error) {
	return s.Verify(token)
}

// SetCookie writes an httpOnly, SameSite=Lax session cookie for userID.
func (s *Sessions) SetCookie(w http.ResponseWriter, userID string) error {
	token, exp, err := s.Issue(userID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// ClearCookie expires the session cookie.
func (s *Sessions) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Token returns the raw session token carried by r.
func Token(r *http.Request) (string, error) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return "", ErrNoSession
	}
	return c.Value, nil
}

// FromRequest returns the user id of the session carried by r.
func (s *Sessions) FromRequest(r *http.Request) (string, error) {
	token, err := Token(r)
	if err != nil {
		return "", err
	}
	return s.Verify(token)
}
