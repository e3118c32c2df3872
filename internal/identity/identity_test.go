package identity

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/challenge-zone-backend/internal/types"
)

func TestKeys_SignVerify(t *testing.T) {
	keys := NewKeys("secret", "challengezone")
	id := types.Identity{UID: "uid-1", Phone: "+15551234567", Name: "Brian"}

	token, err := keys.Sign(id, time.Minute)
	require.NoError(t, err)

	got, err := keys.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestKeys_VerifyRejects(t *testing.T) {
	keys := NewKeys("secret", "challengezone")
	valid := types.Identity{UID: "uid-1"}

	expired, err := keys.Sign(valid, -time.Minute)
	require.NoError(t, err)
	otherSecret, err := NewKeys("other", "challengezone").Sign(valid, time.Minute)
	require.NoError(t, err)
	otherIssuer, err := NewKeys("secret", "elsewhere").Sign(valid, time.Minute)
	require.NoError(t, err)
	noSubject, err := keys.Sign(types.Identity{Phone: "+1"}, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"expired", expired},
		{"wrong secret", otherSecret},
		{"wrong issuer", otherIssuer},
		{"missing subject", noSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := keys.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestSessions_CookieRoundTrip(t *testing.T) {
	s := NewSessions("session-secret", "challengezone", 0, true)

	rec := httptest.NewRecorder()
	require.NoError(t, s.SetCookie(rec, "user-1"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, CookieName, c.Name)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, int(DefaultSessionTTL.Seconds()), c.MaxAge)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(c)
	userID, err := s.FromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestSessions_FromRequestWithoutCookie(t *testing.T) {
	s := NewSessions("session-secret", "challengezone", time.Hour, false)
	_, err := s.FromRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSessions_RejectsIdentityToken(t *testing.T) {
	idToken, err := NewKeys("shared", "challengezone").Sign(types.Identity{UID: "uid"}, time.Minute)
	require.NoError(t, err)

	s := NewSessions("shared", "challengezone", time.Hour, false)
	_, err = s.Verify(idToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessions_ClearCookie(t *testing.T) {
	s := NewSessions("session-secret", "challengezone", time.Hour, false)
	rec := httptest.NewRecorder()
	s.ClearCookie(rec)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
	assert.Less(t, cookies[0].MaxAge, 0)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)

	assert.NoError(t, CheckPassword(hash, "hunter2"))
	assert.True(t, errors.Is(CheckPassword(hash, "hunter3"), ErrBadCredentials))
	assert.ErrorIs(t, CheckPassword("", "hunter2"), ErrBadCredentials)
	assert.ErrorIs(t, CheckPassword(hash, ""), ErrBadCredentials)
}
