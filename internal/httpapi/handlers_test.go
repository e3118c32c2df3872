package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/challenge-zone-backend/internal/assignment"
	"github.com/DoyleJ11/challenge-zone-backend/internal/identity"
	"github.com/DoyleJ11/challenge-zone-backend/internal/store"
	"github.com/DoyleJ11/challenge-zone-backend/internal/types"
)

type env struct {
	handler   http.Handler
	mem       *store.Memory
	keys      *identity.Keys
	sessions  *identity.Sessions
	admin     types.User
	alice     types.User
	bob       types.User
	challenge types.Challenge
}

func newEnv(t *testing.T, burst int) env {
	t.Helper()
	mem := store.NewMemory()
	hash, err := identity.HashPassword("hunter2")
	require.NoError(t, err)

	e := env{
		mem:      mem,
		keys:     identity.NewKeys("id-secret", "otp-provider"),
		sessions: identity.NewSessions("session-secret", "challengezone", time.Hour, false),
		admin:    mem.PutUser(types.User{Username: "brianc", PasswordHash: hash}),
		alice:    mem.PutUser(types.User{Username: "alice", PasswordHash: hash}),
		bob:      mem.PutUser(types.User{Username: "bob"}),
	}
	e.challenge = mem.PutChallenge(types.Challenge{Title: "Limbo", ApprovalStatus: types.ApprovalApproved})
	mem.Assign(e.alice.ID, e.challenge.ID)

	e.handler = SetupRoutes(t.Context(), Deps{
		Backend:        mem,
		Assignments:    assignment.NewService(mem),
		Keys:           e.keys,
		Sessions:       e.sessions,
		AdminUsernames: []string{"BrianC"},
		CORSOrigins:    []string{"http://localhost:5173"},
		LoginRPS:       0.001,
		LoginBurst:     burst,
	})
	return e
}

func (e env) do(t *testing.T, method, path string, body any, userID string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header[k] = v
	}
	if userID != "" {
		token, _, err := e.sessions.Issue(userID)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: identity.CookieName, Value: token})
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == identity.CookieName {
			return c
		}
	}
	return nil
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, 10)
	rec := e.do(t, http.MethodGet, "/healthz", nil, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin(t *testing.T) {
	e := newEnv(t, 10)
	idToken, err := e.keys.Sign(types.Identity{UID: "otp-uid-1", Phone: "+15550001111", Name: "Dana"}, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCookie bool
		wantAdmin  bool
	}{
		{"password", loginRequest{Username: "alice", Password: "hunter2"}, http.StatusOK, true, false},
		{"admin password", loginRequest{Username: "brianc", Password: "hunter2"}, http.StatusOK, true, true},
		{"wrong password", loginRequest{Username: "alice", Password: "nope"}, http.StatusUnauthorized, false, false},
		{"unknown user", loginRequest{Username: "mallory", Password: "hunter2"}, http.StatusUnauthorized, false, false},
		{"no password set", loginRequest{Username: "bob", Password: "hunter2"}, http.StatusUnauthorized, false, false},
		{"identity token", loginRequest{IDToken: idToken}, http.StatusOK, true, false},
		{"forged identity token", loginRequest{IDToken: idToken + "x"}, http.StatusUnauthorized, false, false},
		{"empty", loginRequest{}, http.StatusBadRequest, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/auth/login", tt.body, "", nil)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			c := sessionCookie(rec)
			if !tt.wantCookie {
				assert.Nil(t, c)
				return
			}
			require.NotNil(t, c)
			assert.True(t, c.HttpOnly)
			assert.Equal(t, http.SameSiteLaxMode, c.SameSite)

			userID, err := e.sessions.Verify(c.Value)
			require.NoError(t, err)
			me := decode[meResponse](t, rec)
			assert.Equal(t, me.User.ID, userID)
			assert.Equal(t, tt.wantAdmin, me.IsAdmin)
		})
	}
}

func TestLogin_RateLimited(t *testing.T) {
	e := newEnv(t, 2)
	body := loginRequest{Username: "alice", Password: "nope"}

	for range 2 {
		rec := e.do(t, http.MethodPost, "/auth/login", body, "", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := e.do(t, http.MethodPost, "/auth/login", body, "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decode[errorBody](t, rec).Code)
}

func TestMeAndLogout(t *testing.T) {
	e := newEnv(t, 10)

	rec := e.do(t, http.MethodGet, "/api/me", nil, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/me", nil, e.alice.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", decode[meResponse](t, rec).User.Username)

	rec = e.do(t, http.MethodGet, "/api/me", nil, "deleted-user", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/auth/logout", nil, e.alice.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	c := sessionCookie(rec)
	require.NotNil(t, c)
	assert.Empty(t, c.Value)
	assert.Negative(t, c.MaxAge)
}

func TestAssignments_AdminOnly(t *testing.T) {
	e := newEnv(t, 10)
	path := "/api/challenges/" + e.challenge.ID + "/assignments"

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, path, nil, "", nil).Code)
	rec := e.do(t, http.MethodGet, path, nil, e.alice.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decode[errorBody](t, rec).Code)
}

func TestAssignments_ReplaceWithIfMatch(t *testing.T) {
	e := newEnv(t, 10)
	path := "/api/challenges/" + e.challenge.ID + "/assignments"

	rec := e.do(t, http.MethodGet, path, nil, e.admin.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[assignment.Snapshot](t, rec)
	assert.Equal(t, []string{e.alice.ID}, snap.MemberIDs)
	etag := rec.Header().Get("ETag")
	assert.Equal(t, `"`+snap.Version+`"`, etag)

	rec = e.do(t, http.MethodPut, path, replaceRequest{MemberIDs: []string{e.bob.ID}}, e.admin.ID,
		http.Header{"If-Match": []string{etag}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[replaceResponse](t, rec)
	assert.Equal(t, []string{e.bob.ID}, res.Current.MemberIDs)
	assert.NotEqual(t, snap.Version, res.Current.Version)
	assert.NotEmpty(t, res.Message)

	// The first version is stale now.
	rec = e.do(t, http.MethodPut, path, replaceRequest{MemberIDs: []string{e.alice.ID}, ExpectedVersion: snap.Version}, e.admin.ID, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "conflict", body.Code)
	assert.Equal(t, assignment.ConflictMessage, body.Error)

	rec = e.do(t, http.MethodGet, path, nil, e.admin.ID, nil)
	assert.Equal(t, []string{e.bob.ID}, decode[assignment.Snapshot](t, rec).MemberIDs)
}

func TestAssignments_Errors(t *testing.T) {
	e := newEnv(t, 10)
	path := "/api/challenges/" + e.challenge.ID + "/assignments"

	tests := []struct {
		name       string
		path       string
		body       replaceRequest
		wantStatus int
		wantCode   string
	}{
		{"empty membership", path, replaceRequest{}, http.StatusUnprocessableEntity, "validation"},
		{"malformed id", path, replaceRequest{MemberIDs: []string{"not-a-uuid"}}, http.StatusUnprocessableEntity, "validation"},
		{"unknown challenge", "/api/challenges/9b2f4c1e-0000-4000-8000-000000000000/assignments",
			replaceRequest{MemberIDs: []string{e.bob.ID}}, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPut, tt.path, tt.body, e.admin.ID, nil)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decode[errorBody](t, rec).Code)
		})
	}
}

func TestOriginHosts(t *testing.T) {
	assert.Equal(t, []string{"localhost:5173", "zone.example.com"},
		originHosts([]string{"http://localhost:5173", "https://zone.example.com", "::bad"}))
	assert.Equal(t, []string{"*"}, originHosts([]string{"https://a.example", "*"}))
}
