package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/challenge-zone-backend/internal/assignment"
	"github.com/DoyleJ11/challenge-zone-backend/internal/identity"
	"github.com/DoyleJ11/challenge-zone-backend/internal/store"
	"github.com/DoyleJ11/challenge-zone-backend/internal/types"
)

// API holds what the JSON handlers need.
type API struct {
	backend     store.Backend
	assignments *assignment.Service
	keys        *identity.Keys
	sessions    *identity.Sessions
	admins      []string
	log         *zap.Logger
}

type loginRequest struct {
	IDToken  string `json:"idToken"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type meResponse struct {
	User    types.User `json:"user"`
	IsAdmin bool       `json:"isAdmin"`
}

type replaceRequest struct {
	MemberIDs       []string `json:"memberIds"`
	ExpectedVersion string   `json:"expectedVersion"`
}

type replaceResponse struct {
	assignment.Result
	Message string `json:"message"`
}

func (a *API) isAdmin(username string) bool {
	return slices.ContainsFunc(a.admins, func(s string) bool { return strings.EqualFold(s, username) })
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := a.backend.Ping(r.Context()); err != nil {
		a.log.Warn("health check", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "backend", "database unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Login accepts a verified identity token or, for legacy accounts, a
// username and password, and sets the session cookie.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "bad json")
		return
	}

	var (
		user types.User
		err  error
	)
	switch {
	case req.IDToken != "":
		var id types.Identity
		if id, err = a.keys.Verify(req.IDToken); err == nil {
			user, err = a.backend.UserForIdentity(r.Context(), id)
		}
	case req.Username != "" && req.Password != "":
		user, err = a.backend.UserByUsername(r.Context(), req.Username)
		if errors.Is(err, store.ErrNotFound) {
			err = identity.ErrBadCredentials
		}
		if err == nil {
			err = identity.CheckPassword(user.PasswordHash, req.Password)
		}
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "idToken or username and password required")
		return
	}
	if err != nil {
		a.log.Info("login rejected", zap.Error(err))
		fail(w, err)
		return
	}

	if err := a.sessions.SetCookie(w, user.ID); err != nil {
		a.log.Error("set session cookie", zap.Error(err))
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: user, IsAdmin: a.isAdmin(user.Username)})
}

func (a *API) Logout(w http.ResponseWriter, _ *http.Request) {
	a.sessions.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) currentUser(r *http.Request) (types.User, error) {
	userID, err := a.sessions.FromRequest(r)
	if err != nil {
		return types.User{}, err
	}
	user, err := a.backend.UserByID(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		// Session for a user that no longer exists.
		return types.User{}, identity.ErrInvalidToken
	}
	return user, err
}

func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: user, IsAdmin: a.isAdmin(user.Username)})
}

func (a *API) requireAdmin(r *http.Request) (types.User, error) {
	user, err := a.currentUser(r)
	if err != nil {
		return types.User{}, err
	}
	if !a.isAdmin(user.Username) {
		return types.User{}, errForbidden
	}
	return user, nil
}

// GetAssignments returns the active membership and its version, also sent
// as the ETag for a later If-Match.
func (a *API) GetAssignments(w http.ResponseWriter, r *http.Request) {
	if _, err := a.requireAdmin(r); err != nil {
		fail(w, err)
		return
	}
	snap, err := a.assignments.ReadCurrent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, err)
		return
	}
	w.Header().Set("ETag", `"`+snap.Version+`"`)
	writeJSON(w, http.StatusOK, snap)
}

// PutAssignments replaces the membership. The expected version comes from
// the body or, when absent there, from If-Match.
func (a *API) PutAssignments(w http.ResponseWriter, r *http.Request) {
	admin, err := a.requireAdmin(r)
	if err != nil {
		fail(w, err)
		return
	}
	var req replaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "bad json")
		return
	}
	expected := req.ExpectedVersion
	if expected == "" {
		expected = strings.Trim(r.Header.Get("If-Match"), `"`)
	}

	res, err := a.assignments.Replace(r.Context(), assignment.ReplaceRequest{
		ChallengeID:     chi.URLParam(r, "id"),
		MemberIDs:       req.MemberIDs,
		ExpectedVersion: expected,
		UpdatedBy:       admin.ID,
	})
	if err != nil {
		if !assignment.IsConflict(err) {
			a.log.Warn("replace assignments", zap.String("challenge_id", chi.URLParam(r, "id")), zap.Error(err))
		}
		fail(w, err)
		return
	}
	w.Header().Set("ETag", `"`+res.Current.Version+`"`)
	writeJSON(w, http.StatusOK, replaceResponse{
		Result:  res,
		Message: assignment.Summary(false, res.Operations, len(res.Current.MemberIDs)),
	})
}
