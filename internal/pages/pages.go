// Package pages holds the page controllers a tab can mount. Each one is a
// lifecycle component built on lifecycle.Base.
package pages

import (
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/challenge-zone-backend/internal/assignment"
	"github.com/DoyleJ11/challenge-zone-backend/internal/lifecycle"
	"github.com/DoyleJ11/challenge-zone-backend/internal/session"
)

const (
	Dashboard      = "dashboard"
	Leaderboard    = "leaderboard"
	AdminApprovals = "admin-approvals"
)

var ErrUnknownPage = errors.New("unknown page")

// Config is shared by every page of the app.
type Config struct {
	EventStarted    bool
	AutoRefresh     bool
	RefreshInterval time.Duration
	HostUsername    string
	Assignments     *assignment.Service
}

func (c Config) refreshing() bool {
	return c.EventStarted && c.AutoRefresh && c.RefreshInterval > 0
}

// New constructs the controller for page.
func New(page string, cfg Config, deps lifecycle.Deps) (lifecycle.Component, error) {
	switch page {
	case Dashboard:
		return NewDashboard(cfg, deps), nil
	case Leaderboard:
		return NewLeaderboard(cfg, deps), nil
	case AdminApprovals:
		return NewAdminApprovals(cfg, deps), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPage, page)
	}
}

// Known reports whether page can be mounted.
func Known(page string) bool {
	switch page {
	case Dashboard, Leaderboard, AdminApprovals:
		return true
	}
	return false
}

// UserView is the header block every page renders.
type UserView struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	HeadshotURL string `json:"headshotUrl,omitempty"`
	IsAdmin     bool   `json:"isAdmin"`
}

func userView(st session.State) UserView {
	return UserView{
		ID:          st.User.ID,
		Username:    st.User.Username,
		DisplayName: st.User.DisplayName,
		HeadshotURL: st.User.HeadshotURL,
		IsAdmin:     st.IsAdmin,
	}
}
