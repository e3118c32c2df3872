// Package store is the backend data collaborator: users, challenges and
// assignments, behind one Backend interface with a gorm/postgres
// implementation and an in-memory one.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/challenge-zone-backend/internal/assignment"
	"github.com/DoyleJ11/challenge-zone-backend/internal/challenge"
	"github.com/DoyleJ11/challenge-zone-backend/internal/types"
)

// ErrNotFound is returned for missing users and assignments. Missing
// challenges in the assignment protocol use assignment.ErrNotFound.
var ErrNotFound = errors.New("not found")

type Users interface {
	UserByID(ctx context.Context, id string) (types.User, error)
	// UserByUsername matches the username or, failing that, the email.
	UserByUsername(ctx context.Context, username string) (types.User, error)
	// UserForIdentity finds the user linked to a verified identity, creating
	// one on first login.
	UserForIdentity(ctx context.Context, id types.Identity) (types.User, error)
	ListUsers(ctx context.Context) ([]types.User, error)
}

type Challenges interface {
	Challenge(ctx context.Context, id string) (types.Challenge, error)
	ListChallenges(ctx context.Context) ([]types.Challenge, error)
	ApproveChallenge(ctx context.Context, id, approvedBy, suggestedFor string) error
	DenyChallenge(ctx context.Context, id, deniedBy string) error
}

type Dashboard interface {
	// Cards lists a user's active assignments, oldest first.
	Cards(ctx context.Context, userID string) ([]challenge.Card, error)
	// CompleteAssignment records an outcome on one of the user's open
	// assignments. ErrNotFound when there is no such open assignment.
	CompleteAssignment(ctx context.Context, userID, assignmentID string, outcome challenge.Outcome, at time.Time) error
	// MirrorHostCompletion upserts the host's own assignment for a
	// host-mode challenge.
	MirrorHostCompletion(ctx context.Context, hostUsername, challengeID string, outcome challenge.Outcome, at time.Time) error
	// Scoreboard ranks users by successful completions, best first.
	Scoreboard(ctx context.Context) ([]challenge.ScoreRow, error)
	UserCompletions(ctx context.Context, userID string) ([]challenge.Completion, error)
	ActiveCompletions(ctx context.Context) ([]challenge.Completion, error)
}

// Backend is the shared handle held by a session context.
type Backend interface {
	assignment.Store
	Users
	Challenges
	Dashboard
	Ping(ctx context.Context) error
}
