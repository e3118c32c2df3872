// Package assignment replaces the full user membership of a challenge
// under optimistic concurrency.
//
// ReadCurrent returns the active members and a version derived from their
// ids and update times. Replace takes the version the caller last read;
// when the stored membership has moved on it fails with a *ConflictError
// and changes nothing. The caller must re-read and confirm with the user
// before trying again: there is no automatic merge or retry.
//
// The pre-check in Replace runs before the store call, so on its own it
// leaves a window between the read and the write. Store implementations
// close that window by re-checking the expected version inside the
// replacing transaction.
package assignment

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/challenge-zone-backend/internal/metrics"
)

type OpKind string

const (
	OpCreated     OpKind = "created"
	OpReactivated OpKind = "reactivated"
	OpDeactivated OpKind = "deactivated"
)

// Operation is one per-user change made by a replacement.
type Operation struct {
	UserID string `json:"userId"`
	Kind   OpKind `json:"operation"`
}

// Snapshot is the membership of one challenge at one version.
type Snapshot struct {
	ChallengeID string   `json:"challengeId"`
	MemberIDs   []string `json:"memberIds"`
	Version     string   `json:"version"`
}

// Store is the backing collaborator.
type Store interface {
	// ActiveMembers lists the active assignments of a challenge. It returns
	// ErrNotFound when the challenge does not exist.
	ActiveMembers(ctx context.Context, challengeID string) ([]Member, error)

	// ReplaceMembers makes userIDs the exact active membership in one
	// all-or-nothing step. When expectedVersion is non-empty the store
	// re-checks it against the rows it is about to change and returns a
	// *ConflictError on mismatch without writing anything.
	ReplaceMembers(ctx context.Context, challengeID string, userIDs []string, updatedBy, expectedVersion string) ([]Operation, error)
}

// ReplaceRequest asks for a new full membership.
type ReplaceRequest struct {
	ChallengeID string
	MemberIDs   []string
	// ExpectedVersion is the version the caller read. Empty skips the
	// version check.
	ExpectedVersion string
	UpdatedBy       string
}

// Result is what a successful replacement did and the membership after it.
type Result struct {
	Operations []Operation `json:"operations"`
	Current    Snapshot    `json:"current"`
}

type Service struct {
	store   Store
	log     *zap.Logger
	timeout time.Duration
}

type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTimeout bounds every store call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// ReadCurrent fetches the active membership and its version.
func (s *Service) ReadCurrent(ctx context.Context, challengeID string) (Snapshot, error) {
	if strings.TrimSpace(challengeID) == "" {
		return Snapshot{}, &ValidationError{Field: "challengeId", Reason: "required"}
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	members, err := s.store.ActiveMembers(ctx, challengeID)
	if err != nil {
		return Snapshot{}, backendErr("read assignments", err)
	}
	return snapshotOf(challengeID, members), nil
}

// Replace makes req.MemberIDs the exact membership of the challenge.
func (s *Service) Replace(ctx context.Context, req ReplaceRequest) (Result, error) {
	res, err := s.replace(ctx, req)
	metrics.AssignmentReplacements.WithLabelValues(outcomeLabel(err)).Inc()
	if err != nil {
		log := s.log.With(zap.String("challenge_id", req.ChallengeID), zap.Error(err))
		switch {
		case IsConflict(err):
			log.Info("assignment replace rejected: version conflict")
		case IsValidation(err), IsNotFound(err):
			log.Debug("assignment replace rejected")
		default:
			log.Warn("assignment replace failed")
		}
		return Result{}, err
	}
	s.log.Info("assignments replaced",
		zap.String("challenge_id", req.ChallengeID),
		zap.Int("members", len(res.Current.MemberIDs)),
		zap.Int("operations", len(res.Operations)),
	)
	return res, nil
}

func (s *Service) replace(ctx context.Context, req ReplaceRequest) (Result, error) {
	if strings.TrimSpace(req.ChallengeID) == "" {
		return Result{}, &ValidationError{Field: "challengeId", Reason: "required"}
	}
	ids, err := NormalizeMembers(req.MemberIDs)
	if err != nil {
		return Result{}, err
	}

	if req.ExpectedVersion != "" {
		current, err := s.ReadCurrent(ctx, req.ChallengeID)
		if err != nil {
			return Result{}, err
		}
		if current.Version != req.ExpectedVersion {
			return Result{}, &ConflictError{ChallengeID: req.ChallengeID, Expected: req.ExpectedVersion, Actual: current.Version}
		}
	}

	wctx, cancel := s.withTimeout(ctx)
	ops, err := s.store.ReplaceMembers(wctx, req.ChallengeID, ids, req.UpdatedBy, req.ExpectedVersion)
	cancel()
	if err != nil {
		return Result{}, backendErr("replace assignments", err)
	}

	current, err := s.ReadCurrent(ctx, req.ChallengeID)
	if err != nil {
		return Result{}, err
	}
	return Result{Operations: ops, Current: current}, nil
}

// NormalizeMembers validates a requested membership: it must be non-empty
// and every id must be a UUID. Ids are canonicalised and de-duplicated,
// keeping first-seen order. Clearing a challenge's membership is not
// supported by a replacement.
func NormalizeMembers(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, &ValidationError{Field: "memberIds", Reason: "at least one user must be assigned"}
	}
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, &ValidationError{Field: "memberIds", Reason: fmt.Sprintf("malformed user id %q", raw)}
		}
		key := id.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out, nil
}

// SameMembers reports whether a and b hold the same ids, ignoring order
// and duplicates.
func SameMembers(a, b []string) bool {
	as, bs := dedupeSorted(a), dedupeSorted(b)
	return slices.Equal(as, bs)
}

func dedupeSorted(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

func snapshotOf(challengeID string, members []Member) Snapshot {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	slices.Sort(ids)
	return Snapshot{ChallengeID: challengeID, MemberIDs: ids, Version: Version(members)}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsConflict(err):
		return "conflict"
	case IsValidation(err):
		return "invalid"
	case IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}
