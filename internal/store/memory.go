package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DoyleJ11/challenge-zone-backend/internal/assignment"
	"github.com/DoyleJ11/challenge-zone-backend/internal/challenge"
	"github.com/DoyleJ11/challenge-zone-backend/internal/types"
)

type memAssignment struct {
	ID          string
	UserID      string
	ChallengeID string
	Active      bool
	AssignedAt  time.Time
	CompletedAt *time.Time
	Outcome     challenge.Outcome
	UpdatedBy   string
	UpdatedAt   time.Time
}

// Memory is a Backend kept in process memory. Every method holds one
// mutex, so each call is atomic.
type Memory struct {
	mu          sync.Mutex
	users       map[string]types.User
	identities  map[string]string // identity uid -> user id
	challenges  map[string]types.Challenge
	assignments []*memAssignment
	now         func() time.Time
	last        time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:      make(map[string]types.User),
		identities: make(map[string]string),
		challenges: make(map[string]types.Challenge),
		now:        time.Now,
	}
}

// tick returns a timestamp strictly after the previous one so that every
// write moves the membership version.
func (m *Memory) tick() time.Time {
	t := m.now().UTC()
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}

func (m *Memory) Ping(context.Context) error { return nil }

// PutUser inserts or replaces a user. An empty ID gets a new UUID.
func (m *Memory) PutUser(u types.User) types.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	m.users[u.ID] = u
	return u
}

// PutChallenge inserts or replaces a challenge. An empty ID gets a new UUID.
func (m *Memory) PutChallenge(c types.Challenge) types.Challenge {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.ApprovalStatus == "" {
		c.ApprovalStatus = types.ApprovalPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.tick()
	}
	m.challenges[c.ID] = c
	return c
}

// Assign adds an active assignment and returns its id.
func (m *Memory) Assign(userID, challengeID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	a := &memAssignment{
		ID:          uuid.NewString(),
		UserID:      userID,
		ChallengeID: challengeID,
		Active:      true,
		AssignedAt:  now,
		UpdatedAt:   now,
	}
	m.assignments = append(m.assignments, a)
	return a.ID
}

func (m *Memory) UserByID(_ context.Context, id string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return types.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, nil
}

func (m *Memory) UserByUsername(_ context.Context, username string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, username) || (u.Email != "" && strings.EqualFold(u.Email, username)) {
			return u, nil
		}
	}
	return types.User{}, fmt.Errorf("user %q: %w", username, ErrNotFound)
}

func (m *Memory) UserForIdentity(_ context.Context, id types.Identity) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uid, ok := m.identities[id.UID]; ok {
		if u, ok := m.users[uid]; ok {
			return u, nil
		}
	}
	u := newIdentityUser(id)
	m.users[u.ID] = u
	m.identities[id.UID] = u.ID
	return u, nil
}

func (m *Memory) ListUsers(context.Context) ([]types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b types.User) int { return cmp.Compare(a.Username, b.Username) })
	return out, nil
}

func (m *Memory) Challenge(_ context.Context, id string) (types.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[id]
	if !ok {
		return types.Challenge{}, fmt.Errorf("challenge %s: %w", id, assignment.ErrNotFound)
	}
	return c, nil
}

func (m *Memory) ListChallenges(context.Context) ([]types.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Challenge, 0, len(m.challenges))
	for _, c := range m.challenges {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b types.Challenge) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (m *Memory) ApproveChallenge(_ context.Context, id, approvedBy, suggestedFor string) error {
	return m.setStatus(id, types.ApprovalApproved, approvedBy, suggestedFor)
}

func (m *Memory) DenyChallenge(_ context.Context, id, deniedBy string) error {
	return m.setStatus(id, types.ApprovalDenied, deniedBy, "")
}

func (m *Memory) setStatus(id string, status types.ApprovalStatus, by, suggestedFor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[id]
	if !ok {
		return fmt.Errorf("challenge %s: %w", id, assignment.ErrNotFound)
	}
	now := m.tick()
	c.ApprovalStatus = status
	c.ApprovedBy = by
	c.ApprovedAt = &now
	if suggestedFor != "" {
		c.SuggestedFor = suggestedFor
	}
	m.challenges[id] = c
	return nil
}

func (m *Memory) ActiveMembers(_ context.Context, challengeID string) ([]assignment.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.challenges[challengeID]; !ok {
		return nil, fmt.Errorf("challenge %s: %w", challengeID, assignment.ErrNotFound)
	}
	return m.activeMembers(challengeID), nil
}

func (m *Memory) activeMembers(challengeID string) []assignment.Member {
	var out []assignment.Member
	for _, a := range m.assignments {
		if a.ChallengeID == challengeID && a.Active {
			out = append(out, assignment.Member{UserID: a.UserID, UpdatedAt: a.UpdatedAt})
		}
	}
	return out
}

func (m *Memory) ReplaceMembers(_ context.Context, challengeID string, userIDs []string, updatedBy, expectedVersion string) ([]assignment.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.challenges[challengeID]; !ok {
		return nil, fmt.Errorf("challenge %s: %w", challengeID, assignment.ErrNotFound)
	}
	if expectedVersion != "" {
		if actual := assignment.Version(m.activeMembers(challengeID)); actual != expectedVersion {
			return nil, &assignment.ConflictError{ChallengeID: challengeID, Expected: expectedVersion, Actual: actual}
		}
	}
	for _, id := range userIDs {
		if _, ok := m.users[id]; !ok {
			return nil, &assignment.ValidationError{Field: "memberIds", Reason: fmt.Sprintf("unknown user %s", id)}
		}
	}

	// All checks passed; nothing below can fail.
	now := m.tick()
	existing := make(map[string]*memAssignment)
	for _, a := range m.assignments {
		if a.ChallengeID == challengeID {
			existing[a.UserID] = a
		}
	}
	want := make(map[string]bool, len(userIDs))
	var ops []assignment.Operation
	for _, id := range userIDs {
		want[id] = true
		a, ok := existing[id]
		switch {
		case !ok:
			m.assignments = append(m.assignments, &memAssignment{
				ID:          uuid.NewString(),
				UserID:      id,
				ChallengeID: challengeID,
				Active:      true,
				AssignedAt:  now,
				UpdatedBy:   updatedBy,
				UpdatedAt:   now,
			})
			ops = append(ops, assignment.Operation{UserID: id, Kind: assignment.OpCreated})
		case !a.Active:
			a.Active = true
			a.UpdatedBy = updatedBy
			a.UpdatedAt = now
			ops = append(ops, assignment.Operation{UserID: id, Kind: assignment.OpReactivated})
		}
	}
	for _, a := range m.assignments {
		if a.ChallengeID == challengeID && a.Active && !want[a.UserID] {
			a.Active = false
			a.UpdatedBy = updatedBy
			a.UpdatedAt = now
			ops = append(ops, assignment.Operation{UserID: a.UserID, Kind: assignment.OpDeactivated})
		}
	}
	return ops, nil
}

func (m *Memory) Cards(_ context.Context, userID string) ([]challenge.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []*memAssignment
	for _, a := range m.assignments {
		if a.UserID == userID && a.Active {
			rows = append(rows, a)
		}
	}
	slices.SortStableFunc(rows, func(a, b *memAssignment) int { return a.AssignedAt.Compare(b.AssignedAt) })

	cards := make([]challenge.Card, 0, len(rows))
	for _, a := range rows {
		c := m.challenges[a.ChallengeID]
		cards = append(cards, challenge.Card{
			AssignmentID:  a.ID,
			ChallengeID:   a.ChallengeID,
			Title:         c.Title,
			Description:   c.Description,
			SuccessMetric: c.SuccessMetric,
			HostMode:      challenge.HostMode(c.HostMode),
			Completed:     a.CompletedAt != nil,
			Outcome:       a.Outcome,
		})
	}
	return cards, nil
}

func (m *Memory) CompleteAssignment(_ context.Context, userID, assignmentID string, outcome challenge.Outcome, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments {
		if a.ID == assignmentID && a.UserID == userID && a.CompletedAt == nil {
			at := at.UTC()
			a.CompletedAt = &at
			a.Outcome = outcome
			a.UpdatedAt = m.tick()
			return nil
		}
	}
	return fmt.Errorf("open assignment %s: %w", assignmentID, ErrNotFound)
}

func (m *Memory) MirrorHostCompletion(_ context.Context, hostUsername, challengeID string, outcome challenge.Outcome, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var host *types.User
	for _, u := range m.users {
		if u.Username == hostUsername {
			host = &u
			break
		}
	}
	if host == nil {
		return fmt.Errorf("host %q: %w", hostUsername, ErrNotFound)
	}

	at = at.UTC()
	now := m.tick()
	for _, a := range m.assignments {
		if a.UserID == host.ID && a.ChallengeID == challengeID {
			a.CompletedAt = &at
			a.Outcome = outcome
			a.Active = true
			a.UpdatedAt = now
			return nil
		}
	}
	m.assignments = append(m.assignments, &memAssignment{
		ID:          uuid.NewString(),
		UserID:      host.ID,
		ChallengeID: challengeID,
		Active:      true,
		AssignedAt:  now,
		CompletedAt: &at,
		Outcome:     outcome,
		UpdatedAt:   now,
	})
	return nil
}

func (m *Memory) Scoreboard(context.Context) ([]challenge.ScoreRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	points := make(map[string]int)
	for _, a := range m.assignments {
		if a.Active && a.CompletedAt != nil && a.Outcome == challenge.OutcomeSuccess {
			points[a.UserID]++
		}
	}
	rows := make([]challenge.ScoreRow, 0, len(m.users))
	for _, u := range m.users {
		rows = append(rows, challenge.ScoreRow{UserID: u.ID, Username: u.Username, DisplayName: u.DisplayName, Points: points[u.ID]})
	}
	slices.SortFunc(rows, func(a, b challenge.ScoreRow) int {
		if c := cmp.Compare(b.Points, a.Points); c != 0 {
			return c
		}
		return cmp.Compare(a.Username, b.Username)
	})
	return rows, nil
}

func (m *Memory) UserCompletions(_ context.Context, userID string) ([]challenge.Completion, error) {
	return m.completions(func(a *memAssignment) bool { return a.UserID == userID }), nil
}

func (m *Memory) ActiveCompletions(context.Context) ([]challenge.Completion, error) {
	return m.completions(func(*memAssignment) bool { return true }), nil
}

func (m *Memory) completions(keep func(*memAssignment) bool) []challenge.Completion {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []challenge.Completion
	for _, a := range m.assignments {
		if a.Active && keep(a) {
			out = append(out, challenge.Completion{UserID: a.UserID, Completed: a.CompletedAt != nil, Outcome: a.Outcome})
		}
	}
	return out
}

// newIdentityUser builds the profile created on first identity login.
func newIdentityUser(id types.Identity) types.User {
	name := strings.TrimSpace(id.Name)
	if name == "" {
		name = id.Phone
	}
	username := id.Phone
	if username == "" {
		username = id.Email
	}
	if username == "" {
		username = id.UID
	}
	return types.User{
		ID:          uuid.NewString(),
		Username:    username,
		DisplayName: name,
		Phone:       id.Phone,
		Email:       id.Email,
	}
}

var _ Backend = (*Memory)(nil)
