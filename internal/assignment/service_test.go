package assignment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/challenge-zone-backend/internal/assignment"
	"github.com/DoyleJ11/challenge-zone-backend/internal/store"
	"github.com/DoyleJ11/challenge-zone-backend/internal/types"
)

type world struct {
	mem                      *store.Memory
	svc                      *assignment.Service
	alice, bob, carol, admin types.User
	challengeID              string
}

func newWorld() world {
	mem := store.NewMemory()
	w := world{
		mem:   mem,
		svc:   assignment.NewService(mem, assignment.WithTimeout(time.Second)),
		alice: mem.PutUser(types.User{Username: "alice"}),
		bob:   mem.PutUser(types.User{Username: "bob"}),
		carol: mem.PutUser(types.User{Username: "carol"}),
		admin: mem.PutUser(types.User{Username: "admin"}),
	}
	w.challengeID = mem.PutChallenge(types.Challenge{Title: "Limbo"}).ID
	return w
}

func TestReplace_ConcurrentAdminsScenario(t *testing.T) {
	w := newWorld()
	ctx := context.Background()
	w.mem.Assign(w.alice.ID, w.challengeID)

	// Admin A reads {alice} at v0.
	seenByA, err := w.svc.ReadCurrent(ctx, w.challengeID)
	require.NoError(t, err)
	assert.Equal(t, []string{w.alice.ID}, seenByA.MemberIDs)

	// Admin B adds bob, producing v1.
	seenByB, err := w.svc.ReadCurrent(ctx, w.challengeID)
	require.NoError(t, err)
	resB, err := w.svc.Replace(ctx, assignment.ReplaceRequest{
		ChallengeID:     w.challengeID,
		MemberIDs:       []string{w.alice.ID, w.bob.ID},
		ExpectedVersion: seenByB.Version,
		UpdatedBy:       w.admin.ID,
	})
	require.NoError(t, err)
	assert.NotEqual(t, seenByA.Version, resB.Current.Version)

	// Admin A submits {alice, carol} against v0 and must be rejected.
	_, err = w.svc.Replace(ctx, assignment.ReplaceRequest{
		ChallengeID:     w.challengeID,
		MemberIDs:       []string{w.alice.ID, w.carol.ID},
		ExpectedVersion: seenByA.Version,
		UpdatedBy:       w.admin.ID,
	})
	var conflict *assignment.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.True(t, assignment.IsConflict(err))
	assert.Equal(t, seenByA.Version, conflict.Expected)
	assert.Equal(t, resB.Current.Version, conflict.Actual)

	current, err := w.svc.ReadCurrent(ctx, w.challengeID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{w.alice.ID, w.bob.ID}, current.MemberIDs)
	assert.Equal(t, resB.Current.Version, current.Version)

	// Retrying with the fresh version succeeds and sets exactly the new members.
	res, err := w.svc.Replace(ctx, assignment.ReplaceRequest{
		ChallengeID:     w.challengeID,
		MemberIDs:       []string{w.alice.ID, w.carol.ID},
		ExpectedVersion: current.Version,
		UpdatedBy:       w.admin.ID,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{w.alice.ID, w.carol.ID}, res.Current.MemberIDs)
	assert.Equal(t, assignment.Counts{Created: 1, Deactivated: 1}, assignment.CountOperations(res.Operations))
}

func TestReplace_WithoutExpectedVersionSkipsCheck(t *testing.T) {
	w := newWorld()
	ctx := context.Background()
	w.mem.Assign(w.alice.ID, w.challengeID)

	res, err := w.svc.Replace(ctx, assignment.ReplaceRequest{ChallengeID: w.challengeID, MemberIDs: []string{w.bob.ID}})
	require.NoError(t, err)
	assert.Equal(t, []string{w.bob.ID}, res.Current.MemberIDs)
}

func TestReplace_Validation(t *testing.T) {
	w := newWorld()
	ctx := context.Background()
	w.mem.Assign(w.alice.ID, w.challengeID)
	before, err := w.svc.ReadCurrent(ctx, w.challengeID)
	require.NoError(t, err)

	tests := []struct {
		name string
		req  assignment.ReplaceRequest
	}{
		{"empty membership", assignment.ReplaceRequest{ChallengeID: w.challengeID}},
		{"malformed id", assignment.ReplaceRequest{ChallengeID: w.challengeID, MemberIDs: []string{"alice"}}},
		{"missing challenge id", assignment.ReplaceRequest{MemberIDs: []string{w.bob.ID}}},
		{"unknown user", assignment.ReplaceRequest{ChallengeID: w.challengeID, MemberIDs: []string{"6a1f2a9e-0000-4000-8000-000000000000"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := w.svc.Replace(ctx, tt.req)
			assert.ErrorIs(t, err, assignment.ErrValidation)
			var verr *assignment.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}

	after, err := w.svc.ReadCurrent(ctx, w.challengeID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReplace_NotFound(t *testing.T) {
	w := newWorld()
	_, err := w.svc.Replace(context.Background(), assignment.ReplaceRequest{
		ChallengeID:     "missing",
		MemberIDs:       []string{w.alice.ID},
		ExpectedVersion: "abc",
	})
	assert.True(t, assignment.IsNotFound(err))
	assert.False(t, assignment.IsBackend(err))
}

type brokenStore struct{ err error }

func (b brokenStore) ActiveMembers(context.Context, string) ([]assignment.Member, error) {
	return nil, b.err
}

func (b brokenStore) ReplaceMembers(context.Context, string, []string, string, string) ([]assignment.Operation, error) {
	return nil, b.err
}

func TestReplace_BackendErrorsAreWrapped(t *testing.T) {
	cause := errors.New("connection refused")
	svc := assignment.NewService(brokenStore{err: cause})

	_, err := svc.Replace(context.Background(), assignment.ReplaceRequest{
		ChallengeID: "c1",
		MemberIDs:   []string{"6a1f2a9e-0000-4000-8000-000000000000"},
	})
	require.Error(t, err)
	assert.True(t, assignment.IsBackend(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, assignment.IsConflict(err))

	var berr *assignment.BackendError
	require.ErrorAs(t, err, &berr)
	assert.True(t, berr.Retryable())

	_, err = svc.ReadCurrent(context.Background(), "c1")
	assert.True(t, assignment.IsBackend(err))
}

func TestNormalizeMembers(t *testing.T) {
	id := "6A1F2A9E-0000-4000-8000-000000000000"
	out, err := assignment.NormalizeMembers([]string{id, " 6a1f2a9e-0000-4000-8000-000000000000 "})
	require.NoError(t, err)
	assert.Equal(t, []string{"6a1f2a9e-0000-4000-8000-000000000000"}, out)
}

func TestSameMembers(t *testing.T) {
	assert.True(t, assignment.SameMembers([]string{"a", "b"}, []string{"b", "a", "a"}))
	assert.False(t, assignment.SameMembers([]string{"a"}, []string{"a", "b"}))
	assert.True(t, assignment.SameMembers(nil, []string{}))
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name     string
		approved bool
		ops      []assignment.Operation
		members  int
		want     string
	}{
		{
			name:     "approval with new users",
			approved: true,
			ops:      []assignment.Operation{{Kind: assignment.OpCreated}, {Kind: assignment.OpCreated}},
			want:     "Challenge approved and assigned to 2 new users!",
		},
		{
			name: "mixed update",
			ops: []assignment.Operation{
				{Kind: assignment.OpCreated},
				{Kind: assignment.OpReactivated},
				{Kind: assignment.OpDeactivated},
				{Kind: assignment.OpDeactivated},
			},
			want: "Challenge assignments updated - assigned to 1 new user and reactivated 1 user and unassigned 2 users!",
		},
		{
			name:    "no operations",
			members: 1,
			want:    "Challenge assignments updated - assigned to 1 user!",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, assignment.Summary(tt.approved, tt.ops, tt.members))
		})
	}
}
