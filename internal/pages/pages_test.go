package pages

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/DoyleJ11/challenge-zone-backend/internal/assignment"
	"github.com/DoyleJ11/challenge-zone-backend/internal/bus"
	"github.com/DoyleJ11/challenge-zone-backend/internal/challenge"
	"github.com/DoyleJ11/challenge-zone-backend/internal/lifecycle"
	"github.com/DoyleJ11/challenge-zone-backend/internal/lifecycle/lifecycletest"
	"github.com/DoyleJ11/challenge-zone-backend/internal/session"
	"github.com/DoyleJ11/challenge-zone-backend/internal/store"
	"github.com/DoyleJ11/challenge-zone-backend/internal/types"
)

const wait = time.Second

// userIDs resolves a token that is the user id itself.
type userIDs struct{}

func (userIDs) Resolve(_ context.Context, token string) (string, error) { return token, nil }

type world struct {
	t       *testing.T
	mem     *store.Memory
	backend store.Backend
	loop    *lifecycletest.Loop
	sink    *lifecycletest.Sink
	bus     *bus.Bus
	sess    *session.Context
	flow    *session.Flow
	svc     *assignment.Service
	events  []bus.Event // appended on the loop

	brian, alice, bob, carol types.User
}

func newWorld(t *testing.T, wrap func(*store.Memory) store.Backend) *world {
	t.Helper()
	mem := store.NewMemory()
	var backend store.Backend = mem
	if wrap != nil {
		backend = wrap(mem)
	}
	b := bus.New(bus.Options{})
	sess := session.NewContext(backend)
	w := &world{
		t:       t,
		mem:     mem,
		backend: backend,
		loop:    lifecycletest.NewLoop(),
		sink:    &lifecycletest.Sink{},
		bus:     b,
		sess:    sess,
		flow:    session.NewFlow(sess, b, userIDs{}, []string{"brianc"}, nil),
		svc:     assignment.NewService(backend),
		brian:   mem.PutUser(types.User{Username: "brianc", DisplayName: "Brian"}),
		alice:   mem.PutUser(types.User{Username: "alice"}),
		bob:     mem.PutUser(types.User{Username: "bob"}),
		carol:   mem.PutUser(types.User{Username: "carol"}),
	}
	for _, typ := range []string{
		bus.TypeChallengeCompletedSuccess, bus.TypeChallengeCompletedError, bus.TypeUserStatsUpdated,
		bus.TypeAssignmentUpdated, bus.TypeAssignmentConflict, bus.TypeAppError, bus.TypeChallengeUpdated,
	} {
		b.Subscribe(typ, func(e bus.Event) { w.events = append(w.events, e) })
	}
	t.Cleanup(w.loop.Close)
	return w
}

func (w *world) cfg() Config {
	return Config{HostUsername: "brianc", Assignments: w.svc}
}

func (w *world) mount(page string, cfg Config, as types.User) lifecycle.Component {
	w.t.Helper()
	c, err := New(page, cfg, lifecycle.Deps{
		Bus:         w.bus,
		Session:     w.sess,
		Dispatcher:  w.loop,
		Renderer:    w.sink,
		Redirector:  w.sink,
		SessionWait: 10 * time.Millisecond,
	})
	require.NoError(w.t, err)
	w.loop.Do(func() {
		_, _ = w.flow.Start(context.Background(), as.ID)
		require.NoError(w.t, c.Attach(context.Background()))
	})
	return c
}

func (w *world) publish(e bus.Event) {
	w.loop.Do(func() { w.bus.Publish(e) })
}

func (w *world) waitFor(cond func() bool) {
	w.t.Helper()
	require.True(w.t, w.loop.Eventually(cond, wait), "condition not reached")
}

func (w *world) seen(eventType string) []bus.Event {
	var out []bus.Event
	w.loop.Do(func() {
		for _, e := range w.events {
			if e.EventType() == eventType {
				out = append(out, e)
			}
		}
	})
	return out
}

func (w *world) detach(c lifecycle.Component) {
	w.loop.Do(c.Detach)
	w.loop.Close()
}

// -----------------------------------------------------------------------------
// Dashboard
// -----------------------------------------------------------------------------

func TestDashboard_RevealCompleteAndMirror(t *testing.T) {
	defer goleak.VerifyNone(t)
	w := newWorld(t, nil)
	limbo := w.mem.PutChallenge(types.Challenge{Title: "Limbo", HostMode: "vs", ApprovalStatus: types.ApprovalApproved})
	karaoke := w.mem.PutChallenge(types.Challenge{Title: "Karaoke", ApprovalStatus: types.ApprovalApproved})
	first := w.mem.Assign(w.alice.ID, limbo.ID)
	second := w.mem.Assign(w.alice.ID, karaoke.ID)

	d := w.mount(Dashboard, w.cfg(), w.alice).(*DashboardPage)
	w.waitFor(func() bool { return len(d.cards.Cards) == 2 })

	w.loop.Do(func() {
		views := d.View().Cards
		assert.True(t, views[0].CanReveal)
		assert.Empty(t, views[0].Title, "hidden until revealed")
		assert.True(t, views[1].Locked)
	})

	// the second card is locked
	w.publish(bus.NewChallengeReveal(second, karaoke.ID))
	w.loop.Do(func() { assert.Empty(t, d.cards.Revealed) })

	w.publish(bus.NewChallengeReveal(first, limbo.ID))
	w.loop.Do(func() { assert.Equal(t, "Limbo", d.View().Cards[0].Title) })

	w.publish(bus.NewChallengeComplete(first, limbo.ID, string(challenge.OutcomeSuccess), ""))
	require.Len(t, w.seen(bus.TypeChallengeCompletedSuccess), 1)

	w.waitFor(func() bool { return d.stats.TotalCompleted == 1 })
	w.loop.Do(func() {
		assert.Equal(t, 2, d.stats.TotalAssigned)
		assert.Equal(t, 1, d.stats.Points)
		assert.True(t, d.View().Cards[1].CanReveal)
	})
	assert.NotEmpty(t, w.seen(bus.TypeUserStatsUpdated))

	// host plays against the player: a player success is a host failure
	hostCards, err := w.mem.Cards(context.Background(), w.brian.ID)
	require.NoError(t, err)
	require.Len(t, hostCards, 1)
	assert.True(t, hostCards[0].Completed)
	assert.Equal(t, challenge.OutcomeFailure, hostCards[0].Outcome)

	w.detach(d)
}

func TestDashboard_CompleteRejectedWhenNotRevealed(t *testing.T) {
	w := newWorld(t, nil)
	c := w.mem.PutChallenge(types.Challenge{Title: "Limbo"})
	id := w.mem.Assign(w.alice.ID, c.ID)

	d := w.mount(Dashboard, w.cfg(), w.alice).(*DashboardPage)
	w.waitFor(func() bool { return len(d.cards.Cards) == 1 })

	w.publish(bus.NewChallengeComplete(id, c.ID, "success", ""))
	errs := w.seen(bus.TypeChallengeCompletedError)
	require.Len(t, errs, 1)
	assert.Equal(t, challenge.ErrNotRevealed.Error(), errs[0].(bus.ChallengeCompletedEvent).Error)
	w.detach(d)
}

type failingCompletions struct{ *store.Memory }

func (failingCompletions) CompleteAssignment(context.Context, string, string, challenge.Outcome, time.Time) error {
	return errors.New("connection reset")
}

func TestDashboard_SaveFailureReloads(t *testing.T) {
	defer goleak.VerifyNone(t)
	w := newWorld(t, func(m *store.Memory) store.Backend { return failingCompletions{m} })
	c := w.mem.PutChallenge(types.Challenge{Title: "Limbo"})
	id := w.mem.Assign(w.alice.ID, c.ID)

	d := w.mount(Dashboard, w.cfg(), w.alice).(*DashboardPage)
	w.waitFor(func() bool { return len(d.cards.Cards) == 1 })

	w.publish(bus.NewChallengeReveal(id, c.ID))
	w.publish(bus.NewChallengeComplete(id, c.ID, "failure", ""))

	// optimistic success first, then the error and a reload that undoes it
	w.waitFor(func() bool { return len(w.seenLocked(bus.TypeChallengeCompletedError)) == 1 })
	assert.Len(t, w.seen(bus.TypeChallengeCompletedSuccess), 1)
	w.waitFor(func() bool { return !d.cards.Cards[0].Completed })
	w.detach(d)
}

// seenLocked is seen for use inside loop callbacks.
func (w *world) seenLocked(eventType string) []bus.Event {
	var out []bus.Event
	for _, e := range w.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestDashboard_DetachStopsReacting(t *testing.T) {
	defer goleak.VerifyNone(t)
	w := newWorld(t, nil)
	c := w.mem.PutChallenge(types.Challenge{Title: "Limbo"})
	id := w.mem.Assign(w.alice.ID, c.ID)

	cfg := w.cfg()
	cfg.EventStarted, cfg.AutoRefresh, cfg.RefreshInterval = true, true, 5*time.Millisecond
	d := w.mount(Dashboard, cfg, w.alice).(*DashboardPage)
	w.waitFor(func() bool { return len(d.cards.Cards) == 1 })

	w.loop.Do(d.Detach)
	renders := len(w.sink.Renders())
	w.publish(bus.NewChallengeReveal(id, c.ID))
	time.Sleep(30 * time.Millisecond)

	w.loop.Do(func() {
		assert.Empty(t, d.cards.Revealed)
		assert.Equal(t, 7, w.bus.SubscriptionCount(), "only the test's own subscriptions remain")
	})
	assert.Equal(t, renders, len(w.sink.Renders()))
	w.loop.Close()
}

func TestDashboard_UnauthenticatedRedirects(t *testing.T) {
	w := newWorld(t, nil)
	d := w.mount(Dashboard, w.cfg(), types.User{ID: "nobody"})
	w.waitFor(func() bool { return len(w.sink.Redirects()) == 1 })
	assert.Equal(t, []string{lifecycle.EntryPath}, w.sink.Redirects())
	assert.Empty(t, w.sink.Renders())
	w.detach(d)
}

// -----------------------------------------------------------------------------
// Leaderboard
// -----------------------------------------------------------------------------

func TestLeaderboard_RefreshAndEnrichment(t *testing.T) {
	defer goleak.VerifyNone(t)
	w := newWorld(t, nil)
	c := w.mem.PutChallenge(types.Challenge{Title: "Limbo"})
	id := w.mem.Assign(w.bob.ID, c.ID)

	cfg := w.cfg()
	cfg.EventStarted = true
	l := w.mount(Leaderboard, cfg, w.alice).(*LeaderboardPage)
	w.waitFor(func() bool { return len(l.rows) == 4 })

	require.NoError(t, w.mem.CompleteAssignment(context.Background(), w.bob.ID, id, challenge.OutcomeSuccess, time.Now()))
	w.publish(bus.NewLeaderboardRefresh())
	w.waitFor(func() bool { return len(l.rows) > 0 && l.rows[0].Points == 1 })

	w.loop.Do(func() {
		top := l.View().Rows[0]
		assert.Equal(t, "bob", top.Username)
		assert.Equal(t, 1, top.ChallengesCompleted)
	})
	w.detach(l)
}

func TestLeaderboard_NoEnrichmentBeforeStart(t *testing.T) {
	w := newWorld(t, nil)
	c := w.mem.PutChallenge(types.Challenge{Title: "Limbo"})
	id := w.mem.Assign(w.bob.ID, c.ID)
	require.NoError(t, w.mem.CompleteAssignment(context.Background(), w.bob.ID, id, challenge.OutcomeSuccess, time.Now()))

	l := w.mount(Leaderboard, w.cfg(), w.alice).(*LeaderboardPage)
	w.waitFor(func() bool { return len(l.rows) == 4 })
	w.loop.Do(func() { assert.Zero(t, l.rows[0].ChallengesCompleted) })
	w.detach(l)
}

// -----------------------------------------------------------------------------
// Admin approvals
// -----------------------------------------------------------------------------

func openEditor(w *world, a *AdminApprovalsPage, challengeID string, approve bool) {
	w.loop.Do(func() { a.editor = nil })
	w.publish(bus.NewAssignmentOpen(challengeID, approve))
	w.waitFor(func() bool { return a.editor != nil && a.editor.Challenge.ID == challengeID })
}

func TestAdmin_ConflictLeavesMembershipUnchanged(t *testing.T) {
	defer goleak.VerifyNone(t)
	w := newWorld(t, nil)
	c := w.mem.PutChallenge(types.Challenge{Title: "Limbo", ApprovalStatus: types.ApprovalApproved})
	w.mem.Assign(w.alice.ID, c.ID)

	a := w.mount(AdminApprovals, w.cfg(), w.brian).(*AdminApprovalsPage)
	openEditor(w, a, c.ID, false)

	// another admin adds bob first
	cur, err := w.svc.ReadCurrent(context.Background(), c.ID)
	require.NoError(t, err)
	_, err = w.svc.Replace(context.Background(), assignment.ReplaceRequest{
		ChallengeID: c.ID, MemberIDs: []string{w.alice.ID, w.bob.ID}, ExpectedVersion: cur.Version,
	})
	require.NoError(t, err)

	w.publish(bus.NewAssignmentSubmit(c.ID, []string{w.alice.ID, w.carol.ID}))
	w.waitFor(func() bool { return a.editor != nil && a.editor.Conflict })

	w.loop.Do(func() {
		assert.Equal(t, assignment.ConflictMessage, a.View().Editor.Error)
		require.Len(t, w.seenLocked(bus.TypeAssignmentConflict), 1)
		assert.Empty(t, w.seenLocked(bus.TypeAssignmentUpdated))
	})

	after, err := w.svc.ReadCurrent(context.Background(), c.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{w.alice.ID, w.bob.ID}, after.MemberIDs)
	w.detach(a)
}

func TestAdmin_ApprovePendingChallenge(t *testing.T) {
	defer goleak.VerifyNone(t)
	w := newWorld(t, nil)
	c := w.mem.PutChallenge(types.Challenge{Title: "Limbo", CreatedBy: w.alice.ID})

	a := w.mount(AdminApprovals, w.cfg(), w.brian).(*AdminApprovalsPage)
	w.waitFor(func() bool { return len(a.pending) == 1 })
	openEditor(w, a, c.ID, true)

	w.publish(bus.NewAssignmentSubmit(c.ID, []string{w.bob.ID}))
	w.waitFor(func() bool { return len(w.seenLocked(bus.TypeAssignmentUpdated)) == 1 })

	w.loop.Do(func() {
		upd := w.seenLocked(bus.TypeAssignmentUpdated)[0].(bus.AssignmentUpdatedEvent)
		assert.Equal(t, "Challenge approved and assigned to 1 new user!", upd.Message)
		assert.Equal(t, 1, upd.Created)
		assert.Nil(t, a.editor)
	})
	w.waitFor(func() bool { return len(a.approved) == 1 && len(a.pending) == 0 })

	got, err := w.mem.Challenge(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalApproved, got.ApprovalStatus)
	assert.Equal(t, w.brian.ID, got.ApprovedBy)
	assert.Equal(t, w.bob.ID, got.SuggestedFor)
	w.detach(a)
}

func TestAdmin_ApproveUsesNormalizedMember(t *testing.T) {
	defer goleak.VerifyNone(t)
	w := newWorld(t, nil)
	c := w.mem.PutChallenge(types.Challenge{Title: "Limbo", CreatedBy: w.alice.ID})

	a := w.mount(AdminApprovals, w.cfg(), w.brian).(*AdminApprovalsPage)
	w.waitFor(func() bool { return len(a.pending) == 1 })
	openEditor(w, a, c.ID, true)

	w.publish(bus.NewAssignmentSubmit(c.ID, []string{"  " + strings.ToUpper(w.bob.ID) + "\t"}))
	w.waitFor(func() bool { return len(w.seenLocked(bus.TypeAssignmentUpdated)) == 1 })

	got, err := w.mem.Challenge(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, w.bob.ID, got.SuggestedFor)
	cur, err := w.svc.ReadCurrent(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{w.bob.ID}, cur.MemberIDs)
	w.detach(a)
}

type failingApprovals struct{ *store.Memory }

func (failingApprovals) ApproveChallenge(context.Context, string, string, string) error {
	return errors.New("connection reset")
}

func TestAdmin_FailedApprovalKeepsMembership(t *testing.T) {
	defer goleak.VerifyNone(t)
	w := newWorld(t, func(m *store.Memory) store.Backend { return failingApprovals{m} })
	c := w.mem.PutChallenge(types.Challenge{Title: "Limbo", CreatedBy: w.alice.ID})

	a := w.mount(AdminApprovals, w.cfg(), w.brian).(*AdminApprovalsPage)
	w.waitFor(func() bool { return len(a.pending) == 1 })
	openEditor(w, a, c.ID, true)
	var version string
	w.loop.Do(func() { version = a.editor.Version })

	w.publish(bus.NewAssignmentSubmit(c.ID, []string{w.bob.ID}))
	w.waitFor(func() bool { return a.editor != nil && !a.editor.Busy && a.editor.Error != "" })

	w.loop.Do(func() {
		assert.Equal(t, MsgAssignFailed, a.editor.Error)
		assert.True(t, a.editor.Approval)
		assert.Empty(t, w.seenLocked(bus.TypeAssignmentUpdated))
	})
	cur, err := w.svc.ReadCurrent(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Empty(t, cur.MemberIDs)
	assert.Equal(t, version, cur.Version, "the open dialog must still hold the current version")
	got, err := w.mem.Challenge(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalPending, got.ApprovalStatus)
	w.detach(a)
}

func TestAdmin_ConflictAfterApproval(t *testing.T) {
	defer goleak.VerifyNone(t)
	w := newWorld(t, nil)
	c := w.mem.PutChallenge(types.Challenge{Title: "Limbo", CreatedBy: w.alice.ID})
	w.mem.Assign(w.alice.ID, c.ID)

	a := w.mount(AdminApprovals, w.cfg(), w.brian).(*AdminApprovalsPage)
	w.waitFor(func() bool { return len(a.pending) == 1 })
	openEditor(w, a, c.ID, true)

	cur, err := w.svc.ReadCurrent(context.Background(), c.ID)
	require.NoError(t, err)
	_, err = w.svc.Replace(context.Background(), assignment.ReplaceRequest{
		ChallengeID: c.ID, MemberIDs: []string{w.bob.ID}, ExpectedVersion: cur.Version,
	})
	require.NoError(t, err)

	w.publish(bus.NewAssignmentSubmit(c.ID, []string{w.carol.ID}))
	w.waitFor(func() bool { return a.editor != nil && a.editor.Conflict })

	w.loop.Do(func() {
		assert.Equal(t, assignment.ConflictMessage, a.editor.Error)
		assert.False(t, a.editor.Approval, "the challenge is approved now")
	})
	got, err := w.mem.Challenge(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalApproved, got.ApprovalStatus)
	w.waitFor(func() bool { return len(a.pending) == 0 })
	w.detach(a)
}

func TestAdmin_SubmitRejectedLocally(t *testing.T) {
	w := newWorld(t, nil)
	pending := w.mem.PutChallenge(types.Challenge{Title: "Pending"})
	approved := w.mem.PutChallenge(types.Challenge{Title: "Approved", ApprovalStatus: types.ApprovalApproved})
	w.mem.Assign(w.alice.ID, approved.ID)
	a := w.mount(AdminApprovals, w.cfg(), w.brian).(*AdminApprovalsPage)

	tests := []struct {
		name      string
		challenge string
		approve   bool
		members   []string
		want      string
	}{
		{"unchanged membership", approved.ID, false, []string{w.alice.ID}, MsgNoChanges},
		{"clearing an approved challenge", approved.ID, false, []string{}, MsgApprovedNeedsOne},
		{"approving with nobody", pending.ID, true, nil, MsgNoChanges},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			openEditor(w, a, tt.challenge, tt.approve)
			w.publish(bus.NewAssignmentSubmit(tt.challenge, tt.members))
			w.loop.Do(func() { assert.Equal(t, tt.want, a.editor.Error) })
		})
	}
	w.loop.Do(func() { assert.Empty(t, w.seenLocked(bus.TypeAssignmentUpdated)) })
	w.detach(a)
}

func TestAdmin_SubmitWithoutOpen(t *testing.T) {
	w := newWorld(t, nil)
	c := w.mem.PutChallenge(types.Challenge{Title: "Limbo"})
	a := w.mount(AdminApprovals, w.cfg(), w.brian).(*AdminApprovalsPage)
	w.waitFor(func() bool { return a.Phase() == lifecycle.Ready })

	w.publish(bus.NewAssignmentSubmit(c.ID, []string{w.bob.ID}))
	errs := w.seen(bus.TypeAppError)
	require.Len(t, errs, 1)
	assert.Equal(t, MsgOpenFirst, errs[0].(bus.AppErrorEvent).Error)
	w.detach(a)
}

func TestAdmin_Deny(t *testing.T) {
	w := newWorld(t, nil)
	c := w.mem.PutChallenge(types.Challenge{Title: "Limbo"})
	a := w.mount(AdminApprovals, w.cfg(), w.brian).(*AdminApprovalsPage)
	w.waitFor(func() bool { return len(a.pending) == 1 })

	w.publish(bus.NewChallengeDeny(c.ID))
	w.waitFor(func() bool { return len(a.pending) == 0 && a.notice != "" })

	got, err := w.mem.Challenge(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalDenied, got.ApprovalStatus)
	w.detach(a)
}

func TestAdmin_NonAdminRedirected(t *testing.T) {
	w := newWorld(t, nil)
	a := w.mount(AdminApprovals, w.cfg(), w.alice)
	w.waitFor(func() bool { return len(w.sink.Redirects()) == 1 })
	assert.Equal(t, []string{"/dashboard"}, w.sink.Redirects())
	assert.Len(t, w.seen(bus.TypeAppError), 1)
	w.detach(a)
}

func TestNew_UnknownPage(t *testing.T) {
	_, err := New("guestbook", Config{}, lifecycle.Deps{})
	assert.ErrorIs(t, err, ErrUnknownPage)
	assert.False(t, Known("guestbook"))
	assert.True(t, Known(Leaderboard))
}
