package pages

import (
	"context"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/challenge-zone-backend/internal/assignment"
	"github.com/DoyleJ11/challenge-zone-backend/internal/bus"
	"github.com/DoyleJ11/challenge-zone-backend/internal/lifecycle"
	"github.com/DoyleJ11/challenge-zone-backend/internal/session"
	"github.com/DoyleJ11/challenge-zone-backend/internal/store"
	"github.com/DoyleJ11/challenge-zone-backend/internal/types"
)

// Messages shown in the assignment dialog.
const (
	MsgNoChanges        = "No changes detected. Please check or uncheck users to modify assignments."
	MsgApprovedNeedsOne = "Approved challenges must have at least one user assigned."
	MsgApprovalNeedsOne = "Please select at least one user to assign this challenge to."
	MsgOpenFirst        = "Open the challenge before assigning users."
	MsgAssignFailed     = "Failed to update assignments. Please try again."
	MsgLoadUsersFailed  = "Failed to load users. Please try again."
	MsgLoadFailed       = "Error loading challenges. Please refresh the page."
	MsgAdminOnly        = "Admin access required."
	MsgNotFound         = "This challenge no longer exists."
)

// Editor is the open assignment dialog. Version is the membership version
// read when the dialog opened.
type Editor struct {
	Challenge types.Challenge `json:"challenge"`
	Approval  bool            `json:"approval"`
	MemberIDs []string        `json:"memberIds"`
	Version   string          `json:"version"`
	Error     string          `json:"error,omitempty"`
	Conflict  bool            `json:"conflict,omitempty"`
	Busy      bool            `json:"busy,omitempty"`
}

type UserOption struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

type AdminView struct {
	User     UserView          `json:"user"`
	Pending  []types.Challenge `json:"pending"`
	Approved []types.Challenge `json:"approved"`
	Users    []UserOption      `json:"users"`
	Editor   *Editor           `json:"editor,omitempty"`
	Notice   string            `json:"notice,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// AdminApprovalsPage lets admins approve or deny suggested challenges and
// replace who each challenge is assigned to.
type AdminApprovalsPage struct {
	*lifecycle.Base
	svc *assignment.Service

	sess     session.State
	pending  []types.Challenge
	approved []types.Challenge
	users    []UserOption
	editor   *Editor
	notice   string
	err      string
}

func NewAdminApprovals(cfg Config, deps lifecycle.Deps) *AdminApprovalsPage {
	return &AdminApprovalsPage{Base: lifecycle.NewBase(AdminApprovals, deps), svc: cfg.Assignments}
}

func (a *AdminApprovalsPage) Attach(ctx context.Context) error {
	first, err := a.Begin(ctx)
	if err != nil || !first {
		return err
	}
	a.Subscribe(bus.TypeAssignmentOpen, a.onOpen)
	a.Subscribe(bus.TypeAssignmentSubmit, a.onSubmit)
	a.Subscribe(bus.TypeChallengeDeny, a.onDeny)
	a.AwaitSession(func(st session.State) {
		if !st.IsAdmin {
			a.Publish(bus.NewAppError(MsgAdminOnly))
			a.Redirect("/" + Dashboard)
			return
		}
		a.sess = st
		a.render()
		a.MarkReady()
		a.load()
	})
	return nil
}

// View is a copy of the render model; it shares nothing mutable with the page.
func (a *AdminApprovalsPage) View() AdminView {
	v := AdminView{
		User:     userView(a.sess),
		Pending:  a.pending,
		Approved: a.approved,
		Users:    a.users,
		Notice:   a.notice,
		Error:    a.err,
	}
	if a.editor != nil {
		ed := *a.editor
		ed.MemberIDs = slices.Clone(ed.MemberIDs)
		v.Editor = &ed
	}
	return v
}

func (a *AdminApprovalsPage) render() { a.Render(a.View()) }

func (a *AdminApprovalsPage) admin() bool {
	return a.sess.Authenticated && a.sess.IsAdmin
}

func (a *AdminApprovalsPage) load() {
	backend := a.sess.Backend
	a.Async(func(ctx context.Context) func() {
		var (
			challenges []types.Challenge
			users      []types.User
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			challenges, err = backend.ListChallenges(gctx)
			return err
		})
		g.Go(func() error {
			var err error
			users, err = backend.ListUsers(gctx)
			return err
		})
		err := g.Wait()
		return func() {
			if err != nil {
				a.Logger().Warn("load challenges", zap.Error(err))
				a.err = MsgLoadFailed
				a.render()
				return
			}
			a.err = ""
			a.pending, a.approved = splitByStatus(challenges)
			a.users = userOptions(users)
			a.render()
		}
	})
}

func splitByStatus(all []types.Challenge) (pending, approved []types.Challenge) {
	for _, c := range all {
		switch c.ApprovalStatus {
		case types.ApprovalPending:
			pending = append(pending, c)
		case types.ApprovalApproved:
			approved = append(approved, c)
		}
	}
	return pending, approved
}

func userOptions(users []types.User) []UserOption {
	out := make([]UserOption, 0, len(users))
	for _, u := range users {
		out = append(out, UserOption{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName})
	}
	return out
}

// onOpen reads the current membership and remembers its version for the
// submit that follows.
func (a *AdminApprovalsPage) onOpen(e bus.Event) {
	ev, ok := e.(bus.AssignmentOpenEvent)
	if !ok || !a.admin() {
		return
	}
	backend, svc := a.sess.Backend, a.svc
	a.Async(func(ctx context.Context) func() {
		ch, err := backend.Challenge(ctx, ev.ChallengeID)
		var snap assignment.Snapshot
		if err == nil {
			snap, err = svc.ReadCurrent(ctx, ev.ChallengeID)
		}
		return func() {
			if err != nil {
				a.Logger().Warn("open assignments", zap.String("challenge_id", ev.ChallengeID), zap.Error(err))
				a.editor = nil
				a.err = MsgLoadUsersFailed
				if assignment.IsNotFound(err) {
					a.err = MsgNotFound
				}
				a.render()
				return
			}
			a.err = ""
			a.editor = &Editor{
				Challenge: ch,
				Approval:  ev.Approve && ch.ApprovalStatus == types.ApprovalPending,
				MemberIDs: snap.MemberIDs,
				Version:   snap.Version,
			}
			a.render()
		}
	})
}

// onSubmit approves a pending challenge and then replaces the membership
// against the version read at open. A conflict is reported as such and
// the dialog keeps the stale version, so the admin has to reopen it.
func (a *AdminApprovalsPage) onSubmit(e bus.Event) {
	ev, ok := e.(bus.AssignmentSubmitEvent)
	if !ok || !a.admin() {
		return
	}
	ed := a.editor
	if ed == nil || ed.Challenge.ID != ev.ChallengeID {
		a.Publish(bus.NewAppError(MsgOpenFirst))
		return
	}
	if ed.Busy {
		return
	}
	ed.Error = ""

	if assignment.SameMembers(ev.MemberIDs, ed.MemberIDs) {
		ed.Error = MsgNoChanges
		a.render()
		return
	}
	if len(ev.MemberIDs) == 0 {
		ed.Error = MsgApprovedNeedsOne
		if ed.Approval {
			ed.Error = MsgApprovalNeedsOne
		}
		a.render()
		return
	}
	members, err := assignment.NormalizeMembers(ev.MemberIDs)
	if err != nil {
		ed.Error = err.Error()
		a.render()
		return
	}

	ed.Busy = true
	a.render()

	req := assignment.ReplaceRequest{
		ChallengeID:     ev.ChallengeID,
		MemberIDs:       members,
		ExpectedVersion: ed.Version,
		UpdatedBy:       a.sess.UserID,
	}
	approval := ed.Approval
	backend, svc := a.sess.Backend, a.svc
	a.Async(func(ctx context.Context) func() {
		var approved bool
		if approval {
			if err := approve(ctx, backend, req); err != nil {
				return func() { a.finishSubmit(ed, approval, false, assignment.Result{}, err) }
			}
			approved = true
		}
		res, err := svc.Replace(ctx, req)
		return func() { a.finishSubmit(ed, approval, approved, res, err) }
	})
}

// approve suggests the challenge for the first normalized member.
func approve(ctx context.Context, backend store.Backend, req assignment.ReplaceRequest) error {
	if err := backend.ApproveChallenge(ctx, req.ChallengeID, req.UpdatedBy, req.MemberIDs[0]); err != nil {
		return &assignment.BackendError{Op: "approve challenge", Err: err}
	}
	return nil
}

func (a *AdminApprovalsPage) finishSubmit(ed *Editor, approval, approved bool, res assignment.Result, err error) {
	ed.Busy = false
	if err != nil && approved {
		// The approval stuck even though the membership did not change.
		ed.Approval = false
		ed.Challenge.ApprovalStatus = types.ApprovalApproved
		a.Publish(bus.NewChallengeUpdated(ed.Challenge.ID))
		a.load()
	}
	switch {
	case err == nil:
		c := assignment.CountOperations(res.Operations)
		msg := assignment.Summary(approval, res.Operations, len(res.Current.MemberIDs))
		a.editor = nil
		a.notice = msg
		a.Publish(bus.NewAssignmentUpdated(ed.Challenge.ID, res.Current.Version, c.Created, c.Reactivated, c.Deactivated, msg))
		a.Publish(bus.NewChallengeUpdated(ed.Challenge.ID))
		a.load()
	case assignment.IsConflict(err):
		ed.Conflict = true
		ed.Error = assignment.ConflictMessage
		a.Publish(bus.NewAssignmentConflict(ed.Challenge.ID, assignment.ConflictMessage))
	case assignment.IsValidation(err):
		ed.Error = err.Error()
	case assignment.IsNotFound(err):
		ed.Error = MsgNotFound
	default:
		a.Logger().Warn("submit assignments", zap.String("challenge_id", ed.Challenge.ID), zap.Error(err))
		ed.Error = MsgAssignFailed
	}
	a.render()
}

func (a *AdminApprovalsPage) onDeny(e bus.Event) {
	ev, ok := e.(bus.ChallengeDenyEvent)
	if !ok || !a.admin() {
		return
	}
	backend, adminID := a.sess.Backend, a.sess.UserID
	a.Async(func(ctx context.Context) func() {
		err := backend.DenyChallenge(ctx, ev.ChallengeID, adminID)
		return func() {
			if err != nil {
				a.Logger().Warn("deny challenge", zap.String("challenge_id", ev.ChallengeID), zap.Error(err))
				a.err = "Failed to deny challenge: " + err.Error()
				a.render()
				return
			}
			a.notice = "Challenge denied successfully."
			a.Publish(bus.NewChallengeUpdated(ev.ChallengeID))
			a.load()
		}
	})
}
