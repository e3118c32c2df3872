package pages

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/challenge-zone-backend/internal/bus"
	"github.com/DoyleJ11/challenge-zone-backend/internal/challenge"
	"github.com/DoyleJ11/challenge-zone-backend/internal/lifecycle"
	"github.com/DoyleJ11/challenge-zone-backend/internal/session"
	"github.com/DoyleJ11/challenge-zone-backend/internal/store"
)

type DashboardView struct {
	User         UserView             `json:"user"`
	Stats        challenge.Stats      `json:"stats"`
	Cards        []challenge.CardView `json:"cards"`
	Loading      bool                 `json:"loading"`
	EventStarted bool                 `json:"eventStarted"`
	Error        string               `json:"error,omitempty"`
}

// DashboardPage shows the player's challenge cards and personal stats.
type DashboardPage struct {
	*lifecycle.Base
	cfg Config

	sess    session.State
	cards   challenge.State
	stats   challenge.Stats
	loading bool
	err     string
}

func NewDashboard(cfg Config, deps lifecycle.Deps) *DashboardPage {
	return &DashboardPage{Base: lifecycle.NewBase(Dashboard, deps), cfg: cfg}
}

func (d *DashboardPage) Attach(ctx context.Context) error {
	first, err := d.Begin(ctx)
	if err != nil || !first {
		return err
	}
	d.Subscribe(bus.TypeChallengeReveal, d.onReveal)
	d.Subscribe(bus.TypeChallengeComplete, d.onComplete)
	d.Subscribe(bus.TypeChallengeUpdated, func(bus.Event) { d.reload() })
	d.AwaitSession(d.onSession)
	return nil
}

func (d *DashboardPage) onSession(st session.State) {
	d.sess = st
	d.loading = true
	d.render()
	d.MarkReady()
	d.reload()
	if d.cfg.refreshing() {
		d.Every(d.cfg.RefreshInterval, d.reload)
	}
}

// View is the current render model.
func (d *DashboardPage) View() DashboardView {
	return DashboardView{
		User:         userView(d.sess),
		Stats:        d.stats,
		Cards:        d.cards.Views(),
		Loading:      d.loading,
		EventStarted: d.cfg.EventStarted,
		Error:        d.err,
	}
}

func (d *DashboardPage) render() { d.Render(d.View()) }

type dashboardData struct {
	cards []challenge.Card
	stats challenge.Stats
}

func loadDashboard(ctx context.Context, backend store.Backend, userID string) (dashboardData, error) {
	var (
		out        dashboardData
		scoreboard []challenge.ScoreRow
		assigned   []challenge.Completion
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.cards, err = backend.Cards(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		scoreboard, err = backend.Scoreboard(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		assigned, err = backend.UserCompletions(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return dashboardData{}, err
	}
	out.stats = challenge.ComputeStats(scoreboard, userID, assigned)
	return out, nil
}

func (d *DashboardPage) reload() {
	if !d.sess.Authenticated {
		return
	}
	backend, userID := d.sess.Backend, d.sess.UserID
	d.Publish(bus.NewChallengeLoading(true))
	d.Async(func(ctx context.Context) func() {
		data, err := loadDashboard(ctx, backend, userID)
		return func() {
			d.loading = false
			d.Publish(bus.NewChallengeLoading(false))
			if err != nil {
				d.Logger().Warn("load dashboard", zap.Error(err))
				d.err = "Failed to load challenges. Please refresh the page."
				d.Publish(bus.NewAppError(d.err))
				d.render()
				return
			}
			d.err = ""
			d.cards = d.cards.Reload(data.cards)
			d.stats = data.stats
			d.Publish(bus.NewUserStatsUpdated(d.stats.Rank, d.stats.Points, d.stats.TotalAssigned, d.stats.TotalCompleted))
			d.render()
		}
	})
}

func (d *DashboardPage) onReveal(e bus.Event) {
	ev, ok := e.(bus.ChallengeRevealEvent)
	if !ok || !d.sess.Authenticated {
		return
	}
	_, next, err := challenge.Apply(d.cards, challenge.Command{Type: challenge.CmdReveal, AssignmentID: ev.AssignmentID})
	if err != nil {
		d.Logger().Debug("reveal rejected", zap.String("assignment_id", ev.AssignmentID), zap.Error(err))
		return
	}
	d.cards = next
	d.render()
}

// onComplete applies the outcome locally and announces success right
// away; a failed save reloads the cards and announces the error.
func (d *DashboardPage) onComplete(e bus.Event) {
	ev, ok := e.(bus.ChallengeCompleteEvent)
	if !ok || !d.sess.Authenticated {
		return
	}
	outcome := challenge.Outcome(ev.Outcome)
	events, next, err := challenge.Apply(d.cards, challenge.Command{
		Type:         challenge.CmdComplete,
		AssignmentID: ev.AssignmentID,
		Outcome:      outcome,
	})
	if err != nil {
		d.Publish(bus.NewChallengeCompletedError(ev.AssignmentID, ev.Outcome, err.Error()))
		return
	}
	d.cards = next
	d.Publish(bus.NewChallengeCompletedSuccess(ev.AssignmentID, ev.Outcome))
	d.render()

	var mirror *challenge.Event
	for i := range events {
		if events[i].Type == challenge.EvtHostMirrored {
			mirror = &events[i]
		}
	}
	backend, userID, host := d.sess.Backend, d.sess.UserID, d.cfg.HostUsername
	d.Async(func(ctx context.Context) func() {
		at := time.Now()
		err := backend.CompleteAssignment(ctx, userID, ev.AssignmentID, outcome, at)
		if err == nil && mirror != nil && host != "" {
			if merr := backend.MirrorHostCompletion(ctx, host, mirror.ChallengeID, mirror.Outcome, at); merr != nil {
				d.Logger().Warn("mirror host completion", zap.String("challenge_id", mirror.ChallengeID), zap.Error(merr))
			}
		}
		return func() {
			if err != nil {
				d.Logger().Warn("save completion", zap.String("assignment_id", ev.AssignmentID), zap.Error(err))
				d.Publish(bus.NewChallengeCompletedError(ev.AssignmentID, ev.Outcome, "Failed to save your result. Please try again."))
			}
			d.reload()
		}
	})
}
