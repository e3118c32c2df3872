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
)

type LeaderboardView struct {
	User         UserView             `json:"user"`
	Rows         []challenge.ScoreRow `json:"rows"`
	EventStarted bool                 `json:"eventStarted"`
	Loading      bool                 `json:"loading"`
	UpdatedAt    time.Time            `json:"updatedAt,omitzero"`
	Error        string               `json:"error,omitempty"`
}

type LeaderboardPage struct {
	*lifecycle.Base
	cfg Config

	sess    session.State
	rows    []challenge.ScoreRow
	loading bool
	updated time.Time
	err     string
}

func NewLeaderboard(cfg Config, deps lifecycle.Deps) *LeaderboardPage {
	return &LeaderboardPage{Base: lifecycle.NewBase(Leaderboard, deps), cfg: cfg}
}

func (l *LeaderboardPage) Attach(ctx context.Context) error {
	first, err := l.Begin(ctx)
	if err != nil || !first {
		return err
	}
	l.Subscribe(bus.TypeLeaderboardRefresh, func(bus.Event) { l.refresh() })
	l.AwaitSession(func(st session.State) {
		l.sess = st
		l.loading = true
		l.render()
		l.MarkReady()
		l.refresh()
		if l.cfg.refreshing() {
			l.Every(l.cfg.RefreshInterval, l.refresh)
		}
	})
	return nil
}

func (l *LeaderboardPage) View() LeaderboardView {
	return LeaderboardView{
		User:         userView(l.sess),
		Rows:         l.rows,
		EventStarted: l.cfg.EventStarted,
		Loading:      l.loading,
		UpdatedAt:    l.updated,
		Error:        l.err,
	}
}

func (l *LeaderboardPage) render() { l.Render(l.View()) }

// refresh reloads the scoreboard. Completion counts are only shown once
// the event has started.
func (l *LeaderboardPage) refresh() {
	if !l.sess.Authenticated {
		return
	}
	backend, started := l.sess.Backend, l.cfg.EventStarted
	l.Async(func(ctx context.Context) func() {
		var (
			rows        []challenge.ScoreRow
			completions []challenge.Completion
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			rows, err = backend.Scoreboard(gctx)
			return err
		})
		if started {
			g.Go(func() error {
				var err error
				completions, err = backend.ActiveCompletions(gctx)
				return err
			})
		}
		err := g.Wait()
		if err == nil && started {
			rows = challenge.EnrichScoreboard(rows, completions)
		}
		return func() {
			l.loading = false
			if err != nil {
				l.Logger().Warn("load leaderboard", zap.Error(err))
				l.err = "Failed to load leaderboard. Please try again."
				l.render()
				return
			}
			l.err = ""
			l.rows = rows
			l.updated = time.Now()
			l.render()
		}
	})
}
