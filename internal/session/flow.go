package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/DoyleJ11/challenge-zone-backend/internal/bus"
	"github.com/DoyleJ11/challenge-zone-backend/internal/store"
)

// ErrLoggedOut is reported to waiters after Logout.
var ErrLoggedOut = fmt.Errorf("%w: logged out", ErrAuthentication)

// Resolver turns a session token into a user id.
type Resolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// Flow is the auth flow of one tab and the only writer of its Context.
type Flow struct {
	sess     *Context
	bus      *bus.Bus
	resolver Resolver
	admins   map[string]struct{}
	log      *zap.Logger
}

func NewFlow(sess *Context, b *bus.Bus, resolver Resolver, adminUsernames []string, log *zap.Logger) *Flow {
	if log == nil {
		log = zap.NewNop()
	}
	admins := make(map[string]struct{}, len(adminUsernames))
	for _, name := range adminUsernames {
		admins[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	return &Flow{sess: sess, bus: b, resolver: resolver, admins: admins, log: log.Named("session")}
}

func (f *Flow) IsAdmin(username string) bool {
	_, ok := f.admins[strings.ToLower(username)]
	return ok
}

// Start resolves token into a logged-in session. Failures settle the
// context so waiting controllers are released, and publish user:error.
func (f *Flow) Start(ctx context.Context, token string) (State, error) {
	f.sess.begin()
	f.bus.Publish(bus.NewUserLoading())

	if token == "" {
		return State{}, f.failAuth(errors.New("no session token"))
	}
	userID, err := f.resolver.Resolve(ctx, token)
	if err != nil {
		return State{}, f.failAuth(err)
	}

	user, err := f.sess.Backend().UserByID(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return State{}, f.failAuth(fmt.Errorf("user %s: %w", userID, err))
	case err != nil:
		f.log.Error("load profile", zap.String("user_id", userID), zap.Error(err))
		err = fmt.Errorf("%w: load profile: %w", ErrBackend, err)
		f.sess.fail(err)
		f.bus.Publish(bus.NewUserError("Failed to load your profile. Please try again."))
		return State{}, err
	}

	st := State{
		UserID:        user.ID,
		User:          user,
		Authenticated: true,
		IsAdmin:       f.IsAdmin(user.Username),
	}
	f.sess.resolve(st)
	f.log.Debug("session ready", zap.String("user_id", user.ID))
	f.bus.Publish(bus.NewUserLoaded(user.ID, user.Username, user.DisplayName, st.IsAdmin))
	return f.sess.Current(), nil
}

// Logout drops the identity and publishes user:logout.
func (f *Flow) Logout() {
	f.sess.begin()
	f.sess.fail(ErrLoggedOut)
	f.bus.Publish(bus.NewUserLogout())
}

func (f *Flow) failAuth(cause error) error {
	f.log.Info("authentication failed", zap.Error(cause))
	err := fmt.Errorf("%w: %w", ErrAuthentication, cause)
	f.sess.fail(err)
	f.bus.Publish(bus.NewUserError("Please log in again."))
	return err
}
