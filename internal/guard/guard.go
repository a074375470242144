// Package guard decides whether a navigation may proceed based on the
// current authentication state.
package guard

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/storefront/authsession/internal/clientstore"
)

type AuthState interface {
	IsAuthenticated(ctx context.Context) bool
}

// AuthStateFunc adapts a plain function to AuthState.
type AuthStateFunc func(ctx context.Context) bool

func (f AuthStateFunc) IsAuthenticated(ctx context.Context) bool {
	return f(ctx)
}

type Decision struct {
	Allow    bool
	Redirect string
}

// Guard holds no session state of its own; it is safe for concurrent use.
type Guard struct {
	state      AuthState
	loginRoute string
	logger     *logrus.Logger
}

func New(state AuthState, loginRoute string, logger *logrus.Logger) *Guard {
	return &Guard{
		state:      state,
		loginRoute: loginRoute,
		logger:     logger,
	}
}

func (g *Guard) CanActivate(ctx context.Context, target string) Decision {
	if g.state.IsAuthenticated(ctx) {
		return Decision{Allow: true}
	}

	g.logger.WithField("target", target).Debug("Navigation redirected to login")
	return Decision{Redirect: g.loginRoute}
}

func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.CanActivate(r.Context(), r.URL.Path)
		if !d.Allow {
			http.Redirect(w, r, d.Redirect, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StoredSessionState treats a stored snapshot as authenticated when it holds
// an access token whose recorded expiry is still in the future.
type StoredSessionState struct {
	store *clientstore.Store
	scope clientstore.Scope
	now   func() time.Time
}

func NewStoredSessionState(store *clientstore.Store, scope clientstore.Scope) *StoredSessionState {
	return &StoredSessionState{
		store: store,
		scope: scope,
		now:   time.Now,
	}
}

func (s *StoredSessionState) IsAuthenticated(ctx context.Context) bool {
	snap, err := s.store.Read(ctx, s.scope)
	if err != nil || snap == nil {
		return false
	}
	if snap.AccessToken == nil || *snap.AccessToken == "" || snap.AccessTokenExpiresAt == nil {
		return false
	}

	expiresAt, err := time.Parse(time.RFC3339, *snap.AccessTokenExpiresAt)
	if err != nil {
		return false
	}
	return s.now().Before(expiresAt)
}
