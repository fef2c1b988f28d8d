// Package session binds an authenticated identity to the fleet store and
// owns the lifecycle of the single live subscription.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rcastrodev/taxi-fleet/internal/models"
	"github.com/rcastrodev/taxi-fleet/internal/store"
)

// State is the session lifecycle position.
type State string

const (
	StateUnresolved         State = "unresolved"
	StateAuthenticated      State = "authenticated"
	StateSubscriptionActive State = "subscription_active"
	StateUnauthenticated    State = "unauthenticated"
)

// DefaultWatchdog bounds identity resolution. If the resolver has not
// answered by then, the session fails open to unauthenticated rather than
// hanging; a late answer is discarded.
const DefaultWatchdog = 5 * time.Second

var (
	// ErrUnauthenticated is returned by Start when no identity resolves,
	// whether the resolver said "no user" or the watchdog fired first.
	ErrUnauthenticated = errors.New("session unauthenticated")
	// ErrAlreadyStarted is returned when Start is called twice; a session
	// is single-use and a fresh one starts unresolved.
	ErrAlreadyStarted = errors.New("session already started")
)

// Resolver produces the identity the session binds to. A nil user with a
// nil error means the provider resolved "no user".
type Resolver interface {
	Resolve(ctx context.Context) (*models.User, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context) (*models.User, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context) (*models.User, error) {
	return f(ctx)
}

// Session drives identity resolution and holds at most one active
// subscription. Once unauthenticated the session is done; callers build a
// new session rather than restarting this one.
type Session struct {
	store    store.Store
	resolver Resolver
	watchdog time.Duration

	mu         sync.Mutex
	state      State
	user       *models.User
	cancel     store.CancelFunc
	cancelOnce sync.Once
}

// Option adjusts session construction.
type Option func(*Session)

// WithWatchdog overrides the identity-resolution watchdog duration.
func WithWatchdog(d time.Duration) Option {
	return func(s *Session) { s.watchdog = d }
}

// New builds an unresolved session over the given store and resolver.
func New(st store.Store, resolver Resolver, opts ...Option) *Session {
	s := &Session{
		store:    st,
		resolver: resolver,
		watchdog: DefaultWatchdog,
		state:    StateUnresolved,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// User returns the resolved identity, if any.
func (s *Session) User() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

type resolution struct {
	user *models.User
	err  error
}

// Start races identity resolution against the watchdog, then opens exactly
// one subscription bound to the resolved identity. It returns
// ErrUnauthenticated when no identity resolves in time.
func (s *Session) Start(ctx context.Context, fn store.SnapshotFunc) error {
	s.mu.Lock()
	if s.state != StateUnresolved {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.mu.Unlock()

	resolved := make(chan resolution, 1)
	go func() {
		user, err := s.resolver.Resolve(ctx)
		resolved <- resolution{user: user, err: err}
	}()

	timer := time.NewTimer(s.watchdog)
	defer timer.Stop()

	var res resolution
	select {
	case res = <-resolved:
	case <-timer.C:
		// Fail open: force the unauthenticated view instead of spinning.
		log.WithField("watchdog", s.watchdog).Warn("identity resolution timed out")
		s.setState(StateUnauthenticated)
		return ErrUnauthenticated
	case <-ctx.Done():
		s.setState(StateUnauthenticated)
		return ctx.Err()
	}

	if res.err != nil || res.user == nil {
		if res.err != nil {
			log.WithError(res.err).Info("identity resolution failed")
		}
		s.setState(StateUnauthenticated)
		return ErrUnauthenticated
	}

	s.mu.Lock()
	s.user = res.user
	s.state = StateAuthenticated
	s.mu.Unlock()

	cancel, err := s.store.Subscribe(ctx, res.user.ID, fn)
	if err != nil {
		s.setState(StateUnauthenticated)
		return err
	}

	s.mu.Lock()
	s.cancel = cancel
	s.state = StateSubscriptionActive
	s.mu.Unlock()

	log.WithField("user_id", res.user.ID).Debug("subscription active")
	return nil
}

// SignOut cancels the active subscription before releasing identity state.
// The subscription is cancelled exactly once; repeated calls are no-ops.
func (s *Session) SignOut() {
	s.cancelOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		s.cancel = nil
		s.user = nil
		s.state = StateUnauthenticated
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
