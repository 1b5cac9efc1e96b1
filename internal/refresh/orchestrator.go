// Package refresh drives the background and on-demand refresh flows
// from spec.md §4.7: startup staleness/emptiness checks, lock-guarded
// fetch-and-swap per entity, and an in-memory history of past attempts.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wscache/wscache/internal/cache"
	"github.com/wscache/wscache/internal/metrics"
	"github.com/wscache/wscache/internal/slackapi"
)

// Scope selects which entities a refresh touches.
type Scope string

const (
	ScopeUsers    Scope = "users"
	ScopeChannels Scope = "channels"
	ScopeAll      Scope = "all"
)

// historyLimit bounds the in-memory ring buffer, mirroring the teacher's
// ModuleManager debug log's "keep last 1000 events" trim-from-front shape.
const historyLimit = 1000

// Attempt records the outcome of one entity refresh for the admin
// surface and for tests asserting on S1/S4 behavior.
type Attempt struct {
	ID        string
	Entity    string // "users" or "channels"
	StartedAt time.Time
	Duration  time.Duration
	Count     int
	Err       error
}

// Orchestrator implements spec.md §4.7 against a *cache.Engine and a
// *slackapi.Client.
type Orchestrator struct {
	engine *cache.Engine
	client *slackapi.Client
	log    zerolog.Logger

	ttlUsersHours    int
	ttlChannelsHours int

	mu      sync.Mutex
	history []Attempt
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

func WithTTLHours(usersHours, channelsHours int) Option {
	return func(o *Orchestrator) {
		o.ttlUsersHours = usersHours
		o.ttlChannelsHours = channelsHours
	}
}

// New builds an Orchestrator. Default TTLs are 24h per spec.md §6.
func New(engine *cache.Engine, client *slackapi.Client, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:           engine,
		client:           client,
		log:              log.With().Str("component", "refresh").Logger(),
		ttlUsersHours:    24,
		ttlChannelsHours: 24,
		history:          make([]Attempt, 0, historyLimit),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartupRefresh launches a fire-and-forget background refresh of any
// entity that is empty or stale, per spec.md §4.7. It returns
// immediately; readers keep serving the stale snapshot while it runs.
func (o *Orchestrator) StartupRefresh(ctx context.Context) {
	go func() {
		if o.shouldRefresh(ctx, o.engine.Users.IsEmpty, o.engine.Users.IsStale, o.ttlUsersHours) {
			if err := o.refreshUsersIfStale(ctx); err != nil {
				o.log.Warn().Err(err).Msg("startup users refresh failed, stale snapshot remains served")
			}
		}
		if o.shouldRefresh(ctx, o.engine.Channels.IsEmpty, o.engine.Channels.IsStale, o.ttlChannelsHours) {
			if err := o.refreshChannelsIfStale(ctx); err != nil {
				o.log.Warn().Err(err).Msg("startup channels refresh failed, stale snapshot remains served")
			}
		}
	}()
}

func (o *Orchestrator) shouldRefresh(ctx context.Context, isEmpty func(context.Context) (bool, error), isStale func(context.Context, int) (bool, error), ttlHours int) bool {
	if empty, err := isEmpty(ctx); err != nil {
		o.log.Warn().Err(err).Msg("is_empty check failed, skipping startup refresh decision")
		return false
	} else if empty {
		return true
	}
	stale, err := isStale(ctx, ttlHours)
	if err != nil {
		o.log.Warn().Err(err).Msg("is_stale check failed, skipping startup refresh decision")
		return false
	}
	return stale
}

// Refresh performs the given scope's refresh synchronously, per
// spec.md §4.7's public refresh(scope) operation.
func (o *Orchestrator) Refresh(ctx context.Context, scope Scope) error {
	switch scope {
	case ScopeUsers:
		return o.refreshUsers(ctx)
	case ScopeChannels:
		return o.refreshChannels(ctx)
	case ScopeAll:
		usersErr := o.refreshUsers(ctx)
		channelsErr := o.refreshChannels(ctx)
		if usersErr != nil {
			return usersErr
		}
		return channelsErr
	default:
		return &scopeError{scope: string(scope)}
	}
}

type scopeError struct{ scope string }

func (e *scopeError) Error() string { return "refresh: unknown scope " + e.scope }

func (o *Orchestrator) refreshUsers(ctx context.Context) error {
	started := time.Now()
	var count int

	err := o.engine.Users.Refresh(ctx, func(ctx context.Context) ([]cache.User, error) {
		var all []cache.User
		walkErr := o.client.ListUsers(ctx, func(page slackapi.Page[slackapi.UserRecord]) error {
			for _, rec := range page.Items {
				all = append(all, cache.User{
					ID:          rec.ID,
					Name:        rec.Name,
					DisplayName: rec.DisplayName,
					RealName:    rec.RealName,
					Email:       rec.Email,
					IsBot:       rec.IsBot,
				})
			}
			return nil
		})
		count = len(all)
		return all, walkErr
	})

	metrics.RefreshDuration.WithLabelValues("users", outcome(err)).Observe(time.Since(started).Seconds())
	o.record(Attempt{ID: uuid.New().String(), Entity: "users", StartedAt: started, Duration: time.Since(started), Count: count, Err: err})
	return err
}

// refreshUsersIfStale is refreshUsers for the TTL-driven startup path: the
// staleness recheck happens inside the "refresh_users" lock (see
// cache.UserRepository.RefreshIfStale), so a caller that waited on the
// lock behind another refresh skips the HTTP fetch if that refresh
// already left the snapshot fresh. No Attempt is recorded for a skipped
// run — History() reflects refreshes that actually talked to the remote
// API, not every staleness check.
func (o *Orchestrator) refreshUsersIfStale(ctx context.Context) error {
	started := time.Now()
	var count int

	didFetch, err := o.engine.Users.RefreshIfStale(ctx, o.ttlUsersHours, func(ctx context.Context) ([]cache.User, error) {
		var all []cache.User
		walkErr := o.client.ListUsers(ctx, func(page slackapi.Page[slackapi.UserRecord]) error {
			for _, rec := range page.Items {
				all = append(all, cache.User{
					ID:          rec.ID,
					Name:        rec.Name,
					DisplayName: rec.DisplayName,
					RealName:    rec.RealName,
					Email:       rec.Email,
					IsBot:       rec.IsBot,
				})
			}
			return nil
		})
		count = len(all)
		return all, walkErr
	})
	if !didFetch {
		return err
	}

	metrics.RefreshDuration.WithLabelValues("users", outcome(err)).Observe(time.Since(started).Seconds())
	o.record(Attempt{ID: uuid.New().String(), Entity: "users", StartedAt: started, Duration: time.Since(started), Count: count, Err: err})
	return err
}

// refreshChannelsIfStale is the channels counterpart of
// refreshUsersIfStale.
func (o *Orchestrator) refreshChannelsIfStale(ctx context.Context) error {
	started := time.Now()
	var count int

	didFetch, err := o.engine.Channels.RefreshIfStale(ctx, o.ttlChannelsHours, func(ctx context.Context) ([]cache.Channel, error) {
		var all []cache.Channel
		walkErr := o.client.ListChannels(ctx, func(page slackapi.Page[slackapi.ChannelRecord]) error {
			for _, rec := range page.Items {
				all = append(all, cache.Channel{
					ID:        rec.ID,
					Name:      rec.Name,
					IsPrivate: rec.IsPrivate,
					IsIM:      rec.IsIM,
					IsMPIM:    rec.IsMPIM,
				})
			}
			return nil
		})
		count = len(all)
		return all, walkErr
	})
	if !didFetch {
		return err
	}

	metrics.RefreshDuration.WithLabelValues("channels", outcome(err)).Observe(time.Since(started).Seconds())
	o.record(Attempt{ID: uuid.New().String(), Entity: "channels", StartedAt: started, Duration: time.Since(started), Count: count, Err: err})
	return err
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (o *Orchestrator) refreshChannels(ctx context.Context) error {
	started := time.Now()
	var count int

	err := o.engine.Channels.Refresh(ctx, func(ctx context.Context) ([]cache.Channel, error) {
		var all []cache.Channel
		walkErr := o.client.ListChannels(ctx, func(page slackapi.Page[slackapi.ChannelRecord]) error {
			for _, rec := range page.Items {
				all = append(all, cache.Channel{
					ID:        rec.ID,
					Name:      rec.Name,
					IsPrivate: rec.IsPrivate,
					IsIM:      rec.IsIM,
					IsMPIM:    rec.IsMPIM,
				})
			}
			return nil
		})
		count = len(all)
		return all, walkErr
	})

	metrics.RefreshDuration.WithLabelValues("channels", outcome(err)).Observe(time.Since(started).Seconds())
	o.record(Attempt{ID: uuid.New().String(), Entity: "channels", StartedAt: started, Duration: time.Since(started), Count: count, Err: err})
	return err
}

func (o *Orchestrator) record(a Attempt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.history) >= historyLimit {
		o.history = o.history[1:]
	}
	o.history = append(o.history, a)
}

// History returns a copy of the refresh attempt history, most recent
// last.
func (o *Orchestrator) History() []Attempt {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Attempt, len(o.history))
	copy(out, o.history)
	return out
}
