// Package presence runs the periodic maintenance sweeps: idle-session
// eviction, stale location purges, notification TTL enforcement, orphan
// cleanup for per-room feature state, and the daily persistence
// retention sweep.
package presence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"classhub/internal/hub"
	"classhub/internal/room"
	"classhub/internal/scheduler"
	"classhub/internal/session"
	"classhub/internal/store"
)

// Evictor force-closes a session's connection. Implemented by the
// gateway.
type Evictor interface {
	Evict(sessionID string)
}

// Config carries the sweep cadence and cutoffs.
type Config struct {
	SweepInterval  time.Duration
	SessionTimeout time.Duration
	LocationStale  time.Duration
	RetentionDays  int
}

// Services is the subset of domain services the monitor sweeps.
type Services struct {
	Notifications interface{ PurgeExpired(time.Time) int }
	Locations     interface{ PurgeStale(time.Time) int }
	Polls         interface{ PurgeOrphans(func(string) bool) int }
	Quizzes       interface{ PurgeOrphans(func(string) bool) int }
	Whiteboard    interface{ PurgeOrphans(func(string) bool) int }
	ScreenShare   interface{ PurgeOrphans(func(string) bool) int }
	Emergencies   interface{ PurgeOld(time.Time) int }
}

// Monitor registers its sweeps on the shared scheduler; it owns no
// goroutines of its own.
type Monitor struct {
	cfg      Config
	sched    *scheduler.Scheduler
	sessions *session.Manager
	rooms    *room.Registry
	evictor  Evictor
	limiter  *hub.RateLimiter
	store    *store.Store
	svc      Services
	logger   zerolog.Logger
}

func NewMonitor(
	cfg Config,
	sched *scheduler.Scheduler,
	sessions *session.Manager,
	rooms *room.Registry,
	evictor Evictor,
	limiter *hub.RateLimiter,
	st *store.Store,
	svc Services,
	logger zerolog.Logger,
) *Monitor {
	return &Monitor{
		cfg:      cfg,
		sched:    sched,
		sessions: sessions,
		rooms:    rooms,
		evictor:  evictor,
		limiter:  limiter,
		store:    st,
		svc:      svc,
		logger:   logger.With().Str("component", "presence").Logger(),
	}
}

// Start schedules the recurring sweeps.
func (m *Monitor) Start() {
	m.sched.Every("presence-sweep", m.cfg.SweepInterval, m.sweep)
	m.sched.Every("retention-sweep", 24*time.Hour, m.retentionSweep)
}

func (m *Monitor) sweep() {
	now := m.sched.Now()

	idle := m.sessions.Idle(now.Add(-m.cfg.SessionTimeout))
	for _, sess := range idle {
		m.logger.Info().Str("session", sess.ID).Str("user", sess.UserID).Msg("session idle past timeout")
		m.evictor.Evict(sess.ID)
	}

	roomExists := func(roomID string) bool {
		_, ok := m.rooms.Get(roomID)
		return ok
	}

	stale := m.svc.Locations.PurgeStale(now.Add(-m.cfg.LocationStale))
	expired := m.svc.Notifications.PurgeExpired(now)
	orphans := m.svc.Polls.PurgeOrphans(roomExists) +
		m.svc.Quizzes.PurgeOrphans(roomExists) +
		m.svc.Whiteboard.PurgeOrphans(roomExists) +
		m.svc.ScreenShare.PurgeOrphans(roomExists)
	old := m.svc.Emergencies.PurgeOld(now.Add(-24 * time.Hour))

	m.limiter.Cleanup(now)

	if stale+expired+orphans+old > 0 {
		m.logger.Debug().
			Int("evicted", len(idle)).
			Int("stale_locations", stale).
			Int("expired_notifications", expired).
			Int("orphans", orphans).
			Int("old_emergencies", old).
			Msg("sweep complete")
	}
}

// retentionSweep deletes persisted envelopes past the retention window.
// Failures are logged and retried on the next cycle.
func (m *Monitor) retentionSweep() {
	cutoff := m.sched.Now().AddDate(0, 0, -m.cfg.RetentionDays)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := m.store.Sweep(ctx, cutoff)
	if err != nil {
		m.logger.Error().Err(err).Msg("retention sweep failed")
		return
	}
	if deleted > 0 {
		m.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("retention sweep complete")
	}
}
