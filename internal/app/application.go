// Package app wires the hub together. Construction order follows the
// dependency graph: persistence and transport first, then the fan-out
// substrate, then the domain services, then the edges. Shutdown walks
// the same graph in reverse so nothing writes into a closed component.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"classhub/internal/api"
	"classhub/internal/auth"
	"classhub/internal/config"
	"classhub/internal/fanout"
	"classhub/internal/gateway"
	"classhub/internal/hub"
	"classhub/internal/presence"
	"classhub/internal/room"
	"classhub/internal/scheduler"
	"classhub/internal/service"
	"classhub/internal/session"
	"classhub/internal/store"
	"classhub/internal/ws"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Application owns every long-lived component of one hub instance.
type Application struct {
	cfg    *config.Config
	logger zerolog.Logger

	store     *store.Store
	sched     *scheduler.Scheduler
	backplane interfaces.Backplane
	fan       *fanout.Fanout
	sessions  *session.Manager
	gateway   *gateway.Gateway
	server    *http.Server
}

// New builds the full object graph. No goroutines beyond the store
// writer and backplane run until Start.
func New(cfg *config.Config, logger zerolog.Logger) (*Application, error) {
	st, err := store.Open(cfg.Store.Path, cfg.Store.Enabled, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	sched := scheduler.New(scheduler.NewRealClock(), logger)
	conns := ws.NewRegistry(cfg.RateLimit.MaxConnections)

	// The backplane handler closes over the fan-out reference assigned
	// below; no envelope arrives before a room is subscribed.
	var fan *fanout.Fanout
	var backplane interfaces.Backplane
	if cfg.Backplane.Enabled {
		bp, err := fanout.NewNATSBackplane(cfg.Backplane.URL, func(env *types.Envelope) {
			fan.HandleRemote(env)
		}, logger)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		backplane = bp
	}
	fan = fanout.New(conns, backplane, logger)

	sessions := session.NewManager(logger)
	rooms := room.NewRegistry(conns, fan, sessions, types.RoomSettings{
		MaxMembers:       cfg.Limits.MaxRoomMembers,
		AllowWhiteboard:  true,
		AllowScreenShare: true,
	}, logger)

	svc := hub.Services{
		Chat:          service.NewChatService(fan, st, logger),
		Notifications: service.NewNotificationService(fan, st, conns, cfg.Limits.NotificationQueue, cfg.Limits.NotificationTTL, logger),
		Polls:         service.NewPollService(fan, st, logger),
		Quizzes:       service.NewQuizService(fan, st, logger),
		Whiteboard:    service.NewWhiteboardService(fan, st, cfg.Limits.WhiteboardHistory, logger),
		ScreenShare:   service.NewScreenShareService(fan, st, cfg.Limits.ScreenShareBitrate, cfg.Limits.ScreenShareFrameRate, logger),
		Locations:     service.NewLocationService(fan, st, cfg.Limits.LocationMinAccuracy, cfg.Limits.LocationMinInterval, logger),
		Emergencies:   service.NewEmergencyService(fan, st, sched, cfg.Limits.EmergencyAckTimeout, logger),
	}

	limiter := hub.NewRateLimiter(cfg.RateLimit.Window, cfg.RateLimit.MaxEvents)
	dispatcher := hub.New(rooms, svc, limiter, logger)

	verifier := auth.NewClient(cfg.Auth.URL, cfg.Auth.Timeout, logger)
	gw := gateway.New(
		verifier, sessions, conns, rooms, svc.ScreenShare, dispatcher,
		cfg.Auth.Timeout, cfg.Heartbeat.Interval, cfg.Heartbeat.SessionTimeout,
		logger,
	)

	monitor := presence.NewMonitor(presence.Config{
		SweepInterval:  cfg.Heartbeat.SweepInterval,
		SessionTimeout: cfg.Heartbeat.SessionTimeout,
		LocationStale:  cfg.Limits.LocationStale,
		RetentionDays:  cfg.Store.RetentionDays,
	}, sched, sessions, rooms, gw, limiter, st, presence.Services{
		Notifications: svc.Notifications,
		Locations:     svc.Locations,
		Polls:         svc.Polls,
		Quizzes:       svc.Quizzes,
		Whiteboard:    svc.Whiteboard,
		ScreenShare:   svc.ScreenShare,
		Emergencies:   svc.Emergencies,
	}, logger)
	monitor.Start()

	apiServer := api.NewServer(sessions, rooms, conns, st, fan, svc.Notifications, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer.Router(gw.Handle),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		sched:     sched,
		backplane: backplane,
		fan:       fan,
		sessions:  sessions,
		gateway:   gw,
		server:    server,
	}, nil
}

// Start serves HTTP until the listener fails or Stop is called.
func (a *Application) Start() error {
	a.logger.Info().
		Str("addr", a.server.Addr).
		Str("instance", a.fan.InstanceID()).
		Bool("backplane", a.backplane != nil).
		Msg("hub listening")

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop shuts the instance down: stop accepting, evict live sessions so
// rooms empty and peers see departures, then close transport and
// persistence.
func (a *Application) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn().Err(err).Msg("http shutdown incomplete")
	}

	a.sched.Stop()

	// Every session counts as idle against a future cutoff.
	for _, sess := range a.sessions.Idle(time.Now().Add(time.Hour)) {
		a.gateway.Evict(sess.ID)
	}

	if a.backplane != nil {
		a.backplane.Close()
	}

	if err := a.store.Close(); err != nil {
		return err
	}

	a.logger.Info().Msg("hub stopped")
	return nil
}
