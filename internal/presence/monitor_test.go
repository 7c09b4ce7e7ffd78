package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classhub/internal/fanout"
	"classhub/internal/hub"
	"classhub/internal/room"
	"classhub/internal/scheduler"
	"classhub/internal/service"
	"classhub/internal/session"
	"classhub/internal/store"
	"classhub/internal/ws"
	"classhub/pkg/types"
)

type mockEvictor struct {
	mu      sync.Mutex
	evicted []string
}

func (m *mockEvictor) Evict(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicted = append(m.evicted, sessionID)
}

func (m *mockEvictor) evictedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.evicted...)
}

type monitorFixture struct {
	clock     *scheduler.ManualClock
	sessions  *session.Manager
	rooms     *room.Registry
	evictor   *mockEvictor
	locations *service.LocationService
	polls     *service.PollService
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()

	logger := zerolog.Nop()
	clock := scheduler.NewManualClock(time.Now().UTC())
	sched := scheduler.New(clock, logger)
	conns := ws.NewRegistry(0)
	fan := fanout.New(conns, nil, logger)
	sessions := session.NewManager(logger)
	rooms := room.NewRegistry(conns, fan, sessions, types.RoomSettings{MaxMembers: 50}, logger)

	st, err := store.Open("", false, logger)
	require.NoError(t, err)

	notifications := service.NewNotificationService(fan, st, conns, 10, time.Hour, logger)
	locations := service.NewLocationService(fan, st, 100, 0, logger)
	polls := service.NewPollService(fan, st, logger)
	quizzes := service.NewQuizService(fan, st, logger)
	whiteboard := service.NewWhiteboardService(fan, st, 100, logger)
	shares := service.NewScreenShareService(fan, st, 1500, 15, logger)
	emergencies := service.NewEmergencyService(fan, st, sched, 30*time.Second, logger)

	evictor := &mockEvictor{}
	monitor := NewMonitor(Config{
		SweepInterval:  30 * time.Second,
		SessionTimeout: 90 * time.Second,
		LocationStale:  10 * time.Minute,
		RetentionDays:  30,
	}, sched, sessions, rooms, evictor, hub.NewRateLimiter(time.Minute, 100), st, Services{
		Notifications: notifications,
		Locations:     locations,
		Polls:         polls,
		Quizzes:       quizzes,
		Whiteboard:    whiteboard,
		ScreenShare:   shares,
		Emergencies:   emergencies,
	}, logger)
	monitor.Start()

	return &monitorFixture{
		clock:     clock,
		sessions:  sessions,
		rooms:     rooms,
		evictor:   evictor,
		locations: locations,
		polls:     polls,
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	f := newMonitorFixture(t)

	idle := f.sessions.Create("idle", "Idle", "student", "school-1", f.clock.Now().Add(-5*time.Minute))
	active := f.sessions.Create("active", "Active", "student", "school-1", f.clock.Now())

	f.clock.Advance(30 * time.Second)

	evicted := f.evictor.evictedIDs()
	require.Len(t, evicted, 1)
	assert.Equal(t, idle.ID, evicted[0])
	_ = active
}

func TestSweepTouchedSessionSurvives(t *testing.T) {
	f := newMonitorFixture(t)

	sess := f.sessions.Create("alice", "Alice", "student", "school-1", f.clock.Now())

	// Keep touching inside the timeout.
	for i := 0; i < 5; i++ {
		f.clock.Advance(60 * time.Second)
		sess.Touch(f.clock.Now())
	}
	assert.Empty(t, f.evictor.evictedIDs())
}

func TestSweepPurgesStaleLocations(t *testing.T) {
	f := newMonitorFixture(t)

	driver := f.sessions.Create("driver", "Driver", "driver", "school-1", f.clock.Now())
	_, err := f.locations.Update(driver, "bus-route-7", "bus-12", service.BusLocation{Latitude: 35, Longitude: -90})
	require.NoError(t, err)

	// Position reports age out after the staleness window.
	f.clock.Advance(11 * time.Minute)

	_, err = f.locations.Get("bus-12")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSweepPurgesOrphanedPolls(t *testing.T) {
	f := newMonitorFixture(t)

	teacher := f.sessions.Create("teacher", "Teacher", "teacher", "school-1", f.clock.Now())
	_, err := f.polls.Create(teacher, "vanished-room", "Q?", []string{"a", "b"})
	require.NoError(t, err)

	// The poll's room was never registered, so the sweep drops it.
	f.clock.Advance(30 * time.Second)

	_, ok := f.polls.Get("vanished-room")
	assert.False(t, ok)
}
