package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classhub/internal/fanout"
	"classhub/internal/room"
	"classhub/internal/scheduler"
	"classhub/internal/service"
	"classhub/internal/session"
	"classhub/internal/ws"
	"classhub/pkg/types"
)

type memStore struct {
	mu        sync.Mutex
	envelopes []*types.Envelope
}

func (m *memStore) Append(env *types.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envelopes = append(m.envelopes, env)
}

func (m *memStore) Recent(_ context.Context, roomID string, limit int) ([]*types.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.Envelope
	for _, env := range m.envelopes {
		if env.RoomID == roomID {
			out = append(out, env)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memStore) RecentByType(_ context.Context, roomID string, limit int, envTypes ...string) ([]*types.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.Envelope
	for _, env := range m.envelopes {
		if env.RoomID != roomID {
			continue
		}
		for _, envType := range envTypes {
			if env.Type == envType {
				out = append(out, env)
				break
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memStore) Sweep(context.Context, time.Time) (int64, error) { return 0, nil }

type captureSender struct {
	mu        sync.Mutex
	events    []types.ServerEvent
	envelopes []*types.Envelope
}

func (c *captureSender) SendEvent(ev types.ServerEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSender) SendEnvelope(env *types.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envelopes = append(c.envelopes, env)
	return nil
}

func (c *captureSender) Close() error { return nil }

func (c *captureSender) lastEvent() *types.ServerEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil
	}
	ev := c.events[len(c.events)-1]
	return &ev
}

func (c *captureSender) errorCode(t *testing.T) string {
	t.Helper()
	ev := c.lastEvent()
	require.NotNil(t, ev)
	require.Equal(t, types.EventError, ev.Event)
	payload, ok := ev.Data.(types.ErrorPayload)
	require.True(t, ok)
	return payload.Code
}

type hubFixture struct {
	hub      *Hub
	conns    *ws.Registry
	sessions *session.Manager
	rooms    *room.Registry
	svc      Services
	clock    *scheduler.ManualClock
}

func newHubFixture(t *testing.T, maxEvents int) *hubFixture {
	t.Helper()

	logger := zerolog.Nop()
	conns := ws.NewRegistry(0)
	fan := fanout.New(conns, nil, logger)
	sessions := session.NewManager(logger)
	rooms := room.NewRegistry(conns, fan, sessions, types.RoomSettings{
		MaxMembers:       50,
		AllowWhiteboard:  true,
		AllowScreenShare: true,
	}, logger)

	st := &memStore{}
	clock := scheduler.NewManualClock(time.Unix(1_700_000_000, 0))
	sched := scheduler.New(clock, logger)

	svc := Services{
		Chat:          service.NewChatService(fan, st, logger),
		Notifications: service.NewNotificationService(fan, st, conns, 10, time.Hour, logger),
		Polls:         service.NewPollService(fan, st, logger),
		Quizzes:       service.NewQuizService(fan, st, logger),
		Whiteboard:    service.NewWhiteboardService(fan, st, 100, logger),
		ScreenShare:   service.NewScreenShareService(fan, st, 1500, 15, logger),
		Locations:     service.NewLocationService(fan, st, 100, 0, logger),
		Emergencies:   service.NewEmergencyService(fan, st, sched, 30*time.Second, logger),
	}

	limiter := NewRateLimiter(time.Minute, maxEvents)
	return &hubFixture{
		hub:      New(rooms, svc, limiter, logger),
		conns:    conns,
		sessions: sessions,
		rooms:    rooms,
		svc:      svc,
		clock:    clock,
	}
}

func (f *hubFixture) connect(t *testing.T, userID, role string) (*session.Session, *captureSender) {
	t.Helper()

	sess := f.sessions.Create(userID, userID, role, "school-1", time.Now().UTC())
	sender := &captureSender{}
	require.NoError(t, f.conns.Add(sess.ID, sender))
	return sess, sender
}

func (f *hubFixture) dispatch(t *testing.T, sess *session.Session, sender *captureSender, event, roomID string, data map[string]any) {
	t.Helper()

	raw, err := json.Marshal(types.ClientEvent{Event: event, RoomID: roomID, Data: data})
	require.NoError(t, err)
	f.hub.Dispatch(context.Background(), sess, sender, raw)
}

func TestDispatchMalformedFrame(t *testing.T) {
	f := newHubFixture(t, 100)
	sess, sender := f.connect(t, "alice", "student")

	f.hub.Dispatch(context.Background(), sess, sender, []byte("{not json"))
	assert.Equal(t, types.CodeInvalidPayload, sender.errorCode(t))
}

func TestDispatchMissingEventName(t *testing.T) {
	f := newHubFixture(t, 100)
	sess, sender := f.connect(t, "alice", "student")

	f.hub.Dispatch(context.Background(), sess, sender, []byte(`{"room_id":"math"}`))
	assert.Equal(t, types.CodeInvalidPayload, sender.errorCode(t))
}

func TestDispatchUnknownEvent(t *testing.T) {
	f := newHubFixture(t, 100)
	sess, sender := f.connect(t, "alice", "student")

	f.dispatch(t, sess, sender, "do_a_barrel_roll", "math", nil)
	assert.Equal(t, types.CodeInvalidPayload, sender.errorCode(t))
}

func TestDispatchRateLimit(t *testing.T) {
	f := newHubFixture(t, 1)
	sess, sender := f.connect(t, "alice", "student")

	f.dispatch(t, sess, sender, types.EventJoinRoom, "math", nil)
	f.dispatch(t, sess, sender, types.EventJoinRoom, "art", nil)

	assert.Equal(t, types.CodeRateLimited, sender.errorCode(t))
	assert.False(t, sess.InRoom("art"))
}

func TestJoinRoomRespondsWithInfo(t *testing.T) {
	f := newHubFixture(t, 100)
	sess, sender := f.connect(t, "alice", "student")

	f.dispatch(t, sess, sender, types.EventJoinRoom, "math-101", map[string]any{
		"name":     "Math 101",
		"category": types.RoomCategoryClassroom,
	})

	ev := sender.lastEvent()
	require.NotNil(t, ev)
	require.Equal(t, types.EventRoomJoined, ev.Event)

	info, ok := ev.Data.(types.RoomInfo)
	require.True(t, ok)
	assert.Equal(t, "Math 101", info.Name)
	assert.Equal(t, 1, info.MemberCount)
	assert.True(t, sess.InRoom("math-101"))
}

func TestLeaveRoom(t *testing.T) {
	f := newHubFixture(t, 100)
	sess, sender := f.connect(t, "alice", "student")

	f.dispatch(t, sess, sender, types.EventJoinRoom, "math", nil)
	require.True(t, sess.InRoom("math"))

	f.dispatch(t, sess, sender, types.EventLeaveRoom, "math", nil)
	assert.False(t, sess.InRoom("math"))
	assert.Equal(t, 0, f.rooms.Count())
}

func TestSendMessageRequiresMembership(t *testing.T) {
	f := newHubFixture(t, 100)
	sess, sender := f.connect(t, "alice", "student")

	f.dispatch(t, sess, sender, types.EventSendMessage, "math", map[string]any{"content": "hi"})
	assert.Equal(t, types.CodeUnauthorizedAction, sender.errorCode(t))
}

func TestChatRoundTrip(t *testing.T) {
	f := newHubFixture(t, 100)
	sess, sender := f.connect(t, "alice", "student")

	f.dispatch(t, sess, sender, types.EventJoinRoom, "math", nil)
	f.dispatch(t, sess, sender, types.EventSendMessage, "math", map[string]any{"content": "hello"})
	f.dispatch(t, sess, sender, types.EventGetChatHistory, "math", map[string]any{"limit": 10})

	ev := sender.lastEvent()
	require.NotNil(t, ev)
	require.Equal(t, types.EventChatHistory, ev.Event)

	data, ok := ev.Data.(map[string]any)
	require.True(t, ok)
	messages, ok := data["messages"].([]*types.Envelope)
	require.True(t, ok)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].Payload["content"])
}

func TestPollFlowThroughHub(t *testing.T) {
	f := newHubFixture(t, 100)
	teacher, teacherSender := f.connect(t, "teacher", "teacher")
	student, studentSender := f.connect(t, "student", "student")

	f.dispatch(t, teacher, teacherSender, types.EventJoinRoom, "math", nil)
	f.dispatch(t, student, studentSender, types.EventJoinRoom, "math", nil)

	f.dispatch(t, teacher, teacherSender, types.EventCreatePoll, "math", map[string]any{
		"question": "Favorite?",
		"options":  []string{"a", "b"},
	})
	poll, ok := f.svc.Polls.Get("math")
	require.True(t, ok)

	f.dispatch(t, student, studentSender, types.EventVotePoll, "math", map[string]any{"option_id": "opt-1"})
	assert.Equal(t, 1, poll.Options[0].Votes)

	// A duplicate vote surfaces as an error event.
	f.dispatch(t, student, studentSender, types.EventVotePoll, "math", map[string]any{"option_id": "opt-2"})
	assert.Equal(t, types.CodeUnauthorizedAction, studentSender.errorCode(t))
}

func TestQuizFlowThroughHub(t *testing.T) {
	f := newHubFixture(t, 100)
	teacher, teacherSender := f.connect(t, "teacher", "teacher")
	student, studentSender := f.connect(t, "student", "student")

	f.dispatch(t, teacher, teacherSender, types.EventJoinRoom, "math", nil)
	f.dispatch(t, student, studentSender, types.EventJoinRoom, "math", nil)

	f.dispatch(t, teacher, teacherSender, types.EventCreateQuiz, "math", map[string]any{
		"title": "Arithmetic",
		"questions": []map[string]any{
			{"text": "2+2?", "options": []string{"3", "4"}, "points": 10, "correct": []string{"4"}},
		},
	})

	var quizID string
	for _, env := range teacherSender.envelopes {
		if env.Event == types.EventQuizCreated {
			quizID = env.Payload["quiz_id"].(string)
		}
	}
	require.NotEmpty(t, quizID)

	f.dispatch(t, student, studentSender, types.EventSubmitQuiz, "", map[string]any{
		"quiz_id": quizID,
		"answers": map[string]any{"q1": "4"},
	})

	quiz, ok := f.svc.Quizzes.Get(quizID)
	require.True(t, ok)
	assert.Len(t, quiz.Questions, 1)

	// Submitting from outside the quiz room is rejected.
	outsider, outsiderSender := f.connect(t, "outsider", "student")
	f.dispatch(t, outsider, outsiderSender, types.EventSubmitQuiz, "", map[string]any{
		"quiz_id": quizID,
		"answers": map[string]any{"q1": "4"},
	})
	assert.Equal(t, types.CodeUnauthorizedAction, outsiderSender.errorCode(t))
}

func TestWhiteboardFeatureFlag(t *testing.T) {
	f := newHubFixture(t, 100)
	sess, sender := f.connect(t, "alice", "teacher")

	f.dispatch(t, sess, sender, types.EventJoinRoom, "no-board", map[string]any{
		"settings": map[string]any{
			"max_members":        10,
			"allow_whiteboard":   false,
			"allow_screen_share": true,
		},
	})
	require.True(t, sess.InRoom("no-board"))

	f.dispatch(t, sess, sender, types.EventWhiteboardDraw, "no-board", map[string]any{
		"element": map[string]any{"kind": "line"},
	})
	assert.Equal(t, types.CodeUnauthorizedAction, sender.errorCode(t))
}

func TestWhiteboardJoinReturnsState(t *testing.T) {
	f := newHubFixture(t, 100)
	sess, sender := f.connect(t, "alice", "teacher")

	f.dispatch(t, sess, sender, types.EventJoinRoom, "math", nil)
	f.dispatch(t, sess, sender, types.EventWhiteboardDraw, "math", map[string]any{
		"element": map[string]any{"kind": "line"},
	})
	f.dispatch(t, sess, sender, types.EventJoinWhiteboard, "math", nil)

	ev := sender.lastEvent()
	require.NotNil(t, ev)
	require.Equal(t, types.EventWhiteboardState, ev.Event)

	data, ok := ev.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, data["version"])
}

func TestEmergencyRequiresStaffRole(t *testing.T) {
	f := newHubFixture(t, 100)
	student, sender := f.connect(t, "student", "student")

	f.dispatch(t, student, sender, types.EventCreateEmergency, "", map[string]any{
		"priority": "critical",
		"message":  "fire drill",
	})
	assert.Equal(t, types.CodeUnauthorizedAction, sender.errorCode(t))
}

func TestEmergencyFlowThroughHub(t *testing.T) {
	f := newHubFixture(t, 100)
	admin, adminSender := f.connect(t, "principal", "admin")
	teacher, teacherSender := f.connect(t, "ms-frizzle", "teacher")

	// Both are in the school room, as the gateway arranges at connect.
	schoolRoom := service.SchoolRoom("school-1")
	f.dispatch(t, admin, adminSender, types.EventJoinRoom, schoolRoom, nil)
	f.dispatch(t, teacher, teacherSender, types.EventJoinRoom, schoolRoom, nil)

	f.dispatch(t, admin, adminSender, types.EventCreateEmergency, "", map[string]any{
		"priority":       "critical",
		"message":        "Lockdown",
		"required_roles": []string{"teacher"},
	})

	var broadcastID string
	for _, env := range teacherSender.envelopes {
		if env.Event == types.EventEmergencyBroadcast {
			broadcastID = env.Payload["broadcast_id"].(string)
		}
	}
	require.NotEmpty(t, broadcastID)

	f.dispatch(t, teacher, teacherSender, types.EventAcknowledgeEmergency, "", map[string]any{
		"broadcast_id": broadcastID,
	})

	f.clock.Advance(time.Hour)
	assert.False(t, f.svc.Emergencies.Escalated(broadcastID))
}

func TestBusLocationThroughHub(t *testing.T) {
	f := newHubFixture(t, 100)
	driver, sender := f.connect(t, "driver", "driver")

	f.dispatch(t, driver, sender, types.EventJoinRoom, "bus-route-7", map[string]any{
		"category": types.RoomCategoryTracking,
	})
	f.dispatch(t, driver, sender, types.EventUpdateBusLocation, "bus-route-7", map[string]any{
		"bus_id":    "bus-12",
		"latitude":  35.1495,
		"longitude": -90.0490,
		"speed":     30,
	})
	f.dispatch(t, driver, sender, types.EventGetBusLocation, "", map[string]any{"bus_id": "bus-12"})

	ev := sender.lastEvent()
	require.NotNil(t, ev)
	require.Equal(t, types.EventBusLocation, ev.Event)

	loc, ok := ev.Data.(*service.BusLocation)
	require.True(t, ok)
	assert.Equal(t, 35.1495, loc.Latitude)

	// Out-of-range coordinates surface as invalid payload.
	f.dispatch(t, driver, sender, types.EventUpdateBusLocation, "bus-route-7", map[string]any{
		"bus_id":   "bus-12",
		"latitude": 95.0,
	})
	assert.Equal(t, types.CodeInvalidPayload, sender.errorCode(t))
}

func TestScreenShareFeatureFlagThroughHub(t *testing.T) {
	f := newHubFixture(t, 100)
	sess, sender := f.connect(t, "teacher", "teacher")

	f.dispatch(t, sess, sender, types.EventJoinRoom, "no-share", map[string]any{
		"settings": map[string]any{
			"max_members":        10,
			"allow_whiteboard":   true,
			"allow_screen_share": false,
		},
	})
	f.dispatch(t, sess, sender, types.EventStartScreenShare, "no-share", nil)
	assert.Equal(t, types.CodeUnauthorizedAction, sender.errorCode(t))
}

func TestSubscribeNotificationsDrainsQueue(t *testing.T) {
	f := newHubFixture(t, 100)

	require.NoError(t, f.svc.Notifications.Push("system", "System", "alice", map[string]any{"title": "queued"}))
	require.Equal(t, 1, f.svc.Notifications.QueuedCount("alice"))

	sess, sender := f.connect(t, "alice", "student")
	f.dispatch(t, sess, sender, types.EventSubscribeNotifications, "", nil)

	assert.Equal(t, 0, f.svc.Notifications.QueuedCount("alice"))

	found := false
	for _, ev := range sender.events {
		if ev.Event == types.EventNotification {
			found = true
		}
	}
	assert.True(t, found)
}
