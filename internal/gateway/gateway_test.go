package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classhub/internal/auth"
	"classhub/internal/fanout"
	"classhub/internal/room"
	"classhub/internal/service"
	"classhub/internal/session"
	"classhub/internal/ws"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

type mockVerifier struct{}

func (mockVerifier) Verify(_ context.Context, token string) (*auth.Identity, error) {
	if token != "good-token" {
		return nil, types.ErrAuth
	}
	return &auth.Identity{ID: "alice", Role: "teacher", SchoolID: "school-1", Name: "Alice"}, nil
}

type recordDispatcher struct {
	frames chan []byte
}

func (d *recordDispatcher) Dispatch(_ context.Context, _ *session.Session, _ interfaces.Sender, raw []byte) {
	d.frames <- raw
}

type gwFixture struct {
	server     *httptest.Server
	sessions   *session.Manager
	rooms      *room.Registry
	gateway    *Gateway
	dispatcher *recordDispatcher
}

func newGWFixture(t *testing.T) *gwFixture {
	t.Helper()

	logger := zerolog.Nop()
	conns := ws.NewRegistry(0)
	fan := fanout.New(conns, nil, logger)
	sessions := session.NewManager(logger)
	rooms := room.NewRegistry(conns, fan, sessions, types.RoomSettings{MaxMembers: 50}, logger)
	shares := service.NewScreenShareService(fan, noopStore{}, 1500, 15, logger)
	dispatcher := &recordDispatcher{frames: make(chan []byte, 10)}

	gw := New(
		mockVerifier{}, sessions, conns, rooms, shares, dispatcher,
		time.Second, 50*time.Millisecond, 2*time.Second,
		logger,
	)

	srv := httptest.NewServer(http.HandlerFunc(gw.Handle))
	t.Cleanup(srv.Close)

	return &gwFixture{server: srv, sessions: sessions, rooms: rooms, gateway: gw, dispatcher: dispatcher}
}

type noopStore struct{}

func (noopStore) Append(*types.Envelope) {}
func (noopStore) Recent(context.Context, string, int) ([]*types.Envelope, error) {
	return nil, nil
}
func (noopStore) RecentByType(context.Context, string, int, ...string) ([]*types.Envelope, error) {
	return nil, nil
}
func (noopStore) Sweep(context.Context, time.Time) (int64, error) { return 0, nil }

func (f *gwFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestHandleRejectsBadToken(t *testing.T) {
	f := newGWFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "?token=wrong"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, f.sessions.Count())
}

func TestHandleRejectsMissingToken(t *testing.T) {
	f := newGWFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnectJoinsDefaultRooms(t *testing.T) {
	f := newGWFixture(t)
	_ = f.dial(t, "good-token")

	waitFor(t, func() bool { return f.sessions.Count() == 1 })

	// user, school, and role addressing rooms exist.
	waitFor(t, func() bool { return f.rooms.Count() == 3 })
	_, ok := f.rooms.Get(service.UserRoom("alice"))
	assert.True(t, ok)
	_, ok = f.rooms.Get(service.SchoolRoom("school-1"))
	assert.True(t, ok)
	_, ok = f.rooms.Get(service.RoleRoom("school-1", "teacher"))
	assert.True(t, ok)
}

func TestFramesReachDispatcher(t *testing.T) {
	f := newGWFixture(t)
	conn := f.dial(t, "good-token")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"join_room","room_id":"math"}`)))

	select {
	case raw := <-f.dispatcher.frames:
		assert.Contains(t, string(raw), "join_room")
	case <-time.After(3 * time.Second):
		t.Fatal("frame never reached the dispatcher")
	}
}

func TestDisconnectTearsDownState(t *testing.T) {
	f := newGWFixture(t)
	conn := f.dial(t, "good-token")

	waitFor(t, func() bool { return f.sessions.Count() == 1 })
	require.NoError(t, conn.Close())

	waitFor(t, func() bool { return f.sessions.Count() == 0 })
	waitFor(t, func() bool { return f.rooms.Count() == 0 })
}

func TestEvictClosesConnection(t *testing.T) {
	f := newGWFixture(t)
	conn := f.dial(t, "good-token")

	waitFor(t, func() bool { return f.sessions.Count() == 1 })

	// Every live session is idle against a future cutoff.
	idle := f.sessions.Idle(time.Now().Add(time.Hour))
	require.Len(t, idle, 1)
	sessionID := idle[0].ID

	f.gateway.Evict(sessionID)

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	waitFor(t, func() bool { return f.sessions.Count() == 0 })
}

func TestBearerTokenSources(t *testing.T) {
	reqQuery := httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	assert.Equal(t, "abc", bearerToken(reqQuery))

	reqHeader := httptest.NewRequest(http.MethodGet, "/ws", nil)
	reqHeader.Header.Set("Authorization", "Bearer xyz")
	assert.Equal(t, "xyz", bearerToken(reqHeader))

	reqNone := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.Equal(t, "", bearerToken(reqNone))
}
