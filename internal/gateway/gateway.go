// Package gateway owns the WebSocket edge: upgrade, authentication,
// session establishment, the read pump with heartbeat, and teardown.
// Teardown order matters: rooms are left first so other members see
// the departure, then the session record and connection are dropped.
package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"classhub/internal/auth"
	"classhub/internal/room"
	"classhub/internal/service"
	"classhub/internal/session"
	"classhub/internal/ws"
	"classhub/pkg/interfaces"
)

// Dispatcher is the hub's inbound-frame entry point.
type Dispatcher interface {
	Dispatch(ctx context.Context, sess *session.Session, sender interfaces.Sender, raw []byte)
}

const maxFrameSize = 128 * 1024

// Gateway accepts client connections and runs one read pump per
// connection until disconnect or eviction.
type Gateway struct {
	verifier    auth.Verifier
	sessions    *session.Manager
	conns       *ws.Registry
	rooms       *room.Registry
	screenShare *service.ScreenShareService
	dispatch    Dispatcher
	logger      zerolog.Logger

	authTimeout    time.Duration
	pingInterval   time.Duration
	sessionTimeout time.Duration

	upgrader websocket.Upgrader
}

func New(
	verifier auth.Verifier,
	sessions *session.Manager,
	conns *ws.Registry,
	rooms *room.Registry,
	screenShare *service.ScreenShareService,
	dispatch Dispatcher,
	authTimeout, pingInterval, sessionTimeout time.Duration,
	logger zerolog.Logger,
) *Gateway {
	return &Gateway{
		verifier:       verifier,
		sessions:       sessions,
		conns:          conns,
		rooms:          rooms,
		screenShare:    screenShare,
		dispatch:       dispatch,
		logger:         logger.With().Str("component", "gateway").Logger(),
		authTimeout:    authTimeout,
		pingInterval:   pingInterval,
		sessionTimeout: sessionTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Cross-origin clients are expected; auth happens via token.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handle is the /ws endpoint. Authentication happens before the
// upgrade so a rejected client gets a proper HTTP status instead of a
// close frame.
func (g *Gateway) Handle(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)

	ctx, cancel := context.WithTimeout(r.Context(), g.authTimeout)
	identity, err := g.verifier.Verify(ctx, token)
	cancel()
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	socket, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}

	conn := ws.NewConnection(socket)
	sess := g.sessions.Create(identity.ID, identity.Name, identity.Role, identity.SchoolID, time.Now().UTC())
	conn.SetSessionID(sess.ID)

	if err := g.conns.Add(sess.ID, conn); err != nil {
		g.logger.Warn().Err(err).Str("user", identity.ID).Msg("connection rejected")
		g.sessions.Remove(sess.ID)
		_ = conn.Close()
		return
	}

	g.joinDefaultRooms(sess)

	g.logger.Info().
		Str("session", sess.ID).
		Str("user", identity.ID).
		Str("school", identity.SchoolID).
		Msg("client connected")

	go g.readPump(sess, conn, socket)
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return ""
}

// joinDefaultRooms subscribes the session to its addressing rooms so
// direct, tenant-wide, and role-scoped deliveries reach it.
func (g *Gateway) joinDefaultRooms(sess *session.Session) {
	defaults := []string{
		service.UserRoom(sess.UserID),
		service.SchoolRoom(sess.SchoolID),
		service.RoleRoom(sess.SchoolID, sess.Role),
	}
	for _, roomID := range defaults {
		if _, err := g.rooms.Join(sess, roomID, nil); err != nil {
			g.logger.Warn().Err(err).Str("room", roomID).Str("session", sess.ID).Msg("default room join failed")
		}
	}
}

func (g *Gateway) readPump(sess *session.Session, conn *ws.Connection, socket *websocket.Conn) {
	defer g.teardown(sess, conn)

	socket.SetReadLimit(maxFrameSize)
	_ = socket.SetReadDeadline(time.Now().Add(g.sessionTimeout))
	socket.SetPongHandler(func(string) error {
		sess.Touch(time.Now().UTC())
		return socket.SetReadDeadline(time.Now().Add(g.sessionTimeout))
	})

	pingTicker := time.NewTicker(g.pingInterval)
	defer pingTicker.Stop()
	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	ctx := context.Background()
	for {
		_, raw, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug().Err(err).Str("session", sess.ID).Msg("read failed")
			}
			return
		}
		sess.Touch(time.Now().UTC())
		_ = socket.SetReadDeadline(time.Now().Add(g.sessionTimeout))
		g.dispatch.Dispatch(ctx, sess, conn, raw)
	}
}

// teardown releases everything a connection held, in dependency order:
// active shares, room membership, session record, connection registry,
// socket.
func (g *Gateway) teardown(sess *session.Session, conn *ws.Connection) {
	for _, roomID := range sess.Rooms() {
		g.screenShare.ForceStop(sess, roomID)
	}
	g.rooms.ForceLeaveAll(sess)
	g.sessions.Remove(sess.ID)
	g.conns.Remove(sess.ID)
	_ = conn.Close()

	g.logger.Info().Str("session", sess.ID).Str("user", sess.UserID).Msg("client disconnected")
}

// Evict force-closes a session's connection. The read pump observes the
// close and runs the normal teardown path.
func (g *Gateway) Evict(sessionID string) {
	sender, ok := g.conns.Sender(sessionID)
	if !ok {
		return
	}
	g.logger.Info().Str("session", sessionID).Msg("evicting idle session")
	_ = sender.Close()
}
