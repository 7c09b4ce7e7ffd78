package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"classhub/internal/fanout"
	"classhub/internal/session"
	"classhub/internal/ws"
	"classhub/pkg/types"
)

// memStore is an in-memory EnvelopeStore for service tests.
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

func (m *memStore) appended(roomID string) []*types.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.Envelope
	for _, env := range m.envelopes {
		if env.RoomID == roomID {
			out = append(out, env)
		}
	}
	return out
}

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

func (c *captureSender) received() []*types.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Envelope(nil), c.envelopes...)
}

func (c *captureSender) lastEnvelope() *types.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.envelopes) == 0 {
		return nil
	}
	return c.envelopes[len(c.envelopes)-1]
}

// svcFixture is the substrate every domain service test runs on: a
// connection registry, a fan-out with no backplane, an in-memory store,
// and a session manager.
type svcFixture struct {
	conns    *ws.Registry
	fan      *fanout.Fanout
	store    *memStore
	sessions *session.Manager
}

func newSvcFixture(t *testing.T) *svcFixture {
	t.Helper()

	conns := ws.NewRegistry(0)
	return &svcFixture{
		conns:    conns,
		fan:      fanout.New(conns, nil, zerolog.Nop()),
		store:    &memStore{},
		sessions: session.NewManager(zerolog.Nop()),
	}
}

// member creates a session subscribed to the given rooms.
func (f *svcFixture) member(t *testing.T, userID, role string, rooms ...string) (*session.Session, *captureSender) {
	t.Helper()

	sess := f.sessions.Create(userID, userID, role, "school-1", time.Now().UTC())
	sender := &captureSender{}
	require.NoError(t, f.conns.Add(sess.ID, sender))
	for _, roomID := range rooms {
		f.conns.Subscribe(roomID, sess.ID)
		sess.AddRoom(roomID)
	}
	return sess, sender
}
