package ws

import (
	"sync"

	"classhub/pkg/interfaces"
)

// Registry tracks this instance's live connections and their room
// subscriptions. It is pure connection bookkeeping: membership semantics
// (capacity, idempotence, notifications) live in the room registry.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]interfaces.Sender            // sessionID -> sender
	rooms    map[string]map[string]interfaces.Sender // roomID -> sessionID -> sender
	maxConns int
}

func NewRegistry(maxConns int) *Registry {
	return &Registry{
		sessions: make(map[string]interfaces.Sender),
		rooms:    make(map[string]map[string]interfaces.Sender),
		maxConns: maxConns,
	}
}

// Add registers a connection under its session id. Rejects when the
// instance connection cap is reached.
func (r *Registry) Add(sessionID string, sender interfaces.Sender) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxConns > 0 && len(r.sessions) >= r.maxConns {
		return ErrTooManyConnections
	}
	r.sessions[sessionID] = sender
	return nil
}

// Remove drops the connection and every room subscription it held.
// Idempotent: removing an unknown session is a no-op.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
	for roomID, subs := range r.rooms {
		delete(subs, sessionID)
		if len(subs) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// Subscribe attaches a session's sender to a room feed.
func (r *Registry) Subscribe(roomID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sender, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]interfaces.Sender)
	}
	r.rooms[roomID][sessionID] = sender
}

// Unsubscribe detaches a session from a room feed. Idempotent.
func (r *Registry) Unsubscribe(roomID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if subs, ok := r.rooms[roomID]; ok {
		delete(subs, sessionID)
		if len(subs) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// Sender returns the sender for a session.
func (r *Registry) Sender(sessionID string) (interfaces.Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sender, ok := r.sessions[sessionID]
	return sender, ok
}

// RoomSenders returns the senders currently subscribed to a room on this
// instance.
func (r *Registry) RoomSenders(roomID string) []interfaces.Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.rooms[roomID]
	senders := make([]interfaces.Sender, 0, len(subs))
	for _, s := range subs {
		senders = append(senders, s)
	}
	return senders
}

// HasSubscribers reports whether any local session is on the room feed.
func (r *Registry) HasSubscribers(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID]) > 0
}

// Stats reports instance-local connection counts for the admin API.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"connections":      len(r.sessions),
		"subscribed_rooms": len(r.rooms),
	}
}
