package session

import (
	"sync"
	"time"
)

// Session is the server-side record of one authenticated client
// connection. Membership changes come from the room registry; the
// presence monitor reads LastActive to evict idle sessions.
type Session struct {
	ID       string
	UserID   string
	UserName string
	Role     string
	SchoolID string

	CreatedAt time.Time

	mu         sync.RWMutex
	lastActive time.Time
	rooms      map[string]struct{}
}

// Touch records activity. Called on every inbound frame and pong.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = now
}

func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// AddRoom records that this session joined a room. Idempotent.
func (s *Session) AddRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = struct{}{}
}

// RemoveRoom forgets a joined room. Idempotent.
func (s *Session) RemoveRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

// InRoom reports whether the session currently holds the room.
func (s *Session) InRoom(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID]
	return ok
}

// Rooms returns a snapshot of the joined room ids.
func (s *Session) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		rooms = append(rooms, id)
	}
	return rooms
}
