package room

import (
	"sync"
	"time"

	"classhub/pkg/types"
)

// Room groups users that receive the same broadcasts. Membership is a
// distinct-user set; each member entry refcounts the sessions that user
// holds in the room, so a user with two tabs stays a member until both
// leave.
type Room struct {
	ID        string
	Name      string
	Category  string
	SchoolID  string
	CreatedBy string
	CreatedAt time.Time
	Settings  types.RoomSettings

	mu      sync.Mutex
	members map[string]map[string]struct{} // userID -> sessionID set
	deleted bool                           // set once the registry removed the room
}

func (r *Room) memberCount() int {
	return len(r.members)
}

// addMember records a session for the user. Returns whether the user is
// newly a member (first session) and whether the add was rejected for
// capacity. Adding an already-present member is a no-op that always
// succeeds.
func (r *Room) addMember(userID, sessionID string) (joined bool, ok bool) {
	sessions, present := r.members[userID]
	if !present {
		if r.Settings.MaxMembers > 0 && len(r.members) >= r.Settings.MaxMembers {
			return false, false
		}
		sessions = make(map[string]struct{})
		r.members[userID] = sessions
	}
	sessions[sessionID] = struct{}{}
	return !present, true
}

// removeMember drops a session for the user. Returns whether the user
// left the member set entirely and whether the session was present.
func (r *Room) removeMember(userID, sessionID string) (left bool, ok bool) {
	sessions, present := r.members[userID]
	if !present {
		return false, false
	}
	if _, held := sessions[sessionID]; !held {
		return false, false
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(r.members, userID)
		return true, true
	}
	return false, true
}

// Info snapshots the room for notifications and the admin API.
func (r *Room) Info() types.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	return types.RoomInfo{
		ID:          r.ID,
		Name:        r.Name,
		Category:    r.Category,
		SchoolID:    r.SchoolID,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
		MemberCount: r.memberCount(),
		Settings:    r.Settings,
	}
}

// Members returns the distinct user ids currently in the room.
func (r *Room) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]string, 0, len(r.members))
	for id := range r.members {
		users = append(users, id)
	}
	return users
}

// HasMember reports distinct-user membership.
func (r *Room) HasMember(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[userID]
	return ok
}
