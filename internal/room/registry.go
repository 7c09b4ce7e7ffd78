package room

import (
	"time"

	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"classhub/internal/fanout"
	"classhub/internal/session"
	"classhub/internal/ws"
	"classhub/pkg/types"
)

// CreateMeta carries optional settings for a room created on first join.
type CreateMeta struct {
	Name     string
	Category string
	Settings *types.RoomSettings
}

// Registry owns room lifecycle and membership. Rooms are created on
// first reference and deleted when the last member leaves; the registry
// mutex is the single authority for create/delete so concurrent joins
// and leaves on the same id cannot race each other.
type Registry struct {
	conns    *ws.Registry
	fan      *fanout.Fanout
	sessions *session.Manager
	defaults types.RoomSettings
	logger   zerolog.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewRegistry(conns *ws.Registry, fan *fanout.Fanout, sessions *session.Manager, defaults types.RoomSettings, logger zerolog.Logger) *Registry {
	return &Registry{
		conns:    conns,
		fan:      fan,
		sessions: sessions,
		defaults: defaults,
		logger:   logger.With().Str("component", "rooms").Logger(),
		rooms:    make(map[string]*Room),
	}
}

// Join adds the session's user to the room, creating the room on first
// reference. Rejects with ErrCapacity when the distinct-user count is at
// the limit. Duplicate joins by the same user are no-ops that still
// subscribe the extra session to the room feed.
//
// The user_joined notification is broadcast while the room lock is held
// so all current members observe membership events in the order they
// were applied.
func (reg *Registry) Join(sess *session.Session, roomID string, meta *CreateMeta) (types.RoomInfo, error) {
	if !types.IsValidRoomID(roomID) {
		return types.RoomInfo{}, types.ErrInvalidPayload
	}

	var r *Room
	for {
		r = reg.getOrCreate(sess, roomID, meta)
		r.mu.Lock()
		if !r.deleted {
			break
		}
		// Lost a race with delete-on-empty; the next getOrCreate builds
		// a fresh room under the registry lock.
		r.mu.Unlock()
	}

	joined, ok := r.addMember(sess.UserID, sess.ID)
	if !ok {
		r.mu.Unlock()
		return types.RoomInfo{}, types.ErrCapacity
	}

	reg.conns.Subscribe(roomID, sess.ID)
	reg.fan.SubscribeRoom(roomID)
	sess.AddRoom(roomID)

	info := types.RoomInfo{
		ID:          r.ID,
		Name:        r.Name,
		Category:    r.Category,
		SchoolID:    r.SchoolID,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
		MemberCount: r.memberCount(),
		Settings:    r.Settings,
	}

	if joined {
		env := reg.fan.NewEnvelope(roomID, sess.UserID, sess.UserName,
			types.EnvelopeTypeNotification, types.EventUserJoined, map[string]any{
				"user_id":      sess.UserID,
				"user_name":    sess.UserName,
				"member_count": info.MemberCount,
			})
		if err := reg.fan.Broadcast(env); err != nil {
			reg.logger.Warn().Err(err).Str("room", roomID).Msg("join notification failed")
		}
	}
	r.mu.Unlock()

	return info, nil
}

// Leave removes the session from the room. Leaving a room the session
// never joined is a no-op, not an error. The room is deleted when its
// member set becomes empty.
func (reg *Registry) Leave(sess *session.Session, roomID string) {
	reg.mu.RLock()
	r, ok := reg.rooms[roomID]
	reg.mu.RUnlock()
	if !ok {
		sess.RemoveRoom(roomID)
		reg.conns.Unsubscribe(roomID, sess.ID)
		return
	}

	r.mu.Lock()
	left, held := r.removeMember(sess.UserID, sess.ID)
	reg.conns.Unsubscribe(roomID, sess.ID)
	sess.RemoveRoom(roomID)

	if !held {
		r.mu.Unlock()
		return
	}

	empty := r.memberCount() == 0
	if left && !empty {
		env := reg.fan.NewEnvelope(roomID, sess.UserID, sess.UserName,
			types.EnvelopeTypeNotification, types.EventUserLeft, map[string]any{
				"user_id":      sess.UserID,
				"user_name":    sess.UserName,
				"member_count": r.memberCount(),
			})
		if err := reg.fan.Broadcast(env); err != nil {
			reg.logger.Warn().Err(err).Str("room", roomID).Msg("leave notification failed")
		}
	}
	r.mu.Unlock()

	if empty {
		reg.deleteIfEmpty(roomID)
	}
}

// ForceLeaveAll leaves every room the session had joined. Called on
// disconnect before the session record is discarded, so other members
// observe the departure before any reconnect can act.
func (reg *Registry) ForceLeaveAll(sess *session.Session) {
	for _, roomID := range sess.Rooms() {
		reg.Leave(sess, roomID)
	}
}

func (reg *Registry) getOrCreate(sess *session.Session, roomID string, meta *CreateMeta) *Room {
	reg.mu.RLock()
	if r, ok := reg.rooms[roomID]; ok {
		reg.mu.RUnlock()
		return r
	}
	reg.mu.RUnlock()

	reg.mu.Lock()
	defer reg.mu.Unlock()

	// Re-check under the write lock: a concurrent join may have won.
	if r, ok := reg.rooms[roomID]; ok {
		return r
	}

	r := &Room{
		ID:        roomID,
		Name:      roomID,
		Category:  types.RoomCategoryGeneral,
		SchoolID:  sess.SchoolID,
		CreatedBy: sess.UserID,
		CreatedAt: time.Now().UTC(),
		Settings:  reg.defaults,
		members:   make(map[string]map[string]struct{}),
	}
	if meta != nil {
		if meta.Name != "" {
			r.Name = meta.Name
		}
		if types.IsValidRoomCategory(meta.Category) {
			r.Category = meta.Category
		}
		if meta.Settings != nil {
			r.Settings = *meta.Settings
			if r.Settings.MaxMembers <= 0 {
				r.Settings.MaxMembers = reg.defaults.MaxMembers
			}
		}
	}

	reg.rooms[roomID] = r
	reg.logger.Info().Str("room", roomID).Str("category", r.Category).Str("creator", sess.UserID).Msg("room created")
	return r
}

func (reg *Registry) deleteIfEmpty(roomID string) {
	reg.mu.Lock()
	r, ok := reg.rooms[roomID]
	if ok {
		r.mu.Lock()
		if r.memberCount() == 0 {
			r.deleted = true
			delete(reg.rooms, roomID)
		} else {
			ok = false
		}
		r.mu.Unlock()
	}
	reg.mu.Unlock()

	if ok {
		if !reg.conns.HasSubscribers(roomID) {
			reg.fan.UnsubscribeRoom(roomID)
		}
		reg.fan.ReleaseRoom(roomID)
		reg.logger.Info().Str("room", roomID).Msg("room deleted")
	}
}

// Get returns a live room by id.
func (reg *Registry) Get(roomID string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	return r, ok
}

// List snapshots all live rooms for the admin API.
func (reg *Registry) List() []types.RoomInfo {
	reg.mu.RLock()
	rooms := lo.Values(reg.rooms)
	reg.mu.RUnlock()

	return lo.Map(rooms, func(r *Room, _ int) types.RoomInfo {
		return r.Info()
	})
}

// Count returns the number of live rooms.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}
