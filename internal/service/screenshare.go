package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"classhub/internal/fanout"
	"classhub/internal/session"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

type activeShare struct {
	sharerID   string
	sharerName string
	startedAt  time.Time
}

// ScreenShareService tracks at most one active share per room and relays
// signaling payloads between peers through their user rooms.
type ScreenShareService struct {
	base
	maxBitrate   int
	maxFrameRate int

	mu     sync.Mutex
	shares map[string]*activeShare // roomID -> share
}

func NewScreenShareService(fan *fanout.Fanout, store interfaces.EnvelopeStore, maxBitrate, maxFrameRate int, logger zerolog.Logger) *ScreenShareService {
	return &ScreenShareService{
		base:         newBase(fan, store, logger, "screenshare"),
		maxBitrate:   maxBitrate,
		maxFrameRate: maxFrameRate,
		shares:       make(map[string]*activeShare),
	}
}

// Start claims the room's share slot and broadcasts screen_share_started
// with the negotiated encoder limits.
func (s *ScreenShareService) Start(sess *session.Session, roomID string) error {
	s.mu.Lock()
	if _, active := s.shares[roomID]; active {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrUnauthorizedAction, ErrShareActive)
	}
	s.shares[roomID] = &activeShare{
		sharerID:   sess.UserID,
		sharerName: sess.UserName,
		startedAt:  time.Now().UTC(),
	}
	s.mu.Unlock()

	env := s.fan.NewEnvelope(roomID, sess.UserID, sess.UserName, types.EnvelopeTypeScreenShare, types.EventScreenShareStarted, map[string]any{
		"sharer_id":      sess.UserID,
		"sharer_name":    sess.UserName,
		"max_bitrate":    s.maxBitrate,
		"max_frame_rate": s.maxFrameRate,
	})
	return s.emit(env)
}

// Stop releases the share. Only the original sharer may stop it.
func (s *ScreenShareService) Stop(sess *session.Session, roomID string) error {
	s.mu.Lock()
	share, active := s.shares[roomID]
	if !active {
		s.mu.Unlock()
		return fmt.Errorf("%w: no active share in room %s", types.ErrNotFound, roomID)
	}
	if share.sharerID != sess.UserID {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrUnauthorizedAction, ErrNotSharer)
	}
	delete(s.shares, roomID)
	s.mu.Unlock()

	env := s.fan.NewEnvelope(roomID, sess.UserID, sess.UserName, types.EnvelopeTypeScreenShare, types.EventScreenShareStopped, map[string]any{
		"sharer_id": sess.UserID,
	})
	return s.emit(env)
}

// ForceStop releases a share held by a departing user without the
// sharer check. Used by the gateway on disconnect.
func (s *ScreenShareService) ForceStop(sess *session.Session, roomID string) {
	s.mu.Lock()
	share, active := s.shares[roomID]
	if !active || share.sharerID != sess.UserID {
		s.mu.Unlock()
		return
	}
	delete(s.shares, roomID)
	s.mu.Unlock()

	env := s.fan.NewEnvelope(roomID, sess.UserID, sess.UserName, types.EnvelopeTypeScreenShare, types.EventScreenShareStopped, map[string]any{
		"sharer_id": sess.UserID,
		"reason":    "disconnected",
	})
	if err := s.emit(env); err != nil {
		s.logger.Warn().Err(err).Str("room", roomID).Msg("forced share stop broadcast failed")
	}
}

// Signal relays a WebRTC signaling payload to one target user. Signals
// are transient: they are broadcast to the target's user room but not
// persisted.
func (s *ScreenShareService) Signal(sess *session.Session, roomID, targetUserID string, signal map[string]any) error {
	if targetUserID == "" || len(signal) == 0 {
		return types.ErrInvalidPayload
	}

	env := s.fan.NewEnvelope(UserRoom(targetUserID), sess.UserID, sess.UserName, types.EnvelopeTypeScreenShare, types.EventScreenShareSignal, map[string]any{
		"room_id": roomID,
		"signal":  signal,
	})
	return s.fan.Broadcast(env)
}

// Sharer reports the active sharer for a room.
func (s *ScreenShareService) Sharer(roomID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	share, ok := s.shares[roomID]
	if !ok {
		return "", false
	}
	return share.sharerID, true
}

// PurgeOrphans drops shares whose room no longer exists.
func (s *ScreenShareService) PurgeOrphans(roomExists func(string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for roomID := range s.shares {
		if !roomExists(roomID) {
			delete(s.shares, roomID)
			purged++
		}
	}
	return purged
}
