package service

import (
	"context"

	"github.com/rs/zerolog"

	"classhub/internal/fanout"
	"classhub/internal/session"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// ChatService is stateless: every message becomes an envelope that is
// fanned out and appended; history replay reads back from the store.
type ChatService struct {
	base
}

func NewChatService(fan *fanout.Fanout, store interfaces.EnvelopeStore, logger zerolog.Logger) *ChatService {
	return &ChatService{base: newBase(fan, store, logger, "chat")}
}

// Send broadcasts a text or file message to the room.
func (s *ChatService) Send(sess *session.Session, roomID string, msgType string, payload map[string]any) (*types.Envelope, error) {
	if msgType != types.EnvelopeTypeText && msgType != types.EnvelopeTypeFile {
		msgType = types.EnvelopeTypeText
	}

	env := s.fan.NewEnvelope(roomID, sess.UserID, sess.UserName, msgType, types.EventNewMessage, payload)
	if err := s.emit(env); err != nil {
		return nil, err
	}
	return env, nil
}

// History returns the room's recent chat envelopes, oldest-first. The
// store filters by type so poll, whiteboard, and notification traffic
// in the same room never crowds chat out of the requested window.
func (s *ChatService) History(ctx context.Context, roomID string, limit int) ([]*types.Envelope, error) {
	return s.store.RecentByType(ctx, roomID, limit, types.EnvelopeTypeText, types.EnvelopeTypeFile)
}
