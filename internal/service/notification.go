package service

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"classhub/internal/fanout"
	"classhub/internal/session"
	"classhub/internal/ws"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

type queuedNotification struct {
	payload map[string]any
	at      time.Time
}

// NotificationService pushes notifications to per-user rooms and keeps a
// capped, time-limited queue per user for offline delivery. The queue is
// drained when the user subscribes.
type NotificationService struct {
	base
	conns    *ws.Registry
	maxQueue int
	ttl      time.Duration

	mu     sync.Mutex
	queues map[string][]queuedNotification // userID -> pending
}

func NewNotificationService(fan *fanout.Fanout, store interfaces.EnvelopeStore, conns *ws.Registry, maxQueue int, ttl time.Duration, logger zerolog.Logger) *NotificationService {
	return &NotificationService{
		base:     newBase(fan, store, logger, "notifications"),
		conns:    conns,
		maxQueue: maxQueue,
		ttl:      ttl,
		queues:   make(map[string][]queuedNotification),
	}
}

// Push delivers a notification to one user's room. When no session on
// this instance is subscribed to the user room, the notification is also
// queued for later drain; delivery is best-effort, the queue is the
// offline fallback, not a guarantee.
func (s *NotificationService) Push(senderID, senderName, userID string, payload map[string]any) error {
	room := UserRoom(userID)

	env := s.fan.NewEnvelope(room, senderID, senderName, types.EnvelopeTypeNotification, types.EventNotification, payload)
	if err := s.emit(env); err != nil {
		return err
	}

	if !s.conns.HasSubscribers(room) {
		s.enqueue(userID, payload, env.Timestamp)
	}
	return nil
}

func (s *NotificationService) enqueue(userID string, payload map[string]any, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := append(s.queues[userID], queuedNotification{payload: payload, at: at})
	if len(q) > s.maxQueue {
		q = q[len(q)-s.maxQueue:] // drop oldest
	}
	s.queues[userID] = q
}

// Drain sends the user's queued notifications to the subscribing session
// and clears the queue. Expired entries are skipped.
func (s *NotificationService) Drain(sess *session.Session, sender interfaces.Sender, now time.Time) int {
	s.mu.Lock()
	pending := s.queues[sess.UserID]
	delete(s.queues, sess.UserID)
	s.mu.Unlock()

	delivered := 0
	for _, n := range pending {
		if s.ttl > 0 && now.Sub(n.at) > s.ttl {
			continue
		}
		ev := types.ServerEvent{
			Event:     types.EventNotification,
			RoomID:    UserRoom(sess.UserID),
			Data:      n.payload,
			Timestamp: n.at,
		}
		if err := sender.SendEvent(ev); err != nil {
			s.logger.Debug().Err(err).Str("user", sess.UserID).Msg("queued notification delivery failed")
			continue
		}
		delivered++
	}
	return delivered
}

// PurgeExpired drops queued notifications past their TTL. Called by the
// presence monitor sweep.
func (s *NotificationService) PurgeExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for userID, q := range s.queues {
		kept := q[:0]
		for _, n := range q {
			if s.ttl > 0 && now.Sub(n.at) > s.ttl {
				purged++
				continue
			}
			kept = append(kept, n)
		}
		if len(kept) == 0 {
			delete(s.queues, userID)
		} else {
			s.queues[userID] = kept
		}
	}
	return purged
}

// QueuedCount reports the pending queue length for a user.
func (s *NotificationService) QueuedCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[userID])
}
