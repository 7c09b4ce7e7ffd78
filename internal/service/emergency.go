package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"classhub/internal/fanout"
	"classhub/internal/scheduler"
	"classhub/internal/session"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Emergency priorities.
const (
	PriorityInfo     = "info"
	PriorityWarning  = "warning"
	PriorityCritical = "critical"
)

type ack struct {
	Role string    `json:"role"`
	At   time.Time `json:"at"`
}

// EmergencyBroadcast is one live emergency with its acknowledgement
// state. Critical broadcasts carry an escalation timer that fires unless
// every required role acknowledges in time.
type EmergencyBroadcast struct {
	ID            string
	Priority      string
	Message       string
	Audience      string // target room id
	SchoolID      string
	RequiredRoles []string
	CreatedBy     string
	CreatedAt     time.Time

	acks      map[string]ack // userID -> ack
	escalated bool
	timer     scheduler.Timer
}

func (b *EmergencyBroadcast) requiredAcksMet() bool {
	ackedRoles := lo.Uniq(lo.Map(lo.Values(b.acks), func(a ack, _ int) string { return a.Role }))
	return lo.Every(ackedRoles, b.RequiredRoles)
}

// EmergencyService broadcasts emergencies and escalates unacknowledged
// critical ones to the school's admin role room.
type EmergencyService struct {
	base
	sched      *scheduler.Scheduler
	ackTimeout time.Duration

	mu         sync.Mutex
	broadcasts map[string]*EmergencyBroadcast
}

func NewEmergencyService(fan *fanout.Fanout, store interfaces.EnvelopeStore, sched *scheduler.Scheduler, ackTimeout time.Duration, logger zerolog.Logger) *EmergencyService {
	return &EmergencyService{
		base:       newBase(fan, store, logger, "emergency"),
		sched:      sched,
		ackTimeout: ackTimeout,
		broadcasts: make(map[string]*EmergencyBroadcast),
	}
}

// Create broadcasts an emergency to the audience room. Critical
// broadcasts schedule a deferred escalation check.
func (s *EmergencyService) Create(sess *session.Session, priority, message, audience string, requiredRoles []string) (*EmergencyBroadcast, error) {
	switch priority {
	case PriorityInfo, PriorityWarning, PriorityCritical:
	default:
		return nil, types.ErrInvalidPayload
	}
	if message == "" {
		return nil, types.ErrInvalidPayload
	}
	if audience == "" {
		audience = SchoolRoom(sess.SchoolID)
	}

	b := &EmergencyBroadcast{
		ID:            uuid.New().String(),
		Priority:      priority,
		Message:       message,
		Audience:      audience,
		SchoolID:      sess.SchoolID,
		RequiredRoles: requiredRoles,
		CreatedBy:     sess.UserID,
		CreatedAt:     time.Now().UTC(),
		acks:          make(map[string]ack),
	}

	s.mu.Lock()
	s.broadcasts[b.ID] = b
	if priority == PriorityCritical && len(requiredRoles) > 0 {
		b.timer = s.sched.After(s.ackTimeout, func() { s.escalate(b.ID) })
	}
	s.mu.Unlock()

	env := s.fan.NewEnvelope(audience, sess.UserID, sess.UserName, types.EnvelopeTypeEmergency, types.EventEmergencyBroadcast, map[string]any{
		"broadcast_id":   b.ID,
		"priority":       priority,
		"message":        message,
		"required_roles": requiredRoles,
	})
	if err := s.emit(env); err != nil {
		return nil, err
	}
	return b, nil
}

// Acknowledge records one user's acknowledgement. Re-acknowledging is a
// no-op. Once every required role has acknowledged, the escalation timer
// is cancelled.
func (s *EmergencyService) Acknowledge(sess *session.Session, broadcastID string) error {
	s.mu.Lock()
	b, ok := s.broadcasts[broadcastID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: broadcast %s", types.ErrNotFound, broadcastID)
	}

	if _, dup := b.acks[sess.UserID]; dup {
		s.mu.Unlock()
		return nil
	}
	b.acks[sess.UserID] = ack{Role: sess.Role, At: time.Now().UTC()}

	if b.timer != nil && b.requiredAcksMet() {
		b.timer.Stop()
		b.timer = nil
	}
	audience := b.Audience
	ackCount := len(b.acks)
	s.mu.Unlock()

	env := s.fan.NewEnvelope(audience, sess.UserID, sess.UserName, types.EnvelopeTypeEmergency, types.EventEmergencyAcknowledged, map[string]any{
		"broadcast_id": broadcastID,
		"user_id":      sess.UserID,
		"role":         sess.Role,
		"ack_count":    ackCount,
	})
	return s.emit(env)
}

// escalate fires when the ack timeout elapses. The escalated flag
// guarantees the escalation event is emitted exactly once per broadcast.
func (s *EmergencyService) escalate(broadcastID string) {
	s.mu.Lock()
	b, ok := s.broadcasts[broadcastID]
	if !ok || b.escalated || b.requiredAcksMet() {
		s.mu.Unlock()
		return
	}
	b.escalated = true
	missing := lo.Filter(b.RequiredRoles, func(role string, _ int) bool {
		return !lo.ContainsBy(lo.Values(b.acks), func(a ack) bool { return a.Role == role })
	})
	s.mu.Unlock()

	env := s.fan.NewEnvelope(RoleRoom(b.SchoolID, "admin"), b.CreatedBy, "", types.EnvelopeTypeEmergency, types.EventEmergencyEscalation, map[string]any{
		"broadcast_id":  broadcastID,
		"priority":      b.Priority,
		"message":       b.Message,
		"missing_roles": missing,
	})
	if err := s.emit(env); err != nil {
		s.logger.Error().Err(err).Str("broadcast", broadcastID).Msg("escalation broadcast failed")
	}
}

// Get returns a live broadcast.
func (s *EmergencyService) Get(broadcastID string) (*EmergencyBroadcast, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[broadcastID]
	return b, ok
}

// Escalated reports whether the broadcast has escalated.
func (s *EmergencyService) Escalated(broadcastID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[broadcastID]
	return ok && b.escalated
}

// PurgeOld drops broadcasts created before the cutoff.
func (s *EmergencyService) PurgeOld(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, b := range s.broadcasts {
		if b.CreatedAt.Before(cutoff) {
			if b.timer != nil {
				b.timer.Stop()
			}
			delete(s.broadcasts, id)
			purged++
		}
	}
	return purged
}
