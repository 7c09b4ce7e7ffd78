package fanout

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"classhub/internal/ws"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Fanout delivers envelopes to every session subscribed to a room,
// locally through the connection registry and across instances through
// the backplane.
//
// Ordering: a per-room mutex serializes Broadcast so two envelopes
// published by this instance reach local members and the backplane in
// publish order. Cross-instance order is best-effort only; callers must
// not depend on it.
type Fanout struct {
	registry   *ws.Registry
	backplane  interfaces.Backplane
	instanceID string
	logger     zerolog.Logger

	mu        sync.Mutex
	roomLocks map[string]*sync.Mutex
}

func New(registry *ws.Registry, backplane interfaces.Backplane, logger zerolog.Logger) *Fanout {
	return &Fanout{
		registry:   registry,
		backplane:  backplane,
		instanceID: uuid.New().String(),
		logger:     logger.With().Str("component", "fanout").Logger(),
		roomLocks:  make(map[string]*sync.Mutex),
	}
}

// InstanceID identifies this process on the backplane.
func (f *Fanout) InstanceID() string {
	return f.instanceID
}

func (f *Fanout) roomLock(roomID string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.roomLocks[roomID]
	if !ok {
		l = &sync.Mutex{}
		f.roomLocks[roomID] = l
	}
	return l
}

// ReleaseRoom drops the per-room lock entry once a room is destroyed.
func (f *Fanout) ReleaseRoom(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.roomLocks, roomID)
}

// NewEnvelope stamps a fresh envelope with identity, origin, and time.
func (f *Fanout) NewEnvelope(roomID, senderID, senderName, envType, event string, payload map[string]any) *types.Envelope {
	return &types.Envelope{
		ID:         uuid.New().String(),
		RoomID:     roomID,
		SenderID:   senderID,
		SenderName: senderName,
		Type:       envType,
		Event:      event,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
		Origin:     f.instanceID,
	}
}

// Broadcast delivers the envelope to local room members and publishes it
// on the backplane for remote instances. Individual send failures are
// logged and skipped; a slow member never blocks the rest of the room.
func (f *Fanout) Broadcast(env *types.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	l := f.roomLock(env.RoomID)
	l.Lock()
	defer l.Unlock()

	f.deliverLocal(env)

	if f.backplane != nil {
		if err := f.backplane.Publish(env); err != nil {
			f.logger.Warn().Err(err).Str("room", env.RoomID).Msg("backplane publish failed")
		}
	}
	return nil
}

// HandleRemote re-emits an envelope received from the backplane to local
// members. Envelopes that originated here are dropped to break the loop.
func (f *Fanout) HandleRemote(env *types.Envelope) {
	if env == nil || env.Origin == f.instanceID {
		return
	}

	l := f.roomLock(env.RoomID)
	l.Lock()
	defer l.Unlock()

	f.deliverLocal(env)
}

func (f *Fanout) deliverLocal(env *types.Envelope) {
	for _, sender := range f.registry.RoomSenders(env.RoomID) {
		if err := sender.SendEnvelope(env); err != nil {
			f.logger.Debug().Err(err).Str("room", env.RoomID).Str("event", env.Event).Msg("local delivery failed")
		}
	}
}

// SubscribeRoom ensures this instance receives backplane traffic for the
// room. Called by the room registry on the first local join.
func (f *Fanout) SubscribeRoom(roomID string) {
	if f.backplane == nil {
		return
	}
	if err := f.backplane.Subscribe(roomID); err != nil {
		f.logger.Warn().Err(err).Str("room", roomID).Msg("backplane subscribe failed")
	}
}

// UnsubscribeRoom drops the backplane subscription once no local session
// holds the room.
func (f *Fanout) UnsubscribeRoom(roomID string) {
	if f.backplane == nil {
		return
	}
	if err := f.backplane.Unsubscribe(roomID); err != nil {
		f.logger.Warn().Err(err).Str("room", roomID).Msg("backplane unsubscribe failed")
	}
}
