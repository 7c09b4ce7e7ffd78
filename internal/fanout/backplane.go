package fanout

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"classhub/pkg/types"
)

const subjectPrefix = "classhub.rooms."

// NATSBackplane publishes envelopes on one subject per room id and
// re-emits subscribed rooms through the handler callback.
type NATSBackplane struct {
	conn    *nats.Conn
	handler func(*types.Envelope)
	logger  zerolog.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NewNATSBackplane connects to the shared NATS cluster. The handler is
// invoked for every envelope received on a subscribed room subject.
func NewNATSBackplane(url string, handler func(*types.Envelope), logger zerolog.Logger) (*NATSBackplane, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to backplane: %w", err)
	}

	return &NATSBackplane{
		conn:    conn,
		handler: handler,
		logger:  logger.With().Str("component", "backplane").Logger(),
		subs:    make(map[string]*nats.Subscription),
	}, nil
}

func (b *NATSBackplane) Publish(env *types.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return b.conn.Publish(subjectPrefix+env.RoomID, data)
}

func (b *NATSBackplane) Subscribe(roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[roomID]; ok {
		return nil
	}

	sub, err := b.conn.Subscribe(subjectPrefix+roomID, func(msg *nats.Msg) {
		var env types.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("malformed backplane envelope")
			return
		}
		b.handler(&env)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to room %s: %w", roomID, err)
	}

	b.subs[roomID] = sub
	return nil
}

func (b *NATSBackplane) Unsubscribe(roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[roomID]
	if !ok {
		return nil
	}
	delete(b.subs, roomID)
	return sub.Unsubscribe()
}

func (b *NATSBackplane) Close() {
	b.mu.Lock()
	for roomID, sub := range b.subs {
		_ = sub.Unsubscribe()
		delete(b.subs, roomID)
	}
	b.mu.Unlock()

	if err := b.conn.Drain(); err != nil {
		b.logger.Warn().Err(err).Msg("backplane drain failed")
	}
}
