package interfaces

import (
	"context"
	"time"

	"classhub/pkg/types"
)

// Sender is the outbound half of a client connection. Implementations
// must be safe for concurrent use; delivery order per sender follows
// call order.
type Sender interface {
	SendEvent(ev types.ServerEvent) error
	SendEnvelope(env *types.Envelope) error
	Close() error
}

// Backplane is the cross-instance publish/subscribe channel. Publish is
// fire-and-forget; subscribed room envelopes from other instances are
// handed to the callback registered at construction.
type Backplane interface {
	Publish(env *types.Envelope) error
	Subscribe(roomID string) error
	Unsubscribe(roomID string) error
	Close()
}

// EnvelopeStore is the durable append-only persistence gateway. Append is
// fire-and-forget: failures are logged by the implementation and never
// surface to the caller.
type EnvelopeStore interface {
	Append(env *types.Envelope)
	Recent(ctx context.Context, roomID string, limit int) ([]*types.Envelope, error)
	RecentByType(ctx context.Context, roomID string, limit int, envTypes ...string) ([]*types.Envelope, error)
	Sweep(ctx context.Context, olderThan time.Time) (int64, error)
}
