// Package service implements the domain primitives built on the
// room/fan-out substrate. Every service follows the same lifecycle:
// validate the action against in-memory state, mutate under a
// per-entity lock, broadcast an envelope, then hand the same envelope
// to the persistence gateway fire-and-forget.
package service

import (
	"github.com/rs/zerolog"

	"classhub/internal/fanout"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// base carries the dependencies every domain service shares.
type base struct {
	fan    *fanout.Fanout
	store  interfaces.EnvelopeStore
	logger zerolog.Logger
}

func newBase(fan *fanout.Fanout, store interfaces.EnvelopeStore, logger zerolog.Logger, component string) base {
	return base{
		fan:    fan,
		store:  store,
		logger: logger.With().Str("component", component).Logger(),
	}
}

// emit broadcasts the envelope and appends it to the store. A broadcast
// failure is returned to the caller; a persistence failure never is,
// because the store logs and swallows it.
func (b *base) emit(env *types.Envelope) error {
	if err := b.fan.Broadcast(env); err != nil {
		return err
	}
	b.store.Append(env)
	return nil
}

// UserRoom is the per-user sub-room every session joins at connect.
// Direct deliveries (notifications, quiz summaries, signaling) address
// it instead of individual connections so cross-instance delivery works
// unchanged.
func UserRoom(userID string) string {
	return "user:" + userID
}

// SchoolRoom is the tenant-wide broadcast room.
func SchoolRoom(schoolID string) string {
	return "school:" + schoolID
}

// RoleRoom scopes a school room to one role, e.g. the admin escalation
// target.
func RoleRoom(schoolID, role string) string {
	return "school:" + schoolID + ":role:" + role
}
