package session

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerCreateGetRemove(t *testing.T) {
	m := NewManager(zerolog.Nop())
	now := time.Now().UTC()

	sess := m.Create("alice", "Alice", "teacher", "school-1", now)
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, "alice", sess.UserID)
	assert.Equal(t, now, sess.LastActive())
	assert.Equal(t, 1, m.Count())

	got, ok := m.Get(sess.ID)
	require.True(t, ok)
	assert.Same(t, sess, got)

	m.Remove(sess.ID)
	_, ok = m.Get(sess.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Count())

	// Idempotent.
	m.Remove(sess.ID)
}

func TestSessionRoomBookkeeping(t *testing.T) {
	m := NewManager(zerolog.Nop())
	sess := m.Create("bob", "Bob", "student", "school-1", time.Now())

	sess.AddRoom("math")
	sess.AddRoom("math")
	sess.AddRoom("art")

	assert.True(t, sess.InRoom("math"))
	assert.False(t, sess.InRoom("gym"))
	assert.ElementsMatch(t, []string{"math", "art"}, sess.Rooms())

	sess.RemoveRoom("math")
	assert.False(t, sess.InRoom("math"))
}

func TestManagerIdle(t *testing.T) {
	m := NewManager(zerolog.Nop())
	base := time.Now().UTC()

	stale := m.Create("old", "Old", "student", "school-1", base.Add(-10*time.Minute))
	fresh := m.Create("new", "New", "student", "school-1", base)

	idle := m.Idle(base.Add(-5 * time.Minute))
	require.Len(t, idle, 1)
	assert.Equal(t, stale.ID, idle[0].ID)

	// Activity rescues a session from the idle set.
	stale.Touch(base)
	assert.Empty(t, m.Idle(base.Add(-5*time.Minute)))
	_ = fresh
}
