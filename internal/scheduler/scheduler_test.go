package scheduler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestManualClockAdvanceFiresInDeadlineOrder(t *testing.T) {
	clock := NewManualClock(time.Unix(1000, 0))

	var order []string
	clock.AfterFunc(3*time.Second, func() { order = append(order, "late") })
	clock.AfterFunc(1*time.Second, func() { order = append(order, "early") })

	clock.Advance(5 * time.Second)

	assert.Equal(t, []string{"early", "late"}, order)
	assert.Equal(t, time.Unix(1005, 0), clock.Now())
}

func TestManualClockStopPreventsFiring(t *testing.T) {
	clock := NewManualClock(time.Unix(1000, 0))

	fired := false
	timer := clock.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	clock.Advance(10 * time.Second)
	assert.False(t, fired)

	// Stopping again reports nothing was prevented.
	assert.False(t, timer.Stop())
}

func TestSchedulerEveryReschedules(t *testing.T) {
	clock := NewManualClock(time.Unix(1000, 0))
	s := New(clock, zerolog.Nop())

	runs := 0
	s.Every("counter", time.Minute, func() { runs++ })

	clock.Advance(30 * time.Second)
	assert.Equal(t, 0, runs)

	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, runs)

	clock.Advance(3 * time.Minute)
	assert.Equal(t, 4, runs)
}

func TestSchedulerStopCancelsJobs(t *testing.T) {
	clock := NewManualClock(time.Unix(1000, 0))
	s := New(clock, zerolog.Nop())

	runs := 0
	s.Every("counter", time.Minute, func() { runs++ })

	s.Stop()
	clock.Advance(10 * time.Minute)
	assert.Equal(t, 0, runs)

	// Registration after Stop is a no-op.
	s.Every("ghost", time.Minute, func() { runs++ })
	clock.Advance(10 * time.Minute)
	assert.Equal(t, 0, runs)
}

func TestSchedulerAfterOneShot(t *testing.T) {
	clock := NewManualClock(time.Unix(1000, 0))
	s := New(clock, zerolog.Nop())

	runs := 0
	s.After(time.Second, func() { runs++ })

	clock.Advance(time.Hour)
	assert.Equal(t, 1, runs)
}
