package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler owns all periodic and deferred work in the process so that
// nothing else reaches for time.AfterFunc or time.Ticker directly.
// Components register jobs; tests drive them through a ManualClock.
type Scheduler struct {
	clock  Clock
	logger zerolog.Logger

	mu      sync.Mutex
	stopped bool
	jobs    []*periodicJob
}

type periodicJob struct {
	name     string
	interval time.Duration
	fn       func()
	timer    Timer
}

func New(clock Clock, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		clock:  clock,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Every runs fn at the given interval until Stop. The first run happens
// one interval after registration.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	job := &periodicJob{name: name, interval: interval, fn: fn}
	s.jobs = append(s.jobs, job)
	job.timer = s.clock.AfterFunc(interval, func() { s.tick(job) })
	s.logger.Debug().Str("job", name).Dur("interval", interval).Msg("periodic job registered")
}

func (s *Scheduler) tick(job *periodicJob) {
	job.fn()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	job.timer = s.clock.AfterFunc(job.interval, func() { s.tick(job) })
}

// After schedules a one-shot call and returns its cancel handle. Used for
// deferred checks such as emergency escalation.
func (s *Scheduler) After(d time.Duration, fn func()) Timer {
	return s.clock.AfterFunc(d, fn)
}

// Now exposes the scheduler's clock for staleness computations.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Stop cancels all periodic jobs. One-shot timers already handed out are
// the owner's responsibility.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	for _, job := range s.jobs {
		if job.timer != nil {
			job.timer.Stop()
		}
	}
	s.jobs = nil
	s.logger.Debug().Msg("scheduler stopped")
}
