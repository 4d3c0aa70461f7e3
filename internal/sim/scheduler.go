package sim

import (
	"context"
	"sync"
	"time"
)

// JobKind tells how a job is driven.
type JobKind int

const (
	// JobTicker is driven by a wall-clock ticker goroutine.
	JobTicker JobKind = iota
	// JobManual is driven by explicit Engine.Tick calls.
	JobManual
)

func (k JobKind) String() string {
	switch k {
	case JobTicker:
		return "ticker"
	case JobManual:
		return "manual"
	}
	return "unknown"
}

// Job is the recurring tick task bound to one mission.
type Job struct {
	MissionID string
	Kind      JobKind

	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops future ticks. A tick already running is allowed to finish.
// Cancel never waits, so it is safe to call from inside the tick itself.
func (j *Job) Cancel() {
	if j == nil || j.cancel == nil {
		return
	}
	j.cancel()
}

// Done is closed once the job's goroutine has exited. Manual jobs close it on Cancel.
func (j *Job) Done() <-chan struct{} { return j.done }

// Scheduler starts recurring tick jobs.
type Scheduler interface {
	Schedule(missionID string, tick func(context.Context)) *Job
}

// TickerScheduler runs one goroutine per job, ticking at a fixed interval.
type TickerScheduler struct {
	ctx      context.Context
	interval time.Duration
	wg       sync.WaitGroup
}

// NewTickerScheduler ties every job's lifetime to ctx.
func NewTickerScheduler(ctx context.Context, interval time.Duration) *TickerScheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &TickerScheduler{ctx: ctx, interval: interval}
}

// Schedule starts the job's ticker loop.
func (s *TickerScheduler) Schedule(missionID string, tick func(context.Context)) *Job {
	ctx, cancel := context.WithCancel(s.ctx)
	j := &Job{MissionID: missionID, Kind: JobTicker, cancel: cancel, done: make(chan struct{})}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(j.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				tick(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	return j
}

// Wait blocks until every job goroutine has exited.
func (s *TickerScheduler) Wait() { s.wg.Wait() }

// ManualScheduler records jobs without running them.
type ManualScheduler struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewManualScheduler returns an empty manual scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{jobs: make(map[string]*Job)}
}

// Schedule registers a manual job for missionID.
func (s *ManualScheduler) Schedule(missionID string, _ func(context.Context)) *Job {
	done := make(chan struct{})
	var once sync.Once
	j := &Job{MissionID: missionID, Kind: JobManual, done: done}
	j.cancel = func() {
		once.Do(func() {
			close(done)
			s.mu.Lock()
			if s.jobs[missionID] == j {
				delete(s.jobs, missionID)
			}
			s.mu.Unlock()
		})
	}
	s.mu.Lock()
	s.jobs[missionID] = j
	s.mu.Unlock()
	return j
}

// Scheduled reports whether missionID has an uncancelled job.
func (s *ManualScheduler) Scheduled(missionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[missionID]
	return ok
}
