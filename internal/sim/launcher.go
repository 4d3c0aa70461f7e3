package sim

import (
	"context"
	"errors"
	"time"

	"fleetops/internal/fleet"
	"fleetops/internal/logging"
	"fleetops/internal/store"
)

// Activator starts simulations on behalf of the launcher.
type Activator interface {
	EnsureRunning(ctx context.Context, missionID string) (State, error)
}

// Launcher polls for planned missions whose start time has passed and for
// in-progress missions that lost their simulation (after a restart).
type Launcher struct {
	store     store.Store
	activator Activator
	interval  time.Duration
	now       func() time.Time
}

// NewLauncher returns a launcher polling every interval.
func NewLauncher(st store.Store, a Activator, interval time.Duration) *Launcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Launcher{store: st, activator: a, interval: interval, now: time.Now}
}

// Run polls until ctx is done. The first poll happens immediately.
func (l *Launcher) Run(ctx context.Context) {
	log := logging.FromContext(ctx)
	log.Info("starting launcher", "poll_interval", l.interval)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.Poll(ctx)
	for {
		select {
		case <-ticker.C:
			l.Poll(ctx)
		case <-ctx.Done():
			log.Info("stopping launcher")
			return
		}
	}
}

// Poll activates every due mission and returns how many of them are running.
func (l *Launcher) Poll(ctx context.Context) int {
	log := logging.FromContext(ctx)
	now := l.now()

	planned, err := l.store.ListMissions(ctx, store.MissionFilter{Status: fleet.MissionPlanned})
	if err != nil {
		log.Error("list planned missions failed", "error", err)
		return 0
	}
	running, err := l.store.ListMissions(ctx, store.MissionFilter{Status: fleet.MissionInProgress})
	if err != nil {
		log.Error("list running missions failed", "error", err)
	}

	started := 0
	for _, m := range append(planned, running...) {
		if m.Status == fleet.MissionPlanned && (m.StartTime == nil || m.StartTime.After(now)) {
			continue
		}
		_, err := l.activator.EnsureRunning(ctx, m.ID)
		switch {
		case err == nil:
			started++
		case errors.Is(err, ErrNoDrones), errors.Is(err, ErrInsufficientWaypoints):
			log.Debug("mission not launchable", "mission_id", m.ID, "error", err)
		default:
			log.Warn("scheduled launch failed", "mission_id", m.ID, "error", err)
		}
	}
	return started
}
