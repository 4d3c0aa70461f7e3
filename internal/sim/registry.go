package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fleetops/internal/fleet"
	"fleetops/internal/geo"
)

// progressEpsilon absorbs float drift when summing segment fractions.
const progressEpsilon = 1e-9

// State is a read-only snapshot of one running simulation.
type State struct {
	MissionID      string         `json:"missionId"`
	OrganizationID string         `json:"organizationId,omitempty"`
	Path           []geo.Waypoint `json:"path"`
	DroneIDs       []string       `json:"activeDroneIds"`
	SegmentIndex   int            `json:"currentSegmentIndex"`
	Progress       float64        `json:"progress"`
	Ticks          int            `json:"ticks"`
	StartedAt      time.Time      `json:"startedAt"`
	JobKind        string         `json:"job"`
}

type entry struct {
	missionID      string
	organizationID string
	path           []geo.Waypoint
	drones         map[string]struct{}
	segment        int
	segmentTicks   int
	progress       float64
	ticks          int
	startedAt      time.Time
	job            *Job
}

func (e *entry) snapshot() State {
	ids := make([]string, 0, len(e.drones))
	for id := range e.drones {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	kind := ""
	if e.job != nil {
		kind = e.job.Kind.String()
	}
	return State{
		MissionID:      e.missionID,
		OrganizationID: e.organizationID,
		Path:           fleet.CloneWaypoints(e.path),
		DroneIDs:       ids,
		SegmentIndex:   e.segment,
		Progress:       e.progress,
		Ticks:          e.ticks,
		StartedAt:      e.startedAt,
		JobKind:        kind,
	}
}

// Step is what one tick must do, decided atomically by Registry.Advance.
type Step struct {
	State State
	// Complete is set when the path is exhausted; the entry has been removed.
	Complete bool
	From     geo.Waypoint
	To       geo.Waypoint
	Fraction float64
}

// Registry owns every running simulation. All access is serialized by one mutex.
type Registry struct {
	mu        sync.Mutex
	entries   map[string]*entry
	scheduler Scheduler
	now       func() time.Time
}

// NewRegistry returns an empty registry that schedules ticks on s.
func NewRegistry(s Scheduler) *Registry {
	return &Registry{
		entries:   make(map[string]*entry),
		scheduler: s,
		now:       time.Now,
	}
}

// Start registers a simulation and schedules tick. If missionID is already
// running, droneIDs are merged into its drone set, no second job is
// scheduled and ErrAlreadyActive is returned.
func (r *Registry) Start(missionID, organizationID string, path []geo.Waypoint, droneIDs []string, tick func(context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[missionID]; ok {
		for _, id := range droneIDs {
			e.drones[id] = struct{}{}
		}
		return fmt.Errorf("%w: %s", ErrAlreadyActive, missionID)
	}
	if len(path) < 2 {
		return fmt.Errorf("%w: mission %s has %d", ErrInsufficientWaypoints, missionID, len(path))
	}
	e := &entry{
		missionID:      missionID,
		organizationID: organizationID,
		path:           fleet.CloneWaypoints(path),
		drones:         make(map[string]struct{}, len(droneIDs)),
		startedAt:      r.now().UTC(),
	}
	for _, id := range droneIDs {
		e.drones[id] = struct{}{}
	}
	e.job = r.scheduler.Schedule(missionID, tick)
	r.entries[missionID] = e
	return nil
}

// Get returns a snapshot of missionID's simulation.
func (r *Registry) Get(missionID string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[missionID]
	if !ok {
		return State{}, false
	}
	return e.snapshot(), true
}

// Active reports whether missionID is being simulated.
func (r *Registry) Active(missionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[missionID]
	return ok
}

// Stop cancels the job and removes the entry, returning its final snapshot.
// Stopping an unknown mission is a no-op.
func (r *Registry) Stop(missionID string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked(missionID)
}

func (r *Registry) stopLocked(missionID string) (State, bool) {
	e, ok := r.entries[missionID]
	if !ok {
		return State{}, false
	}
	delete(r.entries, missionID)
	e.job.Cancel()
	return e.snapshot(), true
}

// Advance moves missionID forward by step (a fraction of the current
// segment). When the path is exhausted the entry is removed and the
// returned Step has Complete set. ok is false if the mission is not running.
func (r *Registry) Advance(missionID string, step float64) (Step, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[missionID]
	if !ok {
		return Step{}, false
	}
	last := len(e.path) - 1
	if e.segment < last {
		e.ticks++
		e.segmentTicks++
		e.progress = float64(e.segmentTicks) * step
		if e.progress >= 1-progressEpsilon {
			e.segment++
			e.segmentTicks = 0
			e.progress = 0
		}
	}
	if e.segment >= last {
		st, _ := r.stopLocked(missionID)
		return Step{State: st, Complete: true}, true
	}
	return Step{
		State:    e.snapshot(),
		From:     e.path[e.segment],
		To:       e.path[e.segment+1],
		Fraction: e.progress,
	}, true
}

// DetachDrone removes droneID from every simulation and returns the
// missions left without drones. Those entries stay registered.
func (r *Registry) DetachDrone(droneID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var emptied []string
	for id, e := range r.entries {
		if _, ok := e.drones[droneID]; !ok {
			continue
		}
		delete(e.drones, droneID)
		if len(e.drones) == 0 {
			emptied = append(emptied, id)
		}
	}
	sort.Strings(emptied)
	return emptied
}

// MissionOf returns the running mission that droneID belongs to, if any.
func (r *Registry) MissionOf(droneID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if _, ok := e.drones[droneID]; ok {
			return id, true
		}
	}
	return "", false
}

// List returns snapshots of all running simulations ordered by mission id.
func (r *Registry) List() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MissionID < out[j].MissionID })
	return out
}

// Len returns the number of running simulations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// StopAll cancels every job and clears the registry.
func (r *Registry) StopAll() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]State, 0, len(ids))
	for _, id := range ids {
		st, _ := r.stopLocked(id)
		out = append(out, st)
	}
	return out
}
