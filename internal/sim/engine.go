// Mission simulation engine: activation, ticking and lifecycle transitions.
package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fleetops/internal/broadcast"
	"fleetops/internal/fleet"
	"fleetops/internal/geo"
	"fleetops/internal/logging"
	"fleetops/internal/store"
)

// DefaultProgressStep advances 5% of a segment per tick.
const DefaultProgressStep = 0.05

// Tick outcomes reported to Metrics.
const (
	OutcomeAdvanced   = "advanced"
	OutcomeCompleted  = "completed"
	OutcomeAborted    = "aborted"
	OutcomeStoreError = "store_error"
	OutcomeMissing    = "missing"
)

// Metrics receives engine bookkeeping.
type Metrics interface {
	TickObserved(outcome string, d time.Duration)
	SetActiveSimulations(n int)
	MissionTransition(status string)
	StoreWriteFailed(op string)
}

type nopMetrics struct{}

func (nopMetrics) TickObserved(string, time.Duration) {}
func (nopMetrics) SetActiveSimulations(int)           {}
func (nopMetrics) MissionTransition(string)           {}
func (nopMetrics) StoreWriteFailed(string)            {}

// Options tune an Engine. Zero values fall back to defaults.
type Options struct {
	ProgressStep float64
	Speeds       geo.Speeds
	Scheduler    Scheduler
	Metrics      Metrics
	Tracer       trace.Tracer
	Now          func() time.Time
}

// Engine drives mission simulations against a Store and publishes the
// resulting events.
type Engine struct {
	store    store.Store
	pub      broadcast.Publisher
	registry *Registry
	locks    *missionLocks
	step     float64
	speeds   geo.Speeds
	metrics  Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// NewEngine wires an engine. Without a Scheduler, ticks only happen through
// explicit Tick calls.
func NewEngine(st store.Store, pub broadcast.Publisher, opts Options) *Engine {
	if opts.ProgressStep <= 0 || opts.ProgressStep > 1 {
		opts.ProgressStep = DefaultProgressStep
	}
	if opts.Speeds.HorizontalMPS <= 0 {
		opts.Speeds.HorizontalMPS = geo.DefaultSpeeds.HorizontalMPS
	}
	if opts.Speeds.VerticalMPS <= 0 {
		opts.Speeds.VerticalMPS = geo.DefaultSpeeds.VerticalMPS
	}
	if opts.Scheduler == nil {
		opts.Scheduler = NewManualScheduler()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("fleetops/sim")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:    st,
		pub:      pub,
		registry: NewRegistry(opts.Scheduler),
		locks:    newMissionLocks(),
		step:     opts.ProgressStep,
		speeds:   opts.Speeds,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		now:      opts.Now,
	}
}

// Registry exposes the engine's registry for diagnostics.
func (e *Engine) Registry() *Registry { return e.registry }

// RequestSimulationStart launches missionID with droneID aboard, or attaches
// droneID to the mission's running simulation.
func (e *Engine) RequestSimulationStart(ctx context.Context, missionID, droneID string) (State, error) {
	ctx, span := e.tracer.Start(ctx, "simulation.start", trace.WithAttributes(
		attribute.String("mission.id", missionID),
		attribute.String("drone.id", droneID),
	))
	defer span.End()

	st, err := e.requestStart(ctx, missionID, droneID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return st, err
}

func (e *Engine) requestStart(ctx context.Context, missionID, droneID string) (State, error) {
	defer e.locks.lock(missionID)()
	mission, err := e.store.GetMission(ctx, missionID)
	if err != nil {
		return State{}, err
	}
	if mission.Status.Terminal() {
		return State{}, fmt.Errorf("%w: %s is %s", ErrMissionClosed, missionID, mission.Status)
	}
	drone, err := e.store.GetDrone(ctx, droneID)
	if err != nil {
		return State{}, err
	}
	if err := e.checkAvailable(drone, missionID); err != nil {
		return State{}, err
	}
	path, err := e.resolvePath(ctx, mission)
	if err != nil {
		return State{}, err
	}
	return e.activate(ctx, mission, path, []string{droneID})
}

// EnsureRunning launches missionID with every drone assigned to it unless it
// is already running. It is safe to call repeatedly.
func (e *Engine) EnsureRunning(ctx context.Context, missionID string) (State, error) {
	if st, ok := e.registry.Get(missionID); ok {
		return st, nil
	}
	ctx, span := e.tracer.Start(ctx, "simulation.ensure_running", trace.WithAttributes(
		attribute.String("mission.id", missionID),
	))
	defer span.End()
	log := logging.FromContext(ctx)

	defer e.locks.lock(missionID)()
	if st, ok := e.registry.Get(missionID); ok {
		return st, nil
	}
	mission, err := e.store.GetMission(ctx, missionID)
	if err != nil {
		return State{}, err
	}
	if mission.Status.Terminal() {
		return State{}, fmt.Errorf("%w: %s is %s", ErrMissionClosed, missionID, mission.Status)
	}
	path, err := e.resolvePath(ctx, mission)
	if err != nil {
		return State{}, err
	}
	assignments, err := e.store.GetDroneAssignmentsByMission(ctx, missionID)
	if err != nil {
		return State{}, err
	}
	var drones []string
	seen := make(map[string]bool)
	for _, a := range assignments {
		if a.Completed || seen[a.DroneID] {
			continue
		}
		seen[a.DroneID] = true
		d, err := e.store.GetDrone(ctx, a.DroneID)
		if err != nil {
			log.Warn("skipping assigned drone", "mission_id", missionID, "drone_id", a.DroneID, "error", err)
			continue
		}
		if err := e.checkAvailable(d, missionID); err != nil {
			log.Warn("skipping assigned drone", "mission_id", missionID, "drone_id", a.DroneID, "error", err)
			continue
		}
		drones = append(drones, a.DroneID)
	}
	if len(drones) == 0 {
		return State{}, fmt.Errorf("%w: %s", ErrNoDrones, missionID)
	}
	return e.activate(ctx, mission, path, drones)
}

// checkAvailable rejects drones that fly another running mission.
func (e *Engine) checkAvailable(d fleet.Drone, missionID string) error {
	if other, ok := e.registry.MissionOf(d.ID); ok && other != missionID {
		return fmt.Errorf("%w: %s is on %s", ErrDroneBusy, d.ID, other)
	}
	return nil
}

// resolvePath takes the first assignment's waypoints, falling back to the
// mission-level path.
func (e *Engine) resolvePath(ctx context.Context, m fleet.Mission) ([]geo.Waypoint, error) {
	assignments, err := e.store.GetDroneAssignmentsByMission(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	path := m.Waypoints
	if len(assignments) > 0 && len(assignments[0].Waypoints) > 0 {
		path = assignments[0].Waypoints
	}
	if len(path) < 2 {
		return nil, fmt.Errorf("%w: mission %s has %d", ErrInsufficientWaypoints, m.ID, len(path))
	}
	return fleet.CloneWaypoints(path), nil
}

func (e *Engine) activate(ctx context.Context, mission fleet.Mission, path []geo.Waypoint, droneIDs []string) (State, error) {
	log := logging.FromContext(ctx)
	missionID := mission.ID

	err := e.registry.Start(missionID, mission.OrganizationID, path, droneIDs, e.tickFunc(missionID))
	merged := errors.Is(err, ErrAlreadyActive)
	if err != nil && !merged {
		return State{}, err
	}
	e.metrics.SetActiveSimulations(e.registry.Len())

	if mission.Status != fleet.MissionInProgress {
		status := fleet.MissionInProgress
		patch := store.MissionPatch{Status: &status}
		if mission.StartTime == nil || mission.StartTime.After(e.now()) {
			now := e.now().UTC()
			patch.StartTime = &now
		}
		updated, err := e.store.UpdateMission(ctx, missionID, patch)
		if err != nil {
			e.registry.Stop(missionID)
			e.metrics.SetActiveSimulations(e.registry.Len())
			return State{}, fmt.Errorf("mark mission %s in progress: %w", missionID, err)
		}
		mission = updated
		e.metrics.MissionTransition(string(fleet.MissionInProgress))
	}

	assignments, err := e.store.GetDroneAssignmentsByMission(ctx, missionID)
	if err != nil {
		log.Warn("list assignments failed", "mission_id", missionID, "error", err)
	}
	for _, id := range droneIDs {
		status := fleet.DroneInMission
		d, err := e.store.UpdateDrone(ctx, id, store.DronePatch{Status: &status, AssignedMissionID: &missionID})
		if err != nil {
			e.storeFailed(ctx, "update_drone", err, "mission_id", missionID, "drone_id", id)
			continue
		}
		for _, a := range assignments {
			if a.DroneID == id && !a.IsActive {
				active := true
				if _, err := e.store.UpdateAssignment(ctx, a.ID, store.AssignmentPatch{IsActive: &active}); err != nil {
					e.storeFailed(ctx, "update_assignment", err, "assignment", a.ID)
				}
			}
		}
		e.pub.Publish(broadcast.DroneLocationUpdate(d, broadcast.SourceSimulation))
	}

	if !merged {
		mission.Waypoints = path
		e.pub.Publish(broadcast.MissionLaunched(mission))
		log.Info("simulation started", "mission_id", missionID, "drones", len(droneIDs), "waypoints", len(path))
	} else {
		log.Info("drones joined running simulation", "mission_id", missionID, "drones", droneIDs)
	}
	st, _ := e.registry.Get(missionID)
	return st, nil
}

func (e *Engine) tickFunc(missionID string) func(context.Context) {
	return func(ctx context.Context) { e.Tick(ctx, missionID) }
}

// Tick advances missionID by one step. It is a no-op for missions that are
// not running. A completing or aborting tick holds the mission lock until
// the terminal status is stored, so no activation can slip in between.
func (e *Engine) Tick(ctx context.Context, missionID string) {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "simulation.tick", trace.WithAttributes(
		attribute.String("mission.id", missionID),
	))
	defer span.End()

	unlock := e.locks.lock(missionID)
	outcome := e.tick(ctx, missionID)
	unlock()
	span.SetAttributes(attribute.String("tick.outcome", outcome))
	e.metrics.TickObserved(outcome, e.now().Sub(start))
}

func (e *Engine) tick(ctx context.Context, missionID string) string {
	log := logging.FromContext(ctx)

	step, ok := e.registry.Advance(missionID, e.step)
	if !ok {
		return OutcomeMissing
	}
	if step.Complete {
		e.metrics.SetActiveSimulations(e.registry.Len())
		e.complete(ctx, step.State)
		return OutcomeCompleted
	}

	pos, err := geo.Interpolate(step.From, step.To, step.Fraction)
	if err != nil {
		if _, stopped := e.registry.Stop(missionID); stopped {
			e.metrics.SetActiveSimulations(e.registry.Len())
			e.abort(ctx, step.State, err)
		}
		return OutcomeAborted
	}

	loc := fleet.LocationOf(pos)
	for _, id := range step.State.DroneIDs {
		d, err := e.store.UpdateDrone(ctx, id, store.DronePatch{Location: &loc})
		if errors.Is(err, fleet.ErrDroneNotFound) {
			log.Debug("drone missing, skipped for this tick", "mission_id", missionID, "drone_id", id)
			continue
		}
		if err != nil {
			e.storeFailed(ctx, "update_drone", err, "mission_id", missionID, "drone_id", id)
			return OutcomeStoreError
		}
		e.pub.Publish(broadcast.DroneLocationUpdate(d, broadcast.SourceSimulation))
	}
	return OutcomeAdvanced
}

// complete parks every drone on the final waypoint and closes the mission.
func (e *Engine) complete(ctx context.Context, st State) {
	last := fleet.LocationOf(st.Path[len(st.Path)-1])
	e.releaseDrones(ctx, st.MissionID, st.DroneIDs, &last)
	e.closeMission(ctx, st.MissionID, fleet.MissionCompleted, true, "path completed")
}

// abort releases drones where they are and marks the mission failed.
func (e *Engine) abort(ctx context.Context, st State, cause error) {
	logging.FromContext(ctx).Error("simulation aborted", "mission_id", st.MissionID, "error", cause)
	trace.SpanFromContext(ctx).RecordError(cause)
	e.releaseDrones(ctx, st.MissionID, st.DroneIDs, nil)
	e.closeMission(ctx, st.MissionID, fleet.MissionFailed, false, "aborted: "+cause.Error())
}

// releaseDrones makes drones available again. Drones since reassigned to a
// different mission only get the location update.
func (e *Engine) releaseDrones(ctx context.Context, missionID string, droneIDs []string, loc *fleet.Location) {
	log := logging.FromContext(ctx)
	for _, id := range droneIDs {
		cur, err := e.store.GetDrone(ctx, id)
		if errors.Is(err, fleet.ErrDroneNotFound) {
			log.Debug("released drone no longer exists", "mission_id", missionID, "drone_id", id)
			continue
		}
		if err != nil {
			e.storeFailed(ctx, "get_drone", err, "mission_id", missionID, "drone_id", id)
			continue
		}
		patch := store.DronePatch{Location: loc}
		if cur.AssignedMissionID == nil || *cur.AssignedMissionID == missionID {
			available := fleet.DroneAvailable
			patch.Status = &available
			patch.ClearMission = true
		}
		d, err := e.store.UpdateDrone(ctx, id, patch)
		if err != nil {
			e.storeFailed(ctx, "update_drone", err, "mission_id", missionID, "drone_id", id)
			continue
		}
		e.pub.Publish(broadcast.DroneLocationUpdate(d, broadcast.SourceSimulation))
	}
}

// closeMission moves the mission to a terminal status, deactivates its
// assignments and announces the transition.
func (e *Engine) closeMission(ctx context.Context, missionID string, status fleet.MissionStatus, completeAssignments bool, message string) {
	log := logging.FromContext(ctx)
	now := e.now().UTC()
	m, err := e.store.UpdateMission(ctx, missionID, store.MissionPatch{Status: &status, EndTime: &now})
	if err != nil {
		e.storeFailed(ctx, "update_mission", err, "mission_id", missionID)
		return
	}
	e.metrics.MissionTransition(string(status))

	assignments, err := e.store.GetDroneAssignmentsByMission(ctx, missionID)
	if err != nil {
		e.storeFailed(ctx, "list_assignments", err, "mission_id", missionID)
	}
	inactive := false
	for _, a := range assignments {
		patch := store.AssignmentPatch{IsActive: &inactive}
		if completeAssignments {
			done := true
			patch.Completed = &done
		}
		if _, err := e.store.UpdateAssignment(ctx, a.ID, patch); err != nil {
			e.storeFailed(ctx, "update_assignment", err, "assignment", a.ID)
		}
	}
	e.pub.Publish(broadcast.MissionStatus(m, message))
	log.Info("mission closed", "mission_id", missionID, "status", status, "reason", message)
}

func (e *Engine) storeFailed(ctx context.Context, op string, err error, attrs ...any) {
	e.metrics.StoreWriteFailed(op)
	trace.SpanFromContext(ctx).RecordError(err)
	logging.FromContext(ctx).Error("store write failed", append([]any{"op", op, "error", err}, attrs...)...)
}

// RequestManualLocationUpdate applies an operator override and broadcasts it.
func (e *Engine) RequestManualLocationUpdate(ctx context.Context, droneID string, loc fleet.Location) (fleet.Drone, error) {
	if err := loc.Waypoint().Validate(); err != nil {
		return fleet.Drone{}, err
	}
	d, err := e.store.UpdateDrone(ctx, droneID, store.DronePatch{Location: &loc})
	if err != nil {
		return fleet.Drone{}, err
	}
	e.pub.Publish(broadcast.DroneLocationUpdate(d, broadcast.SourceManual))
	return d, nil
}

// CancelMission stops a planned or running mission and releases its drones.
func (e *Engine) CancelMission(ctx context.Context, missionID string) (fleet.Mission, error) {
	ctx, span := e.tracer.Start(ctx, "simulation.cancel", trace.WithAttributes(
		attribute.String("mission.id", missionID),
	))
	defer span.End()

	defer e.locks.lock(missionID)()
	m, err := e.store.GetMission(ctx, missionID)
	if err != nil {
		return fleet.Mission{}, err
	}
	if m.Status.Terminal() {
		return fleet.Mission{}, fmt.Errorf("%w: %s is %s", ErrMissionClosed, missionID, m.Status)
	}
	drones := e.missionDrones(ctx, missionID)
	e.registry.Stop(missionID)
	e.metrics.SetActiveSimulations(e.registry.Len())
	e.releaseDrones(ctx, missionID, drones, nil)
	e.closeMission(ctx, missionID, fleet.MissionCancelled, false, "cancelled")
	return e.store.GetMission(ctx, missionID)
}

// SubmitResult records an outcome. Open missions are completed by it.
func (e *Engine) SubmitResult(ctx context.Context, missionID string, r fleet.MissionResult) (fleet.MissionResult, error) {
	defer e.locks.lock(missionID)()
	m, err := e.store.GetMission(ctx, missionID)
	if err != nil {
		return fleet.MissionResult{}, err
	}
	r.MissionID = missionID
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = e.now().UTC()
	}
	saved, err := e.store.CreateResult(ctx, r)
	if err != nil {
		return fleet.MissionResult{}, err
	}
	if m.Status.Terminal() {
		return saved, nil
	}
	drones := e.missionDrones(ctx, missionID)
	e.registry.Stop(missionID)
	e.metrics.SetActiveSimulations(e.registry.Len())
	e.releaseDrones(ctx, missionID, drones, nil)
	e.closeMission(ctx, missionID, fleet.MissionCompleted, true, "result submitted: "+r.Outcome)
	return saved, nil
}

// missionDrones unions the running drone set with the mission's assignments.
func (e *Engine) missionDrones(ctx context.Context, missionID string) []string {
	seen := make(map[string]bool)
	var out []string
	if st, ok := e.registry.Get(missionID); ok {
		for _, id := range st.DroneIDs {
			seen[id] = true
			out = append(out, id)
		}
	}
	assignments, err := e.store.GetDroneAssignmentsByMission(ctx, missionID)
	if err != nil {
		logging.FromContext(ctx).Warn("list assignments failed", "mission_id", missionID, "error", err)
	}
	for _, a := range assignments {
		if !seen[a.DroneID] {
			seen[a.DroneID] = true
			out = append(out, a.DroneID)
		}
	}
	return out
}

// StopSimulation cancels missionID's ticks without touching stored state.
// Used when a mission is deleted.
func (e *Engine) StopSimulation(missionID string) bool {
	_, ok := e.registry.Stop(missionID)
	e.metrics.SetActiveSimulations(e.registry.Len())
	return ok
}

// DetachDrone removes a deleted drone from running simulations. Missions
// left without drones are cancelled.
func (e *Engine) DetachDrone(ctx context.Context, droneID string) {
	for _, missionID := range e.registry.DetachDrone(droneID) {
		if _, err := e.CancelMission(ctx, missionID); err != nil {
			logging.FromContext(ctx).Warn("cancel emptied mission failed", "mission_id", missionID, "error", err)
		}
	}
}

// DroneMission reports the running mission droneID is flying.
func (e *Engine) DroneMission(droneID string) (string, bool) { return e.registry.MissionOf(droneID) }

// Simulation returns a snapshot of missionID's simulation.
func (e *Engine) Simulation(missionID string) (State, bool) { return e.registry.Get(missionID) }

// Simulations lists every running simulation.
func (e *Engine) Simulations() []State { return e.registry.List() }

// PathStats reports distance and estimated flight time of missionID's path.
func (e *Engine) PathStats(ctx context.Context, missionID string) (geo.Stats, error) {
	m, err := e.store.GetMission(ctx, missionID)
	if err != nil {
		return geo.Stats{}, err
	}
	path, err := e.resolvePath(ctx, m)
	if err != nil {
		return geo.Stats{}, err
	}
	return geo.PathStats(path, e.speeds)
}

// Shutdown stops every simulation. Stored mission state is left as is so
// missions stay in progress across restarts.
func (e *Engine) Shutdown(ctx context.Context) {
	stopped := e.registry.StopAll()
	e.metrics.SetActiveSimulations(0)
	if len(stopped) > 0 {
		logging.FromContext(ctx).Info("simulations stopped", "count", len(stopped))
	}
}
