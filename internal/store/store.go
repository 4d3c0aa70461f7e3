// Mission store contracts and shared helpers.
package store

import (
	"context"
	"time"

	"fleetops/internal/fleet"
)

// Store persists organizations, drones, missions, assignments and results.
// Implementations serialize writes to the same record; last write wins.
type Store interface {
	CreateOrganization(ctx context.Context, o fleet.Organization) (fleet.Organization, error)
	GetOrganization(ctx context.Context, id string) (fleet.Organization, error)
	ListOrganizations(ctx context.Context) ([]fleet.Organization, error)

	CreateDrone(ctx context.Context, d fleet.Drone) (fleet.Drone, error)
	GetDrone(ctx context.Context, id string) (fleet.Drone, error)
	ListDrones(ctx context.Context, organizationID string) ([]fleet.Drone, error)
	UpdateDrone(ctx context.Context, id string, p DronePatch) (fleet.Drone, error)
	DeleteDrone(ctx context.Context, id string) error

	CreateMission(ctx context.Context, m fleet.Mission) (fleet.Mission, error)
	GetMission(ctx context.Context, id string) (fleet.Mission, error)
	ListMissions(ctx context.Context, f MissionFilter) ([]fleet.Mission, error)
	UpdateMission(ctx context.Context, id string, p MissionPatch) (fleet.Mission, error)
	DeleteMission(ctx context.Context, id string) error

	CreateAssignment(ctx context.Context, a fleet.DroneAssignment) (fleet.DroneAssignment, error)
	GetDroneAssignmentsByMission(ctx context.Context, missionID string) ([]fleet.DroneAssignment, error)
	UpdateAssignment(ctx context.Context, id string, p AssignmentPatch) (fleet.DroneAssignment, error)

	CreateResult(ctx context.Context, r fleet.MissionResult) (fleet.MissionResult, error)
	ListResults(ctx context.Context, missionID string) ([]fleet.MissionResult, error)

	Close() error
}

// DronePatch is a partial drone update. Nil fields are left untouched.
// ClearMission unsets AssignedMissionID and wins over AssignedMissionID.
type DronePatch struct {
	Name              *string
	Model             *string
	Status            *fleet.DroneStatus
	BatteryLevel      *int
	Location          *fleet.Location
	AssignedMissionID *string
	ClearMission      bool
}

// MissionPatch is a partial mission update.
type MissionPatch struct {
	Name      *string
	Status    *fleet.MissionStatus
	StartTime *time.Time
	EndTime   *time.Time
}

// AssignmentPatch is a partial assignment update.
type AssignmentPatch struct {
	IsActive  *bool
	Completed *bool
}

// MissionFilter narrows ListMissions. Empty fields match everything.
type MissionFilter struct {
	OrganizationID string
	Status         fleet.MissionStatus
}

func (f MissionFilter) match(m fleet.Mission) bool {
	if f.OrganizationID != "" && m.OrganizationID != f.OrganizationID {
		return false
	}
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	return true
}

func applyDronePatch(d *fleet.Drone, p DronePatch, now time.Time) {
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.Model != nil {
		d.Model = *p.Model
	}
	if p.Status != nil {
		d.Status = *p.Status
	}
	if p.BatteryLevel != nil {
		d.BatteryLevel = clampBattery(*p.BatteryLevel)
	}
	if p.Location != nil {
		d.LastKnownLocation = *p.Location
	}
	if p.AssignedMissionID != nil {
		id := *p.AssignedMissionID
		d.AssignedMissionID = &id
	}
	if p.ClearMission {
		d.AssignedMissionID = nil
	}
	d.UpdatedAt = now
}

func applyMissionPatch(m *fleet.Mission, p MissionPatch) {
	if p.Name != nil {
		m.Name = *p.Name
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.StartTime != nil {
		t := *p.StartTime
		m.StartTime = &t
	}
	if p.EndTime != nil {
		t := *p.EndTime
		m.EndTime = &t
	}
}

func clampBattery(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func cloneDrone(d fleet.Drone) fleet.Drone {
	if d.AssignedMissionID != nil {
		id := *d.AssignedMissionID
		d.AssignedMissionID = &id
	}
	return d
}

func cloneMission(m fleet.Mission) fleet.Mission {
	if m.StartTime != nil {
		t := *m.StartTime
		m.StartTime = &t
	}
	if m.EndTime != nil {
		t := *m.EndTime
		m.EndTime = &t
	}
	m.Waypoints = fleet.CloneWaypoints(m.Waypoints)
	return m
}

func cloneAssignment(a fleet.DroneAssignment) fleet.DroneAssignment {
	a.Waypoints = fleet.CloneWaypoints(a.Waypoints)
	return a
}
