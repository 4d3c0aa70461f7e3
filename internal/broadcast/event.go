package broadcast

import (
	"time"

	"fleetops/internal/fleet"
)

// Kind tags an event payload.
type Kind string

// Event kinds.
const (
	KindConnected       Kind = "connected"
	KindDroneLocation   Kind = "drone-location-update"
	KindMissionLaunched Kind = "mission-launched"
	KindMissionStatus   Kind = "mission-status"
)

// Source tells viewers where a location update came from.
type Source string

const (
	SourceSimulation Source = "simulation"
	SourceManual     Source = "manual"
)

// Event is the unit delivered to subscribers. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind           Kind           `json:"type"`
	OrganizationID string         `json:"organizationId,omitempty"`
	Drone          *fleet.Drone   `json:"drone,omitempty"`
	Mission        *fleet.Mission `json:"mission,omitempty"`
	Message        string         `json:"message,omitempty"`
	Source         Source         `json:"source,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// DroneLocationUpdate wraps a drone snapshot.
func DroneLocationUpdate(d fleet.Drone, src Source) Event {
	return Event{
		Kind:           KindDroneLocation,
		OrganizationID: d.OrganizationID,
		Drone:          &d,
		Source:         src,
		Timestamp:      time.Now().UTC(),
	}
}

// MissionLaunched wraps a mission snapshot with its waypoints attached.
func MissionLaunched(m fleet.Mission) Event {
	m.Waypoints = fleet.CloneWaypoints(m.Waypoints)
	return Event{
		Kind:           KindMissionLaunched,
		OrganizationID: m.OrganizationID,
		Mission:        &m,
		Timestamp:      time.Now().UTC(),
	}
}

// MissionStatus reports a lifecycle transition such as completion or cancellation.
func MissionStatus(m fleet.Mission, message string) Event {
	m.Waypoints = fleet.CloneWaypoints(m.Waypoints)
	return Event{
		Kind:           KindMissionStatus,
		OrganizationID: m.OrganizationID,
		Mission:        &m,
		Message:        message,
		Timestamp:      time.Now().UTC(),
	}
}

func connected(message string) Event {
	return Event{Kind: KindConnected, Message: message, Timestamp: time.Now().UTC()}
}
