// Fleet entities shared by the store, the simulation engine and the API.
package fleet

import (
	"time"

	"gopkg.in/yaml.v3"

	"fleetops/internal/geo"
)

// DroneStatus is the operational state of a drone.
type DroneStatus string

// Drone status constants.
const (
	DroneAvailable   DroneStatus = "available"
	DroneInMission   DroneStatus = "in-mission"
	DroneMaintenance DroneStatus = "maintenance"
	DroneOffline     DroneStatus = "offline"
)

// Valid reports whether s is a known drone status.
func (s DroneStatus) Valid() bool {
	switch s {
	case DroneAvailable, DroneInMission, DroneMaintenance, DroneOffline:
		return true
	}
	return false
}

// MissionStatus is the lifecycle state of a mission.
type MissionStatus string

// Mission status constants.
const (
	MissionPlanned    MissionStatus = "planned"
	MissionInProgress MissionStatus = "in-progress"
	MissionCompleted  MissionStatus = "completed"
	MissionCancelled  MissionStatus = "cancelled"
	MissionFailed     MissionStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s MissionStatus) Terminal() bool {
	return s == MissionCompleted || s == MissionCancelled || s == MissionFailed
}

// Location is a drone's last reported position.
type Location struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// UnmarshalYAML decodes like a waypoint, so a missing coordinate is NaN
// and fails validation.
func (l *Location) UnmarshalYAML(value *yaml.Node) error {
	var w geo.Waypoint
	if err := value.Decode(&w); err != nil {
		return err
	}
	*l = LocationOf(w)
	return nil
}

// LocationOf drops the altitude of a waypoint.
func LocationOf(w geo.Waypoint) Location {
	return Location{Lat: w.Lat, Lng: w.Lng}
}

// Waypoint converts the location into a path point.
func (l Location) Waypoint() geo.Waypoint {
	return geo.Waypoint{Lat: l.Lat, Lng: l.Lng}
}

// Organization owns drones and missions.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Drone is a registered aircraft.
type Drone struct {
	ID                string      `json:"id"`
	OrganizationID    string      `json:"organizationId"`
	Name              string      `json:"name"`
	Model             string      `json:"model"`
	Status            DroneStatus `json:"status"`
	BatteryLevel      int         `json:"batteryLevel"`
	LastKnownLocation Location    `json:"lastKnownLocation"`
	AssignedMissionID *string     `json:"assignedMissionId"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// Mission is a planned flight. Waypoints is the mission-level fallback path
// used when an assignment carries none.
type Mission struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organizationId"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Status         MissionStatus  `json:"status"`
	StartTime      *time.Time     `json:"startTime,omitempty"`
	EndTime        *time.Time     `json:"endTime,omitempty"`
	Waypoints      []geo.Waypoint `json:"waypoints,omitempty"`
}

// DroneAssignment links a drone to a mission and carries the path it flies.
type DroneAssignment struct {
	ID        string         `json:"id"`
	MissionID string         `json:"missionId"`
	DroneID   string         `json:"droneId"`
	Waypoints []geo.Waypoint `json:"waypoints"`
	IsActive  bool           `json:"isActive"`
	Completed bool           `json:"completed"`
	CreatedAt time.Time      `json:"createdAt"`
}

// MissionResult is an operator's report closing a mission.
type MissionResult struct {
	ID          string    `json:"id"`
	MissionID   string    `json:"missionId"`
	Outcome     string    `json:"outcome"`
	Notes       string    `json:"notes,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// CloneWaypoints returns a copy of path so callers never share backing arrays.
func CloneWaypoints(path []geo.Waypoint) []geo.Waypoint {
	if path == nil {
		return nil
	}
	out := make([]geo.Waypoint, len(path))
	for i, w := range path {
		out[i] = w
		if w.Altitude != nil {
			a := *w.Altitude
			out[i].Altitude = &a
		}
	}
	return out
}
