// Position history rows with greptime tags
package telemetry

import (
	"time"

	"fleetops/internal/broadcast"
)

// DefaultTableName is the GreptimeDB table used when none is configured.
const DefaultTableName = "drone_positions"

// Row represents one recorded drone position.
type Row struct {
	OrganizationID string    `json:"organization_id,omitempty"` // TAG
	DroneID        string    `json:"drone_id"`                  // TAG
	MissionID      string    `json:"mission_id,omitempty"`      // FIELD
	DroneName      string    `json:"drone_name,omitempty"`      // FIELD
	Lat            float64   `json:"lat"`                       // FIELD
	Lng            float64   `json:"lng"`                       // FIELD
	Battery        int       `json:"battery"`                   // FIELD
	Status         string    `json:"status"`                    // FIELD
	Source         string    `json:"source"`                    // FIELD
	Timestamp      time.Time `json:"ts"`                        // TIME INDEX
}

// RowFromEvent converts a drone-location-update into a Row.
func RowFromEvent(e broadcast.Event) (Row, bool) {
	if e.Kind != broadcast.KindDroneLocation || e.Drone == nil {
		return Row{}, false
	}
	d := e.Drone
	row := Row{
		OrganizationID: d.OrganizationID,
		DroneID:        d.ID,
		DroneName:      d.Name,
		Lat:            d.LastKnownLocation.Lat,
		Lng:            d.LastKnownLocation.Lng,
		Battery:        d.BatteryLevel,
		Status:         string(d.Status),
		Source:         string(e.Source),
		Timestamp:      e.Timestamp,
	}
	if d.AssignedMissionID != nil {
		row.MissionID = *d.AssignedMissionID
	}
	if row.Timestamp.IsZero() {
		row.Timestamp = time.Now().UTC()
	}
	return row, true
}
