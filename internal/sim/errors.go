package sim

import "errors"

var (
	// ErrInsufficientWaypoints rejects an activation whose path has fewer than two points.
	ErrInsufficientWaypoints = errors.New("insufficient waypoints")
	// ErrAlreadyActive is returned by Registry.Start when drones were merged
	// into a running simulation. Callers treat it as success.
	ErrAlreadyActive = errors.New("simulation already active")
	// ErrMissionClosed rejects transitions out of completed, cancelled or failed.
	ErrMissionClosed = errors.New("mission is closed")
	// ErrDroneBusy rejects attaching a drone that flies another active mission.
	ErrDroneBusy = errors.New("drone is flying another mission")
	// ErrNoDrones is returned when a scheduled launch finds nobody to fly.
	ErrNoDrones = errors.New("mission has no drones to fly")
)
