package fleet

import "errors"

var (
	ErrAssignmentNotFound   = errors.New("assignment not found")
	ErrDroneNotFound        = errors.New("drone not found")
	ErrMissionNotFound      = errors.New("mission not found")
	ErrOrganizationNotFound = errors.New("organization not found")
)
