package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"fleetops/internal/fleet"
	"fleetops/internal/geo"
)

type organizationModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:255"`
	CreatedAt time.Time
}

func (*organizationModel) TableName() string { return "organizations" }

type droneModel struct {
	ID                string `gorm:"primaryKey;size:64"`
	OrganizationID    string `gorm:"size:64;index:idx_drones_organization_id"`
	Name              string `gorm:"size:255"`
	Model             string `gorm:"size:127"`
	Status            string `gorm:"size:32"`
	BatteryLevel      int
	Lat               float64
	Lng               float64
	AssignedMissionID *string `gorm:"size:64"`
	UpdatedAt         time.Time
}

func (*droneModel) TableName() string { return "drones" }

type missionModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	OrganizationID string `gorm:"size:64;index:idx_missions_organization_id"`
	Name           string `gorm:"size:255"`
	Description    string `gorm:"size:1024"`
	Status         string `gorm:"size:32;index:idx_missions_status"`
	StartTime      *time.Time
	EndTime        *time.Time
	Waypoints      datatypes.JSON
}

func (*missionModel) TableName() string { return "missions" }

type assignmentModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	MissionID string `gorm:"size:64;index:idx_assignments_mission_id"`
	DroneID   string `gorm:"size:64"`
	Waypoints datatypes.JSON
	IsActive  bool
	Completed bool
	CreatedAt time.Time
}

func (*assignmentModel) TableName() string { return "drone_assignments" }

type resultModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	MissionID   string `gorm:"size:64;index:idx_results_mission_id"`
	Outcome     string `gorm:"size:64"`
	Notes       string `gorm:"size:2048"`
	SubmittedAt time.Time
}

func (*resultModel) TableName() string { return "mission_results" }

var sqlModels = []any{
	&organizationModel{},
	&droneModel{},
	&missionModel{},
	&assignmentModel{},
	&resultModel{},
}

// SQLStore persists records through gorm on SQLite.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLite opens (and migrates) a SQLite database. Use ":memory:" for a
// throwaway database.
func OpenSQLite(dsn string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection also keeps ":memory:" shared.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(sqlModels...); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func encodeWaypoints(path []geo.Waypoint) (datatypes.JSON, error) {
	if len(path) == 0 {
		return datatypes.JSON("[]"), nil
	}
	b, err := json.Marshal(path)
	if err != nil {
		return nil, fmt.Errorf("encode waypoints: %w", err)
	}
	return datatypes.JSON(b), nil
}

func decodeWaypoints(raw datatypes.JSON) ([]geo.Waypoint, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var path []geo.Waypoint
	if err := json.Unmarshal(raw, &path); err != nil {
		return nil, fmt.Errorf("decode waypoints: %w", err)
	}
	if len(path) == 0 {
		return nil, nil
	}
	return path, nil
}

func droneFromModel(m droneModel) fleet.Drone {
	return cloneDrone(fleet.Drone{
		ID:                m.ID,
		OrganizationID:    m.OrganizationID,
		Name:              m.Name,
		Model:             m.Model,
		Status:            fleet.DroneStatus(m.Status),
		BatteryLevel:      m.BatteryLevel,
		LastKnownLocation: fleet.Location{Lat: m.Lat, Lng: m.Lng},
		AssignedMissionID: m.AssignedMissionID,
		UpdatedAt:         m.UpdatedAt,
	})
}

func droneToModel(d fleet.Drone) droneModel {
	return droneModel{
		ID:                d.ID,
		OrganizationID:    d.OrganizationID,
		Name:              d.Name,
		Model:             d.Model,
		Status:            string(d.Status),
		BatteryLevel:      d.BatteryLevel,
		Lat:               d.LastKnownLocation.Lat,
		Lng:               d.LastKnownLocation.Lng,
		AssignedMissionID: d.AssignedMissionID,
		UpdatedAt:         d.UpdatedAt,
	}
}

func missionFromModel(m missionModel) (fleet.Mission, error) {
	path, err := decodeWaypoints(m.Waypoints)
	if err != nil {
		return fleet.Mission{}, err
	}
	return fleet.Mission{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		Name:           m.Name,
		Description:    m.Description,
		Status:         fleet.MissionStatus(m.Status),
		StartTime:      m.StartTime,
		EndTime:        m.EndTime,
		Waypoints:      path,
	}, nil
}

func missionToModel(m fleet.Mission) (missionModel, error) {
	raw, err := encodeWaypoints(m.Waypoints)
	if err != nil {
		return missionModel{}, err
	}
	return missionModel{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		Name:           m.Name,
		Description:    m.Description,
		Status:         string(m.Status),
		StartTime:      m.StartTime,
		EndTime:        m.EndTime,
		Waypoints:      raw,
	}, nil
}

func assignmentFromModel(m assignmentModel) (fleet.DroneAssignment, error) {
	path, err := decodeWaypoints(m.Waypoints)
	if err != nil {
		return fleet.DroneAssignment{}, err
	}
	return fleet.DroneAssignment{
		ID:        m.ID,
		MissionID: m.MissionID,
		DroneID:   m.DroneID,
		Waypoints: path,
		IsActive:  m.IsActive,
		Completed: m.Completed,
		CreatedAt: m.CreatedAt,
	}, nil
}

func notFound(err error, sentinel error, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", sentinel, id)
	}
	return err
}

func (s *SQLStore) CreateOrganization(ctx context.Context, o fleet.Organization) (fleet.Organization, error) {
	if o.ID == "" {
		o.ID = newID()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	m := organizationModel{ID: o.ID, Name: o.Name, CreatedAt: o.CreatedAt}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fleet.Organization{}, err
	}
	return o, nil
}

func (s *SQLStore) GetOrganization(ctx context.Context, id string) (fleet.Organization, error) {
	var m organizationModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return fleet.Organization{}, notFound(err, fleet.ErrOrganizationNotFound, id)
	}
	return fleet.Organization{ID: m.ID, Name: m.Name, CreatedAt: m.CreatedAt}, nil
}

func (s *SQLStore) ListOrganizations(ctx context.Context) ([]fleet.Organization, error) {
	var rows []organizationModel
	if err := s.db.WithContext(ctx).Order("name, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]fleet.Organization, 0, len(rows))
	for _, m := range rows {
		out = append(out, fleet.Organization{ID: m.ID, Name: m.Name, CreatedAt: m.CreatedAt})
	}
	return out, nil
}

func (s *SQLStore) CreateDrone(ctx context.Context, d fleet.Drone) (fleet.Drone, error) {
	if d.OrganizationID != "" {
		if _, err := s.GetOrganization(ctx, d.OrganizationID); err != nil {
			return fleet.Drone{}, err
		}
	}
	if d.ID == "" {
		d.ID = newID()
	}
	if d.Status == "" {
		d.Status = fleet.DroneAvailable
	}
	d.BatteryLevel = clampBattery(d.BatteryLevel)
	d.UpdatedAt = time.Now().UTC()
	m := droneToModel(d)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fleet.Drone{}, err
	}
	return droneFromModel(m), nil
}

func (s *SQLStore) GetDrone(ctx context.Context, id string) (fleet.Drone, error) {
	var m droneModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return fleet.Drone{}, notFound(err, fleet.ErrDroneNotFound, id)
	}
	return droneFromModel(m), nil
}

func (s *SQLStore) ListDrones(ctx context.Context, organizationID string) ([]fleet.Drone, error) {
	q := s.db.WithContext(ctx).Order("name, id")
	if organizationID != "" {
		q = q.Where("organization_id = ?", organizationID)
	}
	var rows []droneModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]fleet.Drone, 0, len(rows))
	for _, m := range rows {
		out = append(out, droneFromModel(m))
	}
	return out, nil
}

func (s *SQLStore) UpdateDrone(ctx context.Context, id string, p DronePatch) (fleet.Drone, error) {
	var out fleet.Drone
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m droneModel
		if err := tx.First(&m, "id = ?", id).Error; err != nil {
			return notFound(err, fleet.ErrDroneNotFound, id)
		}
		d := droneFromModel(m)
		applyDronePatch(&d, p, time.Now().UTC())
		m = droneToModel(d)
		if err := tx.Save(&m).Error; err != nil {
			return err
		}
		out = droneFromModel(m)
		return nil
	})
	return out, err
}

func (s *SQLStore) DeleteDrone(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&droneModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", fleet.ErrDroneNotFound, id)
	}
	return nil
}

func (s *SQLStore) CreateMission(ctx context.Context, m fleet.Mission) (fleet.Mission, error) {
	if m.OrganizationID != "" {
		if _, err := s.GetOrganization(ctx, m.OrganizationID); err != nil {
			return fleet.Mission{}, err
		}
	}
	if m.ID == "" {
		m.ID = newID()
	}
	if m.Status == "" {
		m.Status = fleet.MissionPlanned
	}
	row, err := missionToModel(m)
	if err != nil {
		return fleet.Mission{}, err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fleet.Mission{}, err
	}
	return cloneMission(m), nil
}

func (s *SQLStore) GetMission(ctx context.Context, id string) (fleet.Mission, error) {
	var m missionModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return fleet.Mission{}, notFound(err, fleet.ErrMissionNotFound, id)
	}
	return missionFromModel(m)
}

func (s *SQLStore) ListMissions(ctx context.Context, f MissionFilter) ([]fleet.Mission, error) {
	q := s.db.WithContext(ctx).Order("name, id")
	if f.OrganizationID != "" {
		q = q.Where("organization_id = ?", f.OrganizationID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	var rows []missionModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]fleet.Mission, 0, len(rows))
	for _, row := range rows {
		m, err := missionFromModel(row)
		if err != nil {
			return nil, fmt.Errorf("mission %s: %w", row.ID, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *SQLStore) UpdateMission(ctx context.Context, id string, p MissionPatch) (fleet.Mission, error) {
	var out fleet.Mission
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row missionModel
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			return notFound(err, fleet.ErrMissionNotFound, id)
		}
		m, err := missionFromModel(row)
		if err != nil {
			return err
		}
		applyMissionPatch(&m, p)
		if row, err = missionToModel(m); err != nil {
			return err
		}
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

func (s *SQLStore) DeleteMission(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&missionModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", fleet.ErrMissionNotFound, id)
		}
		if err := tx.Delete(&assignmentModel{}, "mission_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&resultModel{}, "mission_id = ?", id).Error
	})
}

func (s *SQLStore) CreateAssignment(ctx context.Context, a fleet.DroneAssignment) (fleet.DroneAssignment, error) {
	if _, err := s.GetMission(ctx, a.MissionID); err != nil {
		return fleet.DroneAssignment{}, err
	}
	if _, err := s.GetDrone(ctx, a.DroneID); err != nil {
		return fleet.DroneAssignment{}, err
	}
	if a.ID == "" {
		a.ID = newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	raw, err := encodeWaypoints(a.Waypoints)
	if err != nil {
		return fleet.DroneAssignment{}, err
	}
	row := assignmentModel{
		ID:        a.ID,
		MissionID: a.MissionID,
		DroneID:   a.DroneID,
		Waypoints: raw,
		IsActive:  a.IsActive,
		Completed: a.Completed,
		CreatedAt: a.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fleet.DroneAssignment{}, err
	}
	return cloneAssignment(a), nil
}

func (s *SQLStore) GetDroneAssignmentsByMission(ctx context.Context, missionID string) ([]fleet.DroneAssignment, error) {
	var rows []assignmentModel
	if err := s.db.WithContext(ctx).Where("mission_id = ?", missionID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]fleet.DroneAssignment, 0, len(rows))
	for _, row := range rows {
		a, err := assignmentFromModel(row)
		if err != nil {
			return nil, fmt.Errorf("assignment %s: %w", row.ID, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *SQLStore) UpdateAssignment(ctx context.Context, id string, p AssignmentPatch) (fleet.DroneAssignment, error) {
	var out fleet.DroneAssignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row assignmentModel
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			return notFound(err, fleet.ErrAssignmentNotFound, id)
		}
		if p.IsActive != nil {
			row.IsActive = *p.IsActive
		}
		if p.Completed != nil {
			row.Completed = *p.Completed
		}
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		a, err := assignmentFromModel(row)
		out = a
		return err
	})
	return out, err
}

func (s *SQLStore) CreateResult(ctx context.Context, r fleet.MissionResult) (fleet.MissionResult, error) {
	if _, err := s.GetMission(ctx, r.MissionID); err != nil {
		return fleet.MissionResult{}, err
	}
	if r.ID == "" {
		r.ID = newID()
	}
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = time.Now().UTC()
	}
	row := resultModel{ID: r.ID, MissionID: r.MissionID, Outcome: r.Outcome, Notes: r.Notes, SubmittedAt: r.SubmittedAt}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fleet.MissionResult{}, err
	}
	return r, nil
}

func (s *SQLStore) ListResults(ctx context.Context, missionID string) ([]fleet.MissionResult, error) {
	var rows []resultModel
	if err := s.db.WithContext(ctx).Where("mission_id = ?", missionID).Order("submitted_at, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]fleet.MissionResult, 0, len(rows))
	for _, m := range rows {
		out = append(out, fleet.MissionResult{ID: m.ID, MissionID: m.MissionID, Outcome: m.Outcome, Notes: m.Notes, SubmittedAt: m.SubmittedAt})
	}
	return out, nil
}
