package telemetry

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fleetops/internal/broadcast"
	"fleetops/internal/fleet"
)

type captureWriter struct {
	rows []Row
}

func (c *captureWriter) Write(r Row) error {
	c.rows = append(c.rows, r)
	return nil
}

type captureBatchWriter struct {
	captureWriter
	batches int
}

func (c *captureBatchWriter) WriteBatch(rows []Row) error {
	c.batches++
	c.rows = append(c.rows, rows...)
	return nil
}

type failingWriter struct{}

func (failingWriter) Write(Row) error { return errors.New("nope") }

func TestMultiWriterUsesBatch(t *testing.T) {
	plain := &captureWriter{}
	batch := &captureBatchWriter{}
	mw := NewMultiWriter(plain, batch)

	rows := []Row{{DroneID: "a"}, {DroneID: "b"}}
	if err := mw.WriteBatch(rows); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if len(plain.rows) != 2 || len(batch.rows) != 2 {
		t.Fatalf("rows not fanned out: %d %d", len(plain.rows), len(batch.rows))
	}
	if batch.batches != 1 {
		t.Fatalf("expected one batch call, got %d", batch.batches)
	}
	if mw.Len() != 2 {
		t.Fatalf("Len = %d", mw.Len())
	}
}

func TestMultiWriterStopsOnError(t *testing.T) {
	after := &captureWriter{}
	mw := NewMultiWriter(failingWriter{}, after)
	if err := mw.Write(Row{}); err == nil {
		t.Fatalf("expected error")
	}
	if len(after.rows) != 0 {
		t.Fatalf("writer after failure should not be called")
	}
}

func TestRowFromEvent(t *testing.T) {
	mid := "m1"
	d := fleet.Drone{
		ID: "d1", OrganizationID: "org", Name: "Hawk", Status: fleet.DroneInMission,
		BatteryLevel: 77, LastKnownLocation: fleet.Location{Lat: 1.5, Lng: 2.5}, AssignedMissionID: &mid,
	}
	row, ok := RowFromEvent(broadcast.DroneLocationUpdate(d, broadcast.SourceSimulation))
	if !ok {
		t.Fatalf("expected a row")
	}
	if row.MissionID != "m1" || row.Lat != 1.5 || row.Lng != 2.5 || row.Battery != 77 || row.Source != "simulation" {
		t.Fatalf("unexpected row %+v", row)
	}
	if _, ok := RowFromEvent(broadcast.MissionStatus(fleet.Mission{ID: "m1"}, "done")); ok {
		t.Fatalf("mission events must not produce rows")
	}
}

func TestFileWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.jsonl")
	w, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	if err := w.Write(Row{DroneID: "a"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.WriteBatch([]Row{{DroneID: "b"}, {DroneID: "c"}}); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n := strings.Count(string(data), "\n"); n != 3 {
		t.Fatalf("expected 3 lines, got %d", n)
	}
}

func TestJSONStdoutWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &JSONStdoutWriter{out: &buf}
	if err := w.Write(Row{DroneID: "d1", Lat: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.Contains(buf.String(), `"drone_id":"d1"`) {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestColorStdoutWriterStableMissionColor(t *testing.T) {
	var buf bytes.Buffer
	w := NewColorWriter(&buf)
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	_ = w.Write(Row{DroneName: "Hawk", MissionID: "m1", Timestamp: ts})
	_ = w.Write(Row{DroneName: "Kite", MissionID: "m2", Timestamp: ts})
	_ = w.Write(Row{DroneName: "Hawk", MissionID: "m1", Timestamp: ts})
	if len(w.missionColors) != 2 {
		t.Fatalf("expected 2 mission colors, got %d", len(w.missionColors))
	}
	out := buf.String()
	if !strings.Contains(out, "Hawk") || !strings.Contains(out, "12:00:00") {
		t.Fatalf("unexpected output %q", out)
	}
}
