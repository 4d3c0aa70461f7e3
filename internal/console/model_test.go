package console

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"fleetops/internal/broadcast"
	"fleetops/internal/fleet"
)

type fakeProgram struct{ msgs []tea.Msg }

func (f *fakeProgram) Send(msg tea.Msg) { f.msgs = append(f.msgs, msg) }

func update(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	mi, _ := m.Update(msg)
	return mi.(model)
}

func TestModelTracksDrones(t *testing.T) {
	m := newModel("ws://test/ws")
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})

	mid := "m1"
	m = update(t, m, eventMsg{broadcast.MissionLaunched(fleet.Mission{ID: mid, Name: "survey"})})
	m = update(t, m, eventMsg{broadcast.DroneLocationUpdate(fleet.Drone{
		ID: "d2", Name: "kite", Status: fleet.DroneInMission, BatteryLevel: 50, AssignedMissionID: &mid,
	}, broadcast.SourceSimulation)})
	m = update(t, m, eventMsg{broadcast.DroneLocationUpdate(fleet.Drone{ID: "d1", Name: "hawk", Status: fleet.DroneAvailable}, broadcast.SourceSimulation)})

	rows := m.table.Rows()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "hawk" || rows[1][0] != "kite" {
		t.Fatalf("rows not sorted by name: %v", rows)
	}
	if rows[1][5] != "survey" {
		t.Fatalf("mission name not resolved: %v", rows[1])
	}
	if rows[1][2] != "50%" {
		t.Fatalf("battery = %q", rows[1][2])
	}
}

func TestModelLogsMissionEvents(t *testing.T) {
	m := newModel("ws://test/ws")
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m = update(t, m, eventMsg{broadcast.Event{Kind: broadcast.KindConnected, Message: "hello", Timestamp: time.Now()}})
	if m.status != "live" {
		t.Fatalf("status = %q", m.status)
	}
	m = update(t, m, eventMsg{broadcast.MissionStatus(fleet.Mission{ID: "m1", Name: "survey", Status: fleet.MissionCompleted}, "completed")})
	// simulated location updates are not logged
	m = update(t, m, eventMsg{broadcast.DroneLocationUpdate(fleet.Drone{ID: "d1", Name: "hawk"}, broadcast.SourceSimulation)})
	if len(m.logs) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %v", len(m.logs), m.logs)
	}
	if !strings.Contains(m.logs[1], "survey") {
		t.Fatalf("mission log missing name: %q", m.logs[1])
	}
	m = update(t, m, eventMsg{broadcast.DroneLocationUpdate(fleet.Drone{ID: "d1", Name: "hawk"}, broadcast.SourceManual)})
	if len(m.logs) != 3 || !strings.Contains(m.logs[2], "manually") {
		t.Fatalf("manual move not logged: %v", m.logs)
	}
}

func TestModelWrapToggle(t *testing.T) {
	m := newModel("ws://test/ws")
	m = update(t, m, tea.WindowSizeMsg{Width: 20, Height: 30})
	m.appendLog("one two three four five six seven")
	wrapped := strings.Count(m.vp.View(), "three")
	if !strings.Contains(m.vp.View(), "one two three") {
		t.Fatalf("unexpected view %q", m.vp.View())
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("w")})
	if m.wrap {
		t.Fatalf("wrap should be off")
	}
	if wrapped != 1 {
		t.Fatalf("expected line to be present once")
	}
}

func TestModelQuit(t *testing.T) {
	m := newModel("ws://test/ws")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}
}

func TestModelDisconnected(t *testing.T) {
	m := newModel("ws://test/ws")
	m = update(t, m, disconnectedMsg{})
	if m.status != "disconnected" || len(m.logs) != 1 {
		t.Fatalf("unexpected model after disconnect: %q %v", m.status, m.logs)
	}
	if !strings.Contains(m.View(), "disconnected") {
		t.Fatalf("view should show status")
	}
}
