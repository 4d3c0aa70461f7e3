package console

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"fleetops/internal/broadcast"
	"fleetops/internal/fleet"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// eventMsg carries one broadcast event.
type eventMsg struct{ broadcast.Event }

// disconnectedMsg reports that the feed ended.
type disconnectedMsg struct{ err error }

const maxLogLines = 500

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	missionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

type model struct {
	table    table.Model
	vp       viewport.Model
	drones   map[string]fleet.Drone
	missions map[string]fleet.Mission
	logs     []string
	wrap     bool
	width    int
	height   int
	status   string
	feedErr  error
}

func newModel(target string) model {
	cols := []table.Column{
		{Title: "Drone", Width: 16},
		{Title: "Status", Width: 12},
		{Title: "Battery", Width: 8},
		{Title: "Lat", Width: 10},
		{Title: "Lng", Width: 10},
		{Title: "Mission", Width: 20},
	}
	return model{
		table:    table.New(table.WithColumns(cols), table.WithHeight(5)),
		vp:       viewport.New(0, 0),
		drones:   make(map[string]fleet.Drone),
		missions: make(map[string]fleet.Mission),
		wrap:     true,
		status:   "connecting to " + target,
	}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.layout()
		m.refreshLog()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshLog()
		case "up", "down", "pgup", "pgdown":
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			return m, cmd
		}
	case eventMsg:
		m.apply(msg.Event)
	case disconnectedMsg:
		m.feedErr = msg.err
		m.status = "disconnected"
		if msg.err != nil {
			m.appendLog(errStyle.Render("feed ended: " + msg.err.Error()))
		} else {
			m.appendLog(dimStyle.Render("feed closed by server"))
		}
	}
	return m, nil
}

func (m *model) apply(e broadcast.Event) {
	ts := dimStyle.Render(e.Timestamp.Format("15:04:05"))
	switch e.Kind {
	case broadcast.KindConnected:
		m.status = "live"
		m.appendLog(ts + " " + e.Message)
	case broadcast.KindDroneLocation:
		if e.Drone == nil {
			return
		}
		m.drones[e.Drone.ID] = *e.Drone
		m.refreshTable()
		if e.Source == broadcast.SourceManual {
			m.appendLog(fmt.Sprintf("%s %s moved manually to %.5f, %.5f", ts, e.Drone.Name, e.Drone.LastKnownLocation.Lat, e.Drone.LastKnownLocation.Lng))
		}
	case broadcast.KindMissionLaunched:
		if e.Mission == nil {
			return
		}
		m.missions[e.Mission.ID] = *e.Mission
		m.refreshTable()
		m.appendLog(fmt.Sprintf("%s %s launched with %d waypoints", ts, missionStyle.Render(e.Mission.Name), len(e.Mission.Waypoints)))
	case broadcast.KindMissionStatus:
		if e.Mission == nil {
			return
		}
		m.missions[e.Mission.ID] = *e.Mission
		m.refreshTable()
		m.appendLog(fmt.Sprintf("%s %s %s: %s", ts, missionStyle.Render(e.Mission.Name), statusStyle(e.Mission.Status), e.Message))
	}
}

func statusStyle(s fleet.MissionStatus) string {
	switch s {
	case fleet.MissionCompleted:
		return okStyle.Render(string(s))
	case fleet.MissionFailed:
		return errStyle.Render(string(s))
	case fleet.MissionCancelled:
		return warnStyle.Render(string(s))
	}
	return string(s)
}

func (m *model) refreshTable() {
	drones := make([]fleet.Drone, 0, len(m.drones))
	for _, d := range m.drones {
		drones = append(drones, d)
	}
	sort.Slice(drones, func(i, j int) bool {
		if drones[i].Name != drones[j].Name {
			return drones[i].Name < drones[j].Name
		}
		return drones[i].ID < drones[j].ID
	})
	rows := make([]table.Row, 0, len(drones))
	for _, d := range drones {
		mission := "-"
		if d.AssignedMissionID != nil {
			mission = *d.AssignedMissionID
			if ms, ok := m.missions[mission]; ok {
				mission = ms.Name
			}
		}
		rows = append(rows, table.Row{
			d.Name,
			string(d.Status),
			fmt.Sprintf("%d%%", d.BatteryLevel),
			fmt.Sprintf("%.5f", d.LastKnownLocation.Lat),
			fmt.Sprintf("%.5f", d.LastKnownLocation.Lng),
			mission,
		})
	}
	m.table.SetRows(rows)
	m.layout()
}

func (m *model) appendLog(line string) {
	m.logs = append(m.logs, line)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
	m.refreshLog()
}

// layout gives the table its rows and the log the remaining height.
func (m *model) layout() {
	tableHeight := len(m.table.Rows()) + 1
	if limit := m.height / 2; limit > 2 && tableHeight > limit {
		tableHeight = limit
	}
	m.table.SetHeight(tableHeight)
	h := m.height - tableHeight - 6
	if h < 1 {
		h = 1
	}
	m.vp.Height = h
}

func (m *model) refreshLog() {
	lines := make([]string, 0, len(m.logs))
	for _, l := range m.logs {
		if m.wrap && m.vp.Width > 0 {
			l = wordwrap.String(l, m.vp.Width)
		}
		lines = append(lines, l)
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	m.vp.GotoBottom()
}

func (m model) View() string {
	divider := dimStyle.Render(strings.Repeat("─", max(m.width, 1)))
	header := titleStyle.Render("fleetops") + "  " + dimStyle.Render(m.status)
	footer := dimStyle.Render(fmt.Sprintf("%d drones · %d missions · w wrap · q quit", len(m.drones), len(m.missions)))
	return strings.Join([]string{header, m.table.View(), divider, m.vp.View(), divider, footer}, "\n")
}
