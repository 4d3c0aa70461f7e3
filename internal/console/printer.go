package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"fleetops/internal/broadcast"
	"fleetops/internal/fleet"
	"fleetops/internal/telemetry"
)

// Printer writes events as colored lines, for pipes and dumb terminals.
type Printer struct {
	mu      sync.Mutex
	out     io.Writer
	rows    *telemetry.ColorStdoutWriter
	info    *color.Color
	mission *color.Color
	failed  *color.Color
}

// NewPrinter creates a Printer writing to out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{
		out:     out,
		rows:    telemetry.NewColorWriter(out),
		info:    color.New(color.FgHiBlack),
		mission: color.New(color.FgCyan, color.Bold),
		failed:  color.New(color.FgRed, color.Bold),
	}
}

// Print renders one event.
func (p *Printer) Print(e broadcast.Event) error {
	if row, ok := telemetry.RowFromEvent(e); ok {
		return p.rows.Write(row)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ts := e.Timestamp.Format("15:04:05")
	switch e.Kind {
	case broadcast.KindConnected:
		_, err := p.info.Fprintf(p.out, "%s %s\n", ts, e.Message)
		return err
	case broadcast.KindMissionLaunched:
		if e.Mission == nil {
			return nil
		}
		_, err := p.mission.Fprintf(p.out, "%s mission %s launched (%d waypoints)\n", ts, e.Mission.Name, len(e.Mission.Waypoints))
		return err
	case broadcast.KindMissionStatus:
		if e.Mission == nil {
			return nil
		}
		c := p.mission
		if e.Mission.Status == fleet.MissionFailed {
			c = p.failed
		}
		_, err := c.Fprintf(p.out, "%s mission %s %s: %s\n", ts, e.Mission.Name, e.Mission.Status, e.Message)
		return err
	}
	_, err := fmt.Fprintf(p.out, "%s %s\n", ts, e.Kind)
	return err
}
