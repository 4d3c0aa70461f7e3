package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// JSONStdoutWriter prints rows as JSON lines.
type JSONStdoutWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

// Write outputs a row in JSON format.
func (w *JSONStdoutWriter) Write(row Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

var missionPalette = []color.Attribute{
	color.FgRed, color.FgGreen, color.FgYellow, color.FgBlue, color.FgMagenta, color.FgCyan,
}

// ColorStdoutWriter prints human-friendly rows, one color per mission.
type ColorStdoutWriter struct {
	mu            sync.Mutex
	out           io.Writer
	missionColors map[string]*color.Color
	colorIdx      int
	dim           *color.Color
	manual        *color.Color
}

// NewColorStdoutWriter creates a ColorStdoutWriter writing to os.Stdout.
func NewColorStdoutWriter() *ColorStdoutWriter {
	return NewColorWriter(color.Output)
}

// NewColorWriter creates a ColorStdoutWriter writing to out.
func NewColorWriter(out io.Writer) *ColorStdoutWriter {
	return &ColorStdoutWriter{
		out:           out,
		missionColors: make(map[string]*color.Color),
		dim:           color.New(color.FgHiBlack),
		manual:        color.New(color.FgHiWhite, color.Bold),
	}
}

func (w *ColorStdoutWriter) missionColor(id string) *color.Color {
	if c, ok := w.missionColors[id]; ok {
		return c
	}
	c := color.New(missionPalette[w.colorIdx%len(missionPalette)])
	w.missionColors[id] = c
	w.colorIdx++
	return c
}

// Write prints one row.
func (w *ColorStdoutWriter) Write(row Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	mission := "-"
	tag := w.dim
	if row.MissionID != "" {
		mission = row.MissionID
		tag = w.missionColor(row.MissionID)
	}
	if row.Source == "manual" {
		tag = w.manual
	}
	name := row.DroneName
	if name == "" {
		name = row.DroneID
	}
	_, err := fmt.Fprintf(w.out, "%s %s %-16s %10.5f %10.5f %-11s %3d%% %s\n",
		w.dim.Sprint(row.Timestamp.Format("15:04:05")),
		tag.Sprint("●"),
		name,
		row.Lat, row.Lng,
		row.Status,
		row.Battery,
		tag.Sprint(mission),
	)
	return err
}
