package main

import (
	"fmt"

	"fleetops/internal/config"
	"fleetops/internal/telemetry"
)

// newPositionWriter builds the position history sinks. It returns a nil
// writer when nothing is configured.
func newPositionWriter(cfg config.Telemetry) (telemetry.Writer, func(), error) {
	cleanup := func() {}
	var ws []telemetry.Writer

	switch cfg.Print {
	case "":
	case "json":
		ws = append(ws, telemetry.NewJSONStdoutWriter())
	case "color":
		ws = append(ws, telemetry.NewColorStdoutWriter())
	default:
		return nil, nil, fmt.Errorf("unknown print mode %q", cfg.Print)
	}

	if cfg.GreptimeEndpoint != "" {
		gw, err := telemetry.NewGreptimeDBWriter(cfg.GreptimeEndpoint, cfg.GreptimeDatabase, cfg.GreptimeTable)
		if err != nil {
			return nil, nil, err
		}
		ws = append(ws, gw)
	}

	if cfg.LogFile != "" {
		fw, err := telemetry.NewFileWriter(cfg.LogFile)
		if err != nil {
			return nil, nil, err
		}
		ws = append(ws, fw)
		cleanup = func() { fw.Close() }
	}

	switch len(ws) {
	case 0:
		return nil, cleanup, nil
	case 1:
		return ws[0], cleanup, nil
	}
	return telemetry.NewMultiWriter(ws...), cleanup, nil
}
