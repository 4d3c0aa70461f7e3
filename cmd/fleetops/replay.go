package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleetops/internal/config"
	"fleetops/internal/logging"
	"fleetops/internal/telemetry"
)

func newReplayCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a recorded position log",
		Long:  "replay feeds rows from a JSONL position log back into GreptimeDB or STDOUT.",
		RunE: func(cmd *cobra.Command, args []string) error {
			input := v.GetString("input")
			if input == "" {
				return fmt.Errorf("input file required")
			}
			tcfg := config.Telemetry{
				Print:            v.GetString("print"),
				GreptimeEndpoint: v.GetString("greptime-endpoint"),
				GreptimeDatabase: "public",
				GreptimeTable:    telemetry.DefaultTableName,
			}
			if tcfg.Print == "" && tcfg.GreptimeEndpoint == "" {
				tcfg.Print = "color"
			}
			writer, cleanup, err := newPositionWriter(tcfg)
			if err != nil {
				return err
			}
			defer cleanup()
			n, err := telemetry.ReplayLogFile(cmd.Context(), input, writer, v.GetFloat64("speed"))
			logging.FromContext(cmd.Context()).Info("replay finished", "rows", n)
			return err
		},
	}
	cmd.Flags().String("input", "", "path to position log file")
	cmd.Flags().Float64("speed", 1.0, "playback speed multiplier (0 for no delay)")
	cmd.Flags().String("print", "", "stdout format (json, color)")
	cmd.Flags().String("greptime-endpoint", "", "replay into GreptimeDB instead of stdout")
	return cmd
}
