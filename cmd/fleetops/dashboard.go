package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleetops/internal/dashboard"
	"fleetops/internal/telemetry"
)

func newDashboardCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Render Grafana dashboards for position history",
		RunE: func(cmd *cobra.Command, args []string) error {
			written, err := dashboard.Render(v.GetString("out"), dashboard.Options{
				DatasourceUID: v.GetString("datasource-uid"),
				Table:         v.GetString("table"),
			})
			if err != nil {
				return err
			}
			for _, p := range written {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
	cmd.Flags().String("out", "build", "output directory")
	cmd.Flags().String("datasource-uid", "", "Grafana datasource UID (default $"+dashboard.DatasourceEnv+")")
	cmd.Flags().String("table", telemetry.DefaultTableName, "position history table")
	return cmd
}
