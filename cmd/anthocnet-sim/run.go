package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jihwankim/anthocnet/pkg/config"
	"github.com/jihwankim/anthocnet/pkg/reporting"
	"github.com/jihwankim/anthocnet/pkg/sim"
)

var scenarioFile string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation scenario",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		level := cfg.Framework.LogLevel
		if verbose {
			level = "debug"
		}
		log := reporting.NewLogger(reporting.LoggerConfig{
			Level:  level,
			Format: reporting.LogFormat(cfg.Framework.LogFormat),
		})

		scenario, err := sim.LoadScenario(scenarioFile)
		if err != nil {
			return err
		}

		log.Info().Str("scenario", scenario.Name).Int("nodes", scenario.Nodes).
			Msg("starting simulation")

		result, err := scenario.Run(cfg, log)
		if err != nil {
			return err
		}

		st := result.Stats
		fmt.Printf("scenario:        %s\n", result.Scenario)
		fmt.Printf("simulated time:  %s\n", result.Elapsed)
		fmt.Printf("data sent:       %d\n", st.DataSent)
		fmt.Printf("data delivered:  %d\n", st.DataDelivered)
		fmt.Printf("data buffered:   %d\n", st.DataBuffered)
		fmt.Printf("data unrouted:   %d\n", st.DataUnrouted)
		fmt.Printf("control frames:  %d\n", st.ControlFrames)
		fmt.Printf("frames lost:     %d\n", st.FramesLost)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&scenarioFile, "scenario", "s", "scenario.yaml", "scenario file to run")
}
