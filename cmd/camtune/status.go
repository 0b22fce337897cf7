package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/camtune/camtune/pkg/calibration"
	"github.com/camtune/camtune/pkg/client"
	"github.com/camtune/camtune/pkg/config"
	"github.com/camtune/camtune/pkg/types"
	"github.com/camtune/camtune/pkg/version"
)

type statusData struct {
	telemetry *types.Telemetry
	channels  []calibration.ChannelInfo
	result    *calibration.Result
	config    *config.RawFileConfig
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	tel, err := apiClient.GetTelemetry(true, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get telemetry: %w", err)
	}

	channels, err := apiClient.GetChannels()
	if err != nil {
		return nil, fmt.Errorf("failed to get channels: %w", err)
	}

	res, err := apiClient.GetCalibrationResult()
	if err != nil && !errors.Is(err, client.ErrNotFound) {
		return nil, fmt.Errorf("failed to get calibration result: %w", err)
	}

	conf, err := apiClient.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	return &statusData{
		telemetry: tel,
		channels:  channels,
		result:    res,
		config:    conf,
	}, nil
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version",
		Annotations: map[string]string{"local": "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewStatusCommand() *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of camtune",
		Long:    `Get the live preview score, channel values, calibration status and configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Get various info first.
			data, err := fetchStatusData()
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd, buildStatusJSON(data))
			}

			conf := config.NewFileFromConfig(data.config, "")

			// Preview.
			cmd.Println(bold("Preview:"))
			if p := data.telemetry.Preview; p != nil {
				if p.Seq > 0 {
					cmd.Printf("  Score (%s): %s\n", p.Metric, bold("%.4g", p.Score))
				}
				cmd.Printf("  Frames: %d of %d expected %s\n", p.Frames, p.Expected, bool2Text(p.Healthy))
				if p.Error != "" {
					cmd.Printf("  Last error: %s\n", p.Error)
				}
			}
			cmd.Println()

			// Channels.
			cmd.Println(bold("Channels:"))
			for _, ci := range data.channels {
				line := fmt.Sprintf("  %s: ", ci.ID)
				switch {
				case ci.Error != "":
					line += ci.Error
				case ci.Position != nil:
					line += fmt.Sprintf("%s (position %d in %s)", bold("%s", formatValue(ci.ID, ci.Value)), *ci.Position, ci.Effective)
				default:
					line += bold("%s", formatValue(ci.ID, ci.Value))
				}
				cmd.Println(line)
			}
			cmd.Println()

			// Calibration.
			cmd.Println(bold("Calibration:"))
			if st := data.telemetry.Calibration; st != nil {
				printCalibrationStatus(cmd.OutOrStdout(), st)
			}
			if data.result != nil {
				cmd.Println(bold("Last result:"))
				printResult(cmd.OutOrStdout(), data.result)
			}
			cmd.Println()

			// Config.
			cmd.Println(bold("Configuration:"))
			cmd.Printf("  Channel order: %v\n", conf.ChannelOrder())
			cmd.Printf("  Metric: %s\n", bold("%s", conf.Metric()))
			cmd.Printf("  Green channel only: %s\n", bool2Text(conf.UseGreenChannelOnly()))
			cmd.Printf("  Pixel stride: %s\n", bold("%d", conf.PixelStride()))
			cmd.Printf("  Settling delay: %s, step delay: %s, frame timeout: %s\n",
				conf.SettlingDelay(), conf.StepDelay(), conf.FrameTimeout())
			d := conf.Device()
			cmd.Printf("  Device: %s %s (%dx%d)\n", d.Backend, d.Path, d.Width, d.Height)
			if s := conf.Schedule(); s != "" {
				cmd.Printf("  Schedule: %s\n", bold("%s", s))
			} else {
				cmd.Printf("  Schedule: %s\n", bool2Text(false))
			}
			cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(conf.AllowNonRootAccess()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
