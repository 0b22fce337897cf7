package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/camtune/camtune/pkg/metric"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Change scoring settings of the running daemon",
		Long:    `Change scoring settings of the running daemon. Changes are saved to the config file.`,
		GroupID: gAdvanced,
	}

	cmd.AddCommand(
		newEnableDisableCommand(
			"green-channel-only",
			"scoring the green channel only",
			`Score the green channel instead of full luma.

Green is closest to perceived brightness and avoids clipping artifacts of the
other channels. It cannot be changed while a calibration is running.`,
			func() (string, error) { return apiClient.SetGreenChannelOnly(true) },
			func() (string, error) { return apiClient.SetGreenChannelOnly(false) },
		),
		newPixelStrideCommand(),
		newMetricCommand(),
		newConfigShowCommand(),
	)
	return cmd
}

func newPixelStrideCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pixel-stride <n>",
		Short: "Score every n-th pixel only",
		Long: `Score every n-th pixel only.

Larger strides make scoring cheaper on high resolution frames at the cost of
accuracy. 1 scores every pixel.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			stride, err := parseIntArg(args, "stride")
			if err != nil {
				return err
			}
			if stride < 1 {
				return fmt.Errorf("stride must be at least 1, got %d", stride)
			}

			ret, err := apiClient.SetPixelStride(stride)
			if err != nil {
				return fmt.Errorf("failed to set pixel stride: %w", err)
			}
			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}
			return nil
		},
	}
}

func newMetricCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "metric <dispersion|saturation>",
		Short: "Choose how frames are scored",
		Long: `Choose how frames are scored.

  dispersion  RMS of luma around its mean. Higher is better.
  saturation  ratio of clipped red samples. Lower is better.

It cannot be changed while a calibration is running.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(metric.KindDispersion), string(metric.KindSaturation)},
		RunE: func(_ *cobra.Command, args []string) error {
			ret, err := apiClient.SetMetric(metric.Kind(args[0]))
			if err != nil {
				return fmt.Errorf("failed to set metric: %w", err)
			}
			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}
			return nil
		},
	}
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the daemon config as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := apiClient.GetConfig()
			if err != nil {
				return err
			}
			return printJSON(cmd, raw)
		},
	}
}
