package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/camtune/camtune/pkg/calibration"
	"github.com/camtune/camtune/pkg/device"
	"github.com/camtune/camtune/pkg/version"
)

func parseIntArg(args []string, valueName string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("invalid number of arguments")
	}

	value, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}

	return value, nil
}

func newEnableDisableCommand(
	use, short, long string,
	enableFunc func() (string, error),
	disableFunc func() (string, error),
) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "enable",
			Short: "Enable " + short,
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				ret, err := enableFunc()
				if err != nil {
					return fmt.Errorf("failed to enable %s: %w", use, err)
				}
				if ret != "" {
					logrus.Infof("daemon responded: %s", ret)
				}
				logrus.Infof("successfully enabled %s", use)
				return nil
			},
		},
		&cobra.Command{
			Use:   "disable",
			Short: "Disable " + short,
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				ret, err := disableFunc()
				if err != nil {
					return fmt.Errorf("failed to disable %s: %w", use, err)
				}
				if ret != "" {
					logrus.Infof("daemon responded: %s", ret)
				}
				logrus.Infof("successfully disabled %s", use)
				return nil
			},
		},
	)

	return cmd
}

func getVersion() (clientVersion, daemonVersion string, err error) {
	daemonVersion, err = apiClient.GetVersion()
	if err != nil {
		return "", "", err
	}
	return version.Version, daemonVersion, nil
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

// formatValue prints a channel value in the unit people use for it.
func formatValue(id device.ChannelID, v float64) string {
	switch id {
	case device.Exposure:
		return time.Duration(v).Round(time.Microsecond).String()
	case device.Aperture:
		return fmt.Sprintf("f/%g", v)
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}

func printCalibrationStatus(w io.Writer, st *calibration.Status) {
	phase := string(st.Phase)
	if st.Calibrating {
		phase = color.New(color.Bold, color.FgYellow).Sprint(phase)
	} else {
		phase = bold("%s", phase)
	}
	fmt.Fprintf(w, "  Phase: %s\n", phase)
	if st.RunID != "" {
		fmt.Fprintf(w, "  Run: %s\n", st.RunID)
	}
	fmt.Fprintf(w, "  Metric: %s\n", bold("%s", st.Metric))
	if st.Calibrating {
		fmt.Fprintf(w, "  Channel: %s (%d/%d)\n", bold("%s", st.Channel), st.ChannelIndex+1, st.ChannelCount)
		fmt.Fprintf(w, "  Position: %s (step %d)\n", bold("%d", st.Position), st.Step)
		fmt.Fprintf(w, "  Evaluations: %d\n", st.Evaluations)
		if st.Best != nil {
			fmt.Fprintf(w, "  Best so far: %s at position %d (score %.4g)\n",
				bold("%s", formatValue(st.Channel, st.Best.Value)), st.Best.Position, st.BestScore)
		}
	}
	if !st.StartedAt.IsZero() {
		fmt.Fprintf(w, "  Started: %s (%s ago)\n", st.StartedAt.Local().Format(time.DateTime), time.Since(st.StartedAt).Round(time.Second))
	}
	if !st.ScheduledAt.IsZero() {
		fmt.Fprintf(w, "  Next scheduled run: %s\n", st.ScheduledAt.Local().Format(time.DateTime))
	}
	if st.Message != "" {
		fmt.Fprintf(w, "  Message: %s\n", st.Message)
	}
}

func printResult(w io.Writer, res *calibration.Result) {
	if res.Abandoned {
		fmt.Fprintf(w, "  Run %s was %s\n", res.RunID, color.New(color.Bold, color.FgRed).Sprint("abandoned"))
	} else {
		fmt.Fprintf(w, "  Run %s finished in %s\n", res.RunID, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	}

	for _, id := range device.KnownChannels {
		v, ok := res.Final[id]
		if !ok {
			continue
		}
		switch {
		case hasKey(res.Committed, id):
			fmt.Fprintf(w, "  %s: %s %s (score %.4g)\n", id, bold("%s", formatValue(id, v)), bool2Text(true), res.Scores[id])
		case res.Skipped[id] != "":
			fmt.Fprintf(w, "  %s: %s %s (%s)\n", id, formatValue(id, v), bool2Text(false), res.Skipped[id])
		default:
			fmt.Fprintf(w, "  %s: %s\n", id, formatValue(id, v))
		}
	}
	if tag := res.Tag(); tag != "" {
		fmt.Fprintf(w, "  Tag: %s\n", bold("%s", tag))
	}
}

func hasKey[K comparable, V any](m map[K]V, k K) bool {
	_, ok := m[k]
	return ok
}

// parseChannelArg accepts channel names case-insensitively.
func parseChannelArg(s string) (device.ChannelID, error) {
	return device.ParseChannelID(strings.ToLower(strings.TrimSpace(s)))
}
