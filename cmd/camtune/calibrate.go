package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/camtune/camtune/pkg/calibration"
	"github.com/camtune/camtune/pkg/client"
	"github.com/camtune/camtune/pkg/config"
	"github.com/camtune/camtune/pkg/device"
	"github.com/camtune/camtune/pkg/events"
)

func NewCalibrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "calibrate",
		Aliases: []string{"calibration", "cali"},
		Short:   "Run and inspect exposure calibrations",
		Long: `Run and inspect exposure calibrations.

A calibration sweeps each channel in the configured order (sensitivity, then
exposure by default) over its effective range, scores a frame at every step
and commits the best scoring value before moving to the next channel.`,
		GroupID: gBasic,
	}

	cmd.AddCommand(
		newCalibrateStartCommand(),
		newCalibrateAbortCommand(),
		newCalibrateStatusCommand(),
		newCalibrateResultCommand(),
		newCalibrateRunCommand(),
	)
	return cmd
}

func newCalibrateStartCommand() *cobra.Command {
	wait := false

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a calibration in the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			// Subscribe first so no event of the new run is missed.
			var evs <-chan events.Event
			if wait {
				var err error
				evs, err = apiClient.SubscribeEvents(ctx, "calibration")
				if err != nil {
					return err
				}
			}

			st, err := apiClient.StartCalibration()
			if err != nil {
				return fmt.Errorf("failed to start calibration: %w", err)
			}
			cmd.Printf("Calibration %s started.\n", st.RunID)
			if !wait {
				return nil
			}
			return followRun(ctx, cmd, evs)
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Follow the run until it finishes")
	return cmd
}

// followRun prints progress events until the result event arrives.
func followRun(ctx context.Context, cmd *cobra.Command, evs <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			cmd.Println("Stopped following. The calibration keeps running in the daemon.")
			return nil
		case ev, ok := <-evs:
			if !ok {
				return errors.New("event stream closed before the calibration finished")
			}
			switch ev.Name {
			case events.CalibrationProgress:
				p, err := events.DecodeAs[events.CalibrationProgressEvent](ev)
				if err != nil {
					logrus.WithError(err).Debug("bad progress event")
					continue
				}
				cmd.Printf("  %-12s position %3d  value %-12s score %.4g\n",
					p.Channel, p.Position, formatValue(device.ChannelID(p.Channel), p.Value), p.Score)
			case events.CalibrationCommit:
				p, err := events.DecodeAs[events.CalibrationProgressEvent](ev)
				if err != nil {
					continue
				}
				cmd.Printf("%s %s = %s (position %d)\n", color.GreenString("committed"),
					p.Channel, bold("%s", formatValue(device.ChannelID(p.Channel), p.Value)), p.Position)
			case events.CalibrationPhase:
				p, err := events.DecodeAs[events.CalibrationPhaseEvent](ev)
				if err != nil {
					continue
				}
				if p.Message != "" {
					cmd.Printf("%s: %s\n", p.Kind, p.Message)
				}
			case events.CalibrationResult:
				res, err := apiClient.GetCalibrationResult()
				if err != nil {
					return err
				}
				cmd.Println(bold("Calibration result:"))
				printResult(cmd.OutOrStdout(), res)
				if res.Abandoned {
					return errors.New("calibration was abandoned")
				}
				return nil
			}
		}
	}
}

func newCalibrateAbortCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "abort",
		Aliases: []string{"cancel"},
		Short:   "Abort the calibration in progress and restore uncommitted channels",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := apiClient.AbortCalibration(); err != nil {
				return fmt.Errorf("failed to abort calibration: %w", err)
			}
			cmd.Println("Calibration aborted.")
			return nil
		},
	}
}

func newCalibrateStatusCommand() *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the calibration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetCalibration()
			if err != nil {
				return fmt.Errorf("failed to fetch calibration status: %w", err)
			}
			if asJSON {
				return printJSON(cmd, st)
			}
			cmd.Println(bold("Calibration status:"))
			printCalibrationStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newCalibrateResultCommand() *cobra.Command {
	asJSON := false
	tagOnly := false

	cmd := &cobra.Command{
		Use:   "result",
		Short: "Show the latest calibration result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := apiClient.GetCalibrationResult()
			if err != nil {
				if errors.Is(err, client.ErrNotFound) {
					cmd.Println("No calibration has finished yet.")
					return nil
				}
				return err
			}
			switch {
			case tagOnly:
				cmd.Println(res.Tag())
				return nil
			case asJSON:
				return printJSON(cmd, res)
			}
			cmd.Println(bold("Calibration result:"))
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&tagOnly, "tag", false, "Print only the result tag, e.g. for naming recordings")
	return cmd
}

// newCalibrateRunCommand runs a calibration in this process, without the
// daemon. The daemon must not hold the device at the same time.
func newCalibrateRunCommand() *cobra.Command {
	backend := ""
	devicePath := ""

	cmd := &cobra.Command{
		Use:         "run",
		Short:       "Calibrate in the foreground without the daemon",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"local": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to load config")
			}
			if err := conf.Validate(); err != nil {
				return err
			}

			d := conf.Device()
			if backend != "" {
				d.Backend = backend
			}
			if devicePath != "" {
				d.Path = devicePath
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			session, err := device.Open(ctx, d.Backend, device.OpenConfig{
				Path:     d.Path,
				Width:    d.Width,
				Height:   d.Height,
				MaxWidth: conf.EvalMaxWidth(),
			})
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to open %s device %s", d.Backend, d.Path)
			}
			defer func() {
				if err := session.Close(); err != nil {
					logrus.WithError(err).Error("failed to close capture device")
				}
			}()

			out := cmd.OutOrStdout()
			ctrl, err := calibration.NewController(session, config.CalibrationOptions(conf), func(e calibration.Event) {
				switch e.Kind {
				case calibration.EventProgress:
					fmt.Fprintf(out, "  %-12s position %3d  value %-12s score %.4g\n",
						e.Channel, e.Position, formatValue(e.Channel, e.Value), e.Score)
				case calibration.EventCommitted:
					fmt.Fprintf(out, "%s %s = %s (position %d)\n", color.GreenString("committed"),
						e.Channel, bold("%s", formatValue(e.Channel, e.Value)), e.Position)
				case calibration.EventSkipped, calibration.EventTimeout:
					fmt.Fprintf(out, "%s %s: %s\n", color.YellowString(string(e.Kind)), e.Channel, e.Message)
				}
			})
			if err != nil {
				return err
			}
			defer func() { _ = ctrl.Close() }()

			res, err := ctrl.Run(ctx)
			if res != nil {
				cmd.Println(bold("Calibration result:"))
				printResult(out, res)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "", "Override the configured device backend (v4l2, opencv, mock)")
	cmd.Flags().StringVar(&devicePath, "device", "", "Override the configured device path")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(b))
	return nil
}
