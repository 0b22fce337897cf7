package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/camtune/camtune/pkg/calibration"
	"github.com/camtune/camtune/pkg/device"
)

func NewChannelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "channel",
		Aliases: []string{"channels", "ch"},
		Short:   "Inspect and position capture channels by hand",
		Long: `Inspect and position capture channels by hand.

Positions run from 0 to 100 across a channel's effective range, which is the
device range narrowed by the configured practical range. They are the same
positions a calibration steps through.`,
		GroupID: gBasic,
	}

	cmd.AddCommand(newChannelListCommand(), newChannelSetCommand())
	return cmd
}

func newChannelListCommand() *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List channels with their ranges, value and position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos, err := apiClient.GetChannels()
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, infos)
			}
			for _, ci := range infos {
				printChannelInfo(cmd, ci)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printChannelInfo(cmd *cobra.Command, ci calibration.ChannelInfo) {
	cmd.Println(bold("%s:", ci.ID))
	if ci.Error != "" {
		cmd.Printf("  Error: %s\n", ci.Error)
	}
	if ci.Device != "" {
		cmd.Printf("  Device range: %s\n", ci.Device)
	}
	if ci.Practical != "" {
		cmd.Printf("  Practical range: %s\n", ci.Practical)
	}
	if ci.Effective != "" {
		cmd.Printf("  Effective range: %s\n", bold("%s", ci.Effective))
	}
	if ci.Error == "" {
		cmd.Printf("  Value: %s\n", bold("%s", formatValue(ci.ID, ci.Value)))
	}
	if ci.Position != nil {
		cmd.Printf("  Position: %s\n", bold("%d", *ci.Position))
	}
}

func newChannelSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <channel> <position>",
		Short: "Apply the value at a 0-100 position on a channel",
		Example: `  camtune channel set sensitivity 0    (lowest usable ISO)
  camtune channel set exposure 50      (middle of the exposure range)`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseChannelArg(args[0])
			if err != nil {
				return err
			}
			pos, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid position: %v", err)
			}
			if pos < 0 || pos > 100 {
				return fmt.Errorf("position must be between 0 and 100, got %d", pos)
			}
			v, err := apiClient.SetChannelPosition(id, pos)
			if err != nil {
				return err
			}
			cmd.Printf("%s set to %s (position %d)\n", id, bold("%s", formatValue(id, v)), pos)
			return nil
		},
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			names := make([]string, 0, len(device.KnownChannels))
			for _, c := range device.KnownChannels {
				names = append(names, string(c))
			}
			return names, cobra.ShellCompDirectiveNoFileComp
		},
	}
}
