package main

import (
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/camtune/camtune/pkg/config"
	daemonutils "github.com/camtune/camtune/pkg/utils/daemon"
)

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	allowNonRootAccess := false

	cmd := &cobra.Command{
		Use:         "install",
		Short:       "Install camtune (system-wide)",
		GroupID:     gInstallation,
		Annotations: map[string]string{"local": "true"},
		Long: `Install camtune daemon as a systemd service (system-wide).

This makes camtune run in the background and automatically start on boot. You must run this command as root.

By default, only root user is allowed to access the camtune daemon for security reasons. As a result, you will need to run camtune client as root to control the camera, e.g. starting a calibration. If you want to allow non-root users, i.e., you, to access the daemon, you can use the --allow-non-root-access flag, so you don't have to use sudo every time.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return err
			}

			conf.SetAllowNonRootAccess(allowNonRootAccess)
			if allowNonRootAccess {
				logrus.Info("non-root users are allowed to access the camtune daemon.")
			} else {
				logrus.Info("only root user is allowed to access the camtune daemon.")
			}

			// The daemon reads the config at startup, so save it first.
			err = conf.Save()
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to save config")
			}

			err = daemonutils.Install(configPath, unixSocketPath)
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %v. Are you root?", err)
			}

			logrus.Infof("installation succeeded")

			exePath, _ := os.Executable()

			cmd.Printf("`systemd' will use current binary (%s) at startup so please make sure you do not move this binary. Once this binary is moved or deleted, you will need to run ``camtune install'' again.\n", exePath)

			return nil
		},
	}

	cmd.Flags().BoolVar(&allowNonRootAccess, "allow-non-root-access", false, "Allow non-root users to access camtune daemon.")

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "uninstall",
		Short:       "Uninstall camtune (system-wide)",
		GroupID:     gInstallation,
		Annotations: map[string]string{"local": "true"},
		Long: `Uninstall camtune daemon from systemd (system-wide).

This stops camtune and removes its systemd unit. The daemon puts back the values of channels an unfinished calibration had not committed yet before it exits.

You must run this command as root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := daemonutils.Uninstall()
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to uninstall daemon: %v", err)
			}

			fmt.Println("successfully uninstalled")

			cmd.Printf("Your config is kept in %s, in case you want to use `camtune' again. If you want a complete uninstall, you can remove both config file and camtune itself manually.\n", configPath)

			return nil
		},
	}

	return cmd
}
