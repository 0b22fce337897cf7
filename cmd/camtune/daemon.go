package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/camtune/camtune/pkg/daemon"
	"github.com/camtune/camtune/pkg/device"
	"github.com/camtune/camtune/pkg/version"
)

var (
	// alwaysAllowNonRootAccess indicates whether to always allow non-root users to access the camtune daemon.
	alwaysAllowNonRootAccess = false
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "daemon",
		Hidden:      true,
		Short:       "Run camtune daemon in the foreground",
		GroupID:     gAdvanced,
		Annotations: map[string]string{"local": "true"},
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version":  version.Version,
				"commit":   version.GitCommit,
				"backends": device.Backends(),
			}).Info("camtune daemon starting")
			return daemon.Run(configPath, unixSocketPath, alwaysAllowNonRootAccess)
		},
	}

	f := cmd.Flags()

	f.BoolVar(&alwaysAllowNonRootAccess, "always-allow-non-root-access", false,
		"Always allow non-root users to access the daemon.")
	f.StringVar(&unixSocketPath, "socket", unixSocketPath, "unix socket to listen on")

	return cmd
}
