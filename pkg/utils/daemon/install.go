package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/camtune/camtune/hack"
)

var (
	unitDir  = "/etc/systemd/system"
	unitName = "camtune.service"
	// systemctl is replaced in tests.
	systemctl = func(args ...string) error {
		out, err := exec.Command("systemctl", args...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("systemctl %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
		}
		return nil
	}
)

func unitPath() string {
	return filepath.Join(unitDir, unitName)
}

// renderUnit fills the unit template for the executable at exePath.
func renderUnit(exePath, configPath, socketPath string) string {
	tmpl := strings.ReplaceAll(hack.SystemdUnitTemplate, "/path/to/camtune", exePath)
	if configPath != "" {
		tmpl = strings.ReplaceAll(tmpl, "--config /etc/camtune.json", "--config "+configPath)
	}
	if socketPath != "" {
		tmpl = strings.ReplaceAll(tmpl, "--socket /var/run/camtune.sock", "--socket "+socketPath)
	}
	return tmpl
}

// Install writes the systemd unit for the running executable, then enables
// and starts it. Empty configPath or socketPath keep the defaults.
func Install(configPath, socketPath string) error {
	// Get the path to the current executable
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}

	err = os.Chmod(exePath, 0755)
	if err != nil {
		return fmt.Errorf("failed to chmod the current executable to 0755: %w", err)
	}

	logrus.Infof("current executable path: %s", exePath)

	if err := writeUnit(renderUnit(exePath, configPath, socketPath)); err != nil {
		return err
	}

	logrus.Infof("starting camtune")

	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", "--now", unitName)
}

func writeUnit(unit string) error {
	logrus.Infof("writing systemd unit to %s", unitDir)

	// mkdir -p
	if err := os.MkdirAll(unitDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", unitDir, err)
	}

	// warn if the file already exists
	if _, err := os.Stat(unitPath()); err == nil {
		logrus.Warnf("%s already exists, overwriting", unitPath())
	}

	if err := os.WriteFile(unitPath(), []byte(unit), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", unitPath(), err)
	}
	return nil
}
