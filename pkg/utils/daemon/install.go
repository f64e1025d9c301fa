package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

const (
	unitName = "lockbox.service"
)

var (
	unitPath  = "/etc/systemd/system/" + unitName
	systemctl = "/bin/systemctl"
)

// Install writes the systemd unit for the current executable and starts it.
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

	err = writeUnit(unitPath, RenderUnit(exePath, configPath, socketPath))
	if err != nil {
		return err
	}

	logrus.Infof("starting lockbox")

	for _, args := range [][]string{
		{"daemon-reload"},
		{"enable", "--now", unitName},
	} {
		if out, err := exec.Command(systemctl, args...).CombinedOutput(); err != nil {
			return fmt.Errorf("systemctl %v failed: %w: %s", args, err, out)
		}
	}

	return nil
}

func writeUnit(path, unit string) error {
	logrus.Infof("writing systemd unit to %s", path)

	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}

	// warn if the file already exists
	_, err = os.Stat(path)
	if err == nil {
		logrus.Warnf("%s already exists, overwriting", path)
	}

	err = os.WriteFile(path, []byte(unit), 0644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}
