package daemon

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/sirupsen/logrus"
)

// Uninstall stops the daemon and removes its systemd unit.
func Uninstall() error {
	logrus.Infof("stopping lockbox")

	out, err := exec.Command(systemctl, "disable", "--now", unitName).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to stop %s: %w: %s. Are you root?", unitName, err, out)
	}

	logrus.Infof("removing systemd unit")

	return removeUnit(unitPath)
}

func removeUnit(path string) error {
	// if the file doesn't exist, we don't need to remove it
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	err = os.Remove(path)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w. Are you root?", path, err)
	}

	return nil
}
