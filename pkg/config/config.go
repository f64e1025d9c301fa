package config

import (
	"time"

	"github.com/sirupsen/logrus"
)

type Config interface {
	Board() string
	StatePath() string
	RelockInterval() time.Duration
	MaxRelocks() int
	RelockWindow() time.Duration
	CalibrationTimeout() time.Duration
	CalibrationPeriods() int
	// CalibrationCron is the schedule of automatic recalibration. Empty
	// disables it.
	CalibrationCron() string
	AllowNonRootAccess() bool

	SetStatePath(string)
	SetMaxRelocks(int)
	SetCalibrationCron(string)
	SetAllowNonRootAccess(bool)

	LogrusFields() logrus.Fields

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
