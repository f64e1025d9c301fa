package daemon

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/lockbox/pkg/events"
	"github.com/charlie0129/lockbox/pkg/lockbox"
)

// recalibrate is the scheduled task: calibrate every input and save.
func (s *server) recalibrate() error {
	logrus.Info("running scheduled recalibration")

	results, err := s.lb.CalibrateAll(context.Background(), s.conf.CalibrationTimeout())
	// Inputs finished before a failure are committed.
	s.persist()
	if err != nil {
		return err
	}

	logrus.WithField("inputs", len(results)).Info("scheduled recalibration done")
	return nil
}

// recalibrationPreCheck refuses to recalibrate while a lock is held or a
// run is in progress, since calibration sweeps the outputs open-loop.
func (s *server) recalibrationPreCheck() error {
	st := s.lb.State()
	switch {
	case st.Locked:
		return pkgerrors.New("lockbox is locked")
	case st.Phase == lockbox.PhaseSequencing || st.Phase == lockbox.PhaseCalibrating:
		return pkgerrors.Errorf("lockbox is busy (%s)", st.Phase)
	}
	return nil
}

func (s *server) announceRecalibration(data any) {
	next, ok := data.(time.Time)
	if !ok {
		return
	}
	logrus.WithField("at", next.Format(time.DateTime)).Info("recalibration coming up")
	s.hub.Publish(events.CalibrationSchedule, events.ScheduleEvent{
		Next: next.Unix(),
		Ts:   s.clock.Now().Unix(),
	})
}

func (s *server) recalibrationFailed(data any) {
	if err, ok := data.(error); ok {
		logrus.WithError(err).Warn("scheduled recalibration failed")
	}
}
