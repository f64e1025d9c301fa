package daemon

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/lockbox/pkg/calibration"
	"github.com/charlie0129/lockbox/pkg/config"
	"github.com/charlie0129/lockbox/pkg/lockbox"
	"github.com/charlie0129/lockbox/pkg/version"
)

// errorStatus maps lockbox errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, lockbox.ErrSequencerBusy):
		return http.StatusConflict
	case errors.Is(err, lockbox.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, lockbox.ErrCalibrationTimeout):
		return http.StatusGatewayTimeout
	case lockbox.IsConfigError(err):
		return http.StatusBadRequest
	case lockbox.IsHardwareError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}

func (s *server) getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(s.conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func (s *server) getState(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.lb.State())
}

func (s *server) getIsLocked(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.lb.IsLocked())
}

// lock starts the sequence. With ?wait=true the request returns the run
// result once the run ends; the run is not tied to the request.
func (s *server) lock(c *gin.Context) {
	wait, _ := strconv.ParseBool(c.Query("wait"))

	ch, err := s.lb.LockAsync(context.Background())
	if err != nil {
		abortWithError(c, errorStatus(err), err)
		return
	}

	if !wait {
		go func() {
			res := <-ch
			logrus.WithFields(logrus.Fields{
				"run":     res.RunID,
				"outcome": res.Outcome,
				"stage":   res.Stage,
			}).Debug("background lock finished")
		}()
		c.IndentedJSON(http.StatusAccepted, "lock started")
		return
	}

	select {
	case res := <-ch:
		c.IndentedJSON(http.StatusOK, res)
	case <-c.Request.Context().Done():
		logrus.Debug("client stopped waiting for lock")
	}
}

func (s *server) unlock(c *gin.Context) {
	if err := s.lb.Unlock(); err != nil {
		abortWithError(c, errorStatus(err), err)
		return
	}
	c.IndentedJSON(http.StatusCreated, "ok")
}

// calibrate calibrates the input given by ?input=, or every input.
func (s *server) calibrate(c *gin.Context) {
	timeout := s.conf.CalibrationTimeout()
	input := c.Query("input")

	var results map[string]calibration.Data
	var err error
	if input != "" {
		ctx, cancel := s.clock.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		var data calibration.Data
		data, err = s.lb.Calibrate(ctx, input)
		if err == nil {
			results = map[string]calibration.Data{input: data}
		}
	} else {
		results, err = s.lb.CalibrateAll(c.Request.Context(), timeout)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = lockbox.ErrCalibrationTimeout
		}
		// Inputs finished before a failure are committed.
		s.persist()
		abortWithError(c, errorStatus(err), err)
		return
	}

	s.persist()
	c.IndentedJSON(http.StatusOK, results)
}

func (s *server) getCalibration(c *gin.Context) {
	out := make(map[string]calibration.Data)
	for _, in := range s.lb.Inputs() {
		out[in.Name] = in.Calibration
	}
	c.IndentedJSON(http.StatusOK, out)
}

func (s *server) setAutoLock(c *gin.Context) {
	var enabled bool
	if err := c.BindJSON(&enabled); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	s.lb.SetAutoLock(enabled)
	s.persist()

	logrus.Infof("set auto-lock to %t", enabled)
	c.IndentedJSON(http.StatusCreated, "ok")
}

func (s *server) setClassname(c *gin.Context) {
	var name string
	if err := c.BindJSON(&name); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if err := s.lb.SetClassname(name); err != nil {
		abortWithError(c, errorStatus(err), err)
		return
	}
	s.persist()

	logrus.Infof("set classname to %s", name)
	c.IndentedJSON(http.StatusCreated, "ok")
}

func (s *server) getSequence(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.lb.Sequence().Snapshot())
}

func (s *server) appendStage(c *gin.Context) {
	attrs := map[string]any{}
	if c.Request.ContentLength != 0 {
		if err := c.BindJSON(&attrs); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
	}

	st, err := s.lb.AppendStage(attrs)
	if err != nil {
		code := errorStatus(err)
		if code == http.StatusInternalServerError {
			// Decoding errors come from the request body.
			code = http.StatusBadRequest
		}
		abortWithError(c, code, err)
		return
	}
	s.persist()

	c.IndentedJSON(http.StatusCreated, st)
}

func stageIndex(c *gin.Context) (int, bool) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return 0, false
	}
	return i, true
}

func (s *server) popStage(c *gin.Context) {
	i, ok := stageIndex(c)
	if !ok {
		return
	}

	st, err := s.lb.Sequence().Pop(i)
	if err != nil {
		abortWithError(c, errorStatus(err), err)
		return
	}
	s.persist()

	c.IndentedJSON(http.StatusOK, st)
}

func (s *server) setStageInput(c *gin.Context) {
	i, ok := stageIndex(c)
	if !ok {
		return
	}

	var input string
	if err := c.BindJSON(&input); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	st, err := s.lb.SetStageInput(i, input)
	if err != nil {
		abortWithError(c, errorStatus(err), err)
		return
	}
	s.persist()

	c.IndentedJSON(http.StatusCreated, st)
}

// scheduleRuns is how many upcoming recalibrations the schedule endpoints
// report.
const scheduleRuns = 3

func (s *server) getSchedule(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.scheduler.NextRuns(scheduleRuns))
}

// setSchedule replaces the recalibration schedule and saves it to the config
// file. An empty expression disables recalibration.
func (s *server) setSchedule(c *gin.Context) {
	var expr string
	if err := c.BindJSON(&expr); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if err := s.scheduler.Schedule(expr); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	s.conf.SetCalibrationCron(expr)
	if err := s.conf.Save(); err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}

	logrus.WithField("cron", expr).Info("set calibration schedule")
	c.IndentedJSON(http.StatusCreated, s.scheduler.NextRuns(scheduleRuns))
}

func (s *server) postponeSchedule(c *gin.Context) {
	d, err := time.ParseDuration(c.DefaultQuery("duration", "1h"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if err := s.scheduler.Postpone(d); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	logrus.WithField("duration", d).Info("postponed next recalibration")
	c.IndentedJSON(http.StatusCreated, s.scheduler.NextRuns(scheduleRuns))
}

func (s *server) skipSchedule(c *gin.Context) {
	if err := s.scheduler.Skip(); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	logrus.Info("skipped next recalibration")
	c.IndentedJSON(http.StatusCreated, s.scheduler.NextRuns(scheduleRuns))
}

// streamEvents relays hub events as server-sent events until the client
// goes away.
func (s *server) streamEvents(c *gin.Context) {
	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
