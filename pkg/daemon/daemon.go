package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/lockbox/pkg/config"
	"github.com/charlie0129/lockbox/pkg/events"
	"github.com/charlie0129/lockbox/pkg/lockbox"
	"github.com/charlie0129/lockbox/pkg/register"
)

// server owns everything the HTTP handlers touch.
type server struct {
	lb        *lockbox.Lockbox
	conf      config.Config
	hub       *events.EventHub
	scheduler *Scheduler
	clock     clock.Clock

	// saveMu serializes tree writes.
	saveMu sync.Mutex
}

func newServer(lb *lockbox.Lockbox, conf config.Config, hub *events.EventHub, clk clock.Clock) *server {
	s := &server{
		lb:    lb,
		conf:  conf,
		hub:   hub,
		clock: clk,
	}
	s.scheduler = NewScheduler(clk, s.recalibrate, s.recalibrationPreCheck, s.announceRecalibration, s.recalibrationFailed)
	registerBuiltinCallbacks(s)
	return s
}

func (s *server) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/config", s.getConfig)
	router.GET("/state", s.getState)
	router.GET("/is-locked", s.getIsLocked)
	router.POST("/lock", s.lock)
	router.POST("/unlock", s.unlock)
	router.POST("/calibrate", s.calibrate)
	router.GET("/calibration", s.getCalibration)
	router.PUT("/auto-lock", s.setAutoLock)
	router.PUT("/classname", s.setClassname)
	router.GET("/sequence", s.getSequence)
	router.POST("/sequence", s.appendStage)
	router.DELETE("/sequence/:index", s.popStage)
	router.PUT("/sequence/:index/input", s.setStageInput)
	router.GET("/schedule", s.getSchedule)
	router.PUT("/schedule", s.setSchedule)
	router.POST("/schedule/postpone", s.postponeSchedule)
	router.POST("/schedule/skip", s.skipSchedule)
	router.GET("/events", s.streamEvents)
	router.GET("/version", getVersion)

	return router
}

// persist saves the lockbox tree to the state path. Failures are logged
// only: the lockbox itself is already updated.
func (s *server) persist() {
	path := s.conf.StatePath()
	if path == "" {
		return
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	tree, err := s.lb.ToTree()
	if err != nil {
		logrus.WithError(err).Error("failed to serialize lockbox")
		return
	}
	if err := config.SaveTree(path, tree); err != nil {
		logrus.WithError(err).Error("failed to save lockbox")
	}
}

// restore loads the saved tree, if any.
func (s *server) restore() error {
	tree, err := config.LoadTree(s.conf.StatePath())
	if err != nil {
		return err
	}
	if tree == nil {
		logrus.WithField("path", s.conf.StatePath()).Info("no saved lockbox, starting with defaults")
		return nil
	}
	if err := s.lb.FromTree(tree); err != nil {
		return pkgerrors.Wrapf(err, "failed to restore lockbox from %s", s.conf.StatePath())
	}
	logrus.WithFields(logrus.Fields{
		"path":      s.conf.StatePath(),
		"classname": s.lb.Classname(),
		"stages":    s.lb.Sequence().Len(),
	}).Info("lockbox restored")
	return nil
}

func (s *server) applySchedule() {
	expr := s.conf.CalibrationCron()
	if err := s.scheduler.Schedule(expr); err != nil {
		logrus.WithError(err).WithField("cron", expr).Error("invalid calibration schedule, recalibration disabled")
		_ = s.scheduler.Schedule("")
		return
	}
	if expr == "" {
		return
	}
	next, _ := s.scheduler.Status()
	logrus.WithFields(logrus.Fields{
		"cron": expr,
		"next": next.Format(time.DateTime),
	}).Info("recalibration scheduled")
}

func openBoard(conf config.Config, clk clock.Clock) (*register.Board, error) {
	switch conf.Board() {
	case config.BoardSim:
		board, _ := register.NewSimulated(clk)
		if err := board.Open(); err != nil {
			return nil, err
		}
		return board, nil
	default:
		return nil, pkgerrors.Errorf("unsupported board %q", conf.Board())
	}
}

func lockboxOptions(conf config.Config, hub *events.EventHub, clk clock.Clock) lockbox.Options {
	return lockbox.Options{
		Clock:              clk,
		Observer:           hub,
		RelockInterval:     conf.RelockInterval(),
		MaxRelocks:         conf.MaxRelocks(),
		RelockWindow:       conf.RelockWindow(),
		CalibrationPeriods: conf.CalibrationPeriods(),
		CalibrationTimeout: conf.CalibrationTimeout(),
	}
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	conf, err := config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	clk := clock.New()
	board, err := openBoard(conf, clk)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open board")
	}

	hub := events.NewEventHub()
	lb, err := lockbox.New(board, lockboxOptions(conf, hub, clk))
	if err != nil {
		return err
	}

	s := newServer(lb, conf, hub, clk)
	if err := s.restore(); err != nil {
		logrus.WithError(err).Warn("ignoring saved lockbox")
	}
	s.applySchedule()
	s.scheduler.Start()

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			logrus.WithFields(conf.LogrusFields()).Infof("config reloaded, relock settings apply after restart")
			s.applySchedule()
		}
	}()

	srv := &http.Server{
		Handler: s.setupRoutes(),
	}

	// A previous daemon may have left its socket behind.
	if err := os.Remove(unixSocketPath); err != nil && !os.IsNotExist(err) {
		logrus.Fatal(err)
	}

	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	s.scheduler.Stop()

	logrus.Info("unlocking before exiting")
	if err := lb.Unlock(); err != nil {
		logrus.Errorf("failed to unlock before exiting: %v", err)
	}
	s.persist()

	if err := lb.Close(); err != nil {
		logrus.Errorf("failed to close lockbox: %v", err)
	}
	if err := board.Close(); err != nil {
		logrus.Errorf("failed to close board: %v", err)
	}

	logrus.Info("exiting")
	return nil
}
