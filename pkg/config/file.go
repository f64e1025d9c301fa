package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/lockbox/pkg/utils/ptr"
)

const (
	BoardSim = "sim"
)

var (
	defaultFileConfig = &RawFileConfig{
		Board:                     ptr.To(BoardSim),
		StatePath:                 ptr.To("/var/lib/lockbox/lockbox.yaml"),
		RelockIntervalMs:          ptr.To(100),
		MaxRelocks:                ptr.To(10),
		RelockWindowSeconds:       ptr.To(60),
		CalibrationTimeoutSeconds: ptr.To(5),
		CalibrationPeriods:        ptr.To(5),
		// Scheduled recalibration is opt-in. A recalibration unlocks the
		// cavity, so nobody should get it by surprise.
		CalibrationCron:    ptr.To(""),
		AllowNonRootAccess: ptr.To(false),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

type RawFileConfig struct {
	Board                     *string `json:"board,omitempty"`
	StatePath                 *string `json:"statePath,omitempty"`
	RelockIntervalMs          *int    `json:"relockIntervalMs,omitempty"`
	MaxRelocks                *int    `json:"maxRelocks,omitempty"`
	RelockWindowSeconds       *int    `json:"relockWindowSeconds,omitempty"`
	CalibrationTimeoutSeconds *int    `json:"calibrationTimeoutSeconds,omitempty"`
	CalibrationPeriods        *int    `json:"calibrationPeriods,omitempty"`
	CalibrationCron           *string `json:"calibrationCron,omitempty"`
	AllowNonRootAccess        *bool   `json:"allowNonRootAccess,omitempty"`
}

func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	rawConfig := &RawFileConfig{
		Board:                     ptr.To(c.Board()),
		StatePath:                 ptr.To(c.StatePath()),
		RelockIntervalMs:          ptr.To(int(c.RelockInterval() / time.Millisecond)),
		MaxRelocks:                ptr.To(c.MaxRelocks()),
		RelockWindowSeconds:       ptr.To(int(c.RelockWindow() / time.Second)),
		CalibrationTimeoutSeconds: ptr.To(int(c.CalibrationTimeout() / time.Second)),
		CalibrationPeriods:        ptr.To(c.CalibrationPeriods()),
		CalibrationCron:           ptr.To(c.CalibrationCron()),
		AllowNonRootAccess:        ptr.To(c.AllowNonRootAccess()),
	}

	return rawConfig, nil
}

// read returns the value selected by pick from the loaded config, falling
// back to the default config.
func read[T any](f *File, pick func(*RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(pick(f.c), *pick(defaultFileConfig))
}

func (f *File) Board() string {
	return read(f, func(c *RawFileConfig) *string { return c.Board })
}

func (f *File) StatePath() string {
	return read(f, func(c *RawFileConfig) *string { return c.StatePath })
}

func (f *File) RelockInterval() time.Duration {
	ms := read(f, func(c *RawFileConfig) *int { return c.RelockIntervalMs })
	if ms <= 0 {
		ms = *defaultFileConfig.RelockIntervalMs
	}
	return time.Duration(ms) * time.Millisecond
}

func (f *File) MaxRelocks() int {
	n := read(f, func(c *RawFileConfig) *int { return c.MaxRelocks })
	if n <= 0 {
		n = *defaultFileConfig.MaxRelocks
	}
	return n
}

func (f *File) RelockWindow() time.Duration {
	s := read(f, func(c *RawFileConfig) *int { return c.RelockWindowSeconds })
	if s <= 0 {
		s = *defaultFileConfig.RelockWindowSeconds
	}
	return time.Duration(s) * time.Second
}

func (f *File) CalibrationTimeout() time.Duration {
	s := read(f, func(c *RawFileConfig) *int { return c.CalibrationTimeoutSeconds })
	if s <= 0 {
		s = *defaultFileConfig.CalibrationTimeoutSeconds
	}
	return time.Duration(s) * time.Second
}

func (f *File) CalibrationPeriods() int {
	n := read(f, func(c *RawFileConfig) *int { return c.CalibrationPeriods })
	if n <= 0 {
		n = *defaultFileConfig.CalibrationPeriods
	}
	return n
}

func (f *File) CalibrationCron() string {
	return read(f, func(c *RawFileConfig) *string { return c.CalibrationCron })
}

func (f *File) AllowNonRootAccess() bool {
	return read(f, func(c *RawFileConfig) *bool { return c.AllowNonRootAccess })
}

func (f *File) SetStatePath(p string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.StatePath = &p
}

func (f *File) SetMaxRelocks(n int) {
	if f.c == nil {
		panic("config is nil")
	}

	if n <= 0 {
		panic("max relocks must be positive")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.MaxRelocks = &n
}

func (f *File) SetCalibrationCron(expr string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.CalibrationCron = &expr
}

func (f *File) SetAllowNonRootAccess(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.AllowNonRootAccess = &b
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"board":              f.Board(),
		"statePath":          f.StatePath(),
		"relockInterval":     f.RelockInterval(),
		"maxRelocks":         f.MaxRelocks(),
		"relockWindow":       f.RelockWindow(),
		"calibrationTimeout": f.CalibrationTimeout(),
		"calibrationPeriods": f.CalibrationPeriods(),
		"calibrationCron":    f.CalibrationCron(),
		"allowNonRootAccess": f.AllowNonRootAccess(),
	}
}
