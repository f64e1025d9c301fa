package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/lockbox/pkg/calibration"
	"github.com/charlie0129/lockbox/pkg/config"
	"github.com/charlie0129/lockbox/pkg/lockbox"
)

func (c *Client) GetState() (*lockbox.State, error) {
	ret, err := c.Get("/state")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get lockbox state")
	}

	var st lockbox.State
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal lockbox state")
	}
	return &st, nil
}

func (c *Client) IsLocked() (bool, error) {
	ret, err := c.Get("/is-locked")
	if err != nil {
		return false, pkgerrors.Wrapf(err, "failed to check lock")
	}
	return parseBoolResponse(ret)
}

// Lock starts the sequence in the background and returns the daemon's
// message.
func (c *Client) Lock() (string, error) {
	return c.Post("/lock", "")
}

// LockAndWait runs the sequence and waits for it to finish.
func (c *Client) LockAndWait() (*lockbox.Result, error) {
	ret, err := c.Post("/lock?wait=true", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to lock")
	}

	var res lockbox.Result
	if err := json.Unmarshal([]byte(ret), &res); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal lock result")
	}
	return &res, nil
}

func (c *Client) Unlock() (string, error) {
	return c.Post("/unlock", "")
}

// Calibrate calibrates one input, or every input if input is empty.
func (c *Client) Calibrate(input string) (map[string]calibration.Data, error) {
	path := "/calibrate"
	if input != "" {
		path += "?input=" + url.QueryEscape(input)
	}
	ret, err := c.Post(path, "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to calibrate")
	}
	return parseCalibration(ret)
}

func (c *Client) GetCalibration() (map[string]calibration.Data, error) {
	ret, err := c.Get("/calibration")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get calibration")
	}
	return parseCalibration(ret)
}

func (c *Client) SetAutoLock(enabled bool) (string, error) {
	return c.Put("/auto-lock", strconv.FormatBool(enabled))
}

func (c *Client) SetClassname(name string) (string, error) {
	payload, err := json.Marshal(name)
	if err != nil {
		return "", err
	}
	return c.Put("/classname", string(payload))
}

func (c *Client) GetSequence() ([]lockbox.Stage, error) {
	ret, err := c.Get("/sequence")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get sequence")
	}

	var stages []lockbox.Stage
	if err := json.Unmarshal([]byte(ret), &stages); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal sequence")
	}
	return stages, nil
}

// AppendStage appends a stage. attrs use the persisted tree keys, e.g.
// {"gain_factor": 10, "duration": 0.5}.
func (c *Client) AppendStage(attrs map[string]any) (*lockbox.Stage, error) {
	payload, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	ret, err := c.Post("/sequence", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to append stage")
	}
	return parseStage(ret)
}

// PopStage removes the stage at index. Negative indices count from the end.
func (c *Client) PopStage(index int) (*lockbox.Stage, error) {
	ret, err := c.Delete(fmt.Sprintf("/sequence/%d", index))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to pop stage %d", index)
	}
	return parseStage(ret)
}

func (c *Client) SetStageInput(index int, input string) (*lockbox.Stage, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	ret, err := c.Put(fmt.Sprintf("/sequence/%d/input", index), string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set input of stage %d", index)
	}
	return parseStage(ret)
}

// GetSchedule returns the next recalibration runs. It is empty when
// recalibration is disabled.
func (c *Client) GetSchedule() ([]time.Time, error) {
	ret, err := c.Get("/schedule")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get schedule")
	}
	return parseRuns(ret)
}

// Schedule sets the recalibration cron expression. An empty expression
// disables recalibration.
func (c *Client) Schedule(cronExpr string) ([]time.Time, error) {
	payload, err := json.Marshal(cronExpr)
	if err != nil {
		return nil, err
	}
	ret, err := c.Put("/schedule", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set schedule")
	}
	return parseRuns(ret)
}

func (c *Client) PostponeSchedule(d time.Duration) ([]time.Time, error) {
	ret, err := c.Post("/schedule/postpone?duration="+url.QueryEscape(d.String()), "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to postpone schedule")
	}
	return parseRuns(ret)
}

func (c *Client) SkipSchedule() ([]time.Time, error) {
	ret, err := c.Post("/schedule/skip", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to skip schedule")
	}
	return parseRuns(ret)
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}

	var conf config.RawFileConfig
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}

	return &conf, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}

	var v string
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to unmarshal version")
	}
	return v, nil
}

func parseBoolResponse(resp string) (bool, error) {
	switch resp {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, pkgerrors.Errorf("unknown response: %s", resp)
	}
}

func parseStage(resp string) (*lockbox.Stage, error) {
	var st lockbox.Stage
	if err := json.Unmarshal([]byte(resp), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal stage")
	}
	return &st, nil
}

func parseCalibration(resp string) (map[string]calibration.Data, error) {
	data := map[string]calibration.Data{}
	if err := json.Unmarshal([]byte(resp), &data); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal calibration")
	}
	return data, nil
}

func parseRuns(resp string) ([]time.Time, error) {
	var runs []time.Time
	if err := json.Unmarshal([]byte(resp), &runs); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal schedule")
	}
	return runs, nil
}
