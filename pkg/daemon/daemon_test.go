package daemon

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/lockbox/pkg/calibration"
	"github.com/charlie0129/lockbox/pkg/config"
	"github.com/charlie0129/lockbox/pkg/events"
	"github.com/charlie0129/lockbox/pkg/lockbox"
	"github.com/charlie0129/lockbox/pkg/register"
	"github.com/charlie0129/lockbox/pkg/utils/ptr"
)

func newTestServer(t *testing.T) (*server, *gin.Engine, string) {
	t.Helper()

	dir := t.TempDir()
	statePath := filepath.Join(dir, "lockbox.yaml")
	conf := config.NewFileFromConfig(&config.RawFileConfig{
		StatePath:                 ptr.To(statePath),
		CalibrationTimeoutSeconds: ptr.To(5),
	}, filepath.Join(dir, "lockbox.json"))

	clk := clock.New()
	board, err := openBoard(conf, clk)
	if err != nil {
		t.Fatalf("openBoard failed: %v", err)
	}
	hub := events.NewEventHub()
	lb, err := lockbox.New(board, lockboxOptions(conf, hub, clk))
	if err != nil {
		t.Fatalf("lockbox.New failed: %v", err)
	}
	t.Cleanup(func() {
		_ = lb.Close()
		_ = board.Close()
	})

	s := newServer(lb, conf, hub, clk)
	return s, s.setupRoutes(), statePath
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
	return v
}

func expectCode(t *testing.T, w *httptest.ResponseRecorder, code int) {
	t.Helper()
	if w.Code != code {
		t.Fatalf("got status %d, want %d, body %s", w.Code, code, w.Body.String())
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{pkgerrors.Wrap(lockbox.ErrSequencerBusy, "lock"), http.StatusConflict},
		{lockbox.ErrClosed, http.StatusServiceUnavailable},
		{lockbox.ErrCalibrationTimeout, http.StatusGatewayTimeout},
		{pkgerrors.Wrapf(lockbox.ErrStageIndex, "index 4"), http.StatusBadRequest},
		{pkgerrors.Wrapf(lockbox.ErrCalibrationMissing, "input"), http.StatusBadRequest},
		{&register.IOError{Op: "read", Key: "in1", Err: errors.New("link down")}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestGetStateAndVersion(t *testing.T) {
	_, r, _ := newTestServer(t)

	w := do(t, r, http.MethodGet, "/state", "")
	expectCode(t, w, http.StatusOK)
	st := decode[lockbox.State](t, w)
	if st.Classname != lockbox.DefaultModel || st.Phase != lockbox.PhaseIdle {
		t.Fatalf("unexpected state %+v", st)
	}

	w = do(t, r, http.MethodGet, "/version", "")
	expectCode(t, w, http.StatusOK)

	w = do(t, r, http.MethodGet, "/config", "")
	expectCode(t, w, http.StatusOK)
	conf := decode[config.RawFileConfig](t, w)
	if conf.CalibrationTimeoutSeconds == nil || *conf.CalibrationTimeoutSeconds != 5 {
		t.Fatalf("unexpected config %+v", conf)
	}
}

func TestLockWithoutCalibration(t *testing.T) {
	_, r, _ := newTestServer(t)

	w := do(t, r, http.MethodPost, "/lock?wait=true", "")
	expectCode(t, w, http.StatusOK)
	res := decode[lockbox.Result](t, w)
	if res.Outcome != lockbox.OutcomeConfigError {
		t.Fatalf("expected config error, got %+v", res)
	}
}

func TestCalibrateLockUnlock(t *testing.T) {
	_, r, statePath := newTestServer(t)

	w := do(t, r, http.MethodPost, "/calibrate", "")
	expectCode(t, w, http.StatusOK)
	results := decode[map[string]calibration.Data](t, w)
	data, ok := results["input"]
	if !ok {
		t.Fatalf("no calibration for input in %v", results)
	}
	if math.Abs(data.Amplitude-0.3) > 0.03 {
		t.Fatalf("amplitude %v not close to 0.3", data.Amplitude)
	}

	w = do(t, r, http.MethodGet, "/calibration", "")
	expectCode(t, w, http.StatusOK)
	if got := decode[map[string]calibration.Data](t, w)["input"]; !got.Valid() {
		t.Fatalf("calibration not kept: %+v", got)
	}

	tree, err := config.LoadTree(statePath)
	if err != nil || tree == nil {
		t.Fatalf("calibration should be persisted, got %v, %v", tree, err)
	}

	w = do(t, r, http.MethodPost, "/lock?wait=true", "")
	expectCode(t, w, http.StatusOK)
	if res := decode[lockbox.Result](t, w); !res.OK() {
		t.Fatalf("lock failed: %+v", res)
	}

	w = do(t, r, http.MethodGet, "/is-locked", "")
	expectCode(t, w, http.StatusOK)
	if !decode[bool](t, w) {
		t.Fatalf("expected to be locked")
	}

	w = do(t, r, http.MethodPost, "/unlock", "")
	expectCode(t, w, http.StatusCreated)

	w = do(t, r, http.MethodGet, "/is-locked", "")
	if decode[bool](t, w) {
		t.Fatalf("expected to be unlocked")
	}
}

func TestCalibrateUnknownInput(t *testing.T) {
	_, r, _ := newTestServer(t)

	w := do(t, r, http.MethodPost, "/calibrate?input=nope", "")
	expectCode(t, w, http.StatusBadRequest)
}

func TestLockBusy(t *testing.T) {
	_, r, _ := newTestServer(t)

	expectCode(t, do(t, r, http.MethodPost, "/calibrate", ""), http.StatusOK)
	expectCode(t, do(t, r, http.MethodPost, "/sequence", `{"duration": 10}`), http.StatusCreated)

	expectCode(t, do(t, r, http.MethodPost, "/lock", ""), http.StatusAccepted)
	expectCode(t, do(t, r, http.MethodPost, "/lock", ""), http.StatusConflict)
	expectCode(t, do(t, r, http.MethodPost, "/calibrate", ""), http.StatusConflict)

	expectCode(t, do(t, r, http.MethodPost, "/unlock", ""), http.StatusCreated)
	w := do(t, r, http.MethodGet, "/state", "")
	if st := decode[lockbox.State](t, w); st.Phase != lockbox.PhaseAborted {
		t.Fatalf("expected Aborted after unlock, got %s", st.Phase)
	}
}

func TestSequenceEndpoints(t *testing.T) {
	s, r, statePath := newTestServer(t)

	w := do(t, r, http.MethodPost, "/sequence", `{"name": "fine", "gain_factor": 2, "duration": 0.25}`)
	expectCode(t, w, http.StatusCreated)
	st := decode[lockbox.Stage](t, w)
	if st.Index != 1 || st.Name != "fine" || st.Duration != 250*time.Millisecond {
		t.Fatalf("unexpected stage %+v", st)
	}

	expectCode(t, do(t, r, http.MethodPost, "/sequence", `{"gain": 2}`), http.StatusBadRequest)
	expectCode(t, do(t, r, http.MethodPost, "/sequence", `{"input": "nope"}`), http.StatusBadRequest)

	w = do(t, r, http.MethodGet, "/sequence", "")
	expectCode(t, w, http.StatusOK)
	if stages := decode[[]lockbox.Stage](t, w); len(stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(stages))
	}

	expectCode(t, do(t, r, http.MethodPut, "/sequence/1/input", `"nope"`), http.StatusBadRequest)
	w = do(t, r, http.MethodPut, "/sequence/1/input", `"input"`)
	expectCode(t, w, http.StatusCreated)

	tree, err := config.LoadTree(statePath)
	if err != nil {
		t.Fatalf("LoadTree failed: %v", err)
	}
	if seq, _ := tree["sequence"].([]any); len(seq) != 2 {
		t.Fatalf("persisted sequence has %d stages, want 2", len(seq))
	}

	expectCode(t, do(t, r, http.MethodDelete, "/sequence/x", ""), http.StatusBadRequest)
	expectCode(t, do(t, r, http.MethodDelete, "/sequence/5", ""), http.StatusBadRequest)

	w = do(t, r, http.MethodDelete, "/sequence/-1", "")
	expectCode(t, w, http.StatusOK)
	if popped := decode[lockbox.Stage](t, w); popped.Name != "fine" {
		t.Fatalf("popped %+v, want stage fine", popped)
	}
	if n := s.lb.Sequence().Len(); n != 1 {
		t.Fatalf("expected 1 stage left, got %d", n)
	}
}

func TestClassnameAndAutoLock(t *testing.T) {
	s, r, statePath := newTestServer(t)

	expectCode(t, do(t, r, http.MethodPut, "/classname", `"Bogus"`), http.StatusBadRequest)
	expectCode(t, do(t, r, http.MethodPut, "/classname", `"`+lockbox.ModelInterferometer+`"`), http.StatusCreated)
	expectCode(t, do(t, r, http.MethodPut, "/auto-lock", `true`), http.StatusCreated)
	expectCode(t, do(t, r, http.MethodPut, "/auto-lock", `maybe`), http.StatusBadRequest)

	st := s.lb.State()
	if st.Classname != lockbox.ModelInterferometer || !st.AutoLock {
		t.Fatalf("unexpected state %+v", st)
	}

	tree, err := config.LoadTree(statePath)
	if err != nil {
		t.Fatalf("LoadTree failed: %v", err)
	}
	if tree["classname"] != lockbox.ModelInterferometer || tree["auto_lock"] != true {
		t.Fatalf("unexpected persisted tree %v", tree)
	}
}

func TestRestore(t *testing.T) {
	_, r, statePath := newTestServer(t)
	expectCode(t, do(t, r, http.MethodPut, "/classname", `"`+lockbox.ModelFabryPerot+`"`), http.StatusCreated)
	expectCode(t, do(t, r, http.MethodPost, "/sequence", `{"name": "hold"}`), http.StatusCreated)

	other, _, _ := newTestServer(t)
	other.conf.SetStatePath(statePath)
	if err := other.restore(); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if other.lb.Classname() != lockbox.ModelFabryPerot {
		t.Fatalf("classname not restored: %s", other.lb.Classname())
	}
	if n := other.lb.Sequence().Len(); n != 2 {
		t.Fatalf("expected 2 restored stages, got %d", n)
	}
}

func TestBuiltinCallbacks(t *testing.T) {
	s, r, statePath := newTestServer(t)

	expectCode(t, do(t, r, http.MethodPost, "/calibrate", ""), http.StatusOK)
	expectCode(t, do(t, r, http.MethodPost, "/sequence", `{"function_call": "log"}`), http.StatusCreated)
	expectCode(t, do(t, r, http.MethodPost, "/sequence", `{"function_call": "save"}`), http.StatusCreated)
	expectCode(t, do(t, r, http.MethodPost, "/sequence", `{"function_call": "missing"}`), http.StatusCreated)

	w := do(t, r, http.MethodPost, "/lock?wait=true", "")
	expectCode(t, w, http.StatusOK)
	res := decode[lockbox.Result](t, w)
	if res.Outcome != lockbox.OutcomeConfigError || res.Stage != 3 {
		t.Fatalf("expected unknown callback at stage 3, got %+v", res)
	}

	tree, err := config.LoadTree(statePath)
	if err != nil || tree == nil {
		t.Fatalf("save callback should have written the tree: %v", err)
	}
	if got := s.lb.Callbacks(); len(got) != 2 {
		t.Fatalf("unexpected callbacks %v", got)
	}
}

func TestRecalibrationPreCheck(t *testing.T) {
	s, r, _ := newTestServer(t)

	if err := s.recalibrationPreCheck(); err != nil {
		t.Fatalf("idle lockbox should pass precheck: %v", err)
	}

	if err := s.recalibrate(); err != nil {
		t.Fatalf("recalibrate failed: %v", err)
	}
	expectCode(t, do(t, r, http.MethodPost, "/lock?wait=true", ""), http.StatusOK)
	if err := s.recalibrationPreCheck(); err == nil {
		t.Fatalf("locked lockbox should fail precheck")
	}
}

func TestEventStream(t *testing.T) {
	s, r, _ := newTestServer(t)
	ts := httptest.NewServer(r)
	defer ts.Close()

	go func() {
		for s.hub.Len() == 0 {
			time.Sleep(time.Millisecond)
		}
		s.announceRecalibration(time.Unix(1700000000, 0))
	}()

	resp, err := http.Get(ts.URL + "/events")
	if err != nil {
		t.Fatalf("GET /events failed: %v", err)
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	var name, data string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event:") {
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		}
		if strings.HasPrefix(line, "data:") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			break
		}
	}
	if name != events.CalibrationSchedule {
		t.Fatalf("got event %q, want %q", name, events.CalibrationSchedule)
	}
	ev, err := events.DecodeAs[events.ScheduleEvent](events.Event{Name: name, Data: []byte(data)})
	if err != nil {
		t.Fatalf("DecodeAs failed: %v", err)
	}
	if ev.Next != 1700000000 {
		t.Fatalf("unexpected payload %+v", ev)
	}
}

func TestScheduleEndpoints(t *testing.T) {
	s, r, statePath := newTestServer(t)
	s.scheduler.Start()
	t.Cleanup(s.scheduler.Stop)

	if runs := decode[[]time.Time](t, do(t, r, http.MethodGet, "/schedule", "")); len(runs) != 0 {
		t.Fatalf("expected no runs by default, got %v", runs)
	}
	expectCode(t, do(t, r, http.MethodPost, "/schedule/skip", ""), http.StatusBadRequest)
	expectCode(t, do(t, r, http.MethodPut, "/schedule", `"not a cron"`), http.StatusBadRequest)

	w := do(t, r, http.MethodPut, "/schedule", `"@every 1h"`)
	expectCode(t, w, http.StatusCreated)
	runs := decode[[]time.Time](t, w)
	if len(runs) != scheduleRuns {
		t.Fatalf("expected %d runs, got %v", scheduleRuns, runs)
	}
	saved, err := config.NewFile(filepath.Join(filepath.Dir(statePath), "lockbox.json"))
	if err != nil {
		t.Fatalf("failed to read saved config: %v", err)
	}
	if saved.CalibrationCron() != "@every 1h" {
		t.Fatalf("schedule not saved, got %q", saved.CalibrationCron())
	}

	expectCode(t, do(t, r, http.MethodPost, "/schedule/postpone?duration=soon", ""), http.StatusBadRequest)
	expectCode(t, do(t, r, http.MethodPost, "/schedule/postpone?duration=2h", ""), http.StatusBadRequest)
	w = do(t, r, http.MethodPost, "/schedule/postpone?duration=10m", "")
	expectCode(t, w, http.StatusCreated)
	postponed := decode[[]time.Time](t, w)
	if !postponed[0].Equal(runs[0].Add(10 * time.Minute)) {
		t.Fatalf("expected next run %v, got %v", runs[0].Add(10*time.Minute), postponed[0])
	}

	w = do(t, r, http.MethodPost, "/schedule/skip", "")
	expectCode(t, w, http.StatusCreated)
	if skipped := decode[[]time.Time](t, w); !skipped[0].After(postponed[0]) {
		t.Fatalf("skip should move the next run past %v, got %v", postponed[0], skipped[0])
	}

	expectCode(t, do(t, r, http.MethodPut, "/schedule", `""`), http.StatusCreated)
	if runs := decode[[]time.Time](t, do(t, r, http.MethodGet, "/schedule", "")); len(runs) != 0 {
		t.Fatalf("expected schedule disabled, got %v", runs)
	}
}
