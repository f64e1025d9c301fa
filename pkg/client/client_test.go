package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlie0129/lockbox/pkg/events"
	"github.com/charlie0129/lockbox/pkg/lockbox"
)

func newTestClient(t *testing.T, router *gin.Engine) *Client {
	t.Helper()

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "tcp", ts.Listener.Addr().String())
				},
			},
		},
	}
}

func fakeRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/is-locked", func(c *gin.Context) { c.IndentedJSON(http.StatusOK, true) })
	r.GET("/version", func(c *gin.Context) { c.IndentedJSON(http.StatusOK, "v1.2.3") })
	r.POST("/lock", func(c *gin.Context) {
		if c.Query("wait") != "true" {
			c.IndentedJSON(http.StatusConflict, "another run is in progress")
			return
		}
		c.IndentedJSON(http.StatusOK, lockbox.Result{RunID: "r1", Outcome: lockbox.OutcomeLocked, Stage: 2})
	})
	r.POST("/sequence", func(c *gin.Context) {
		attrs := map[string]any{}
		if err := c.BindJSON(&attrs); err != nil {
			return
		}
		c.IndentedJSON(http.StatusCreated, lockbox.Stage{Index: 1, Name: attrs["name"].(string)})
	})
	r.DELETE("/sequence/:index", func(c *gin.Context) {
		c.IndentedJSON(http.StatusBadRequest, "stage index out of range")
	})
	r.POST("/schedule/postpone", func(c *gin.Context) {
		d, err := time.ParseDuration(c.Query("duration"))
		if err != nil {
			c.IndentedJSON(http.StatusBadRequest, err.Error())
			return
		}
		c.IndentedJSON(http.StatusCreated, []time.Time{time.Unix(1700000000, 0).Add(d).UTC()})
	})
	r.GET("/events", func(c *gin.Context) {
		c.SSEvent(events.Locked, `{"runId":"r1","ts":1}`)
		c.SSEvent(events.Unlocked, `{"runId":"r1","reason":"unlock","ts":2}`)
	})
	return r
}

func TestClientAPIs(t *testing.T) {
	c := newTestClient(t, fakeRouter())

	locked, err := c.IsLocked()
	if err != nil || !locked {
		t.Fatalf("IsLocked() = %v, %v", locked, err)
	}

	v, err := c.GetVersion()
	if err != nil || v != "v1.2.3" {
		t.Fatalf("GetVersion() = %q, %v", v, err)
	}

	res, err := c.LockAndWait()
	if err != nil {
		t.Fatalf("LockAndWait() error = %v", err)
	}
	if !res.OK() || res.Stage != 2 {
		t.Fatalf("unexpected result %+v", res)
	}

	st, err := c.AppendStage(map[string]any{"name": "fine"})
	if err != nil || st.Name != "fine" || st.Index != 1 {
		t.Fatalf("AppendStage() = %+v, %v", st, err)
	}

	runs, err := c.PostponeSchedule(90 * time.Minute)
	if err != nil {
		t.Fatalf("PostponeSchedule() error = %v", err)
	}
	if len(runs) != 1 || !runs[0].Equal(time.Unix(1700000000, 0).Add(90*time.Minute)) {
		t.Fatalf("unexpected runs %v", runs)
	}
}

func TestClientErrors(t *testing.T) {
	c := newTestClient(t, fakeRouter())

	_, err := c.Lock()
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("Lock() error = %v, want ErrBusy", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Message != "another run is in progress" {
		t.Fatalf("unexpected status error %#v", err)
	}

	_, err = c.PopStage(9)
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		t.Fatalf("PopStage() error = %v", err)
	}

	_, err = c.GetState()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetState() error = %v, want ErrNotFound", err)
	}
}

func TestClientEvents(t *testing.T) {
	c := newTestClient(t, fakeRouter())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := c.Events(ctx)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}

	var got []events.Event
	for ev := range ch {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Name != events.Locked || got[1].Name != events.Unlocked {
		t.Fatalf("unexpected events %+v", got)
	}
	payload, err := events.DecodeAs[events.LockEvent](got[1])
	if err != nil {
		t.Fatalf("DecodeAs() error = %v", err)
	}
	if payload.Reason != "unlock" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}
