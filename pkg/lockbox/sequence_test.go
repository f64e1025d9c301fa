package lockbox

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/charlie0129/lockbox/pkg/events"
)

func testStages() []Stage {
	return []Stage{
		{Name: "coarse", GainFactor: 0.1, Input: "port1", Duration: time.Second},
		{GainFactor: 1, Input: "port2", Outputs: map[string]StageOutput{"piezo": {LockOn: true}}},
		{Name: "fine", GainFactor: 10, Input: "port1", Setpoint: 0.05, FunctionCall: "check"},
		{Name: "hold", GainFactor: 10, Input: "port1", Duration: 5 * time.Second},
	}
}

func TestSequenceAppendPop(t *testing.T) {
	s := newSequence(nil, nil)
	for i, st := range testStages() {
		got := s.Append(st)
		if got.Index != i {
			t.Fatalf("expected index %d, got %d", i, got.Index)
		}
	}

	popped, err := s.Pop(1)
	if err != nil {
		t.Fatalf("Pop failed: %v", err)
	}
	want := testStages()[1]
	if popped.GainFactor != want.GainFactor || popped.Input != want.Input || !popped.Outputs["piezo"].LockOn {
		t.Fatalf("popped stage changed: %+v", popped)
	}
	if popped.DisplayName() != "1" {
		t.Fatalf("expected popped stage to keep its name 1, got %s", popped.DisplayName())
	}

	remaining := s.Snapshot()
	wantNames := []string{"coarse", "fine", "hold"}
	if len(remaining) != len(wantNames) {
		t.Fatalf("expected %d stages, got %d", len(wantNames), len(remaining))
	}
	for i, st := range remaining {
		if st.Name != wantNames[i] || st.Index != i {
			t.Fatalf("stage %d: got %s/%d, want %s/%d", i, st.Name, st.Index, wantNames[i], i)
		}
	}
}

func TestSequenceIndexing(t *testing.T) {
	s := newSequence(nil, nil)
	for _, st := range testStages() {
		s.Append(st)
	}

	tests := []struct {
		name    string
		index   int
		want    string
		wantErr bool
	}{
		{name: "first", index: 0, want: "coarse"},
		{name: "last", index: -1, want: "hold"},
		{name: "unnamed", index: 1, want: "1"},
		{name: "from end", index: -4, want: "coarse"},
		{name: "past end", index: 4, wantErr: true},
		{name: "before start", index: -5, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := s.Get(tt.index)
			if tt.wantErr {
				if !errors.Is(err, ErrStageIndex) {
					t.Fatalf("expected ErrStageIndex, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if st.DisplayName() != tt.want {
				t.Fatalf("got %s, want %s", st.DisplayName(), tt.want)
			}
		})
	}
}

func TestSequenceInsertRemove(t *testing.T) {
	s := newSequence(nil, nil)
	for _, st := range testStages() {
		s.Append(st)
	}

	if _, err := s.Insert(0, Stage{Name: "zero"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := s.Insert(s.Len(), Stage{Name: "tail"}); err != nil {
		t.Fatalf("Insert at end failed: %v", err)
	}
	if _, err := s.Remove("fine"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := s.Remove("nope"); !errors.Is(err, ErrStageIndex) {
		t.Fatalf("expected ErrStageIndex, got %v", err)
	}

	var names []string
	for _, st := range s.Snapshot() {
		names = append(names, st.DisplayName())
	}
	// The unnamed stage is renumbered along with its index.
	want := []string{"zero", "coarse", "2", "hold", "tail"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v, want %v", names, want)
		}
	}
}

func TestSequenceCopies(t *testing.T) {
	s := newSequence(nil, nil)
	s.Append(testStages()[1])

	st, _ := s.Get(0)
	st.Outputs["piezo"] = StageOutput{}
	st.GainFactor = 99

	again, _ := s.Get(0)
	if again.GainFactor != 1 || !again.Outputs["piezo"].LockOn {
		t.Fatalf("mutating a copy changed the sequence: %+v", again)
	}

	_, err := s.Update(0, func(st *Stage) error {
		st.GainFactor = 2
		return errors.New("rejected")
	})
	if err == nil {
		t.Fatalf("expected Update error")
	}
	if again, _ = s.Get(0); again.GainFactor != 1 {
		t.Fatalf("failed Update must not change the stage")
	}
}

func TestSequenceEvents(t *testing.T) {
	hub := events.NewEventHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	clk := clock.NewMock()
	clk.Set(time.Unix(1700000000, 0))

	s := newSequence(hub, clk)
	s.Append(Stage{Name: "a"})
	if _, err := s.Pop(-1); err != nil {
		t.Fatalf("Pop failed: %v", err)
	}

	for _, want := range []string{events.StageAdded, events.StageRemoved} {
		select {
		case ev := <-ch:
			if ev.Name != want {
				t.Fatalf("got event %s, want %s", ev.Name, want)
			}
			payload, err := events.DecodeAs[events.StageEvent](ev)
			if err != nil || payload.Name != "a" {
				t.Fatalf("unexpected payload %+v (%v)", payload, err)
			}
			if payload.Ts != 1700000000 {
				t.Fatalf("expected timestamp from the lockbox clock, got %d", payload.Ts)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %s event", want)
		}
	}
}
