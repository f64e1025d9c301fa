package calibration

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/charlie0129/lockbox/pkg/register"
)

func newSimBoard(t *testing.T) (*register.Board, *register.Sim) {
	t.Helper()

	b, sim := register.NewSimulated(clock.New())
	if err := b.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, sim
}

var testActuator = Actuator{
	PID: register.PID0,
	ASG: register.ASG0,
	Sweep: register.Sweep{
		Waveform:  register.WaveformSine,
		Frequency: 50,
		Amplitude: 0.3,
		Offset:    0.1,
	},
}

func TestFromSamples(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		want    Data
		wantErr error
	}{
		{
			name:    "symmetric",
			samples: []float64{-1, 0, 1},
			want:    Data{Mean: 0, Min: -1, Max: 1, Amplitude: 1, Std: 1, Samples: 3},
		},
		{
			name:    "offset",
			samples: []float64{0.2, 0.6, 0.4, 0.2},
			want:    Data{Mean: 0.4, Min: 0.2, Max: 0.6, Amplitude: 0.2, Samples: 4},
		},
		{
			name:    "too few",
			samples: []float64{1},
			wantErr: ErrNotEnoughSamples,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromSamples(tt.samples, time.Time{})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FromSamples failed: %v", err)
			}
			if math.Abs(got.Mean-tt.want.Mean) > 1e-9 || math.Abs(got.Amplitude-tt.want.Amplitude) > 1e-9 {
				t.Fatalf("got mean=%v amplitude=%v, want mean=%v amplitude=%v", got.Mean, got.Amplitude, tt.want.Mean, tt.want.Amplitude)
			}
			if got.Min != tt.want.Min || got.Max != tt.want.Max || got.Samples != tt.want.Samples {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			if tt.want.Std != 0 && math.Abs(got.Std-tt.want.Std) > 1e-9 {
				t.Fatalf("got std=%v, want %v", got.Std, tt.want.Std)
			}
		})
	}
}

func TestMeasureSine(t *testing.T) {
	b, _ := newSimBoard(t)
	e := NewEngine(b, nil, 0)

	data, err := e.Measure(context.Background(), register.SignalIn1, testActuator)
	if err != nil {
		t.Fatalf("Measure failed: %v", err)
	}
	if math.Abs(data.Amplitude-0.3) > 0.3*0.05 {
		t.Fatalf("expected amplitude within 5%% of 0.3, got %v", data.Amplitude)
	}
	if math.Abs(data.Mean-0.1) > 0.015 {
		t.Fatalf("expected mean near 0.1, got %v", data.Mean)
	}
	if data.Samples < minSamples {
		t.Fatalf("expected at least %d samples, got %d", minSamples, data.Samples)
	}

	enabled, err := b.Read(register.Key(register.ASG0, register.FieldEnabled))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if enabled != 0 {
		t.Fatalf("sweep should be stopped after Measure")
	}
}

func TestMeasureInvertedInput(t *testing.T) {
	b, _ := newSimBoard(t)
	e := NewEngine(b, nil, 3)

	// in2 sees -out1.
	data, err := e.Measure(context.Background(), register.SignalIn2, testActuator)
	if err != nil {
		t.Fatalf("Measure failed: %v", err)
	}
	if math.Abs(data.Mean+0.1) > 0.015 {
		t.Fatalf("expected mean near -0.1, got %v", data.Mean)
	}
}

func TestMeasureTimeout(t *testing.T) {
	b, _ := newSimBoard(t)
	e := NewEngine(b, nil, 0)

	act := testActuator
	act.Sweep.Frequency = 1

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Measure(ctx, register.SignalIn1, act)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	enabled, _ := b.Read(register.Key(register.ASG0, register.FieldEnabled))
	if enabled != 0 {
		t.Fatalf("sweep should be stopped after a timeout")
	}
}

func TestMeasureRetriesFailedReads(t *testing.T) {
	b, sim := newSimBoard(t)
	e := NewEngine(b, nil, 0)

	sim.Fail(register.SignalIn1, errors.New("glitch"))
	go func() {
		time.Sleep(30 * time.Millisecond)
		sim.Heal(register.SignalIn1)
	}()

	data, err := e.Measure(context.Background(), register.SignalIn1, testActuator)
	if err != nil {
		t.Fatalf("Measure failed: %v", err)
	}
	if !data.Valid() {
		t.Fatalf("expected valid data, got %+v", data)
	}
}

func TestMeasureInvalidSweep(t *testing.T) {
	b, _ := newSimBoard(t)
	e := NewEngine(b, nil, 0)

	act := testActuator
	act.Sweep.Frequency = 0

	if _, err := e.Measure(context.Background(), register.SignalIn1, act); !errors.Is(err, ErrInvalidSweep) {
		t.Fatalf("expected ErrInvalidSweep, got %v", err)
	}
}
