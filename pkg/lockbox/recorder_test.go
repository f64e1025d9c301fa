package lockbox

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestTimeSeriesRecorder_GetRecordsIn(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	now := clk.Now()

	tests := []struct {
		name    string
		max     int
		records []time.Duration
		last    time.Duration
		want    int
	}{
		{
			name:    "all inside",
			max:     10,
			records: []time.Duration{-30 * time.Second, -20 * time.Second, -10 * time.Second},
			last:    time.Minute,
			want:    3,
		},
		{
			name:    "some outside",
			max:     10,
			records: []time.Duration{-70 * time.Second, -60 * time.Second, -40 * time.Second, -10 * time.Second},
			last:    50 * time.Second,
			want:    2,
		},
		{
			name:    "oldest dropped",
			max:     2,
			records: []time.Duration{-3 * time.Second, -2 * time.Second, -1 * time.Second},
			last:    time.Minute,
			want:    2,
		},
		{
			name: "empty",
			max:  10,
			last: time.Minute,
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewTimeSeriesRecorder(tt.max, clk)
			for _, d := range tt.records {
				r.AddRecord(now.Add(d))
			}
			if got := r.GetRecordsIn(tt.last); got != tt.want {
				t.Errorf("GetRecordsIn() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTimeSeriesRecorder_AddRecordNow(t *testing.T) {
	clk := clock.NewMock()
	r := NewTimeSeriesRecorder(3, clk)

	r.AddRecordNow()
	clk.Add(time.Minute)
	r.AddRecordNow()

	if got := r.GetRecordsIn(30 * time.Second); got != 1 {
		t.Fatalf("expected 1 recent record, got %d", got)
	}
	last, ok := r.Last()
	if !ok || !last.Equal(clk.Now()) {
		t.Fatalf("unexpected last record %v", last)
	}
	if len(r.GetRecordsString()) != 2 {
		t.Fatalf("expected 2 formatted records")
	}

	r.ClearRecords()
	if _, ok := r.Last(); ok {
		t.Fatalf("expected no records after ClearRecords")
	}
}
