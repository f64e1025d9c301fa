package lockbox

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// TimeSeriesRecorder records the last N event times.
type TimeSeriesRecorder struct {
	MaxRecordCount int
	Records        []time.Time
	clock          clock.Clock
	mu             *sync.Mutex
}

// NewTimeSeriesRecorder returns a new TimeSeriesRecorder.
func NewTimeSeriesRecorder(maxRecordCount int, clk clock.Clock) *TimeSeriesRecorder {
	if clk == nil {
		clk = clock.New()
	}
	return &TimeSeriesRecorder{
		MaxRecordCount: maxRecordCount,
		Records:        make([]time.Time, 0),
		clock:          clk,
		mu:             &sync.Mutex{},
	}
}

// AddRecordNow adds a new record with the current time.
func (r *TimeSeriesRecorder) AddRecordNow() {
	r.AddRecord(r.clock.Now())
}

// AddRecord adds a new record.
func (r *TimeSeriesRecorder) AddRecord(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strip monotonic clock reading.
	t = t.Round(0)

	if len(r.Records) >= r.MaxRecordCount {
		r.Records = r.Records[1:]
	}
	r.Records = append(r.Records, t)
}

// ClearRecords clears all records.
func (r *TimeSeriesRecorder) ClearRecords() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Records = make([]time.Time, 0)
}

// GetRecords returns a copy of the records.
func (r *TimeSeriesRecorder) GetRecords() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]time.Time(nil), r.Records...)
}

// GetRecordsString returns the records in string format.
func (r *TimeSeriesRecorder) GetRecordsString() []string {
	records := r.GetRecords()
	var recordsString []string
	for _, record := range records {
		recordsString = append(recordsString, record.Format(time.RFC3339))
	}
	return recordsString
}

// GetRecordsIn returns the number of records in the last duration.
func (r *TimeSeriesRecorder) GetRecordsIn(last time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	count := 0
	for i := len(r.Records) - 1; i >= 0; i-- {
		if now.Sub(r.Records[i]) > last {
			break
		}
		count++
	}
	return count
}

// Last returns the most recent record.
func (r *TimeSeriesRecorder) Last() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.Records) == 0 {
		return time.Time{}, false
	}
	return r.Records[len(r.Records)-1], true
}
