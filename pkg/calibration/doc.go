// Package calibration measures the range of an input signal by driving a known
// sweep onto an actuator output and sampling the response. It contains:
//
//   - Data: the statistics derived from one measurement, committed whole
//   - Engine: the sweep-and-sample procedure on top of a register board
//
// Data is shared by the lockbox, daemon and client packages so the JSON and
// YAML contracts stay in one place.
package calibration
