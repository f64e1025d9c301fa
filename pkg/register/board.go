package register

import (
	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// Board wraps a Connection with logging and typed accessors.
type Board struct {
	conn Connection
}

// New returns a Board on top of conn.
func New(conn Connection) *Board {
	return &Board{
		conn: conn,
	}
}

// NewSimulated returns a Board backed by a fresh simulator. The simulator is
// returned as well so callers can disturb the plant or inject faults.
func NewSimulated(clk clock.Clock) (*Board, *Sim) {
	sim := NewSim(clk)
	return New(sim), sim
}

// Open opens the connection.
func (b *Board) Open() error {
	return b.conn.Open()
}

// Close closes the connection.
func (b *Board) Close() error {
	return b.conn.Close()
}

// Read reads a register.
func (b *Board) Read(key string) (float64, error) {
	logrus.WithFields(logrus.Fields{
		"key": key,
	}).Trace("Trying to read register")

	v, err := b.conn.Read(key)
	if err != nil {
		return v, &IOError{Op: "read", Key: key, Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"key": key,
		"val": v,
	}).Trace("Read register succeed")

	return v, nil
}

// Write writes a register.
func (b *Board) Write(key string, value float64) error {
	logrus.WithFields(logrus.Fields{
		"key": key,
		"val": value,
	}).Trace("Trying to write register")

	err := b.conn.Write(key, value)
	if err != nil {
		return &IOError{Op: "write", Key: key, Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"key": key,
		"val": value,
	}).Trace("Write register succeed")

	return nil
}
