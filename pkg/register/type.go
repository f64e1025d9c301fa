package register

// Connection is the transport to the board's register file. Values are
// exchanged as float64 in physical units (volts, hertz, gains).
type Connection interface {
	Open() error
	Close() error
	Read(key string) (float64, error)
	Write(key string, value float64) error
}
