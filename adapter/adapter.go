package adapter

// Adapter defines the interface for printer communication adapters.
// Serial, USB and relay back ends all expose the same byte pipe.
type Adapter interface {
	// Open opens the connection to the printer
	Open() error

	// Write sends data to the printer
	Write(data []byte) (int, error)

	// Read reads data from the printer
	Read(buf []byte) (int, error)

	// Close closes the connection to the printer
	Close() error

	// IsOpen returns whether the connection is open
	IsOpen() bool
}

// Kind names an adapter back end
type Kind string

const (
	KindSerial Kind = "serial"
	KindUSB    Kind = "usb"
)
