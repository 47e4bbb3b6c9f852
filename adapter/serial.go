package adapter

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/nixxel-company-limited/escpos-ticket-printer/model"
)

// DefaultBaudRate is the line speed ticket printers ship with
const DefaultBaudRate = 9600

// PortFactory opens a serial port. Tests replace it with a fake.
type PortFactory func(name string, mode *serial.Mode) (serial.Port, error)

// DefaultPortFactory opens a real serial port
func DefaultPortFactory(name string, mode *serial.Mode) (serial.Port, error) {
	return serial.Open(name, mode)
}

// SerialAdapter manages a printer attached to a serial port (RS232 or USB CDC)
type SerialAdapter struct {
	portName string
	baudRate int
	factory  PortFactory
	logger   zerolog.Logger

	port   serial.Port
	isOpen bool
	mu     sync.Mutex
}

// SerialOption configures a SerialAdapter
type SerialOption func(*SerialAdapter)

// WithBaudRate overrides DefaultBaudRate
func WithBaudRate(baud int) SerialOption {
	return func(a *SerialAdapter) {
		if baud > 0 {
			a.baudRate = baud
		}
	}
}

// WithPortFactory replaces the function used to open the port
func WithPortFactory(f PortFactory) SerialOption {
	return func(a *SerialAdapter) {
		if f != nil {
			a.factory = f
		}
	}
}

// WithSerialLogger sets the adapter logger
func WithSerialLogger(logger zerolog.Logger) SerialOption {
	return func(a *SerialAdapter) {
		a.logger = logger
	}
}

// NewSerialAdapter creates an adapter for portName. The port is not opened.
func NewSerialAdapter(portName string, opts ...SerialOption) *SerialAdapter {
	a := &SerialAdapter{
		portName: portName,
		baudRate: DefaultBaudRate,
		factory:  DefaultPortFactory,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// PortName returns the port this adapter is bound to
func (a *SerialAdapter) PortName() string {
	return a.portName
}

// Open opens the port at 8N1 and the configured baud rate
func (a *SerialAdapter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isOpen {
		return errors.New("port already open")
	}
	if a.portName == "" {
		return errors.New("no serial port selected")
	}

	port, err := a.factory(a.portName, &serial.Mode{
		BaudRate: a.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", a.portName, err)
	}

	a.port = port
	a.isOpen = true
	a.logger.Debug().Str("port", a.portName).Int("baud", a.baudRate).Msg("serial port opened")
	return nil
}

// Write sends data to the printer
func (a *SerialAdapter) Write(data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, errors.New("port not open")
	}

	n, err := a.port.Write(data)
	if err != nil {
		return n, fmt.Errorf("write failed: %w", err)
	}
	return n, nil
}

// Read reads data from the printer
func (a *SerialAdapter) Read(buf []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, errors.New("port not open")
	}

	n, err := a.port.Read(buf)
	if err != nil {
		return n, fmt.Errorf("read failed: %w", err)
	}
	return n, nil
}

// Close releases the port. Closing a closed adapter is a no-op.
func (a *SerialAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return nil
	}

	a.isOpen = false
	err := a.port.Close()
	a.port = nil
	if err != nil {
		return fmt.Errorf("failed to close serial port %s: %w", a.portName, err)
	}

	a.logger.Debug().Str("port", a.portName).Msg("serial port closed")
	return nil
}

// IsOpen returns whether the port is open
func (a *SerialAdapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isOpen
}

// PortLister enumerates candidate serial ports
type PortLister func() ([]*enumerator.PortDetails, error)

// ListSerialPrinters returns the serial ports present on this machine.
// USB serial bridges carry their VID, PID and serial number.
func ListSerialPrinters() ([]model.DetectedPrinter, error) {
	return listSerial(enumerator.GetDetailedPortsList)
}

func listSerial(list PortLister) ([]model.DetectedPrinter, error) {
	ports, err := list()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	printers := make([]model.DetectedPrinter, 0, len(ports))
	for _, p := range ports {
		if p == nil || p.Name == "" {
			continue
		}
		dp := model.DetectedPrinter{Path: p.Name}
		if p.IsUSB {
			dp.Manufacturer = p.Product
			dp.SerialNumber = p.SerialNumber
			dp.VendorID = p.VID
			dp.ProductID = p.PID
		}
		printers = append(printers, dp)
	}
	return printers, nil
}
