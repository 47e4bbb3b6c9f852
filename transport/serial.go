package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nixxel-company-limited/escpos-ticket-printer/adapter"
	"github.com/nixxel-company-limited/escpos-ticket-printer/clock"
	"github.com/nixxel-company-limited/escpos-ticket-printer/model"
)

// PortLister enumerates the serial ports a user may choose from
type PortLister func() ([]model.DetectedPrinter, error)

// Dialer builds an unopened adapter for a port
type Dialer func(port string, baudRate int) adapter.Adapter

// DefaultDialer dials real serial ports through adapter.SerialAdapter
func DefaultDialer(logger zerolog.Logger) Dialer {
	return func(port string, baudRate int) adapter.Adapter {
		return adapter.NewSerialAdapter(port, adapter.WithBaudRate(baudRate), adapter.WithSerialLogger(logger))
	}
}

// SerialDriver prints over a serial port
type SerialDriver struct {
	list     PortLister
	chooser  PortChooser
	dial     Dialer
	baudRate int
	settle   time.Duration
	clock    clock.Clock
	logger   zerolog.Logger
}

// SerialOption configures a SerialDriver
type SerialOption func(*SerialDriver)

// WithSettle overrides DefaultSerialSettle
func WithSettle(d time.Duration) SerialOption {
	return func(s *SerialDriver) { s.settle = d }
}

// WithDialer replaces the adapter constructor
func WithDialer(dial Dialer) SerialOption {
	return func(s *SerialDriver) { s.dial = dial }
}

// WithSerialBaudRate overrides adapter.DefaultBaudRate
func WithSerialBaudRate(baud int) SerialOption {
	return func(s *SerialDriver) {
		if baud > 0 {
			s.baudRate = baud
		}
	}
}

// WithSerialClock sets the clock used for the settle delay
func WithSerialClock(c clock.Clock) SerialOption {
	return func(s *SerialDriver) { s.clock = c }
}

// NewSerialDriver creates a serial driver. A nil list means the host has
// no serial support and every Send fails with KindCapabilityUnavailable.
func NewSerialDriver(list PortLister, chooser PortChooser, logger zerolog.Logger, opts ...SerialOption) *SerialDriver {
	d := &SerialDriver{
		list:     list,
		chooser:  chooser,
		baudRate: adapter.DefaultBaudRate,
		settle:   DefaultSerialSettle,
		clock:    clock.Real{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.dial == nil {
		d.dial = DefaultDialer(logger)
	}
	if d.chooser == nil {
		d.chooser = FirstPort()
	}
	return d
}

// Name returns the transport name
func (d *SerialDriver) Name() string { return NameSerial }

// Available reports whether the host can enumerate serial ports
func (d *SerialDriver) Available() bool {
	if d.list == nil {
		return false
	}
	_, err := d.list()
	return err == nil
}

// Send writes the decoded buffer to a user selected port in one transfer,
// waits for the printer to settle and closes the port on every path.
func (d *SerialDriver) Send(ctx context.Context, payload string) (out Outcome, err error) {
	if d.list == nil {
		return Outcome{}, Errorf(KindCapabilityUnavailable, NameSerial, "serial ports are not supported on this host")
	}

	raw, err := decodePayload(NameSerial, payload)
	if err != nil {
		return Outcome{}, err
	}

	ports, err := d.list()
	if err != nil {
		return Outcome{}, &Error{Kind: KindCapabilityUnavailable, Transport: NameSerial, Err: err}
	}

	port, err := d.chooser.ChoosePort(ctx, ports)
	if err != nil {
		return Outcome{}, &Error{Kind: KindUserCancelled, Transport: NameSerial, Err: err}
	}

	conn := d.dial(port, d.baudRate)
	if err := conn.Open(); err != nil {
		return Outcome{}, &Error{Kind: KindConnection, Transport: NameSerial, Err: err}
	}
	d.logger.Debug().Str("port", port).Int("bytes", len(raw)).Msg("serial port open, writing ticket")

	defer func() {
		cerr := conn.Close()
		if cerr == nil {
			return
		}
		if err == nil {
			out = Outcome{}
			err = Errorf(KindConnection, NameSerial, "failed to release %s: %w", port, cerr)
			return
		}
		d.logger.Warn().Err(cerr).Str("port", port).Msg("failed to release serial port")
	}()

	n, err := conn.Write(raw)
	if err != nil {
		return Outcome{}, &Error{Kind: KindTransfer, Transport: NameSerial, Err: err}
	}
	if n < len(raw) {
		return Outcome{}, Errorf(KindTransfer, NameSerial, "short write: %d of %d bytes", n, len(raw))
	}

	if err := d.clock.Sleep(ctx, d.settle); err != nil {
		return Outcome{}, Errorf(KindTransfer, NameSerial, "settle interrupted: %w", err)
	}

	return Outcome{Success: true, Message: fmt.Sprintf("Ticket sent to %s", port)}, nil
}

// ErrNoPortSelected is returned by choosers when no port was picked
var ErrNoPortSelected = errors.New("no port selected")
