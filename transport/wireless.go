package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nixxel-company-limited/escpos-ticket-printer/clock"
)

// GATT identifiers exposed by common thermal printers
const (
	DefaultServiceUUID        = "000018f0-0000-1000-8000-00805f9b34fb"
	DefaultCharacteristicUUID = "00002a19-0000-1000-8000-00805f9b34fb"
)

// DefaultNamePatterns match receipt printers by advertised name
var DefaultNamePatterns = []string{"XPrinter", "Thermal", "Printer"}

// ErrNoDevice is returned when no advertised device matches the filter
var ErrNoDevice = errors.New("no matching printer found")

// DeviceFilter scopes a device request
type DeviceFilter struct {
	NamePatterns []string
	ServiceUUID  string
	Timeout      time.Duration
}

// Match reports whether name contains any pattern, ignoring case
func (f DeviceFilter) Match(name string) bool {
	name = strings.ToLower(name)
	for _, p := range f.NamePatterns {
		if p != "" && strings.Contains(name, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// Central is the host side of a Bluetooth LE link
type Central interface {
	Enable() error
	RequestDevice(ctx context.Context, filter DeviceFilter) (Peripheral, error)
}

// Peripheral is a discovered device
type Peripheral interface {
	Name() string
	Connect(ctx context.Context) (GATTLink, error)
}

// GATTLink is a live connection to a peripheral's attribute server
type GATTLink interface {
	Characteristic(service, characteristic string) (CharacteristicWriter, error)
	Disconnect() error
}

// CharacteristicWriter writes to a resolved characteristic
type CharacteristicWriter interface {
	Write(p []byte) (int, error)
}

// WirelessDriver prints over Bluetooth LE
type WirelessDriver struct {
	central        Central
	filter         DeviceFilter
	characteristic string
	chunkSize      int
	chunkDelay     time.Duration
	clock          clock.Clock
	logger         zerolog.Logger
}

// WirelessOption configures a WirelessDriver
type WirelessOption func(*WirelessDriver)

// WithGATT overrides the service and characteristic UUIDs
func WithGATT(service, characteristic string) WirelessOption {
	return func(w *WirelessDriver) {
		if service != "" {
			w.filter.ServiceUUID = service
		}
		if characteristic != "" {
			w.characteristic = characteristic
		}
	}
}

// WithChunking overrides DefaultChunkSize and DefaultChunkDelay
func WithChunking(size int, delay time.Duration) WirelessOption {
	return func(w *WirelessDriver) {
		if size > 0 {
			w.chunkSize = size
		}
		if delay >= 0 {
			w.chunkDelay = delay
		}
	}
}

// WithNamePatterns overrides DefaultNamePatterns
func WithNamePatterns(patterns ...string) WirelessOption {
	return func(w *WirelessDriver) {
		if len(patterns) > 0 {
			w.filter.NamePatterns = patterns
		}
	}
}

// WithScanTimeout overrides DefaultScanTimeout
func WithScanTimeout(d time.Duration) WirelessOption {
	return func(w *WirelessDriver) {
		if d > 0 {
			w.filter.Timeout = d
		}
	}
}

// WithWirelessClock sets the clock used for chunk pacing
func WithWirelessClock(c clock.Clock) WirelessOption {
	return func(w *WirelessDriver) { w.clock = c }
}

// NewWirelessDriver creates a Bluetooth LE driver. A nil central means the
// host has no Bluetooth support.
func NewWirelessDriver(central Central, logger zerolog.Logger, opts ...WirelessOption) *WirelessDriver {
	w := &WirelessDriver{
		central: central,
		filter: DeviceFilter{
			NamePatterns: DefaultNamePatterns,
			ServiceUUID:  DefaultServiceUUID,
			Timeout:      DefaultScanTimeout,
		},
		characteristic: DefaultCharacteristicUUID,
		chunkSize:      DefaultChunkSize,
		chunkDelay:     DefaultChunkDelay,
		clock:          clock.Real{},
		logger:         logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name returns the transport name
func (w *WirelessDriver) Name() string { return NameBluetooth }

// Available reports whether the Bluetooth stack can be enabled
func (w *WirelessDriver) Available() bool {
	return w.central != nil && w.central.Enable() == nil
}

// Send connects to a matching printer and writes the buffer in paced chunks.
// The link is disconnected before returning.
func (w *WirelessDriver) Send(ctx context.Context, payload string) (Outcome, error) {
	if w.central == nil {
		return Outcome{}, Errorf(KindCapabilityUnavailable, NameBluetooth, "bluetooth is not supported on this host")
	}
	if err := w.central.Enable(); err != nil {
		return Outcome{}, &Error{Kind: KindCapabilityUnavailable, Transport: NameBluetooth, Err: err}
	}

	raw, err := decodePayload(NameBluetooth, payload)
	if err != nil {
		return Outcome{}, err
	}

	dev, err := w.central.RequestDevice(ctx, w.filter)
	if err != nil {
		return Outcome{}, &Error{Kind: KindUserCancelled, Transport: NameBluetooth, Err: err}
	}
	if dev == nil {
		return Outcome{}, &Error{Kind: KindUserCancelled, Transport: NameBluetooth, Err: ErrNoDevice}
	}

	link, err := dev.Connect(ctx)
	if err != nil {
		return Outcome{}, Errorf(KindConnection, NameBluetooth, "failed to connect to %s: %w", dev.Name(), err)
	}
	defer func() {
		if err := link.Disconnect(); err != nil {
			w.logger.Warn().Err(err).Str("device", dev.Name()).Msg("failed to disconnect printer")
		}
	}()

	ch, err := link.Characteristic(w.filter.ServiceUUID, w.characteristic)
	if err != nil {
		return Outcome{}, Errorf(KindConnection, NameBluetooth, "failed to resolve characteristic: %w", err)
	}

	chunks := 0
	for off := 0; off < len(raw); off += w.chunkSize {
		if chunks > 0 {
			if err := w.clock.Sleep(ctx, w.chunkDelay); err != nil {
				return Outcome{}, Errorf(KindTransfer, NameBluetooth, "write interrupted: %w", err)
			}
		}
		end := min(off+w.chunkSize, len(raw))
		if _, err := ch.Write(raw[off:end]); err != nil {
			return Outcome{}, Errorf(KindTransfer, NameBluetooth, "write failed at byte %d: %w", off, err)
		}
		chunks++
	}

	w.logger.Debug().Str("device", dev.Name()).Int("bytes", len(raw)).Int("chunks", chunks).Msg("ticket written")
	return Outcome{Success: true, Message: fmt.Sprintf("Ticket sent to %s", dev.Name())}, nil
}
