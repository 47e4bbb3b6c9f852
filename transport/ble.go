package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"tinygo.org/x/bluetooth"
)

const (
	stopScanAttempts = 5
	stopScanRetry    = 100 * time.Millisecond
)

// BluetoothCentral implements Central on the host Bluetooth stack
type BluetoothCentral struct {
	adapter *bluetooth.Adapter
	logger  zerolog.Logger

	once      sync.Once
	enableErr error
}

// NewBluetoothCentral wraps the default host adapter
func NewBluetoothCentral(logger zerolog.Logger) *BluetoothCentral {
	return &BluetoothCentral{adapter: bluetooth.DefaultAdapter, logger: logger}
}

// Enable powers the adapter once; later calls return the first result
func (c *BluetoothCentral) Enable() error {
	c.once.Do(func() {
		if err := c.adapter.Enable(); err != nil {
			c.enableErr = fmt.Errorf("failed to enable bluetooth adapter: %w", err)
		}
	})
	return c.enableErr
}

// RequestDevice scans until a device advertising a matching name is seen,
// the filter timeout elapses, or ctx ends.
func (c *BluetoothCentral) RequestDevice(ctx context.Context, filter DeviceFilter) (Peripheral, error) {
	if filter.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, filter.Timeout)
		defer cancel()
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoDevice, err)
	}

	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)

	go func() {
		scanErr <- c.adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if ctx.Err() != nil {
				if err := a.StopScan(); err != nil {
					c.logger.Debug().Err(err).Msg("failed to stop scan")
				}
				return
			}
			if !filter.Match(result.LocalName()) {
				return
			}
			select {
			case found <- result:
				if err := a.StopScan(); err != nil {
					c.logger.Debug().Err(err).Msg("failed to stop scan")
				}
			default:
			}
		})
	}()

	select {
	case err := <-scanErr:
		select {
		case result := <-found:
			return c.peripheral(result), nil
		default:
		}
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		return nil, ErrNoDevice
	case <-ctx.Done():
		c.stopScan(scanErr)
		select {
		case result := <-found:
			return c.peripheral(result), nil
		default:
		}
		return nil, fmt.Errorf("%w: %w", ErrNoDevice, ctx.Err())
	}
}

// stopScan stops a running scan and waits for Scan to return. A scan that
// has not started yet cannot be stopped, so a few attempts are made before
// giving up on the scan goroutine.
func (c *BluetoothCentral) stopScan(scanErr <-chan error) {
	for attempt := 0; attempt < stopScanAttempts; attempt++ {
		err := c.adapter.StopScan()
		if err == nil {
			<-scanErr
			return
		}
		c.logger.Debug().Err(err).Msg("failed to stop scan")
		select {
		case <-scanErr:
			return
		case <-time.After(stopScanRetry):
		}
	}
	c.logger.Warn().Msg("scan did not stop")
}

func (c *BluetoothCentral) peripheral(result bluetooth.ScanResult) Peripheral {
	c.logger.Info().Str("name", result.LocalName()).Str("address", result.Address.String()).
		Int16("rssi", result.RSSI).Msg("printer found")
	return &blePeripheral{adapter: c.adapter, result: result}
}

type blePeripheral struct {
	adapter *bluetooth.Adapter
	result  bluetooth.ScanResult
}

func (p *blePeripheral) Name() string {
	if name := p.result.LocalName(); name != "" {
		return name
	}
	return p.result.Address.String()
}

func (p *blePeripheral) Connect(ctx context.Context) (GATTLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dev, err := p.adapter.Connect(p.result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}
	return &bleLink{dev: dev}, nil
}

type bleLink struct {
	dev bluetooth.Device
}

func (l *bleLink) Characteristic(service, characteristic string) (CharacteristicWriter, error) {
	svcUUID, err := bluetooth.ParseUUID(service)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", service, err)
	}
	charUUID, err := bluetooth.ParseUUID(characteristic)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", characteristic, err)
	}

	services, err := l.dev.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("failed to discover service %s: %w", service, err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("service %s not found", service)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil {
		return nil, fmt.Errorf("failed to discover characteristic %s: %w", characteristic, err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("characteristic %s not found", characteristic)
	}

	return &bleCharacteristic{char: chars[0]}, nil
}

func (l *bleLink) Disconnect() error {
	return l.dev.Disconnect()
}

type bleCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *bleCharacteristic) Write(p []byte) (int, error) {
	return c.char.WriteWithoutResponse(p)
}
