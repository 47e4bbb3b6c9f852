package adapter

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/google/gousb"
	"github.com/rs/zerolog"

	"github.com/nixxel-company-limited/escpos-ticket-printer/model"
)

// Interface class codes
// Reference: http://www.usb.org/developers/defined_class
const (
	IfaceClassHID     = 0x03
	IfaceClassPrinter = 0x07
	IfaceClassHub     = 0x09
)

// USBAdapter manages USB printer communication
type USBAdapter struct {
	device      *gousb.Device
	ctx         *gousb.Context
	outEndpoint *gousb.OutEndpoint
	inEndpoint  *gousb.InEndpoint
	iface       *gousb.Interface
	done        func()
	logger      zerolog.Logger
	isOpen      bool
	mu          sync.Mutex
}

// NewUSBAdapter opens the device with the given VID/PID. A zero VID selects
// the first printer class device found.
func NewUSBAdapter(vid, pid uint16, logger zerolog.Logger) (*USBAdapter, error) {
	ctx := gousb.NewContext()
	a := &USBAdapter{ctx: ctx, logger: logger}

	if vid != 0 {
		device, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
		if err == nil && device != nil {
			a.device = device
			return a, nil
		}
		logger.Warn().Str("vid", gousb.ID(vid).String()).Str("pid", gousb.ID(pid).String()).
			Msg("configured USB printer not found, falling back to auto-detection")
	}

	devices := FindPrinters(ctx)
	if len(devices) == 0 {
		ctx.Close()
		return nil, errors.New("cannot find printer")
	}
	a.device = devices[0]
	for _, d := range devices[1:] {
		d.Close()
	}
	return a, nil
}

// ParseUSBID parses "vvvv:pppp" hexadecimal vendor and product IDs
func ParseUSBID(s string) (vid, pid uint16, err error) {
	v, p, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid USB id %q: expected vid:pid", s)
	}
	vv, err := strconv.ParseUint(v, 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vendor id %q: %w", v, err)
	}
	pp, err := strconv.ParseUint(p, 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid product id %q: %w", p, err)
	}
	return uint16(vv), uint16(pp), nil
}

// IsPrinter checks if a device exposes a printer class interface
func IsPrinter(dev *gousb.Device) bool {
	if dev == nil {
		return false
	}
	return isPrinterDesc(dev.Desc)
}

func isPrinterDesc(desc *gousb.DeviceDesc) bool {
	if desc == nil {
		return false
	}
	for _, cfg := range desc.Configs {
		for _, iface := range cfg.Interfaces {
			for _, alt := range iface.AltSettings {
				if alt.Class == IfaceClassPrinter {
					return true
				}
			}
		}
	}
	return false
}

// FindPrinters opens and returns all USB printer devices
func FindPrinters(ctx *gousb.Context) []*gousb.Device {
	devices, err := ctx.OpenDevices(isPrinterDesc)
	if err != nil && len(devices) == 0 {
		return nil
	}
	return devices
}

// ListUSBPrinters reports the printer class USB devices on this machine
func ListUSBPrinters() ([]model.DetectedPrinter, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devices, err := ctx.OpenDevices(isPrinterDesc)
	defer func() {
		for _, d := range devices {
			d.Close()
		}
	}()
	if err != nil && len(devices) == 0 {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}

	printers := make([]model.DetectedPrinter, 0, len(devices))
	for _, dev := range devices {
		dp := model.DetectedPrinter{
			Path:      fmt.Sprintf("usb:%s:%s", dev.Desc.Vendor, dev.Desc.Product),
			VendorID:  dev.Desc.Vendor.String(),
			ProductID: dev.Desc.Product.String(),
		}
		if m, err := dev.Manufacturer(); err == nil {
			dp.Manufacturer = m
		}
		if s, err := dev.SerialNumber(); err == nil {
			dp.SerialNumber = s
		}
		printers = append(printers, dp)
	}
	return printers, nil
}

// Open claims the printer interface and resolves its bulk endpoints
func (a *USBAdapter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isOpen {
		return errors.New("device already open")
	}
	if a.device == nil {
		return errors.New("device not found")
	}

	if runtime.GOOS == "linux" {
		a.device.SetAutoDetach(true)
	}

	cfgNum, err := a.device.ActiveConfigNum()
	if err != nil {
		return fmt.Errorf("failed to get active config: %w", err)
	}

	cfg, err := a.device.Config(cfgNum)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	ifaceNum := -1
	for _, iface := range cfg.Desc.Interfaces {
		for _, alt := range iface.AltSettings {
			if alt.Class == IfaceClassPrinter {
				ifaceNum = iface.Number
				break
			}
		}
		if ifaceNum >= 0 {
			break
		}
	}
	if ifaceNum < 0 {
		cfg.Close()
		return errors.New("no printer interface found")
	}

	iface, err := cfg.Interface(ifaceNum, 0)
	if err != nil {
		cfg.Close()
		return fmt.Errorf("failed to claim interface: %w", err)
	}

	for _, ep := range iface.Setting.Endpoints {
		switch {
		case ep.Direction == gousb.EndpointDirectionOut && a.outEndpoint == nil:
			if out, err := iface.OutEndpoint(ep.Number); err == nil {
				a.outEndpoint = out
			}
		case ep.Direction == gousb.EndpointDirectionIn && a.inEndpoint == nil:
			if in, err := iface.InEndpoint(ep.Number); err == nil {
				a.inEndpoint = in
			}
		}
	}

	if a.outEndpoint == nil {
		iface.Close()
		cfg.Close()
		return errors.New("cannot find output endpoint from printer")
	}

	a.iface = iface
	a.done = func() {
		iface.Close()
		cfg.Close()
	}
	a.isOpen = true
	a.logger.Info().Str("device", a.device.String()).Int("interface", ifaceNum).Msg("USB printer opened")
	return nil
}

// Write sends data to the printer
func (a *USBAdapter) Write(data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, errors.New("device not open")
	}

	n, err := a.outEndpoint.Write(data)
	if err != nil {
		return n, fmt.Errorf("write failed: %w", err)
	}
	return n, nil
}

// Read reads data from the printer
func (a *USBAdapter) Read(buf []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, errors.New("device not open")
	}
	if a.inEndpoint == nil {
		return 0, errors.New("input endpoint not available")
	}

	n, err := a.inEndpoint.Read(buf)
	if err != nil {
		return n, fmt.Errorf("read failed: %w", err)
	}
	return n, nil
}

// Close releases the interface, the device and the libusb context
func (a *USBAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return nil
	}

	var errs []error
	if a.done != nil {
		a.done()
		a.done = nil
	}
	a.iface = nil
	a.outEndpoint = nil
	a.inEndpoint = nil

	if a.device != nil {
		if err := a.device.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.ctx != nil {
		if err := a.ctx.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	a.isOpen = false
	a.logger.Info().Msg("USB printer closed")

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// IsOpen returns whether the device is open
func (a *USBAdapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isOpen
}

// Device returns the underlying USB device
func (a *USBAdapter) Device() *gousb.Device {
	return a.device
}
