package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixxel-company-limited/escpos-ticket-printer/adapter"
	"github.com/nixxel-company-limited/escpos-ticket-printer/clock"
	"github.com/nixxel-company-limited/escpos-ticket-printer/model"
	"github.com/nixxel-company-limited/escpos-ticket-printer/preview"
)

var ticket = []byte{0x1B, 0x40, 'H', 'o', 'l', 'a', 0x0A, 0x1D, 0x56, 0x41, 0x00}

func payload(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// MockAdapter is a mock implementation of the Adapter interface for testing
type MockAdapter struct {
	open      bool
	closed    bool
	openErr   error
	writeErr  error
	closeErr  error
	shortBy   int
	writeData []byte
}

func (m *MockAdapter) Open() error {
	if m.openErr != nil {
		return m.openErr
	}
	m.open = true
	return nil
}

func (m *MockAdapter) Write(data []byte) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.writeData = append(m.writeData, data...)
	return len(data) - m.shortBy, nil
}

func (m *MockAdapter) Read(buf []byte) (int, error) {
	return 0, nil
}

func (m *MockAdapter) Close() error {
	m.open = false
	m.closed = true
	return m.closeErr
}

func (m *MockAdapter) IsOpen() bool {
	return m.open
}

func listPorts(ports ...string) PortLister {
	return func() ([]model.DetectedPrinter, error) {
		var out []model.DetectedPrinter
		for _, p := range ports {
			out = append(out, model.DetectedPrinter{Path: p})
		}
		return out, nil
	}
}

func newSerial(t *testing.T, mock *MockAdapter, list PortLister, chooser PortChooser) (*SerialDriver, *clock.Manual, *string) {
	t.Helper()
	clk := clock.NewManual(time.Unix(0, 0))
	var dialed string
	d := NewSerialDriver(list, chooser, zerolog.Nop(),
		WithSerialClock(clk),
		WithDialer(func(port string, baud int) adapter.Adapter {
			dialed = fmt.Sprintf("%s@%d", port, baud)
			return mock
		}),
	)
	return d, clk, &dialed
}

func TestSerialDriverSuccess(t *testing.T) {
	mock := &MockAdapter{}
	d, clk, dialed := newSerial(t, mock, listPorts("/dev/ttyUSB0"), FirstPort())

	out, err := d.Send(context.Background(), payload(ticket))
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, "/dev/ttyUSB0@9600", *dialed)
	assert.Equal(t, ticket, mock.writeData)
	assert.Equal(t, []time.Duration{time.Second}, clk.Sleeps())
	assert.True(t, mock.closed)
	assert.False(t, mock.IsOpen())
}

func TestSerialDriverClosesOnWriteFailure(t *testing.T) {
	mock := &MockAdapter{writeErr: errors.New("device unplugged")}
	d, clk, _ := newSerial(t, mock, listPorts("/dev/ttyUSB0"), FirstPort())

	_, err := d.Send(context.Background(), payload(ticket))
	assert.ErrorIs(t, err, ErrTransfer)
	assert.True(t, mock.closed)
	assert.Empty(t, clk.Sleeps())
}

func TestSerialDriverShortWrite(t *testing.T) {
	mock := &MockAdapter{shortBy: 3}
	d, _, _ := newSerial(t, mock, listPorts("COM3"), FirstPort())

	_, err := d.Send(context.Background(), payload(ticket))
	assert.ErrorIs(t, err, ErrTransfer)
	assert.Contains(t, err.Error(), "short write")
	assert.True(t, mock.closed)
}

func TestSerialDriverCloseFailure(t *testing.T) {
	mock := &MockAdapter{closeErr: errors.New("resource busy")}
	d, _, _ := newSerial(t, mock, listPorts("COM3"), FirstPort())

	out, err := d.Send(context.Background(), payload(ticket))
	assert.ErrorIs(t, err, ErrConnection)
	assert.False(t, out.Success)
	assert.True(t, mock.closed)
}

func TestSerialDriverFailures(t *testing.T) {
	t.Run("NoCapability", func(t *testing.T) {
		mock := &MockAdapter{}
		d, _, dialed := newSerial(t, mock, nil, FirstPort())
		_, err := d.Send(context.Background(), payload(ticket))
		assert.ErrorIs(t, err, ErrCapabilityUnavailable)
		assert.Empty(t, *dialed)
		assert.False(t, d.Available())
	})

	t.Run("EnumerationFails", func(t *testing.T) {
		mock := &MockAdapter{}
		d, _, _ := newSerial(t, mock, func() ([]model.DetectedPrinter, error) {
			return nil, errors.New("access denied")
		}, FirstPort())
		_, err := d.Send(context.Background(), payload(ticket))
		assert.ErrorIs(t, err, ErrCapabilityUnavailable)
	})

	t.Run("UserCancels", func(t *testing.T) {
		mock := &MockAdapter{}
		d, _, dialed := newSerial(t, mock, listPorts(), FirstPort())
		_, err := d.Send(context.Background(), payload(ticket))
		assert.ErrorIs(t, err, ErrUserCancelled)
		assert.ErrorIs(t, err, ErrNoPortSelected)
		assert.Empty(t, *dialed)
	})

	t.Run("OpenFails", func(t *testing.T) {
		mock := &MockAdapter{openErr: errors.New("port busy")}
		d, _, _ := newSerial(t, mock, listPorts("COM1"), FirstPort())
		_, err := d.Send(context.Background(), payload(ticket))
		assert.ErrorIs(t, err, ErrConnection)
		assert.Equal(t, KindConnection, KindOf(err))
		assert.False(t, mock.IsOpen())
	})

	t.Run("InvalidPayload", func(t *testing.T) {
		mock := &MockAdapter{}
		d, _, _ := newSerial(t, mock, listPorts("COM1"), FirstPort())
		_, err := d.Send(context.Background(), "%%%")
		assert.ErrorIs(t, err, ErrTransfer)
		assert.False(t, mock.closed)
	})

	t.Run("SettleCancelled", func(t *testing.T) {
		mock := &MockAdapter{}
		d := NewSerialDriver(listPorts("COM1"), FirstPort(), zerolog.Nop(),
			WithDialer(func(string, int) adapter.Adapter { return mock }),
			WithSettle(time.Hour))
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		_, err := d.Send(ctx, payload(ticket))
		assert.ErrorIs(t, err, context.Canceled)
		assert.True(t, mock.closed)
	})
}

func TestSerialDriverFixedPort(t *testing.T) {
	mock := &MockAdapter{}
	d, _, dialed := newSerial(t, mock, listPorts("/dev/ttyS0"), FixedPort("/dev/ttyACM0"))
	_, err := d.Send(context.Background(), payload(ticket))
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0@9600", *dialed)
}

func TestPromptChooser(t *testing.T) {
	ports := []model.DetectedPrinter{{Path: "/dev/ttyS0"}, {Path: "/dev/ttyUSB0", Manufacturer: "POS58"}}

	var out bytes.Buffer
	c := &PromptChooser{In: strings.NewReader("2\n"), Out: &out}
	port, err := c.ChoosePort(context.Background(), ports)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", port)
	assert.Contains(t, out.String(), "2) /dev/ttyUSB0 (POS58)")

	_, err = (&PromptChooser{In: strings.NewReader("\n"), Out: io.Discard}).ChoosePort(context.Background(), ports)
	assert.ErrorIs(t, err, ErrNoPortSelected)

	_, err = (&PromptChooser{In: strings.NewReader("7\n"), Out: io.Discard}).ChoosePort(context.Background(), ports)
	assert.Error(t, err)

	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = (&PromptChooser{In: pr, Out: io.Discard}).ChoosePort(ctx, ports)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPromptChooserKeepsLaterAnswers(t *testing.T) {
	ports := []model.DetectedPrinter{{Path: "/dev/ttyS0"}, {Path: "/dev/ttyUSB0"}}
	c := &PromptChooser{In: strings.NewReader("2\n1\n"), Out: io.Discard}

	port, err := c.ChoosePort(context.Background(), ports)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", port)

	port, err = c.ChoosePort(context.Background(), ports)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyS0", port)

	_, err = c.ChoosePort(context.Background(), ports)
	assert.ErrorIs(t, err, io.EOF)
}

func TestPromptChooserAnswerAfterCancel(t *testing.T) {
	ports := []model.DetectedPrinter{{Path: "/dev/ttyS0"}, {Path: "/dev/ttyUSB0"}}
	pr, pw := io.Pipe()
	defer pw.Close()
	c := &PromptChooser{In: pr, Out: io.Discard}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ChoosePort(ctx, ports)
	require.ErrorIs(t, err, context.Canceled)

	go func() { _, _ = io.WriteString(pw, "2\n") }()
	port, err := c.ChoosePort(context.Background(), ports)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", port)
}

// fake Bluetooth stack
type fakeCentral struct {
	enableErr  error
	requestErr error
	peripheral *fakePeripheral
	filter     DeviceFilter
	requests   int
}

func (c *fakeCentral) Enable() error { return c.enableErr }

func (c *fakeCentral) RequestDevice(_ context.Context, f DeviceFilter) (Peripheral, error) {
	c.requests++
	c.filter = f
	if c.requestErr != nil {
		return nil, c.requestErr
	}
	if c.peripheral == nil {
		return nil, nil
	}
	return c.peripheral, nil
}

type fakePeripheral struct {
	link       *fakeLink
	connectErr error
}

func (p *fakePeripheral) Name() string { return "XPrinter-58" }

func (p *fakePeripheral) Connect(context.Context) (GATTLink, error) {
	if p.connectErr != nil {
		return nil, p.connectErr
	}
	p.link.connected = true
	return p.link, nil
}

type fakeLink struct {
	connected  bool
	resolveErr error
	writeErrAt int
	service    string
	char       string
	chunks     [][]byte
}

func (l *fakeLink) Characteristic(service, characteristic string) (CharacteristicWriter, error) {
	l.service, l.char = service, characteristic
	if l.resolveErr != nil {
		return nil, l.resolveErr
	}
	return l, nil
}

func (l *fakeLink) Write(p []byte) (int, error) {
	if l.writeErrAt > 0 && len(l.chunks)+1 == l.writeErrAt {
		return 0, errors.New("GATT write failed")
	}
	l.chunks = append(l.chunks, append([]byte(nil), p...))
	return len(p), nil
}

func (l *fakeLink) Disconnect() error {
	l.connected = false
	return nil
}

func TestWirelessDriverChunksAndDisconnects(t *testing.T) {
	link := &fakeLink{}
	central := &fakeCentral{peripheral: &fakePeripheral{link: link}}
	clk := clock.NewManual(time.Unix(0, 0))
	d := NewWirelessDriver(central, zerolog.Nop(), WithWirelessClock(clk), WithChunking(4, 5*time.Millisecond))

	out, err := d.Send(context.Background(), payload(ticket))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Contains(t, out.Message, "XPrinter-58")

	require.Len(t, link.chunks, 3)
	assert.Equal(t, ticket, bytes.Join(link.chunks, nil))
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 5 * time.Millisecond}, clk.Sleeps())
	assert.False(t, link.connected)

	assert.Equal(t, DefaultServiceUUID, link.service)
	assert.Equal(t, DefaultCharacteristicUUID, link.char)
	assert.Equal(t, DefaultNamePatterns, central.filter.NamePatterns)
	assert.Equal(t, DefaultServiceUUID, central.filter.ServiceUUID)
}

func TestWirelessDriverDefaultChunkSize(t *testing.T) {
	link := &fakeLink{}
	d := NewWirelessDriver(&fakeCentral{peripheral: &fakePeripheral{link: link}}, zerolog.Nop(),
		WithWirelessClock(clock.NewManual(time.Unix(0, 0))))

	big := bytes.Repeat([]byte{'x'}, 400)
	_, err := d.Send(context.Background(), payload(big))
	require.NoError(t, err)
	require.Len(t, link.chunks, 3)
	assert.Len(t, link.chunks[0], 180)
	assert.Len(t, link.chunks[1], 180)
	assert.Len(t, link.chunks[2], 40)
}

func TestWirelessDriverFailures(t *testing.T) {
	t.Run("NoCentral", func(t *testing.T) {
		_, err := NewWirelessDriver(nil, zerolog.Nop()).Send(context.Background(), payload(ticket))
		assert.ErrorIs(t, err, ErrCapabilityUnavailable)
	})

	t.Run("EnableFails", func(t *testing.T) {
		central := &fakeCentral{enableErr: errors.New("bluetooth off")}
		d := NewWirelessDriver(central, zerolog.Nop())
		_, err := d.Send(context.Background(), payload(ticket))
		assert.ErrorIs(t, err, ErrCapabilityUnavailable)
		assert.Zero(t, central.requests)
		assert.False(t, d.Available())
	})

	t.Run("NoDevice", func(t *testing.T) {
		central := &fakeCentral{requestErr: ErrNoDevice}
		_, err := NewWirelessDriver(central, zerolog.Nop()).Send(context.Background(), payload(ticket))
		assert.ErrorIs(t, err, ErrUserCancelled)
	})

	t.Run("NilDevice", func(t *testing.T) {
		_, err := NewWirelessDriver(&fakeCentral{}, zerolog.Nop()).Send(context.Background(), payload(ticket))
		assert.ErrorIs(t, err, ErrUserCancelled)
		assert.ErrorIs(t, err, ErrNoDevice)
	})

	t.Run("ConnectFails", func(t *testing.T) {
		central := &fakeCentral{peripheral: &fakePeripheral{link: &fakeLink{}, connectErr: errors.New("timeout")}}
		_, err := NewWirelessDriver(central, zerolog.Nop()).Send(context.Background(), payload(ticket))
		assert.ErrorIs(t, err, ErrConnection)
	})

	t.Run("CharacteristicMissing", func(t *testing.T) {
		link := &fakeLink{resolveErr: errors.New("service not found")}
		central := &fakeCentral{peripheral: &fakePeripheral{link: link}}
		_, err := NewWirelessDriver(central, zerolog.Nop()).Send(context.Background(), payload(ticket))
		assert.ErrorIs(t, err, ErrConnection)
		assert.False(t, link.connected)
	})

	t.Run("WriteFails", func(t *testing.T) {
		link := &fakeLink{writeErrAt: 2}
		central := &fakeCentral{peripheral: &fakePeripheral{link: link}}
		d := NewWirelessDriver(central, zerolog.Nop(),
			WithChunking(4, 0), WithWirelessClock(clock.NewManual(time.Unix(0, 0))))
		_, err := d.Send(context.Background(), payload(ticket))
		assert.ErrorIs(t, err, ErrTransfer)
		assert.Len(t, link.chunks, 1)
		assert.False(t, link.connected)
	})
}

func TestBluetoothCentralCancelledBeforeScan(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBluetoothCentral(zerolog.Nop()).RequestDevice(ctx, DeviceFilter{NamePatterns: []string{"Printer"}})
	assert.ErrorIs(t, err, ErrNoDevice)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeviceFilterMatch(t *testing.T) {
	f := DeviceFilter{NamePatterns: DefaultNamePatterns}
	assert.True(t, f.Match("XPRINTER XP-58"))
	assert.True(t, f.Match("MTP-II thermal"))
	assert.True(t, f.Match("BlueTooth Printer"))
	assert.False(t, f.Match("Galaxy Buds"))
	assert.False(t, f.Match(""))
}

func TestRelayDriverPostsRawBytes(t *testing.T) {
	var gotBody []byte
	var gotType, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// Bytes above 0x7F must arrive untouched
	raw := append([]byte{0x1B, 0x74, 0x02, 0xA4, 0x82, 0xFF}, ticket...)

	out, err := NewRelayDriver(srv.URL, srv.Client(), zerolog.Nop()).Send(context.Background(), payload(raw))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/octet-stream", gotType)
	assert.Equal(t, raw, gotBody)
}

func TestRelayDriverFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewRelayDriver(srv.URL, srv.Client(), zerolog.Nop()).Send(context.Background(), payload(ticket))
	assert.ErrorIs(t, err, ErrTransfer)
	assert.Contains(t, err.Error(), "503 Service Unavailable")

	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()
	_, err = NewRelayDriver(url, nil, zerolog.Nop()).Send(context.Background(), payload(ticket))
	assert.ErrorIs(t, err, ErrConnection)
}

func TestRelayDriverDefaultURL(t *testing.T) {
	assert.Equal(t, "http://localhost:9100", NewRelayDriver("", nil, zerolog.Nop()).URL())
}

func TestPreviewDriver(t *testing.T) {
	var shown preview.Document
	d := NewPreviewDriver(preview.SurfaceFunc(func(_ context.Context, doc preview.Document) error {
		shown = doc
		return nil
	}), 80)

	out, err := d.Send(context.Background(), payload(ticket))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "[ESC]@Hola\n[GS]VA", shown.Text)
	assert.Equal(t, 80, shown.PaperWidth)
	assert.Equal(t, preview.DefaultNotice, shown.Notice)
}

func TestPreviewDriverBlocked(t *testing.T) {
	d := NewPreviewDriver(preview.SurfaceFunc(func(context.Context, preview.Document) error {
		return preview.ErrBlocked
	}), 58)

	_, err := d.Send(context.Background(), payload(ticket))
	assert.ErrorIs(t, err, ErrRender)
	assert.ErrorIs(t, err, preview.ErrBlocked)

	_, err = NewPreviewDriver(nil, 58).Send(context.Background(), payload(ticket))
	assert.ErrorIs(t, err, ErrRender)
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("copy 2: %w", Errorf(KindConnection, NameSerial, "port busy"))

	assert.ErrorIs(t, err, ErrConnection)
	assert.NotErrorIs(t, err, ErrTransfer)
	assert.Equal(t, KindConnection, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, "copy 2: serial: port busy", err.Error())
	assert.Equal(t, "transfer", ErrTransfer.Error())
}
