package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/pkg/browser"
	"github.com/rs/zerolog"

	"github.com/nixxel-company-limited/escpos-ticket-printer/adapter"
	"github.com/nixxel-company-limited/escpos-ticket-printer/api"
	"github.com/nixxel-company-limited/escpos-ticket-printer/config"
	"github.com/nixxel-company-limited/escpos-ticket-printer/logging"
	"github.com/nixxel-company-limited/escpos-ticket-printer/model"
	"github.com/nixxel-company-limited/escpos-ticket-printer/preview"
	"github.com/nixxel-company-limited/escpos-ticket-printer/printjob"
	"github.com/nixxel-company-limited/escpos-ticket-printer/transport"
)

// Preview surfaces selectable with --surface
const (
	surfaceBrowser  = "browser"
	surfaceTerminal = "terminal"
	surfacePDF      = "pdf"
)

// app holds what every command shares: configuration, logger and the API client
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	logCloser io.Closer
	client    *api.Client
	browser   *preview.BrowserSurface
}

func (a *app) init(flags rootFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return codeError(exitInvalid, "loading config: %s", err)
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return codeError(exitInvalid, "invalid config: %s", err)
	}

	logger, closer, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return codeError(exitInvalid, "configuring logging: %s", err)
	}

	a.cfg = cfg
	a.logger = logger
	a.logCloser = closer
	return nil
}

func (a *app) close() {
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}

func (a *app) apiClient() *api.Client {
	if a.client == nil {
		a.client = api.NewClient(a.cfg.API.BaseURL,
			api.WithToken(a.cfg.API.Token),
			api.WithHTTPClient(&http.Client{Timeout: a.cfg.API.Timeout}),
			api.WithLogger(a.logger.With().Str("component", "api").Logger()),
		)
	}
	return a.client
}

// driverOptions are the per-invocation transport overrides
type driverOptions struct {
	port    string
	prompt  bool
	surface string
}

func (a *app) previewSurface(kind string, extra ...preview.Surface) (preview.Surface, error) {
	logger := a.logger.With().Str("component", "preview").Logger()

	var primary preview.Surface
	switch kind {
	case "", surfaceBrowser:
		a.browser = preview.NewBrowserSurface(logger)
		primary = a.browser
	case surfaceTerminal:
		primary = &preview.WriterSurface{W: os.Stdout}
	case surfacePDF:
		primary = preview.NewPDFSurface(a.cfg.Document.DownloadDir, browser.OpenFile, logger)
	default:
		return nil, fmt.Errorf("unknown preview surface %q", kind)
	}

	surfaces := append(append([]preview.Surface(nil), extra...), primary)
	if kind != surfaceTerminal {
		surfaces = append(surfaces, &preview.WriterSurface{W: os.Stdout})
	}
	return preview.Chain(surfaces...), nil
}

// waitPreviews keeps the process alive until opened preview pages are
// removed, or removes them at once when ctx ends
func (a *app) waitPreviews(ctx context.Context) {
	if a.browser == nil {
		return
	}
	a.browser.Wait(ctx)
}

func (a *app) serialDriver(opts driverOptions) *transport.SerialDriver {
	var chooser transport.PortChooser
	switch {
	case opts.port != "":
		chooser = transport.FixedPort(opts.port)
	case a.cfg.Serial.Port != "":
		chooser = transport.FixedPort(a.cfg.Serial.Port)
	case opts.prompt:
		chooser = &transport.PromptChooser{In: os.Stdin, Out: os.Stderr}
	}

	return transport.NewSerialDriver(adapter.ListSerialPrinters, chooser,
		a.logger.With().Str("transport", transport.NameSerial).Logger(),
		transport.WithSerialBaudRate(a.cfg.Serial.BaudRate),
		transport.WithSettle(a.cfg.Serial.Settle),
	)
}

func (a *app) wirelessDriver() *transport.WirelessDriver {
	logger := a.logger.With().Str("transport", transport.NameBluetooth).Logger()
	bt := a.cfg.Bluetooth
	return transport.NewWirelessDriver(transport.NewBluetoothCentral(logger), logger,
		transport.WithNamePatterns(bt.NamePatterns...),
		transport.WithScanTimeout(bt.ScanTimeout),
		transport.WithChunking(bt.ChunkSize, bt.ChunkDelay),
	)
}

func (a *app) relayDriver() *transport.RelayDriver {
	return transport.NewRelayDriver(a.cfg.Ticket.RelayURL(), nil,
		a.logger.With().Str("transport", transport.NameRelay).Logger())
}

// orchestrator wires every transport behind the preview fallback
func (a *app) orchestrator(source printjob.CommandSource, opts driverOptions, extra ...preview.Surface) (*printjob.Orchestrator, error) {
	surface, err := a.previewSurface(opts.surface, extra...)
	if err != nil {
		return nil, err
	}

	return printjob.New(source, transport.NewPreviewDriver(surface, a.cfg.Ticket.PaperWidth),
		printjob.WithDriver(model.MethodSerial, a.serialDriver(opts)),
		printjob.WithDriver(model.MethodBluetooth, a.wirelessDriver()),
		printjob.WithDriver(model.MethodLocalServer, a.relayDriver()),
		printjob.WithLogger(a.logger),
	), nil
}

func (a *app) availableMethods() []model.MethodInfo {
	return printjob.AvailableMethods(printjob.CapabilityProbe{
		Serial:    a.serialDriver(driverOptions{}).Available,
		Bluetooth: a.wirelessDriver().Available,
	})
}

// staticCommands serves a prebuilt buffer regardless of the sale
type staticCommands string

func (s staticCommands) FetchCommands(context.Context, int64, model.BusinessConfig, model.TicketConfig) (string, error) {
	return string(s), nil
}
