package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/nixxel-company-limited/escpos-ticket-printer/adapter"
	"github.com/nixxel-company-limited/escpos-ticket-printer/config"
	"github.com/nixxel-company-limited/escpos-ticket-printer/document"
	"github.com/nixxel-company-limited/escpos-ticket-printer/escpos"
	"github.com/nixxel-company-limited/escpos-ticket-printer/model"
	"github.com/nixxel-company-limited/escpos-ticket-printer/preview"
	"github.com/nixxel-company-limited/escpos-ticket-printer/printjob"
	"github.com/nixxel-company-limited/escpos-ticket-printer/server"
)

const shutdownTimeout = 5 * time.Second

func parseSaleID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid sale id %q", s)
	}
	return id, nil
}

// ticketOverrides applies --method and --copies to the configured ticket
func ticketOverrides(cmd *cobra.Command, ticket model.TicketConfig, method string, copies int) (model.TicketConfig, error) {
	if method != "" {
		if string(model.ParsePrintMethod(method)) != strings.ToLower(method) {
			return ticket, fmt.Errorf("unknown print method %q", method)
		}
		ticket.PrintMethod = method
	}
	if cmd.Flags().Changed("copies") {
		if copies < model.MinCopies || copies > model.MaxCopies {
			return ticket, fmt.Errorf("--copies must be between %d and %d", model.MinCopies, model.MaxCopies)
		}
		ticket.CopiesCount = copies
	}
	return ticket, nil
}

func addDriverFlags(cmd *cobra.Command, opts *driverOptions) {
	f := cmd.Flags()
	f.StringVar(&opts.port, "port", "", "Serial port to print on, overrides serial.port")
	f.BoolVar(&opts.prompt, "prompt", false, "Ask which serial port to use when none is configured")
	f.StringVar(&opts.surface, "surface", surfaceBrowser, "Preview surface: browser, terminal or pdf")
}

func writeResult(w io.Writer, res *printjob.Result) {
	for _, c := range res.Outcomes {
		if c.Fallback {
			fmt.Fprintf(w, "copy %d: %s (fallback: %s)\n", c.Index, c.Message, c.Cause)
			continue
		}
		fmt.Fprintf(w, "copy %d: %s via %s\n", c.Index, c.Message, c.Transport)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newPrintCmd(a *app) *cobra.Command {
	var (
		copies int
		method string
		opts   driverOptions
	)

	cmd := &cobra.Command{
		Use:   "print <sale-id>",
		Short: "Print the ticket of a sale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			saleID, err := parseSaleID(args[0])
			if err != nil {
				return codeError(exitInvalid, "%s", err)
			}
			ticket, err := ticketOverrides(cmd, a.cfg.Ticket, method, copies)
			if err != nil {
				return codeError(exitInvalid, "invalid flags: %s", err)
			}

			orch, err := a.orchestrator(a.apiClient(), opts)
			if err != nil {
				return codeError(exitInvalid, "invalid flags: %s", err)
			}

			res, err := orch.Run(cmd.Context(), printjob.NewJob(saleID, a.cfg.Business, ticket))
			a.waitPreviews(cmd.Context())
			if err != nil {
				return codeError(exitPrintFailed, "print failed: %s", err)
			}
			writeResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().IntVar(&copies, "copies", 1, "Number of copies (1-5), overrides ticket.copies_count")
	cmd.Flags().StringVar(&method, "method", "", "Print method: serial, bluetooth, localserver or preview")
	addDriverFlags(cmd, &opts)
	return cmd
}

func newDecodeCmd() *cobra.Command {
	var (
		raw     bool
		against string
	)

	decodeFile := func(path string, stdin io.Reader) (string, error) {
		var data []byte
		var err error
		if path == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return "", err
		}
		if raw {
			return escpos.Decode(data), nil
		}
		return escpos.DecodeBase64(strings.TrimSpace(string(data)))
	}

	cmd := &cobra.Command{
		Use:   "decode <file|->",
		Short: "Show an ESC/POS buffer as readable text",
		Long:  "Decode a base64 ESC/POS buffer (or raw bytes with --raw) into text with [ESC] and [GS] markers. With --against, show the differences to a second buffer.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := decodeFile(args[0], cmd.InOrStdin())
			if err != nil {
				return codeError(exitInvalid, "decoding %s: %s", args[0], err)
			}
			out := cmd.OutOrStdout()

			if against == "" {
				fmt.Fprintln(out, text)
				return nil
			}

			other, err := decodeFile(against, cmd.InOrStdin())
			if err != nil {
				return codeError(exitInvalid, "decoding %s: %s", against, err)
			}
			dmp := diffmatchpatch.New()
			diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(text, other, false))
			fmt.Fprintln(out, dmp.DiffPrettyText(diffs))
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Input is raw ESC/POS bytes instead of base64")
	cmd.Flags().StringVar(&against, "against", "", "Second buffer to diff against")
	return cmd
}

func newTestCmd(a *app) *cobra.Command {
	var (
		method string
		opts   driverOptions
	)

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Print a diagnostic ticket through the configured method",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ticket, err := ticketOverrides(cmd, a.cfg.Ticket, method, 0)
			if err != nil {
				return codeError(exitInvalid, "invalid flags: %s", err)
			}

			var target string
			switch ticket.Method() {
			case model.MethodSerial:
				target = opts.port
				if target == "" {
					target = a.cfg.Serial.Port
				}
			case model.MethodBluetooth:
				target = strings.Join(a.cfg.Bluetooth.NamePatterns, ", ")
			case model.MethodLocalServer:
				target = ticket.RelayURL()
			}

			buf, err := escpos.TestTicket(escpos.TestInfo{
				PrinterName: ticket.PrinterName,
				Method:      string(ticket.Method()),
				Target:      target,
				PaperWidth:  ticket.PaperWidth,
				PrintedAt:   time.Now(),
			})
			if err != nil {
				return codeError(exitGeneric, "building test ticket: %s", err)
			}

			orch, err := a.orchestrator(staticCommands(base64.StdEncoding.EncodeToString(buf)), opts)
			if err != nil {
				return codeError(exitInvalid, "invalid flags: %s", err)
			}

			job := printjob.NewJob(0, a.cfg.Business, ticket)
			job.Copies = 1
			res, err := orch.Run(cmd.Context(), job)
			a.waitPreviews(cmd.Context())
			if err != nil {
				return codeError(exitPrintFailed, "test print failed: %s", err)
			}
			writeResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringVar(&method, "method", "", "Print method: serial, bluetooth, localserver or preview")
	addDriverFlags(cmd, &opts)
	return cmd
}

func newMethodsCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "methods",
		Short: "List the print methods usable on this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			methods := a.availableMethods()
			if asJSON {
				return printJSON(cmd.OutOrStdout(), methods)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, m := range methods {
				fmt.Fprintf(tw, "%s\t%s\n", m.Value, m.Label)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newDetectCmd(a *app) *cobra.Command {
	var (
		remote bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "List printers attached to this host, or to the backend with --remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var printers []model.DetectedPrinter
			if remote {
				found, err := a.apiClient().DetectPrinters(cmd.Context())
				if err != nil {
					return codeError(exitGeneric, "detecting printers: %s", err)
				}
				printers = found
			} else {
				serialPorts, err := adapter.ListSerialPrinters()
				if err != nil {
					a.logger.Warn().Err(err).Msg("serial enumeration failed")
				}
				usbPrinters, err := adapter.ListUSBPrinters()
				if err != nil {
					a.logger.Warn().Err(err).Msg("USB enumeration failed")
				}
				printers = append(serialPorts, usbPrinters...)
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), printers)
			}
			if len(printers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no printers found")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tMANUFACTURER\tSERIAL\tVID:PID")
			for _, p := range printers {
				id := ""
				if p.VendorID != "" {
					id = p.VendorID + ":" + p.ProductID
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Path, p.Manufacturer, p.SerialNumber, id)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "Ask the backend host instead of this machine")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the backend printer connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.apiClient().PrinterStatus(cmd.Context())
			if err != nil {
				return codeError(exitGeneric, "reading status: %s", err)
			}
			if st.Connected {
				fmt.Fprintf(cmd.OutOrStdout(), "connected on %s\n", st.PortName)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "not connected")
			}
			return nil
		},
	}
}

func newConnectCmd(a *app) *cobra.Command {
	var baud int

	cmd := &cobra.Command{
		Use:   "connect <port>",
		Short: "Make the backend open a printer port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if baud <= 0 {
				return codeError(exitInvalid, "invalid flags: --baud must be positive")
			}
			if err := a.apiClient().ConnectPrinter(cmd.Context(), args[0], baud); err != nil {
				return codeError(exitGeneric, "connecting printer: %s", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "printer connected on %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().IntVar(&baud, "baud", adapter.DefaultBaudRate, "Baud rate")
	return cmd
}

// Document modes
const (
	docPrint    = "print"
	docPreview  = "preview"
	docDownload = "download"
)

func newDocumentCmd(a *app) *cobra.Command {
	var (
		mode   string
		copies int
	)

	cmd := &cobra.Command{
		Use:   "document <sale-id>",
		Short: "Print, preview or download the PDF ticket of a sale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			saleID, err := parseSaleID(args[0])
			if err != nil {
				return codeError(exitInvalid, "%s", err)
			}
			ticket, err := ticketOverrides(cmd, a.cfg.Ticket, "", copies)
			if err != nil {
				return codeError(exitInvalid, "invalid flags: %s", err)
			}

			svc := document.New(a.apiClient(),
				document.WithDownloadDir(a.cfg.Document.DownloadDir),
				document.WithRevokeAfter(a.cfg.Document.RevokeAfter),
				document.WithLogger(a.logger.With().Str("component", "document").Logger()),
			)
			req := document.Request{SaleID: saleID, Business: a.cfg.Business, Ticket: ticket}
			out := cmd.OutOrStdout()

			switch mode {
			case docPrint:
				paths, err := svc.PrintCopies(cmd.Context(), req, ticket.CopiesCount)
				if err != nil {
					return codeError(exitPrintFailed, "printing PDF: %s", err)
				}
				fmt.Fprintf(out, "%d copies sent to the viewer\n", len(paths))
			case docPreview:
				path, err := svc.Preview(cmd.Context(), req)
				if err != nil {
					return codeError(exitPrintFailed, "previewing PDF: %s", err)
				}
				fmt.Fprintln(out, path)
			case docDownload:
				path, err := svc.Download(cmd.Context(), req)
				if err != nil {
					return codeError(exitGeneric, "downloading PDF: %s", err)
				}
				fmt.Fprintln(out, path)
			default:
				return codeError(exitInvalid, "invalid flags: unknown mode %q", mode)
			}

			// viewer files are removed after RevokeAfter
			if mode != docDownload {
				select {
				case <-cmd.Context().Done():
				case <-time.After(a.cfg.Document.RevokeAfter + time.Second):
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", docPrint, "print, preview or download")
	cmd.Flags().IntVar(&copies, "copies", 1, "Number of copies (1-5) in print mode")
	return cmd
}

// relayAdapter opens the configured relay back end
func (a *app) relayAdapter() (adapter.Adapter, error) {
	rc := a.cfg.Relay
	logger := a.logger.With().Str("component", "adapter").Logger()

	switch rc.Backend {
	case config.BackendSerial:
		port := rc.SerialPort
		if port == "" {
			port = a.cfg.Serial.Port
		}
		if port == "" {
			return nil, errors.New("relay.serial_port is required for the serial back end")
		}
		return adapter.NewSerialAdapter(port,
			adapter.WithBaudRate(a.cfg.Serial.BaudRate),
			adapter.WithSerialLogger(logger),
		), nil
	default:
		var vid, pid uint16
		if rc.USBID != "" {
			var err error
			if vid, pid, err = adapter.ParseUSBID(rc.USBID); err != nil {
				return nil, err
			}
		}
		return adapter.NewUSBAdapter(vid, pid, logger)
	}
}

// serveUntilDone runs srv until ctx ends, then shuts it down
func serveUntilDone(ctx context.Context, srv *http.Server, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("address", srv.Addr).Msg("HTTP listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info().Msg("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func portOf(address string) (int, error) {
	_, p, err := net.SplitHostPort(address)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}

func newRelayCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Run the print relay in front of a USB or serial printer",
		Long:  "Accept print jobs over HTTP (POST raw bytes) on relay.address and raw TCP streams on relay.raw_address, forwarding them to the configured printer.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc := a.cfg.Relay
			logger := a.logger.With().Str("component", "relay").Logger()

			device, err := a.relayAdapter()
			if err != nil {
				return codeError(exitGeneric, "opening printer: %s", err)
			}

			relay := server.NewWithLogger(device, rc.RawAddress, logger)
			if err := relay.StartAsync(); err != nil {
				return codeError(exitGeneric, "starting relay: %s", err)
			}
			defer relay.Stop()

			if rc.Announce {
				port, err := portOf(rc.Address)
				if err != nil {
					return codeError(exitInvalid, "invalid relay.address: %s", err)
				}
				withdraw, err := server.Announce(rc.Name, port, logger)
				if err != nil {
					logger.Warn().Err(err).Msg("mDNS announcement failed")
				} else {
					defer withdraw()
				}
			}

			httpSrv := &http.Server{Addr: rc.Address, Handler: relay, ReadHeaderTimeout: 10 * time.Second}
			if err := serveUntilDone(cmd.Context(), httpSrv, logger); err != nil {
				return codeError(exitGeneric, "relay: %s", err)
			}
			return nil
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	var surface string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local print agent",
		Long:  "Serve POST /print, GET /methods, GET /health and the live preview websocket on /preview/ws.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := a.logger.With().Str("component", "agent").Logger()

			hub := preview.NewHub(logger)
			defer hub.Close()

			orch, err := a.orchestrator(a.apiClient(), driverOptions{surface: surface}, hub)
			if err != nil {
				return codeError(exitInvalid, "invalid flags: %s", err)
			}

			agent := server.NewAgent(orch, a.cfg.Business, a.cfg.Ticket,
				server.WithMethods(a.availableMethods),
				server.WithPreviewHub(hub),
				server.WithAgentLogger(logger),
			)

			httpSrv := &http.Server{Addr: a.cfg.Agent.Address, Handler: agent, ReadHeaderTimeout: 10 * time.Second}
			err = serveUntilDone(cmd.Context(), httpSrv, logger)
			a.waitPreviews(cmd.Context())
			if err != nil {
				return codeError(exitGeneric, "agent: %s", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&surface, "surface", surfaceTerminal, "Preview surface used when no viewer is connected: browser, terminal or pdf")
	return cmd
}

func newDiscoverCmd(a *app) *cobra.Command {
	var (
		timeout time.Duration
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find print relays on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			relays, err := server.Discover(ctx)
			if err != nil {
				return codeError(exitGeneric, "discovering relays: %s", err)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), relays)
			}
			if len(relays) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no relays found")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, r := range relays {
				fmt.Fprintf(tw, "%s\t%s\n", r.Instance, r.URL())
			}
			return tw.Flush()
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "How long to browse")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}
