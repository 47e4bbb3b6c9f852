// Package document prints and saves tickets rendered by the backend as PDF.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/browser"
	"github.com/rs/zerolog"

	"github.com/nixxel-company-limited/escpos-ticket-printer/clock"
	"github.com/nixxel-company-limited/escpos-ticket-printer/model"
)

// Service defaults
const (
	DefaultRevokeAfter = 60 * time.Second
	DefaultCopyDelay   = 500 * time.Millisecond
)

// ErrViewerBlocked is returned when the system viewer refuses to open the PDF
var ErrViewerBlocked = errors.New("could not open the PDF viewer, allow documents to be opened by the system viewer")

// Source renders sales to PDF
type Source interface {
	GetSale(ctx context.Context, saleID int64) (json.RawMessage, error)
	GenerateDocument(ctx context.Context, sale json.RawMessage, business model.BusinessConfig, ticket model.TicketConfig) ([]byte, error)
}

// Request selects the sale and the configuration it is rendered with.
// Sale is fetched by SaleID when empty.
type Request struct {
	SaleID   int64
	Sale     json.RawMessage
	Business model.BusinessConfig
	Ticket   model.TicketConfig
}

// Service drives the PDF ticket path
type Service struct {
	source      Source
	open        func(path string) error
	schedule    func(d time.Duration, f func())
	clock       clock.Clock
	tempDir     string
	downloadDir string
	revokeAfter time.Duration
	copyDelay   time.Duration
	logger      zerolog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithOpener replaces the system viewer
func WithOpener(open func(path string) error) Option {
	return func(s *Service) { s.open = open }
}

// WithScheduler replaces the timer used to remove temporary files
func WithScheduler(schedule func(d time.Duration, f func())) Option {
	return func(s *Service) { s.schedule = schedule }
}

// WithClock sets the clock used for copy pacing and file names
func WithClock(clk clock.Clock) Option {
	return func(s *Service) { s.clock = clk }
}

// WithTempDir sets where viewer files are written
func WithTempDir(dir string) Option {
	return func(s *Service) { s.tempDir = dir }
}

// WithDownloadDir sets where downloads are written
func WithDownloadDir(dir string) Option {
	return func(s *Service) { s.downloadDir = dir }
}

// WithRevokeAfter sets how long viewer files are kept
func WithRevokeAfter(d time.Duration) Option {
	return func(s *Service) { s.revokeAfter = d }
}

// WithCopyDelay sets the pause between printed copies
func WithCopyDelay(d time.Duration) Option {
	return func(s *Service) { s.copyDelay = d }
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New creates a document service
func New(source Source, opts ...Option) *Service {
	s := &Service{
		source: source,
		open:   browser.OpenFile,
		schedule: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		clock:       clock.Real{},
		tempDir:     os.TempDir(),
		downloadDir: ".",
		revokeAfter: DefaultRevokeAfter,
		copyDelay:   DefaultCopyDelay,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Render fetches the sale when needed and returns the PDF bytes
func (s *Service) Render(ctx context.Context, req Request) ([]byte, error) {
	sale := req.Sale
	if len(sale) == 0 {
		var err error
		if sale, err = s.source.GetSale(ctx, req.SaleID); err != nil {
			return nil, fmt.Errorf("failed to load sale %d: %w", req.SaleID, err)
		}
	}
	return s.source.GenerateDocument(ctx, sale, req.Business, req.Ticket)
}

// Print sends the PDF to the system viewer for printing
func (s *Service) Print(ctx context.Context, req Request) (string, error) {
	path, err := s.show(ctx, req)
	if err != nil {
		return "", err
	}
	s.logger.Info().Int64("sale_id", req.SaleID).Str("file", path).Msg("PDF ticket sent to viewer for printing")
	return path, nil
}

// Preview opens the PDF in the system viewer
func (s *Service) Preview(ctx context.Context, req Request) (string, error) {
	path, err := s.show(ctx, req)
	if err != nil {
		return "", err
	}
	s.logger.Info().Int64("sale_id", req.SaleID).Str("file", path).Msg("PDF ticket preview opened")
	return path, nil
}

// Download writes ticket-<saleId>-<unixMillis>.pdf into the download directory
func (s *Service) Download(ctx context.Context, req Request) (string, error) {
	pdf, err := s.Render(ctx, req)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("ticket-%d-%d.pdf", req.SaleID, s.clock.Now().UnixMilli())
	path := filepath.Join(s.downloadDir, name)
	if err := os.WriteFile(path, pdf, 0o644); err != nil {
		return "", fmt.Errorf("failed to save PDF: %w", err)
	}

	s.logger.Info().Int64("sale_id", req.SaleID).Str("file", path).Msg("PDF ticket downloaded")
	return path, nil
}

// PrintCopies prints copies of the ticket, pausing between them
func (s *Service) PrintCopies(ctx context.Context, req Request, copies int) ([]string, error) {
	copies = model.ClampCopies(copies)

	paths := make([]string, 0, copies)
	for i := 0; i < copies; i++ {
		path, err := s.Print(ctx, req)
		if err != nil {
			return paths, fmt.Errorf("copy %d of %d: %w", i+1, copies, err)
		}
		paths = append(paths, path)

		if i < copies-1 {
			if err := s.clock.Sleep(ctx, s.copyDelay); err != nil {
				return paths, fmt.Errorf("print cancelled: %w", err)
			}
		}
	}
	return paths, nil
}

func (s *Service) show(ctx context.Context, req Request) (string, error) {
	pdf, err := s.Render(ctx, req)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp(s.tempDir, fmt.Sprintf("ticket-%d-*.pdf", req.SaleID))
	if err != nil {
		return "", fmt.Errorf("failed to create PDF file: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(pdf); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write PDF file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write PDF file: %w", err)
	}

	if err := s.open(path); err != nil {
		os.Remove(path)
		s.logger.Warn().Err(err).Str("file", path).Msg("PDF viewer blocked")
		return "", fmt.Errorf("%w: %w", ErrViewerBlocked, err)
	}

	s.schedule(s.revokeAfter, func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("file", path).Msg("failed to remove PDF file")
		}
	})
	return path, nil
}
