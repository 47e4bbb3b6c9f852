package preview

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/browser"
	"github.com/rs/zerolog"
)

// OpenFunc opens a local file with the system viewer
type OpenFunc func(path string) error

// DefaultPreviewRemoveAfter is how long a preview page stays on disk after
// the browser was asked to open it
const DefaultPreviewRemoveAfter = 10 * time.Second

// BrowserSurface writes the preview page to a file and opens it in the
// default browser. Failure to launch the browser counts as blocked.
// Pages are removed RemoveAfter the browser was launched.
type BrowserSurface struct {
	Dir         string
	Open        OpenFunc
	Logger      zerolog.Logger
	RemoveAfter time.Duration
	Schedule    func(d time.Duration, f func())

	mu      sync.Mutex
	pending map[string]struct{}
	wg      sync.WaitGroup
}

// NewBrowserSurface creates a surface writing into the system temp dir
func NewBrowserSurface(logger zerolog.Logger) *BrowserSurface {
	return &BrowserSurface{Dir: os.TempDir(), Open: browser.OpenFile, Logger: logger}
}

// Show renders doc and opens it
func (s *BrowserSurface) Show(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	page, err := RenderHTML(doc)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(s.Dir, "ticket-preview-*.html")
	if err != nil {
		return fmt.Errorf("failed to create preview file: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(page); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write preview file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write preview file: %w", err)
	}

	open := s.Open
	if open == nil {
		open = browser.OpenFile
	}
	if err := open(path); err != nil {
		os.Remove(path)
		return fmt.Errorf("%w: could not open browser: %v", ErrBlocked, err)
	}

	s.track(path)
	s.Logger.Info().Str("file", path).Msg("preview opened in browser")
	return nil
}

func (s *BrowserSurface) track(path string) {
	s.mu.Lock()
	if s.pending == nil {
		s.pending = make(map[string]struct{})
	}
	s.pending[path] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	after := s.RemoveAfter
	if after <= 0 {
		after = DefaultPreviewRemoveAfter
	}
	schedule := s.Schedule
	if schedule == nil {
		schedule = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	schedule(after, func() { s.remove(path) })
}

func (s *BrowserSurface) remove(path string) {
	s.mu.Lock()
	if _, ok := s.pending[path]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, path)
	s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.Logger.Warn().Err(err).Str("file", path).Msg("failed to remove preview file")
	}
	s.wg.Done()
}

// Wait blocks until every opened page has been removed. When ctx ends first
// the remaining pages are removed at once.
func (s *BrowserSurface) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	s.mu.Lock()
	paths := make([]string, 0, len(s.pending))
	for path := range s.pending {
		paths = append(paths, path)
	}
	s.mu.Unlock()
	for _, path := range paths {
		s.remove(path)
	}
	<-done
}

// WriterSurface prints a boxed text rendering to a terminal
type WriterSurface struct {
	W io.Writer
}

// Show writes doc to W
func (s *WriterSurface) Show(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.W == nil {
		return ErrBlocked
	}
	if _, err := io.WriteString(s.W, RenderText(doc)); err != nil {
		return fmt.Errorf("%w: %v", ErrBlocked, err)
	}
	return nil
}

// PDFRenderer turns an HTML page into a PDF
type PDFRenderer func(ctx context.Context, html []byte, paperWidthMM int) ([]byte, error)

// PDFSurface saves the preview as a PDF sized to the paper roll
type PDFSurface struct {
	Dir    string
	Render PDFRenderer
	Open   OpenFunc
	Logger zerolog.Logger

	now func() time.Time
}

// NewPDFSurface creates a PDF surface rendering with headless Chrome.
// A nil open only saves the file.
func NewPDFSurface(dir string, open OpenFunc, logger zerolog.Logger) *PDFSurface {
	return &PDFSurface{Dir: dir, Render: ChromePDF, Open: open, Logger: logger, now: time.Now}
}

// Show renders doc to <Dir>/ticket-preview-<unixMillis>.pdf
func (s *PDFSurface) Show(ctx context.Context, doc Document) error {
	doc.Notice = ""
	page, err := RenderHTML(doc)
	if err != nil {
		return err
	}

	width := 58
	if doc.PaperWidth >= 80 {
		width = 80
	}
	pdf, err := s.Render(ctx, page, width)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlocked, err)
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	path := filepath.Join(s.Dir, fmt.Sprintf("ticket-preview-%d.pdf", now().UnixMilli()))
	if err := os.WriteFile(path, pdf, 0o644); err != nil {
		return fmt.Errorf("failed to save preview PDF: %w", err)
	}
	s.Logger.Info().Str("file", path).Int("bytes", len(pdf)).Msg("preview saved as PDF")

	if s.Open != nil {
		if err := s.Open(path); err != nil {
			return fmt.Errorf("%w: could not open %s: %v", ErrBlocked, path, err)
		}
	}
	return nil
}
