package transport

import (
	"context"

	"github.com/nixxel-company-limited/escpos-ticket-printer/escpos"
	"github.com/nixxel-company-limited/escpos-ticket-printer/preview"
)

// PreviewDriver renders the decoded ticket on a display surface
type PreviewDriver struct {
	surface    preview.Surface
	paperWidth int
}

// NewPreviewDriver creates a preview driver for surface
func NewPreviewDriver(surface preview.Surface, paperWidth int) *PreviewDriver {
	return &PreviewDriver{surface: surface, paperWidth: paperWidth}
}

// Name returns the transport name
func (p *PreviewDriver) Name() string { return NamePreview }

// Send decodes the buffer and shows it. It only fails when the surface
// refuses to display.
func (p *PreviewDriver) Send(ctx context.Context, payload string) (Outcome, error) {
	raw, err := decodePayload(NamePreview, payload)
	if err != nil {
		return Outcome{}, &Error{Kind: KindRender, Transport: NamePreview, Err: err}
	}
	if p.surface == nil {
		return Outcome{}, Errorf(KindRender, NamePreview, "no preview surface configured")
	}

	doc := preview.Document{
		Title:      "Ticket preview",
		Text:       escpos.Decode(raw),
		PaperWidth: p.paperWidth,
		Notice:     preview.DefaultNotice,
	}
	if err := p.surface.Show(ctx, doc); err != nil {
		return Outcome{}, &Error{Kind: KindRender, Transport: NamePreview, Err: err}
	}

	return Outcome{Success: true, Message: "Preview opened"}, nil
}
