// Package preview shows decoded tickets on screen when no printer is used.
package preview

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultNotice tells the viewer nothing was printed
const DefaultNotice = "This is a PREVIEW. Configure a thermal printer to print for real."

// ErrBlocked is returned when a surface cannot be opened
var ErrBlocked = errors.New("preview surface blocked")

// Document is a decoded ticket ready for display
type Document struct {
	Title      string `json:"title"`
	Text       string `json:"text"`
	PaperWidth int    `json:"paperWidth"`
	Notice     string `json:"notice,omitempty"`
}

// Columns returns the character width the text should be wrapped at
func (d Document) Columns() int {
	if d.PaperWidth >= 80 {
		return 48
	}
	return 32
}

// Surface displays a document
type Surface interface {
	Show(ctx context.Context, doc Document) error
}

// SurfaceFunc adapts a function to Surface
type SurfaceFunc func(ctx context.Context, doc Document) error

// Show calls f
func (f SurfaceFunc) Show(ctx context.Context, doc Document) error {
	return f(ctx, doc)
}

// Chain tries each surface in order and stops at the first that shows the
// document. It fails only when every surface failed.
func Chain(surfaces ...Surface) Surface {
	return SurfaceFunc(func(ctx context.Context, doc Document) error {
		var errs []string
		for _, s := range surfaces {
			err := s.Show(ctx, doc)
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, err.Error())
		}
		if len(errs) == 0 {
			return ErrBlocked
		}
		return fmt.Errorf("%w: %s", ErrBlocked, strings.Join(errs, "; "))
	})
}
