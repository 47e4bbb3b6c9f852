package escpos

import (
	"fmt"
	"time"
)

// TestInfo describes the printer a diagnostic ticket is sent to
type TestInfo struct {
	PrinterName string
	Method      string
	Target      string
	PaperWidth  int
	PrintedAt   time.Time
}

// TestTicket builds the diagnostic ticket printed by the test command.
// It exercises alignment, emphasis, double size, code page 850 and raster
// images so a misconfigured printer is obvious at a glance.
func TestTicket(info TestInfo) ([]byte, error) {
	cols := Columns(info.PaperWidth)
	name := info.PrinterName
	if name == "" {
		name = "(unnamed)"
	}

	b := NewBuilder().Init().
		Align(AlignCenter).
		Bold(true).Size(2, 2).Line("TEST").Size(1, 1).Bold(false).
		Line("ticketprint").
		Separator(cols, '=').
		Align(AlignLeft).
		Pair("Printer:", name, cols).
		Pair("Method:", info.Method, cols).
		Pair("Paper:", fmt.Sprintf("%dmm", info.PaperWidth), cols).
		Pair("Date:", info.PrintedAt.Format("02/01/2006 15:04"), cols)

	if info.Target != "" {
		b.Line("Target:").Line(info.Target)
	}

	b.Separator(cols, '-').
		Line("Charset: ÁÉÍÓÚ áéíóú Ññ ¿¡").
		Separator(cols, '-')

	if info.Target != "" {
		b.Align(AlignCenter).QR(info.Target, DotsWidth(info.PaperWidth)/2).Align(AlignLeft)
	}

	return b.Feed(3).Cut().Bytes()
}
