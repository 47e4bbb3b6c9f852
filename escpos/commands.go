package escpos

// Control bytes
const (
	LF  byte = 0x0A
	CR  byte = 0x0D
	ESC byte = 0x1B
	GS  byte = 0x1D
)

// Command sequences used by Builder
var (
	CmdInit        = []byte{ESC, '@'}
	CmdCodePage850 = []byte{ESC, 't', 2}
	CmdPartialCut  = []byte{GS, 'V', 'A', 0}
	CmdRasterImage = []byte{GS, 'v', '0', 0}
)

// Alignment values for ESC a
type Alignment byte

const (
	AlignLeft Alignment = iota
	AlignCenter
	AlignRight
)

// Columns returns the characters per line for a paper width in millimetres
func Columns(paperWidth int) int {
	if paperWidth >= 80 {
		return 48
	}
	return 32
}

// DotsWidth returns the printable raster width in dots at 203 DPI
func DotsWidth(paperWidth int) int {
	if paperWidth >= 80 {
		return 576
	}
	return 384
}
