package escpos

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	"github.com/skip2/go-qrcode"
	"golang.org/x/text/encoding/charmap"
)

// Builder accumulates an ESC/POS command buffer. Methods chain; the first
// error is kept and reported by Bytes.
type Builder struct {
	buf bytes.Buffer
	cm  *charmap.Charmap
	err error
}

// NewBuilder returns a builder that transcodes text to code page 850
func NewBuilder() *Builder {
	return &Builder{cm: charmap.CodePage850}
}

// Init resets the printer and selects code page 850
func (b *Builder) Init() *Builder {
	b.buf.Write(CmdInit)
	b.buf.Write(CmdCodePage850)
	return b
}

// Align sets the justification of the following lines
func (b *Builder) Align(a Alignment) *Builder {
	b.buf.Write([]byte{ESC, 'a', byte(a)})
	return b
}

// Bold toggles emphasized mode
func (b *Builder) Bold(on bool) *Builder {
	var v byte
	if on {
		v = 1
	}
	b.buf.Write([]byte{ESC, 'E', v})
	return b
}

// Size sets the character magnification, 1 to 8 in each direction
func (b *Builder) Size(width, height byte) *Builder {
	width = min(max(width, 1), 8)
	height = min(max(height, 1), 8)
	b.buf.Write([]byte{GS, '!', (width-1)<<4 | (height - 1)})
	return b
}

// Text writes s transcoded to the active code page. Runes the code page
// cannot represent are printed as '?'.
func (b *Builder) Text(s string) *Builder {
	for _, r := range s {
		if r < 0x80 {
			b.buf.WriteByte(byte(r))
			continue
		}
		if c, ok := b.cm.EncodeRune(r); ok {
			b.buf.WriteByte(c)
		} else {
			b.buf.WriteByte('?')
		}
	}
	return b
}

// Line writes s followed by a line feed
func (b *Builder) Line(s string) *Builder {
	b.Text(s)
	b.buf.WriteByte(LF)
	return b
}

// Separator writes a full-width rule made of ch
func (b *Builder) Separator(cols int, ch rune) *Builder {
	return b.Line(strings.Repeat(string(ch), cols))
}

// Pair writes left and right justified on one line of cols characters
func (b *Builder) Pair(left, right string, cols int) *Builder {
	gap := cols - len([]rune(left)) - len([]rune(right))
	if gap < 1 {
		gap = 1
	}
	return b.Line(left + strings.Repeat(" ", gap) + right)
}

// Feed prints and feeds n lines
func (b *Builder) Feed(n int) *Builder {
	n = min(max(n, 0), 255)
	b.buf.Write([]byte{ESC, 'd', byte(n)})
	return b
}

// Cut performs a partial paper cut
func (b *Builder) Cut() *Builder {
	b.buf.Write(CmdPartialCut)
	return b
}

// QR prints data as a QR code raster of size pixels
func (b *Builder) QR(data string, size int) *Builder {
	if b.err != nil {
		return b
	}
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		b.err = fmt.Errorf("failed to generate QR code: %w", err)
		return b
	}
	return b.Image(qr.Image(size))
}

// Image prints img as a GS v 0 raster, dark pixels set
func (b *Builder) Image(img image.Image) *Builder {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	rowBytes := (width + 7) / 8

	b.buf.Write(CmdRasterImage)
	b.buf.Write([]byte{
		byte(rowBytes), byte(rowBytes >> 8),
		byte(height), byte(height >> 8),
	})

	for y := 0; y < height; y++ {
		for xb := 0; xb < rowBytes; xb++ {
			var v byte
			for bit := 0; bit < 8; bit++ {
				x := xb*8 + bit
				if x >= width {
					break
				}
				r, g, bl, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				gray := (299*(r>>8) + 587*(g>>8) + 114*(bl>>8)) / 1000
				if gray < 128 {
					v |= 1 << uint(7-bit)
				}
			}
			b.buf.WriteByte(v)
		}
	}
	b.buf.WriteByte(LF)
	return b
}

// Bytes returns the accumulated buffer
func (b *Builder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out, nil
}

// Base64 returns the accumulated buffer in the encoding the print drivers accept
func (b *Builder) Base64() (string, error) {
	raw, err := b.Bytes()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
