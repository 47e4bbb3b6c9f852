package escpos

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderInitAndCut(t *testing.T) {
	out, err := NewBuilder().Init().Line("Hola").Cut().Bytes()
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(out, []byte{ESC, '@', ESC, 't', 2}))
	assert.True(t, bytes.HasSuffix(out, CmdPartialCut))
	assert.Contains(t, string(out), "Hola\n")
}

func TestBuilderTextCodePage850(t *testing.T) {
	out, err := NewBuilder().Text("ñÑé€").Bytes()
	require.NoError(t, err)

	// CP850: ñ=0xA4 Ñ=0xA5 é=0x82, euro is not representable
	assert.Equal(t, []byte{0xA4, 0xA5, 0x82, '?'}, out)
}

func TestBuilderSizeClamped(t *testing.T) {
	out, err := NewBuilder().Size(0, 9).Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{GS, '!', 0x07}, out)

	out, err = NewBuilder().Size(2, 2).Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{GS, '!', 0x11}, out)
}

func TestBuilderPair(t *testing.T) {
	out, err := NewBuilder().Pair("Total", "9.99", 16).Bytes()
	require.NoError(t, err)
	assert.Equal(t, "Total       9.99\n", string(out))

	out, err = NewBuilder().Pair("a long label", "value", 8).Bytes()
	require.NoError(t, err)
	assert.Equal(t, "a long label value\n", string(out))
}

func TestBuilderImageRaster(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 10, 2))
	for x := 0; x < 10; x++ {
		img.SetGray(x, 0, color.Gray{Y: 0})
		img.SetGray(x, 1, color.Gray{Y: 255})
	}

	out, err := NewBuilder().Image(img).Bytes()
	require.NoError(t, err)

	header := append(append([]byte{}, CmdRasterImage...), 2, 0, 2, 0)
	require.True(t, bytes.HasPrefix(out, header))

	data := out[len(header) : len(out)-1]
	assert.Equal(t, []byte{0xFF, 0xC0, 0x00, 0x00}, data)
	assert.Equal(t, LF, out[len(out)-1])
}

func TestBuilderQR(t *testing.T) {
	out, err := NewBuilder().QR("http://localhost:9100", 128).Bytes()
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, CmdRasterImage))
}

func TestBuilderQRErrorIsSticky(t *testing.T) {
	b := NewBuilder().QR(strings.Repeat("x", 5000), 128).Line("after")

	_, err := b.Bytes()
	assert.Error(t, err)

	_, err = b.Base64()
	assert.Error(t, err)
}

func TestBuilderBase64RoundTripsThroughDecode(t *testing.T) {
	payload, err := NewBuilder().Init().Line("Ticket 42").Cut().Base64()
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)

	assert.Equal(t, "[ESC]@[ESC]tTicket 42\n[GS]VA", Decode(raw))
}

func TestTestTicket(t *testing.T) {
	out, err := TestTicket(TestInfo{
		PrinterName: "Caja 1",
		Method:      "localserver",
		Target:      "http://localhost:9100",
		PaperWidth:  80,
		PrintedAt:   time.Date(2024, 5, 1, 13, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	text := Decode(out)
	assert.Contains(t, text, "TEST")
	assert.Contains(t, text, "Caja 1")
	assert.Contains(t, text, "localserver")
	assert.Contains(t, text, "01/05/2024 13:30")
	assert.Contains(t, text, strings.Repeat("=", 48))
	assert.True(t, bytes.HasSuffix(out, CmdPartialCut))
}

func TestTestTicketWithoutTarget(t *testing.T) {
	out, err := TestTicket(TestInfo{Method: "preview", PaperWidth: 58})
	require.NoError(t, err)

	text := Decode(out)
	assert.Contains(t, text, "(unnamed)")
	assert.Contains(t, text, strings.Repeat("=", 32))
	assert.NotContains(t, string(out), string(CmdRasterImage))
}
