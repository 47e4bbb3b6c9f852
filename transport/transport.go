// Package transport delivers ESC/POS command buffers to printers over
// serial, Bluetooth LE, a network relay, or a preview surface.
package transport

import (
	"context"
	"encoding/base64"
	"time"
)

// Defaults shared by the drivers
const (
	DefaultSerialSettle = time.Second
	DefaultChunkSize    = 180
	DefaultChunkDelay   = 20 * time.Millisecond
	DefaultScanTimeout  = 10 * time.Second
	DefaultRelayTimeout = 15 * time.Second
)

// Transport names used in errors and logs
const (
	NameSerial    = "serial"
	NameBluetooth = "bluetooth"
	NameRelay     = "localserver"
	NamePreview   = "preview"
)

// Outcome is the result of a successful delivery
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Driver delivers one base64 command buffer. Implementations acquire and
// release any device connection inside Send.
type Driver interface {
	Name() string
	Send(ctx context.Context, payload string) (Outcome, error)
}

func decodePayload(transport, payload string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, Errorf(KindTransfer, transport, "invalid command buffer: %w", err)
	}
	return raw, nil
}
