package escpos

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Tokens emitted by Decode in place of control prefixes
const (
	TokenESC = "[ESC]"
	TokenGS  = "[GS]"
)

// Decode renders a command buffer as human readable text for inspection.
// Printable ASCII is kept, LF and CR become newlines, ESC and GS become
// bracketed tokens and every other byte is dropped. The result cannot be
// encoded back into commands.
func Decode(buf []byte) string {
	var sb strings.Builder
	sb.Grow(len(buf))

	for _, b := range buf {
		switch {
		case b >= 0x20 && b <= 0x7E:
			sb.WriteByte(b)
		case b == LF, b == CR:
			sb.WriteByte('\n')
		case b == ESC:
			sb.WriteString(TokenESC)
		case b == GS:
			sb.WriteString(TokenGS)
		}
	}

	return sb.String()
}

// DecodeBase64 decodes a base64 command buffer and runs Decode on it
func DecodeBase64(payload string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("invalid command buffer: %w", err)
	}
	return Decode(raw), nil
}
