package logging

import (
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// maxLoggedBytes caps the hex and ascii fields of LogRawBytes.
const maxLoggedBytes = 256

// LogRawBytes logs a memory transfer at debug level.
func LogRawBytes(label string, data []byte) {
	shown, suffix := data, ""
	if len(shown) > maxLoggedBytes {
		shown, suffix = shown[:maxLoggedBytes], "..."
	}
	Debug(label,
		zap.Int("length", len(data)),
		zap.String("hex", hex.EncodeToString(shown)+suffix),
		zap.String("ascii", printable(shown)),
	)
}

// HexDump formats data as 16-byte rows of address, hex and ASCII, with
// the first row at addr.
func HexDump(addr uint64, data []byte) string {
	var b strings.Builder
	for off := 0; off < len(data); off += 16 {
		row := data[off:min(off+16, len(data))]
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = hex.EncodeToString([]byte{c})
		}
		fmt.Fprintf(&b, "%016x  %-47s  %s\n", addr+uint64(off), strings.Join(cells, " "), printable(row))
	}
	return b.String()
}

// printable replaces bytes outside printable ASCII with '.'.
func printable(data []byte) string {
	out := make([]byte, len(data))
	for i, c := range data {
		if c < 0x20 || c > 0x7e {
			c = '.'
		}
		out[i] = c
	}
	return string(out)
}
