package rsp

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
)

const (
	ctrlC     = 0x03
	escapeXor = 0x20

	// wireMaxLen truncates packets in debug logs
	wireMaxLen = 120
)

var hexdigit = []byte("0123456789abcdef")

// checksum returns the modulo 256 sum of the payload bytes as sent on the wire.
func checksum(payload []byte) uint8 {
	var sum uint8
	for _, b := range payload {
		sum += b
	}
	return sum
}

// needsEscape reports whether b must be escaped inside a packet payload.
func needsEscape(b byte) bool {
	switch b {
	case '$', '#', '}', '*':
		return true
	}
	return false
}

// escape applies the '}' escaping to a payload.
func escape(payload []byte) []byte {
	out := make([]byte, 0, len(payload))
	for _, b := range payload {
		if needsEscape(b) {
			out = append(out, '}', b^escapeXor)
			continue
		}
		out = append(out, b)
	}
	return out
}

// encodePacket frames a payload as $payload#xx.
func encodePacket(payload []byte) []byte {
	body := escape(payload)
	out := make([]byte, 0, len(body)+4)
	out = append(out, '$')
	out = append(out, body...)
	sum := checksum(body)
	out = append(out, '#', hexdigit[sum>>4], hexdigit[sum&0xf])
	return out
}

// decodePayload removes escaping and expands run-length encoding.
// A '*' followed by a count character c repeats the previous byte c-29 times.
func decodePayload(raw []byte) ([]byte, error) {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		switch ch := raw[i]; ch {
		case '}':
			if i+1 >= len(raw) {
				return nil, fmt.Errorf("truncated escape sequence")
			}
			out = append(out, raw[i+1]^escapeXor)
			i++
		case '*':
			if i+1 >= len(raw) || len(out) == 0 {
				return nil, fmt.Errorf("malformed run-length encoding at offset %d", i)
			}
			n := int(raw[i+1]) - 29
			if n < 0 {
				return nil, fmt.Errorf("invalid run-length count %q", raw[i+1])
			}
			prev := out[len(out)-1]
			for j := 0; j < n; j++ {
				out = append(out, prev)
			}
			i++
		default:
			out = append(out, ch)
		}
	}
	return out, nil
}

// readPacket reads one packet, skipping stray acks and notification packets.
// It returns the raw (still escaped) payload and whether the checksum matched.
func readPacket(r *bufio.Reader) (raw []byte, ok bool, err error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, false, err
		}
		if b == '$' {
			break
		}
		if b == '%' {
			// notification packet: consume and ignore
			if _, err := r.ReadBytes('#'); err != nil {
				return nil, false, err
			}
			if _, err := r.Discard(2); err != nil {
				return nil, false, err
			}
		}
	}

	body, err := r.ReadBytes('#')
	if err != nil {
		return nil, false, err
	}
	body = body[:len(body)-1]

	var sumBuf [2]byte
	if _, err := r.Read(sumBuf[:1]); err != nil {
		return nil, false, err
	}
	if _, err := r.Read(sumBuf[1:]); err != nil {
		return nil, false, err
	}
	want, err := strconv.ParseUint(string(sumBuf[:]), 16, 8)
	if err != nil {
		return body, false, nil
	}
	return body, checksum(body) == uint8(want), nil
}

// decodeHex decodes a hex string from a reply.
func decodeHex(s []byte) ([]byte, error) {
	out := make([]byte, hex.DecodedLen(len(s)))
	if _, err := hex.Decode(out, s); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeLittleEndian decodes the little-endian hex encoding of a register value.
// Values wider than 64 bits are truncated to their low 64 bits.
func decodeLittleEndian(s []byte) (uint64, error) {
	raw, err := decodeHex(s)
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	copy(buf[:], raw)
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// encodeLittleEndian encodes a value as size bytes of little-endian hex.
func encodeLittleEndian(v uint64, size int) string {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	if size > 8 {
		return hex.EncodeToString(buf[:]) + hex.EncodeToString(make([]byte, size-8))
	}
	return hex.EncodeToString(buf[:size])
}

func truncateWire(b []byte) string {
	if len(b) > wireMaxLen {
		return string(b[:wireMaxLen]) + "..."
	}
	return string(b)
}
