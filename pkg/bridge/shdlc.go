package bridge

import (
	"errors"
	"fmt"
)

// SHDLC framing as used by Sensirion devices:
//
//	MOSI: 0x7E | addr | cmd | len | data... | chk | 0x7E
//	MISO: 0x7E | addr | cmd | state | len | data... | chk | 0x7E
//
// chk is the inverted low byte of the sum of all bytes between the start
// byte and the checksum. 0x7E, 0x7D, 0x11 and 0x13 inside a frame are
// escaped as 0x7D followed by the byte XOR 0x20.
const (
	frameBoundary = 0x7E
	escapeByte    = 0x7D
	escapeXor     = 0x20
	maxDataLen    = 255

	stateErrorMask  = 0x7F // Execution error code
	stateDeviceFlag = 0x80 // Device error flag
)

var (
	errChecksum  = errors.New("shdlc: checksum mismatch")
	errShort     = errors.New("shdlc: frame too short")
	errBadLength = errors.New("shdlc: length field mismatch")
	errEscape    = errors.New("shdlc: dangling escape byte")
)

// ExecutionError is a non-zero state byte returned by the bridge.
type ExecutionError struct {
	Command byte
	Code    byte
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("shdlc: command 0x%02X failed with error code 0x%02X", e.Command, e.Code)
}

type response struct {
	addr  byte
	cmd   byte
	state byte
	data  []byte
}

// encodeFrame builds a stuffed MOSI frame including the boundary bytes.
func encodeFrame(addr, cmd byte, data []byte) ([]byte, error) {
	if len(data) > maxDataLen {
		return nil, fmt.Errorf("shdlc: payload of %d bytes exceeds %d", len(data), maxDataLen)
	}

	raw := make([]byte, 0, len(data)+4)
	raw = append(raw, addr, cmd, byte(len(data)))
	raw = append(raw, data...)
	raw = append(raw, checksum(raw))

	frame := make([]byte, 0, len(raw)*2+2)
	frame = append(frame, frameBoundary)
	frame = stuff(frame, raw)
	frame = append(frame, frameBoundary)
	return frame, nil
}

// encodeResponse builds a stuffed MISO frame. Used by simulators and tests.
func encodeResponse(addr, cmd, state byte, data []byte) []byte {
	raw := make([]byte, 0, len(data)+5)
	raw = append(raw, addr, cmd, state, byte(len(data)))
	raw = append(raw, data...)
	raw = append(raw, checksum(raw))

	frame := make([]byte, 0, len(raw)*2+2)
	frame = append(frame, frameBoundary)
	frame = stuff(frame, raw)
	frame = append(frame, frameBoundary)
	return frame
}

// decodeResponse parses the stuffed content between two boundary bytes.
func decodeResponse(body []byte) (response, error) {
	raw, err := unstuff(body)
	if err != nil {
		return response{}, err
	}
	if len(raw) < 5 {
		return response{}, errShort
	}

	n := int(raw[3])
	if len(raw) != n+5 {
		return response{}, fmt.Errorf("%w: header says %d, got %d", errBadLength, n, len(raw)-5)
	}
	if checksum(raw[:len(raw)-1]) != raw[len(raw)-1] {
		return response{}, errChecksum
	}

	return response{
		addr:  raw[0],
		cmd:   raw[1],
		state: raw[2],
		data:  raw[4 : 4+n],
	}, nil
}

func checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return ^sum
}

func needsEscape(c byte) bool {
	return c == frameBoundary || c == escapeByte || c == 0x11 || c == 0x13
}

func stuff(dst, src []byte) []byte {
	for _, c := range src {
		if needsEscape(c) {
			dst = append(dst, escapeByte, c^escapeXor)
			continue
		}
		dst = append(dst, c)
	}
	return dst
}

func unstuff(src []byte) ([]byte, error) {
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); i++ {
		c := src[i]
		if c == escapeByte {
			if i+1 >= len(src) {
				return nil, errEscape
			}
			i++
			c = src[i] ^ escapeXor
		}
		out = append(out, c)
	}
	return out, nil
}
