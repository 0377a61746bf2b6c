// Package wsframe implements the RFC 6455 framing used by the file browser and
// terminal sockets: frame decoding, server frame encoding and the opening
// handshake digest.
package wsframe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Opcode is the 4-bit frame type.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether the opcode is close, ping or pong.
func (o Opcode) IsControl() bool {
	return o&0x8 != 0
}

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(0x%x)", byte(o))
	}
}

// DefaultMaxPayload bounds a single inbound message when the caller does not
// configure a limit.
const DefaultMaxPayload = 16 << 20

var (
	// ErrConnectionClosed is returned for a close frame or a stream that
	// ends cleanly between frames.
	ErrConnectionClosed = errors.New("wsframe: connection closed")
	// ErrUnmasked is returned for a client frame without a masking key.
	ErrUnmasked = errors.New("wsframe: client frame is not masked")
	// ErrFrameTooLarge is returned when the declared payload length exceeds
	// the configured maximum. The payload is never read in that case.
	ErrFrameTooLarge = errors.New("wsframe: frame payload too large")
)

// Frame is one decoded protocol unit. Payload is already unmasked.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	Payload []byte
}

// ReadFrame decodes one client frame from r. maxPayload <= 0 selects
// DefaultMaxPayload.
func ReadFrame(r io.Reader, maxPayload int64) (*Frame, error) {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}

	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:1]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrConnectionClosed
		}
		return nil, err
	}
	f := &Frame{
		Fin:    hdr[0]&0x80 != 0,
		Opcode: Opcode(hdr[0] & 0x0F),
	}
	if _, err := io.ReadFull(r, hdr[1:]); err != nil {
		return nil, unexpected(err)
	}
	f.Masked = hdr[1]&0x80 != 0

	length := uint64(hdr[1] & 0x7F)
	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, unexpected(err)
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, unexpected(err)
		}
		length = binary.BigEndian.Uint64(ext[:])
		if length > math.MaxInt64 {
			return nil, ErrFrameTooLarge
		}
	}
	if !f.Masked {
		return nil, ErrUnmasked
	}
	if length > uint64(maxPayload) {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, length, maxPayload)
	}

	var key [4]byte
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return nil, unexpected(err)
	}
	f.Payload = make([]byte, length)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return nil, unexpected(err)
	}
	for i := range f.Payload {
		f.Payload[i] ^= key[i%4]
	}
	if f.Opcode == OpClose {
		return nil, ErrConnectionClosed
	}
	return f, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Encode builds an unmasked server frame with FIN set.
func Encode(op Opcode, payload []byte) []byte {
	n := len(payload)
	var buf []byte
	switch {
	case n <= 125:
		buf = make([]byte, 2, 2+n)
		buf[1] = byte(n)
	case n <= math.MaxUint16:
		buf = make([]byte, 4, 4+n)
		buf[1] = 126
		binary.BigEndian.PutUint16(buf[2:], uint16(n))
	default:
		buf = make([]byte, 10, 10+n)
		buf[1] = 127
		binary.BigEndian.PutUint64(buf[2:], uint64(n))
	}
	buf[0] = 0x80 | byte(op)
	return append(buf, payload...)
}

// EncodeText builds a text frame (first byte 0x81) carrying s as UTF-8.
func EncodeText(s string) []byte {
	return Encode(OpText, []byte(s))
}
