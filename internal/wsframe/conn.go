package wsframe

import (
	"fmt"
	"io"
	"sync"
)

// Conn reads whole messages from a client and writes server text frames.
// Reads must come from a single goroutine; writes may come from several.
type Conn struct {
	r          io.Reader
	maxPayload int64

	wmu sync.Mutex
	w   io.Writer
}

// NewConn wraps an upgraded stream. r must be the reader that consumed the
// handshake request so no buffered bytes are lost.
func NewConn(r io.Reader, w io.Writer, maxPayload int64) *Conn {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Conn{r: r, w: w, maxPayload: maxPayload}
}

// ReadMessage returns the next message. Fragmented data messages are
// reassembled; ping and pong frames are returned as they arrive, except when
// they interleave with fragments, where they are dropped.
func (c *Conn) ReadMessage() (Opcode, []byte, error) {
	var (
		op      Opcode
		buf     []byte
		started bool
	)
	for {
		f, err := ReadFrame(c.r, c.maxPayload)
		if err != nil {
			return 0, nil, err
		}
		if f.Opcode.IsControl() {
			if started {
				// Keep assembling; a ping between fragments carries nothing we act on.
				continue
			}
			return f.Opcode, f.Payload, nil
		}
		if !started {
			if f.Opcode == OpContinuation {
				return 0, nil, fmt.Errorf("wsframe: continuation frame without a message")
			}
			op, started = f.Opcode, true
		} else if f.Opcode != OpContinuation {
			return 0, nil, fmt.Errorf("wsframe: %s frame inside a fragmented message", f.Opcode)
		}
		if int64(len(buf))+int64(len(f.Payload)) > c.maxPayload {
			return 0, nil, ErrFrameTooLarge
		}
		buf = append(buf, f.Payload...)
		if f.Fin {
			return op, buf, nil
		}
	}
}

// WriteText sends s as a single text frame.
func (c *Conn) WriteText(s string) error {
	frame := EncodeText(s)
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.w.Write(frame)
	return err
}
