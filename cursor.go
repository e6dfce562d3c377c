// Package wire implements the binary TCP protocol spoken by the exchange
// order endpoint: length-prefixed framing, per-type message codecs and the
// per-connection session state machine (authentication and heartbeat
// liveness). The package performs no I/O itself; callers feed it received
// bytes and write out the buffers it produces, so the same code drives
// blocking sockets, async loops and unit tests alike.
package wire

import (
	"encoding/binary"
	"errors"
)

// ErrInsufficientData is returned when the cursor does not hold enough
// buffered bytes to satisfy a read. It is recoverable: append more data
// and retry.
var ErrInsufficientData = errors.New("insufficient buffered data")

// Cursor is a read cursor over a growing buffer of received bytes.
// Reads either consume whole values or leave the cursor untouched, which
// lets frame extraction retry from the same position after more data
// arrives. All multi-byte integers are big-endian (network byte order).
type Cursor struct {
	buf []byte
	off int
}

// Append adds newly received bytes to the end of the buffer.
func (c *Cursor) Append(b []byte) {
	// Reclaim consumed space once it dominates the buffer.
	if c.off > 0 && c.off >= len(c.buf)/2 {
		c.buf = append(c.buf[:0], c.buf[c.off:]...)
		c.off = 0
	}
	c.buf = append(c.buf, b...)
}

// Buffered returns the number of unconsumed bytes.
func (c *Cursor) Buffered() int {
	return len(c.buf) - c.off
}

// PeekUint32 reads a big-endian uint32 at the given offset from the
// current position without consuming anything.
func (c *Cursor) PeekUint32(offset int) (uint32, error) {
	if c.Buffered() < offset+4 {
		return 0, ErrInsufficientData
	}
	return binary.BigEndian.Uint32(c.buf[c.off+offset:]), nil
}

// Take consumes and returns exactly n bytes. If fewer than n bytes are
// buffered it returns ErrInsufficientData and consumes nothing. The
// returned slice is owned by the caller; it is copied out of the buffer.
func (c *Cursor) Take(n int) ([]byte, error) {
	if n < 0 || c.Buffered() < n {
		return nil, ErrInsufficientData
	}
	out := make([]byte, n)
	copy(out, c.buf[c.off:c.off+n])
	c.off += n
	return out, nil
}
