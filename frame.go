package wire

import (
	"encoding/binary"
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// frameHeaderSize is the size of the length prefix that starts every frame.
// The declared length counts the prefix itself plus everything after it.
const frameHeaderSize = 4

// Errors returned by frame extraction.
var (
	// ErrNeedMoreData is returned when the buffer does not yet hold a
	// complete frame. It is recoverable: append more bytes and retry.
	ErrNeedMoreData = errors.New("need more data")
	// ErrFrameTooLarge is returned when a frame's declared length exceeds
	// the configured maximum. Fatal for the connection.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrFrameTooSmall is returned when a frame's declared length is
	// smaller than the length prefix itself. Fatal for the connection.
	ErrFrameTooSmall = errors.New("frame too small")
)

// Frame is one length-prefixed unit of the byte stream, immutable once
// assembled. Bytes holds the full frame including the 4-byte prefix.
type Frame struct {
	bytes []byte
}

// Len returns the total frame length including the length prefix.
func (f *Frame) Len() int {
	return len(f.bytes)
}

// Bytes returns the full frame including the 4-byte length prefix.
func (f *Frame) Bytes() []byte {
	return f.bytes
}

// Payload returns the frame bytes after the length prefix.
func (f *Frame) Payload() []byte {
	return f.bytes[frameHeaderSize:]
}

// TryExtractFrame attempts to extract one complete frame from the cursor.
// It never blocks: if the buffer does not yet hold the declared length it
// returns ErrNeedMoreData and consumes nothing, so a later call with more
// appended bytes retries from the same position. maxSize bounds the
// declared length; a hostile or desynchronized peer must not be able to
// drive unbounded buffering.
//
// A single read from the transport may complete zero, one or several
// frames; callers loop extraction until ErrNeedMoreData.
func TryExtractFrame(c *Cursor, maxSize int) (*Frame, error) {
	total, err := c.PeekUint32(0)
	if err != nil {
		return nil, ErrNeedMoreData
	}

	if total < frameHeaderSize {
		return nil, pkgerrors.Wrapf(ErrFrameTooSmall, "declared length %d", total)
	}
	if int(total) > maxSize {
		return nil, pkgerrors.Wrapf(ErrFrameTooLarge, "declared length %d exceeds max %d", total, maxSize)
	}

	if c.Buffered() < int(total) {
		return nil, ErrNeedMoreData
	}

	raw, err := c.Take(int(total))
	if err != nil {
		return nil, err
	}
	return &Frame{bytes: raw}, nil
}

// EncodeFrame prepends the 4-byte big-endian length prefix to body and
// returns the complete frame. The declared length is 4 + len(body).
func EncodeFrame(body []byte) []byte {
	out := make([]byte, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(out, uint32(frameHeaderSize+len(body)))
	copy(out[frameHeaderSize:], body)
	return out
}
