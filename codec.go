package wire

import (
	"encoding/binary"
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// Errors returned by the message codec.
var (
	// ErrUnknownMessageType is returned when a frame carries a
	// discriminant with no registered schema. Fatal for the connection:
	// the byte stream can no longer be trusted to be aligned.
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrTruncatedMessage is returned when a frame's declared length is
	// too short for its fields. Fatal for the connection.
	ErrTruncatedMessage = errors.New("truncated message")
	// ErrTrailingBytes is returned when a frame holds bytes beyond its
	// last declared field. Fatal for the connection.
	ErrTrailingBytes = errors.New("trailing bytes after message")
	// ErrInvalidField is returned when a field value violates a protocol
	// invariant (side out of range, zero quantity, non-finite price).
	ErrInvalidField = errors.New("invalid field value")
)

// Codec encodes and decodes protocol messages. Encoding produces a
// complete frame ready to write; decoding consumes a frame assembled by
// TryExtractFrame. The codec holds no per-connection state.
type Codec struct{}

// Encode serializes a message into a complete length-prefixed frame:
// discriminant, fixed fields in schema order (length fields computed from
// the variable bytes they describe), then the variable fields in order.
// Strings are raw UTF-8 with no terminator. All integers big-endian;
// prices are 8-byte big-endian IEEE-754 doubles.
func (Codec) Encode(m Message) ([]byte, error) {
	if resp, ok := m.(OrderResponse); ok {
		body := make([]byte, 1+len(resp.Raw))
		body[0] = byte(TypeOrderResponse)
		copy(body[1:], resp.Raw)
		return EncodeFrame(body), nil
	}

	sc, ok := lookupSchema(m.Family(), m.Type())
	if !ok {
		return nil, pkgerrors.Wrapf(ErrUnknownMessageType, "encode type %d", m.Type())
	}

	fix, vars, err := sc.extract(m)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "encode %s", sc.name)
	}

	size := 1
	for _, fs := range sc.fixed {
		size += fs.width
	}
	for _, name := range sc.variable {
		size += len(vars[name])
	}

	body := make([]byte, 0, size)
	body = append(body, byte(sc.typ))
	for _, fs := range sc.fixed {
		value, ok := fix[fs.name]
		if !ok {
			// Length fields are derived from their variable field.
			value = uint64(len(vars[lengthFieldTarget(fs.name)]))
		}
		body = appendUint(body, value, fs.width)
	}
	for _, name := range sc.variable {
		body = append(body, vars[name]...)
	}

	return EncodeFrame(body), nil
}

// Decode turns one assembled frame into a typed message. The family
// selects which schema table the discriminant is resolved against, since
// the two families reuse discriminant values with different layouts.
// Exact length accounting is enforced: the fields must consume the
// frame's declared payload to the byte.
func (Codec) Decode(f *Frame, family Family) (Message, error) {
	payload := f.Payload()
	if len(payload) < 1 {
		return nil, pkgerrors.Wrap(ErrTruncatedMessage, "frame has no discriminant")
	}
	typ := MessageType(payload[0])

	sc, ok := lookupSchema(family, typ)
	if !ok {
		return nil, pkgerrors.Wrapf(ErrUnknownMessageType, "decode type %d in family %d", typ, family)
	}

	if sc.opaque {
		raw := make([]byte, len(payload)-1)
		copy(raw, payload[1:])
		return OrderResponse{Raw: raw}, nil
	}

	off := 1
	fix := make(map[string]uint64, len(sc.fixed))
	for _, fs := range sc.fixed {
		if off+fs.width > len(payload) {
			return nil, pkgerrors.Wrapf(ErrTruncatedMessage, "decode %s: field %q", sc.name, fs.name)
		}
		fix[fs.name] = readUint(payload[off:], fs.width)
		off += fs.width
	}

	vars := make(map[string][]byte, len(sc.variable))
	for _, name := range sc.variable {
		n := int(fix[name+"_len"])
		if off+n > len(payload) {
			return nil, pkgerrors.Wrapf(ErrTruncatedMessage, "decode %s: field %q wants %d bytes", sc.name, name, n)
		}
		value := make([]byte, n)
		copy(value, payload[off:off+n])
		vars[name] = value
		off += n
	}

	if off != len(payload) {
		return nil, pkgerrors.Wrapf(ErrTrailingBytes, "decode %s: %d bytes after last field", sc.name, len(payload)-off)
	}

	m, err := sc.build(fix, vars)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "decode %s", sc.name)
	}
	return m, nil
}

// lengthFieldTarget maps a "<name>_len" fixed field to the variable field
// it describes.
func lengthFieldTarget(name string) string {
	return name[:len(name)-len("_len")]
}

func appendUint(b []byte, v uint64, width int) []byte {
	switch width {
	case 1:
		return append(b, byte(v))
	case 4:
		return binary.BigEndian.AppendUint32(b, uint32(v))
	case 8:
		return binary.BigEndian.AppendUint64(b, v)
	}
	panic("unsupported field width")
}

func readUint(b []byte, width int) uint64 {
	switch width {
	case 1:
		return uint64(b[0])
	case 4:
		return uint64(binary.BigEndian.Uint32(b))
	case 8:
		return binary.BigEndian.Uint64(b)
	}
	panic("unsupported field width")
}
