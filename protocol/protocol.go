// Package protocol implements the binary frame format of webthree-rpc.
//
// A frame is a fixed 4-byte header followed by the encoded payload:
//
//	0    1    2         4
//	┌────┬────┬─────────┬────────────────┐
//	│svc │type│   seq   │  payload ...   │
//	│ u8 │ u8 │ uint16  │  variable      │
//	└────┴────┴─────────┴────────────────┘
//
// On a byte stream each frame is preceded by a 4-byte big-endian length so the
// receiver can read exactly one frame at a time (see WriteFrame / ReadFrame).
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"webthree-rpc/message"
)

const (
	HeaderSize     = 4 // 1 (service) + 1 (type) + 2 (seq)
	LengthSize     = 4 // stream length prefix
	DefaultMaxSize = 16 * 1024 * 1024
)

var (
	ErrMessageTooLarge = errors.New("protocol: message too large")
	ErrMessageTooSmall = errors.New("protocol: message too small")
)

// Limits bounds the payload a peer accepts or produces.
type Limits struct {
	MaxPayloadSize int
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadSize: DefaultMaxSize}
}

// WithDefaults fills unset fields.
func (l Limits) WithDefaults() Limits {
	if l.MaxPayloadSize <= 0 {
		l.MaxPayloadSize = DefaultMaxSize
	}
	return l
}

// Encode produces the frame for msg. It applies the same bounds as Decode,
// so a frame the peer would drop fails here instead. Payloads are never
// padded or truncated.
func Encode(msg message.Message, limits Limits) ([]byte, error) {
	limits = limits.WithDefaults()
	if len(msg.Payload) > limits.MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrMessageTooLarge, len(msg.Payload), limits.MaxPayloadSize)
	}
	if minSize := message.MinPayloadSize(msg.Type); len(msg.Payload) < minSize {
		return nil, fmt.Errorf("%w: %s payload of %d bytes (min %d)", ErrMessageTooSmall, msg.Type, len(msg.Payload), minSize)
	}

	buf := make([]byte, HeaderSize+len(msg.Payload))
	buf[0] = byte(msg.Service)
	buf[1] = byte(msg.Type)
	// Sequence number: 2 bytes, big-endian (network byte order)
	binary.BigEndian.PutUint16(buf[2:4], msg.Seq)
	copy(buf[HeaderSize:], msg.Payload)
	return buf, nil
}

// Decode parses one frame. The payload must fit the limit and be at least as
// large as the smallest valid payload of its declared type. Detection only:
// Decode never pads or truncates.
func Decode(data []byte, limits Limits) (message.Message, error) {
	limits = limits.WithDefaults()
	if len(data) < HeaderSize {
		return message.Message{}, fmt.Errorf("%w: frame of %d bytes", ErrMessageTooSmall, len(data))
	}

	msg := message.Message{
		Service: message.ServiceID(data[0]),
		Type:    message.Type(data[1]),
		Seq:     binary.BigEndian.Uint16(data[2:4]),
	}

	payloadLen := len(data) - HeaderSize
	if payloadLen > limits.MaxPayloadSize {
		return message.Message{}, fmt.Errorf("%w: %s payload of %d bytes (max %d)",
			ErrMessageTooLarge, msg.Type, payloadLen, limits.MaxPayloadSize)
	}
	if minSize := message.MinPayloadSize(msg.Type); payloadLen < minSize {
		return message.Message{}, fmt.Errorf("%w: %s payload of %d bytes (min %d)",
			ErrMessageTooSmall, msg.Type, payloadLen, minSize)
	}

	// Copy so the message does not alias the caller's read buffer
	msg.Payload = make([]byte, payloadLen)
	copy(msg.Payload, data[HeaderSize:])
	return msg, nil
}
