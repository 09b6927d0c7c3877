package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteFrame writes one length-prefixed frame to w.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different requests will interleave and corrupt the stream.
func WriteFrame(w io.Writer, frame []byte) error {
	buf := make([]byte, LengthSize+len(frame))
	binary.BigEndian.PutUint32(buf[:LengthSize], uint32(len(frame)))
	copy(buf[LengthSize:], frame)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
//
// A declared length above the limit returns ErrMessageTooLarge without reading
// further: the stream can no longer be trusted and the connection should be
// reset. A declared length below HeaderSize consumes the bytes and returns
// ErrMessageTooSmall; the next frame boundary is intact.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	limits = limits.WithDefaults()

	var lenBuf [LengthSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])

	if uint64(size) > uint64(HeaderSize+limits.MaxPayloadSize) {
		return nil, fmt.Errorf("%w: declared frame length %d", ErrMessageTooLarge, size)
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	if size < HeaderSize {
		return nil, fmt.Errorf("%w: declared frame length %d", ErrMessageTooSmall, size)
	}
	return frame, nil
}
