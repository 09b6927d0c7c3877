// Package transport carries messages over one stream connection.
//
// Conn owns the socket: a single read loop (Serve) pulls frames off the wire
// and hands them to the connection's Mux, and Send serializes writes so
// frames from concurrent callers never interleave.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single TCP conn ──→ peer
//	goroutine-3 ──Send(seq=3)──┘
//
//	Serve: ←── frame ──→ mux.Dispatch ──→ binding (handler or correlator)
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"webthree-rpc/message"
	"webthree-rpc/metrics"
	"webthree-rpc/mux"
	"webthree-rpc/protocol"
)

var ErrConnectionClosed = errors.New("transport: connection closed")

// Sender writes one message to the peer.
type Sender interface {
	Send(msg message.Message) error
}

type Conn struct {
	conn    net.Conn
	mux     *mux.Mux
	limits  protocol.Limits
	logger  zerolog.Logger
	sending sync.Mutex // Write lock: one frame at a time on the socket

	closeOnce sync.Once
	done      chan struct{}
	err       error // set before done is closed
}

// NewConn wraps c. Frames are routed through m, whose limits also bound
// outbound payloads. Call Serve to start reading.
func NewConn(c net.Conn, m *mux.Mux) *Conn {
	metrics.ConnOpened()
	return &Conn{
		conn:   c,
		mux:    m,
		limits: m.Limits(),
		logger: log.With().Str("remote", c.RemoteAddr().String()).Logger(),
		done:   make(chan struct{}),
	}
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Serve runs the read loop until the connection fails or is closed, and
// returns the teardown cause. Exactly one goroutine may call Serve.
func (c *Conn) Serve() error {
	reader := bufio.NewReader(c.conn)
	for {
		frame, err := protocol.ReadFrame(reader, c.limits)
		if err != nil {
			if errors.Is(err, protocol.ErrMessageTooSmall) {
				// frame boundary is intact, keep reading
				metrics.RecordFrameError("too_small")
				c.logger.Warn().Err(err).Msg("dropping frame")
				continue
			}
			if errors.Is(err, protocol.ErrMessageTooLarge) {
				metrics.RecordFrameError("too_large")
				c.logger.Warn().Err(err).Msg("stream desynchronised, closing")
			}
			c.shutdown(err)
			return c.Err()
		}

		if err := c.mux.Dispatch(frame); err != nil {
			c.logDispatchError(err)
		}
	}
}

func (c *Conn) logDispatchError(err error) {
	switch {
	case errors.Is(err, protocol.ErrMessageTooSmall):
		metrics.RecordFrameError("too_small")
		c.logger.Warn().Err(err).Msg("dropping frame")
	case errors.Is(err, protocol.ErrMessageTooLarge):
		metrics.RecordFrameError("too_large")
		c.logger.Warn().Err(err).Msg("dropping frame")
	case errors.Is(err, mux.ErrMessageServiceInvalid):
		metrics.RecordFrameError("no_binding")
		c.logger.Warn().Err(err).Msg("dropping frame")
	case errors.Is(err, ErrCorrelationMiss):
		c.logger.Debug().Err(err).Msg("discarding reply")
	default:
		metrics.RecordFrameError("dispatch")
		c.logger.Error().Err(err).Msg("dispatch failed")
	}
}

// Send encodes msg and writes it as one frame.
func (c *Conn) Send(msg message.Message) error {
	frame, err := protocol.Encode(msg, c.limits)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return c.Err()
	default:
	}

	c.sending.Lock()
	err = protocol.WriteFrame(c.conn, frame)
	c.sending.Unlock()
	if err != nil {
		c.shutdown(err)
		return c.Err()
	}
	return nil
}

// Close tears the connection down. Pending calls fail with
// ErrConnectionClosed.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the teardown cause once Done is closed, nil before.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		if cause == nil {
			c.err = ErrConnectionClosed
		} else {
			c.err = fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
			c.logger.Debug().Err(cause).Msg("connection closed")
		}
		_ = c.conn.Close()
		c.mux.Close(c.err)
		close(c.done)
		metrics.ConnClosed()
	})
}
