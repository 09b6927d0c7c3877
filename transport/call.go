package transport

import (
	"context"
	"errors"

	"webthree-rpc/message"
)

var ErrCallAbandoned = errors.New("transport: call abandoned")

// Call is the pending-result handle of one request. It is resolved exactly
// once, by whoever removes it from the correlator's table.
type Call struct {
	Seq  uint16
	Type message.Type

	owner *Correlator
	done  chan struct{}
	reply message.Message
	err   error
}

// Done is closed when the call resolves.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome. Valid only after Done is closed.
func (c *Call) Result() (message.Message, error) {
	return c.reply, c.err
}

// Wait blocks the calling goroutine until the reply arrives or ctx ends.
// A cancelled wait abandons the call; a late reply is then dropped.
func (c *Call) Wait(ctx context.Context) (message.Message, error) {
	select {
	case <-c.done:
		return c.reply, c.err
	case <-ctx.Done():
		c.Abandon()
		// the reply may have won the race
		select {
		case <-c.done:
			if !errors.Is(c.err, ErrCallAbandoned) {
				return c.reply, c.err
			}
		default:
		}
		return message.Message{}, ctx.Err()
	}
}

// Abandon stops waiting for the reply.
func (c *Call) Abandon() {
	c.owner.abandon(c)
}

func (c *Call) resolve(reply message.Message, err error) {
	c.reply = reply
	c.err = err
	close(c.done)
}
