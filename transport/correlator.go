package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"webthree-rpc/codec"
	"webthree-rpc/message"
	"webthree-rpc/metrics"
)

var (
	ErrTooManyPending  = errors.New("transport: all sequence numbers in use")
	ErrCorrelationMiss = errors.New("transport: reply matches no pending request")
	ErrUnexpectedReply = errors.New("transport: reply type does not match request")
)

const maxPending = 1 << 16

// Correlator is the client binding of one service on one connection. It
// assigns sequence numbers to outgoing requests and matches replies back to
// their callers, whatever order the replies arrive in.
//
// The table lock is held only for insert, lookup and remove; never across a
// send or a caller's wait.
type Correlator struct {
	service message.ServiceID
	sender  Sender
	codec   codec.Codec

	mu        sync.Mutex
	seq       uint16 // next candidate sequence number
	pending   map[uint16]*Call
	abandoned map[uint16]struct{}
	closed    error
}

func NewCorrelator(service message.ServiceID, sender Sender, cdc codec.Codec) *Correlator {
	return &Correlator{
		service:   service,
		sender:    sender,
		codec:     cdc,
		pending:   make(map[uint16]*Call),
		abandoned: make(map[uint16]struct{}),
	}
}

func (c *Correlator) Service() message.ServiceID {
	return c.service
}

func (c *Correlator) Codec() codec.Codec {
	return c.codec
}

// PerformRequest sends a request and returns its handle. The entry is in the
// table before the frame leaves, so the reply can never outrun it.
func (c *Correlator) PerformRequest(typ message.Type, payload []byte) (*Call, error) {
	c.mu.Lock()
	if c.closed != nil {
		err := c.closed
		c.mu.Unlock()
		return nil, err
	}
	// an abandoned number stays busy until its late reply arrives
	if len(c.pending)+len(c.abandoned) >= maxPending {
		c.mu.Unlock()
		return nil, ErrTooManyPending
	}
	seq := c.seq
	for c.busyLocked(seq) {
		seq++
	}
	c.seq = seq + 1

	call := &Call{Seq: seq, Type: typ, owner: c, done: make(chan struct{})}
	c.pending[seq] = call
	c.mu.Unlock()
	metrics.AddPending(c.service.String(), 1)

	err := c.sender.Send(message.Message{Service: c.service, Type: typ, Seq: seq, Payload: payload})
	if err != nil {
		if c.remove(call) {
			call.resolve(message.Message{}, err)
		}
		return nil, err
	}
	return call, nil
}

// Invoke performs req and waits for the reply. Only req.Type and req.Payload
// are used; service and sequence number are assigned here.
func (c *Correlator) Invoke(ctx context.Context, req *message.Message) (*message.Message, error) {
	call, err := c.PerformRequest(req.Type, req.Payload)
	if err != nil {
		return nil, err
	}
	reply, err := call.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

// ResolveReply settles the pending call with msg.Seq. Error replies resolve
// the call with the decoded *message.RemoteError. A reply for an abandoned
// call is dropped silently.
func (c *Correlator) ResolveReply(msg message.Message) error {
	c.mu.Lock()
	call, ok := c.pending[msg.Seq]
	if !ok {
		_, wasAbandoned := c.abandoned[msg.Seq]
		delete(c.abandoned, msg.Seq)
		c.mu.Unlock()
		if wasAbandoned {
			return nil
		}
		metrics.RecordCorrelationMiss(c.service.String())
		return fmt.Errorf("%w: %s", ErrCorrelationMiss, msg)
	}
	delete(c.pending, msg.Seq)
	c.mu.Unlock()
	metrics.AddPending(c.service.String(), -1)

	switch msg.Type {
	case message.ReplyType(call.Type):
		call.resolve(msg, nil)
		return nil
	case message.TypeError:
		var remote message.RemoteError
		if err := c.codec.Decode(msg.Payload, &remote); err != nil {
			call.resolve(message.Message{}, fmt.Errorf("transport: undecodable error reply: %w", err))
			return nil
		}
		call.resolve(msg, &remote)
		return nil
	default:
		err := fmt.Errorf("%w: got %s for %s", ErrUnexpectedReply, msg.Type, call.Type)
		call.resolve(message.Message{}, err)
		return err
	}
}

// CloseBinding fails every pending call; later requests fail immediately.
func (c *Correlator) CloseBinding(cause error) {
	if cause == nil {
		cause = ErrConnectionClosed
	} else if !errors.Is(cause, ErrConnectionClosed) {
		cause = fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
	}

	c.mu.Lock()
	if c.closed != nil {
		c.mu.Unlock()
		return
	}
	c.closed = cause
	calls := c.pending
	c.pending = make(map[uint16]*Call)
	c.abandoned = make(map[uint16]struct{})
	c.mu.Unlock()

	metrics.AddPending(c.service.String(), -float64(len(calls)))
	for _, call := range calls {
		call.resolve(message.Message{}, cause)
	}
}

// Pending reports the number of calls awaiting a reply.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) IsPending(seq uint16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[seq]
	return ok
}

func (c *Correlator) busyLocked(seq uint16) bool {
	if _, ok := c.pending[seq]; ok {
		return true
	}
	_, ok := c.abandoned[seq]
	return ok
}

func (c *Correlator) remove(call *Call) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[call.Seq] != call {
		return false
	}
	delete(c.pending, call.Seq)
	metrics.AddPending(c.service.String(), -1)
	return true
}

func (c *Correlator) abandon(call *Call) {
	c.mu.Lock()
	if c.pending[call.Seq] != call {
		c.mu.Unlock()
		return
	}
	delete(c.pending, call.Seq)
	c.abandoned[call.Seq] = struct{}{}
	c.mu.Unlock()
	metrics.AddPending(c.service.String(), -1)
	call.resolve(message.Message{}, ErrCallAbandoned)
}
