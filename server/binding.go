package server

import (
	"context"

	"github.com/rs/zerolog/log"

	"webthree-rpc/message"
	"webthree-rpc/transport"
)

// Binding serves one service on one connection. Each request is handled on
// its own goroutine so a slow call never holds up the read loop or the
// requests behind it.
type Binding struct {
	svr    *Server
	svc    *Service
	conn   transport.Sender
	ctx    context.Context
	cancel context.CancelFunc
}

func newBinding(svr *Server, svc *Service, conn transport.Sender) *Binding {
	ctx, cancel := context.WithCancel(context.Background())
	return &Binding{svr: svr, svc: svc, conn: conn, ctx: ctx, cancel: cancel}
}

func (b *Binding) HandleRequest(msg message.Message) error {
	// Track this request for graceful shutdown (wg.Wait ensures all in-flight requests complete).
	// The flag check and Add share svr.mu with Shutdown, so no Add follows Wait.
	b.svr.mu.Lock()
	if b.svr.shutdown.Load() {
		b.svr.mu.Unlock()
		b.send(msg, b.svr.errorReply(msg, &requestError{code: message.CodeUnavailable, err: ErrShuttingDown}))
		return nil
	}
	b.svr.wg.Add(1)
	b.svr.mu.Unlock()
	go b.handle(msg)
	return nil
}

// CloseBinding cancels requests still running for the connection.
func (b *Binding) CloseBinding(error) {
	b.cancel()
}

func (b *Binding) handle(req message.Message) {
	defer b.svr.wg.Done()

	var out message.Message
	reply, err := b.invoke(req)
	if err != nil {
		out = b.svr.errorReply(req, err)
	} else {
		out = *reply
	}

	// Same seq as request: this is how the client matches the reply
	b.send(req, out)
}

func (b *Binding) send(req, out message.Message) {
	if err := b.conn.Send(out); err != nil {
		log.Debug().Err(err).
			Str("service", req.Service.String()).
			Str("type", req.Type.String()).
			Uint16("seq", req.Seq).
			Msg("reply not sent")
	}
}

// invoke runs the handler chain. A panic in a middleware still produces a
// reply, so the caller's pending call is settled.
func (b *Binding) invoke(req message.Message) (reply *message.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			reply, err = nil, panicError(b.svc.name, req.Type, r)
		}
	}()
	return b.svr.handler(b.ctx, &req)
}
