// Package server implements the RPC server with service registration, middleware chain,
// parallel request processing, and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → transport.Conn.Serve (single goroutine reads frames)
//	  → mux.Dispatch → Binding.HandleRequest → go handle (parallel processing)
//	    → Middleware Chain → businessHandler (Codec.Decode → reflect.Call → Codec.Encode) → Conn.Send
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"webthree-rpc/codec"
	"webthree-rpc/message"
	"webthree-rpc/middleware"
	"webthree-rpc/mux"
	"webthree-rpc/protocol"
	"webthree-rpc/registry"
	"webthree-rpc/transport"
)

const DefaultRegistryTTL = 10 // seconds

var (
	ErrServiceExists = errors.New("server: service already registered")
	ErrShuttingDown  = errors.New("server: shutting down")
)

// requestError marks a failure of the request itself rather than of the
// service behind it.
type requestError struct {
	code message.ErrorCode
	err  error
}

func (e *requestError) Error() string                { return e.err.Error() }
func (e *requestError) Unwrap() error                { return e.err }
func (e *requestError) ErrorCode() message.ErrorCode { return e.code }

func panicError(service string, typ message.Type, r any) error {
	log.Error().
		Str("service", service).
		Str("type", typ.String()).
		Interface("panic", r).
		Bytes("stack", debug.Stack()).
		Msg("handler panicked")
	return &requestError{code: message.CodeInternal, err: fmt.Errorf("server: %s %s panicked: %v", service, typ, r)}
}

// Server is the RPC server that registers services and handles incoming connections.
type Server struct {
	mu            sync.Mutex
	serviceMap    map[message.ServiceID]*Service
	listener      net.Listener
	conns         map[*transport.Conn]struct{}
	wg            sync.WaitGroup          // Tracks in-flight requests for graceful shutdown
	shutdown      atomic.Bool             // Set to true during shutdown to suppress Accept errors
	middlewares   []middleware.Middleware // Registered middlewares (applied in order)
	handler       middleware.HandlerFunc  // middleware(middleware(...(businessHandler)))
	registry      registry.Registry       // nil if not using discovery
	advertiseAddr string                  // Address registered in the registry, routable unlike ":8080"

	codec       codec.Codec
	limits      protocol.Limits
	registryTTL int64
	weight      int
	version     string
}

type Option func(*Server)

func WithCodec(c codec.Codec) Option {
	return func(s *Server) { s.codec = c }
}

func WithLimits(l protocol.Limits) Option {
	return func(s *Server) { s.limits = l.WithDefaults() }
}

// WithRegistry sets the lease TTL (seconds) and the weight and version
// published for each service.
func WithRegistry(ttl int64, weight int, version string) Option {
	return func(s *Server) {
		if ttl > 0 {
			s.registryTTL = ttl
		}
		s.weight = weight
		s.version = version
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		serviceMap:  make(map[message.ServiceID]*Service),
		conns:       make(map[*transport.Conn]struct{}),
		codec:       &codec.RLPCodec{},
		limits:      protocol.DefaultLimits(),
		registryTTL: DefaultRegistryTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.businessHandler
	return s
}

// Register adds a service. Register before Serve.
func (svr *Server) Register(svc *Service) error {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if _, ok := svr.serviceMap[svc.id]; ok {
		return fmt.Errorf("%w: %s", ErrServiceExists, svc.id)
	}
	svr.serviceMap[svc.id] = svc
	return nil
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on address and serves until Shutdown.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener serves connections accepted from ln. When reg is non-nil every
// service is published under advertiseAddr, or ln's address when empty.
func (svr *Server) ServeListener(ln net.Listener, advertiseAddr string, reg registry.Registry) error {
	// Build the middleware chain once at startup (not per-request)
	//   Chain(A, B, C)(handler) → A(B(C(handler)))
	svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)

	if advertiseAddr == "" {
		advertiseAddr = ln.Addr().String()
	}
	svr.mu.Lock()
	svr.listener = ln
	svr.advertiseAddr = advertiseAddr
	svr.registry = reg
	services := svr.servicesLocked()
	svr.mu.Unlock()

	if reg != nil {
		for _, svc := range services {
			err := reg.Register(context.Background(), svc.name, registry.ServiceInstance{
				Addr:    advertiseAddr,
				Weight:  svr.weight,
				Version: svr.version,
			}, svr.registryTTL)
			if err != nil {
				return fmt.Errorf("server: register %s: %w", svc.name, err)
			}
		}
	}
	log.Info().Str("addr", ln.Addr().String()).Str("advertise", advertiseAddr).Msg("serving")

	// Accept loop: one goroutine per connection
	for {
		conn, err := ln.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an error.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// Addr returns the listening address, nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

func (svr *Server) servicesLocked() []*Service {
	services := make([]*Service, 0, len(svr.serviceMap))
	for _, svc := range svr.serviceMap {
		services = append(services, svc)
	}
	return services
}

// handleConn binds every registered service to a fresh connection and runs
// its read loop.
func (svr *Server) handleConn(nc net.Conn) {
	m := mux.New(svr.limits)
	conn := transport.NewConn(nc, m)

	svr.mu.Lock()
	if svr.shutdown.Load() {
		svr.mu.Unlock()
		conn.Close()
		return
	}
	svr.conns[conn] = struct{}{}
	services := svr.servicesLocked()
	svr.mu.Unlock()

	for _, svc := range services {
		if err := m.RegisterHandler(svc.id, newBinding(svr, svc, conn)); err != nil {
			log.Error().Err(err).Msg("bind service")
		}
	}

	err := conn.Serve()
	log.Debug().Err(err).Str("remote", nc.RemoteAddr().String()).Msg("connection done")

	svr.mu.Lock()
	delete(svr.conns, conn)
	svr.mu.Unlock()
}

// businessHandler dispatches a request to its service method. It is wrapped
// by the middleware chain and has the HandlerFunc signature.
//
// Flow: find service → find method → reflect.New(args) → Codec.Decode →
// reflect.Call → Codec.Encode(reply) → reply message
func (svr *Server) businessHandler(ctx context.Context, req *message.Message) (*message.Message, error) {
	svr.mu.Lock()
	svc := svr.serviceMap[req.Service]
	svr.mu.Unlock()
	if svc == nil {
		return nil, &requestError{code: message.CodeUnknownType, err: fmt.Errorf("server: no service %s", req.Service)}
	}
	method := svc.method[req.Type]
	if method == nil {
		return nil, &requestError{code: message.CodeUnknownType, err: fmt.Errorf("server: %s does not serve %s", svc.name, req.Type)}
	}

	argv := reflect.New(method.ArgType)
	replyv := reflect.New(method.ReplyType)

	if err := svr.codec.Decode(req.Payload, argv.Interface()); err != nil {
		return nil, &requestError{code: message.CodeMalformedRequest, err: fmt.Errorf("server: decode %s: %w", req.Type, err)}
	}

	if err := svc.Call(ctx, method, argv, replyv); err != nil {
		return nil, err
	}

	payload, err := svr.codec.Encode(replyv.Interface())
	if err != nil {
		return nil, fmt.Errorf("server: encode %s reply: %w", req.Type, err)
	}
	reply := req.Reply(payload)
	return &reply, nil
}

// errorReply turns err into a TypeError reply carrying a RemoteError.
func (svr *Server) errorReply(req message.Message, err error) message.Message {
	remote := message.ToRemote(err)
	payload, encErr := svr.codec.Encode(remote)
	if encErr != nil {
		log.Error().Err(encErr).Msg("encode error reply")
		payload, _ = svr.codec.Encode(&message.RemoteError{Code: message.CodeInternal, Message: "internal error"})
	}
	return req.ErrorReply(payload)
}

// Shutdown performs graceful shutdown:
//  1. Deregister all services (clients stop routing to this server)
//  2. Set shutdown flag (so Accept error is recognized as intentional)
//  3. Close the listener (stop accepting new connections)
//  4. Wait for in-flight requests to finish (with timeout)
//  5. Close the remaining connections
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.mu.Lock()
	reg, addr, ln := svr.registry, svr.advertiseAddr, svr.listener
	services := svr.servicesLocked()
	svr.mu.Unlock()

	if reg != nil {
		for _, svc := range services {
			if err := reg.Deregister(context.Background(), svc.name, addr); err != nil {
				log.Warn().Err(err).Str("service", svc.name).Msg("deregister")
			}
		}
	}

	svr.mu.Lock()
	svr.shutdown.Store(true)
	svr.mu.Unlock()
	if ln != nil {
		ln.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("server: timeout waiting for ongoing requests to finish")
	}

	svr.mu.Lock()
	conns := make([]*transport.Conn, 0, len(svr.conns))
	for c := range svr.conns {
		conns = append(conns, c)
	}
	svr.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	return err
}
