package client

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"webthree-rpc/codec"
	"webthree-rpc/ethrpc"
	"webthree-rpc/message"
	"webthree-rpc/middleware"
	"webthree-rpc/mux"
	"webthree-rpc/protocol"
	"webthree-rpc/transport"
)

type Options struct {
	Codec       codec.Codec
	Limits      protocol.Limits
	DialTimeout time.Duration
	CallTimeout time.Duration // per attempt; 0 leaves calls bounded by their context only
	Heartbeat   time.Duration // 0 disables keep-alive pings
	MaxRetries  int
	RetryDelay  time.Duration
	BalanceKey  string // key for key-affine balancers
	Middlewares []middleware.Middleware
}

func DefaultOptions() Options {
	return Options{
		Codec:       &codec.RLPCodec{},
		Limits:      protocol.DefaultLimits(),
		DialTimeout: 5 * time.Second,
		CallTimeout: 10 * time.Second,
		Heartbeat:   30 * time.Second,
		RetryDelay:  100 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Codec == nil {
		o.Codec = def.Codec
	}
	o.Limits = o.Limits.WithDefaults()
	if o.DialTimeout <= 0 {
		o.DialTimeout = def.DialTimeout
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = def.RetryDelay
	}
	return o
}

// Session is one multiplexed connection to a server. Every caller shares
// it; requests are told apart by sequence number.
type Session struct {
	addr    string
	conn    *transport.Conn
	eth     *transport.Correlator
	control *transport.Correlator
	client  *ethrpc.Client
	pings   atomic.Uint64
}

// Dial connects to addr and starts the session's read loop and heartbeat.
func Dial(ctx context.Context, addr string, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	dialer := net.Dialer{Timeout: opts.DialTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewSession(nc, opts), nil
}

// NewSession runs a session over an established connection.
func NewSession(nc net.Conn, opts Options) *Session {
	opts = opts.withDefaults()
	m := mux.New(opts.Limits)
	conn := transport.NewConn(nc, m)

	s := &Session{
		addr:    nc.RemoteAddr().String(),
		conn:    conn,
		eth:     transport.NewCorrelator(message.ServiceEthereum, conn, opts.Codec),
		control: transport.NewCorrelator(message.ServiceControl, conn, opts.Codec),
	}
	// fresh mux: registration cannot collide
	_ = m.RegisterResolver(message.ServiceEthereum, s.eth)
	_ = m.RegisterResolver(message.ServiceControl, s.control)

	chain := s.chain(opts)
	s.client = ethrpc.NewClient(chain(s.eth.Invoke), chain(s.control.Invoke), opts.Codec)

	go conn.Serve()
	if opts.Heartbeat > 0 {
		go s.heartbeatLoop(opts.Heartbeat)
	}
	return s
}

// chain builds the client pipeline:
// caller → user middlewares → logging → metrics → retry → timeout → correlator.
func (s *Session) chain(opts Options) middleware.Middleware {
	mws := append([]middleware.Middleware{}, opts.Middlewares...)
	mws = append(mws, middleware.LoggingMiddleware(), middleware.MetricsMiddleware("client"))
	if opts.MaxRetries > 0 {
		mws = append(mws, middleware.RetryMiddleware(opts.MaxRetries, opts.RetryDelay))
	}
	if opts.CallTimeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(opts.CallTimeout))
	}
	return middleware.Chain(mws...)
}

// Eth returns the session's eth.Interface implementation.
func (s *Session) Eth() *ethrpc.Client {
	return s.client
}

func (s *Session) Addr() string {
	return s.addr
}

// Pending reports outstanding eth and control requests.
func (s *Session) Pending() int {
	return s.eth.Pending() + s.control.Pending()
}

func (s *Session) Done() <-chan struct{} {
	return s.conn.Done()
}

func (s *Session) Err() error {
	return s.conn.Err()
}

// Close fails outstanding calls with transport.ErrConnectionClosed.
func (s *Session) Close() error {
	return s.conn.Close()
}

// heartbeatLoop pings the control service every interval. A ping that is not
// answered within the interval closes the session.
func (s *Session) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.conn.Done():
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		err := s.client.Ping(ctx, s.pings.Add(1))
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", s.addr).Msg("heartbeat failed, closing session")
			s.Close()
			return
		}
	}
}
