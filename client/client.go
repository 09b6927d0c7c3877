// Package client connects to webthree-rpc servers found through a registry.
//
// A Client keeps at most one Session per server address. Sessions are
// multiplexed, so every caller picking the same instance shares one TCP
// connection; a load balancer decides which instance a caller gets.
package client

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"webthree-rpc/ethrpc"
	"webthree-rpc/loadbalance"
	"webthree-rpc/registry"
)

var ErrClientClosed = errors.New("client: closed")

type Client struct {
	registry registry.Registry // find service instance from registry
	balancer loadbalance.Balancer
	service  string
	opts     Options

	mu       sync.Mutex
	sessions map[string]*Session // one multiplexed session per instance address
	closed   bool
	cancel   context.CancelFunc
}

// NewClient watches service in reg and drops sessions to instances that
// leave it.
func NewClient(reg registry.Registry, bal loadbalance.Balancer, service string, opts Options) *Client {
	if bal == nil {
		bal = &loadbalance.RoundRobinBalancer{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		registry: reg,
		balancer: bal,
		service:  service,
		opts:     opts.withDefaults(),
		sessions: make(map[string]*Session),
		cancel:   cancel,
	}
	// subscribe before returning so no registry change is missed
	go c.watch(reg.Watch(ctx, service))
	return c
}

// Session picks an instance and returns its session, dialing on first use.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	instances, err := c.registry.Discover(ctx, c.service)
	if err != nil {
		return nil, err
	}
	instance, err := c.balancer.Pick(instances, c.opts.BalanceKey)
	if err != nil {
		return nil, err
	}
	return c.getSession(ctx, instance.Addr)
}

// Eth returns an eth.Interface backed by a picked instance.
func (c *Client) Eth(ctx context.Context) (*ethrpc.Client, error) {
	s, err := c.Session(ctx)
	if err != nil {
		return nil, err
	}
	return s.Eth(), nil
}

func (c *Client) getSession(ctx context.Context, addr string) (*Session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if s, ok := c.sessions[addr]; ok {
		select {
		case <-s.Done():
			delete(c.sessions, addr) // dead, dial again
		default:
			c.mu.Unlock()
			return s, nil
		}
	}
	c.mu.Unlock()

	// Dial without the lock; a concurrent dial to the same address may win
	s, err := Dial(ctx, addr, c.opts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		s.Close()
		return nil, ErrClientClosed
	}
	if existing, ok := c.sessions[addr]; ok {
		s.Close()
		return existing, nil
	}
	c.sessions[addr] = s
	log.Debug().Str("service", c.service).Str("addr", addr).Msg("session opened")
	return s, nil
}

func (c *Client) watch(updates <-chan []registry.ServiceInstance) {
	for instances := range updates {
		live := make(map[string]bool, len(instances))
		for _, inst := range instances {
			live[inst.Addr] = true
		}

		c.mu.Lock()
		var gone []*Session
		for addr, s := range c.sessions {
			if !live[addr] {
				gone = append(gone, s)
				delete(c.sessions, addr)
			}
		}
		c.mu.Unlock()

		for _, s := range gone {
			log.Info().Str("service", c.service).Str("addr", s.Addr()).Msg("instance left, closing session")
			s.Close()
		}
	}
}

// Sessions reports the number of open sessions.
func (c *Client) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Close stops the watch and closes every session.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sessions := c.sessions
	c.sessions = make(map[string]*Session)
	c.mu.Unlock()

	c.cancel()
	for _, s := range sessions {
		s.Close()
	}
	return nil
}
