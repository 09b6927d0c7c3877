// Package mux routes decoded frames to the binding registered for their
// service id.
//
// One Mux belongs to one connection. A service id carries at most one
// RequestHandler (server side) and at most one ReplyResolver (client side), so
// a connection may both serve and consume the same service:
//
//	frame ──Decode──→ Route ──request──→ handlers[svc].HandleRequest
//	                        └─reply────→ resolvers[svc].ResolveReply
package mux

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"webthree-rpc/message"
	"webthree-rpc/protocol"
)

var (
	ErrBindingExists         = errors.New("mux: binding already registered")
	ErrMessageServiceInvalid = errors.New("mux: no binding for service")
	ErrClosed                = errors.New("mux: closed")
)

// RequestHandler consumes requests addressed to a service.
type RequestHandler interface {
	HandleRequest(msg message.Message) error
}

// ReplyResolver consumes replies addressed to a service.
type ReplyResolver interface {
	ResolveReply(msg message.Message) error
}

// Closer is implemented by bindings that need to know when the connection
// goes away.
type Closer interface {
	CloseBinding(err error)
}

type entry struct {
	handler  RequestHandler
	resolver ReplyResolver
}

type Mux struct {
	mu       sync.RWMutex
	services map[message.ServiceID]*entry
	limits   protocol.Limits
	closed   bool
}

func New(limits protocol.Limits) *Mux {
	return &Mux{
		services: make(map[message.ServiceID]*entry),
		limits:   limits.WithDefaults(),
	}
}

func (m *Mux) Limits() protocol.Limits {
	return m.limits
}

func (m *Mux) RegisterHandler(id message.ServiceID, h RequestHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	e := m.entryLocked(id)
	if e.handler != nil {
		return fmt.Errorf("%w: handler for service %s", ErrBindingExists, id)
	}
	e.handler = h
	return nil
}

func (m *Mux) RegisterResolver(id message.ServiceID, r ReplyResolver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	e := m.entryLocked(id)
	if e.resolver != nil {
		return fmt.Errorf("%w: resolver for service %s", ErrBindingExists, id)
	}
	e.resolver = r
	return nil
}

func (m *Mux) entryLocked(id message.ServiceID) *entry {
	e, ok := m.services[id]
	if !ok {
		e = &entry{}
		m.services[id] = e
	}
	return e
}

// Unregister removes both bindings of id. It does not close them.
func (m *Mux) Unregister(id message.ServiceID) {
	m.mu.Lock()
	delete(m.services, id)
	m.mu.Unlock()
}

// Services lists the registered service ids in ascending order.
func (m *Mux) Services() []message.ServiceID {
	m.mu.RLock()
	ids := make([]message.ServiceID, 0, len(m.services))
	for id := range m.services {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Dispatch decodes one frame and routes it. Errors describe a dropped frame;
// none of them invalidate the stream.
func (m *Mux) Dispatch(frame []byte) error {
	msg, err := protocol.Decode(frame, m.limits)
	if err != nil {
		return err
	}
	return m.Route(msg)
}

// Route delivers an already decoded message. The registry lock is released
// before the binding runs, so bindings may register or unregister services.
func (m *Mux) Route(msg message.Message) error {
	m.mu.RLock()
	var (
		handler  RequestHandler
		resolver ReplyResolver
	)
	if e, ok := m.services[msg.Service]; ok {
		handler, resolver = e.handler, e.resolver
	}
	m.mu.RUnlock()

	if msg.IsReply() {
		if resolver == nil {
			return fmt.Errorf("%w: %s reply for service %s", ErrMessageServiceInvalid, msg.Type, msg.Service)
		}
		return resolver.ResolveReply(msg)
	}
	if handler == nil {
		return fmt.Errorf("%w: %s request for service %s", ErrMessageServiceInvalid, msg.Type, msg.Service)
	}
	return handler.HandleRequest(msg)
}

// Close empties the registry and notifies every binding implementing Closer.
// Later registrations fail with ErrClosed.
func (m *Mux) Close(err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	services := m.services
	m.services = make(map[message.ServiceID]*entry)
	m.mu.Unlock()

	for _, e := range services {
		if c, ok := e.handler.(Closer); ok {
			c.CloseBinding(err)
		}
		if c, ok := e.resolver.(Closer); ok && any(e.resolver) != any(e.handler) {
			c.CloseBinding(err)
		}
	}
}
