// Package loopback is an in-process relay. Every request goes through the
// same encode, validate, NotifyFor and fanout path as the websocket relay,
// which makes it the transport of choice for multi-participant tests.
package loopback

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"coopsim.io/internal/protocol"
)

var ErrClosed = errors.New("loopback: connection closed")

type Hub struct {
	mu    sync.Mutex
	conns []*Conn
	next  int

	relayed  atomic.Uint64
	rejected atomic.Uint64
}

func NewHub() *Hub { return &Hub{} }

// Join adds a participant. Notifications are dropped until OnReceive is
// set.
func (h *Hub) Join(name string) *Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	c := &Conn{hub: h, id: fmt.Sprintf("p%d", h.next), name: name}
	h.conns = append(h.conns, c)
	return c
}

func (h *Hub) leave(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, x := range h.conns {
		if x == c {
			h.conns = append(h.conns[:i:i], h.conns[i+1:]...)
			return
		}
	}
}

// Relayed counts requests fanned out to the other participants.
func (h *Hub) Relayed() uint64 { return h.relayed.Load() }

// Rejected counts requests that failed to encode or validate.
func (h *Hub) Rejected() uint64 { return h.rejected.Load() }

func (h *Hub) relay(from *Conn, m protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		h.rejected.Add(1)
		return err
	}
	decoded, err := protocol.Decode(b)
	if err != nil {
		h.rejected.Add(1)
		return err
	}
	n, ok := protocol.NotifyFor(decoded)
	if !ok {
		h.rejected.Add(1)
		return fmt.Errorf("loopback: %s is not a request", decoded.MessageType())
	}

	h.mu.Lock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		if c != from {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	h.relayed.Add(1)
	for _, c := range targets {
		c.deliver(n)
	}
	return nil
}

// Conn is one participant's end of the hub. It implements the replication
// transport.
type Conn struct {
	hub  *Hub
	id   string
	name string

	mu      sync.Mutex
	receive func(protocol.Message) bool
	closed  bool

	dropped atomic.Uint64
}

func (c *Conn) ID() string   { return c.id }
func (c *Conn) Name() string { return c.name }

// OnReceive sets the notification sink, typically a session's Deliver.
func (c *Conn) OnReceive(fn func(protocol.Message) bool) {
	c.mu.Lock()
	c.receive = fn
	c.mu.Unlock()
}

func (c *Conn) Send(m protocol.Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return c.hub.relay(c, m)
}

func (c *Conn) deliver(m protocol.Message) {
	c.mu.Lock()
	fn := c.receive
	c.mu.Unlock()
	if fn == nil || !fn(m) {
		c.dropped.Add(1)
	}
}

// Dropped counts notifications the receiver refused.
func (c *Conn) Dropped() uint64 { return c.dropped.Load() }

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.hub.leave(c)
	return nil
}
