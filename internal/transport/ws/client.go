// Package ws carries the replication protocol over websockets: a relay
// server that fans requests out as notifications, and the participant
// client.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"coopsim.io/internal/protocol"
)

var (
	ErrQueueFull = errors.New("ws: send queue full")
	ErrClosed    = errors.New("ws: client closed")
)

type ClientOptions struct {
	Name      string
	SessionID string
	// SendQueue bounds outbound messages waiting for the writer.
	SendQueue int
	Logger    *slog.Logger
}

// Client is a participant connection. Send never blocks the simulation; it
// implements the replication transport.
type Client struct {
	conn    *websocket.Conn
	log     *slog.Logger
	welcome protocol.WelcomeMsg

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once

	dropped  atomic.Uint64
	received atomic.Uint64
}

// Dial connects to the relay and completes the HELLO / WELCOME handshake.
func Dial(ctx context.Context, url string, opts ClientOptions) (*Client, error) {
	if opts.SendQueue <= 0 {
		opts.SendQueue = 256
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if err := writeJSON(conn, protocol.HelloMsg{ParticipantName: opts.Name, SessionID: opts.SessionID}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("welcome: %w", err)
	}
	msg, err := protocol.Decode(raw)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("welcome: %w", err)
	}
	welcome, ok := msg.(protocol.WelcomeMsg)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("welcome: unexpected %s", msg.MessageType())
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:    conn,
		log:     opts.Logger.With("component", "ws_client", "participant", welcome.ParticipantID),
		welcome: welcome,
		out:     make(chan []byte, opts.SendQueue),
		done:    make(chan struct{}),
	}
	go c.writeLoop()
	return c, nil
}

func (c *Client) Welcome() protocol.WelcomeMsg { return c.welcome }

func (c *Client) Send(m protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	select {
	case c.out <- b:
		return nil
	default:
		c.dropped.Add(1)
		return ErrQueueFull
	}
}

// pingEvery keeps the relay's read deadline moving on idle connections.
const pingEvery = 20 * time.Second

func (c *Client) writeLoop() {
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				_ = c.Close()
				return
			}
		case b := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.log.Warn("write failed", "err", err)
				_ = c.Close()
				return
			}
		}
	}
}

// Run reads notifications and hands them to deliver until ctx is done or the
// connection fails. Invalid messages are logged and skipped.
func (c *Client) Run(ctx context.Context, deliver func(protocol.Message) bool) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return nil
			default:
			}
			_ = c.Close()
			return err
		}
		msg, err := protocol.Decode(raw)
		if err != nil {
			c.log.Warn("invalid message from relay", "err", err)
			continue
		}
		c.received.Add(1)
		if !deliver(msg) {
			c.log.Debug("notification refused", "type", msg.MessageType())
		}
	}
}

// Dropped counts outbound messages refused because the queue was full.
func (c *Client) Dropped() uint64  { return c.dropped.Load() }
func (c *Client) Received() uint64 { return c.received.Load() }

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}
