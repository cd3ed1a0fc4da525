// Package wsclient is the client side of the relay: one socket, a status,
// and a send that never queues.
package wsclient

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/runframe/agentrelay/internal/events"
	"github.com/runframe/agentrelay/internal/logger"
)

type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
	StatusError      Status = "error"
)

var ErrNotOpen = errors.New("relay connection is not open")

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeWait               = 10 * time.Second
)

// SendFunc transmits one event on an open connection.
type SendFunc func(events.Event) error

type Options struct {
	// OnMessage receives every well-formed inbound event, in order.
	OnMessage func(events.Event)
	// OnOpen runs once after the handshake, before any inbound event is
	// delivered.
	OnOpen func(send SendFunc)
	// OnStatus is called synchronously on every status change.
	OnStatus func(Status)

	Header           http.Header
	HandshakeTimeout time.Duration
}

// Conn is a single relay connection. It does not reconnect; callers that
// want a fresh socket call Connect again.
type Conn struct {
	url  string
	opts Options

	mu      sync.Mutex
	status  Status
	ws      *websocket.Conn
	closing bool

	writeMu sync.Mutex
	done    chan struct{}
}

// Connect starts dialing url and returns at once with status connecting.
func Connect(url string, opts Options) *Conn {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	c := &Conn{
		url:    url,
		opts:   opts,
		status: StatusConnecting,
		done:   make(chan struct{}),
	}
	if opts.OnStatus != nil {
		opts.OnStatus(StatusConnecting)
	}
	go c.run()
	return c
}

func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Done is closed once the connection has reached closed or error.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(s)
	}
}

func (c *Conn) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Conn) run() {
	defer close(c.done)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.opts.HandshakeTimeout,
	}
	ws, _, err := dialer.Dial(c.url, c.opts.Header)
	if err != nil {
		if c.isClosing() {
			c.setStatus(StatusClosed)
			return
		}
		logger.Warn("Relay dial %s failed: %v", c.url, err)
		c.setStatus(StatusError)
		return
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		ws.Close()
		c.setStatus(StatusClosed)
		return
	}
	c.ws = ws
	c.mu.Unlock()

	c.setStatus(StatusOpen)
	if c.opts.OnOpen != nil {
		c.opts.OnOpen(c.Send)
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.isClosing() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.setStatus(StatusClosed)
			} else {
				logger.Warn("Relay connection lost: %v", err)
				c.setStatus(StatusError)
			}
			ws.Close()
			return
		}

		ev, err := events.Parse(data)
		if err != nil {
			logger.Warn("Dropping unparseable relay frame: %v", err)
			continue
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(ev)
		}
	}
}

// Send writes ev as one text frame. When the connection is not open the
// event is dropped with a warning and ErrNotOpen is returned.
func (c *Conn) Send(ev events.Event) error {
	c.mu.Lock()
	ws, status := c.ws, c.status
	c.mu.Unlock()
	if status != StatusOpen || ws == nil {
		logger.Warn("Relay connection %s, cannot send %s", status, ev.Type)
		return ErrNotOpen
	}

	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", ev.Type, err)
	}
	return nil
}

// Close sends a normal close frame and tears the socket down. It does not
// wait for the read loop; use Done for that.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		return nil
	}
	c.writeMu.Lock()
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		ws.Close()
		return fmt.Errorf("close relay connection: %w", err)
	}
	// The read loop sees the peer's close reply; force it if the peer is slow.
	time.AfterFunc(time.Second, func() { ws.Close() })
	return nil
}
