package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/runframe/agentrelay/internal/auth"
	"github.com/runframe/agentrelay/internal/events"
	"github.com/runframe/agentrelay/internal/logger"
	"github.com/runframe/agentrelay/internal/metrics"
	"github.com/runframe/agentrelay/internal/netutil"
)

const (
	defaultWriteWait  = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultSendBuffer = 256
)

// Options tunes the socket layer. Zero values pick defaults.
type Options struct {
	// AllowedOrigins lists browser origins allowed to connect. Empty allows
	// loopback origins only; "*" allows any.
	AllowedOrigins  []string
	Auth            *auth.Service
	MaxMessageBytes int64
	SendBuffer      int
	WriteWait       time.Duration
	PongWait        time.Duration
}

// Server accepts WebSocket connections and gives each its own Handler.
type Server struct {
	factory  HandlerFactory
	opts     Options
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   map[*conn]struct{}
	closing bool
	wg      sync.WaitGroup
	httpSrv *http.Server
}

func NewServer(factory HandlerFactory, opts Options) *Server {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}
	s := &Server{
		factory: factory,
		opts:    opts,
		conns:   make(map[*conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 16384,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // Allow non-browser clients
	}
	return netutil.OriginAllowed(origin, s.opts.AllowedOrigins)
}

// Mount attaches the relay to an existing router at path.
func (s *Server) Mount(r chi.Router, path string) {
	r.Get(path, s.ServeHTTP)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.opts.Auth.Enabled() {
		if _, err := s.opts.Auth.Authenticate(r); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Relay WebSocket upgrade failed: %v", err)
		return
	}
	if s.opts.MaxMessageBytes > 0 {
		ws.SetReadLimit(s.opts.MaxMessageBytes)
	}

	c := &conn{
		id:   uuid.New().String(),
		srv:  s,
		ws:   ws,
		send: make(chan []byte, s.opts.SendBuffer),
		done: make(chan struct{}),
	}
	c.handler = s.factory(c.id)

	if !s.add(c) {
		ws.Close()
		return
	}
	logger.WS("connected", fmt.Sprintf("%s %s", short(c.id), r.RemoteAddr))

	s.wg.Add(2)
	go c.writePump()
	c.handler.OnConnect(c.enqueue)
	go c.readPump()
}

func (s *Server) add(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) remove(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// ConnectionCount returns the number of open sockets.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Start binds addr and serves the relay at path until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr, path string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln, path)
}

// Serve runs a standalone HTTP server on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener, path string) error {
	if path == "" {
		path = "/"
	}
	r := chi.NewRouter()
	s.Mount(r, path)

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

// Shutdown closes every socket and waits for their pumps to exit. Routing
// state is not persisted; clients must identify again after a restart.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	httpSrv := s.httpSrv
	s.mu.Unlock()

	var err error
	if httpSrv != nil {
		err = httpSrv.Shutdown(ctx)
	}
	for _, c := range conns {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

type conn struct {
	id      string
	srv     *Server
	ws      *websocket.Conn
	handler Handler

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// enqueue is the connection's SendFunc.
func (c *conn) enqueue(ev events.Event) {
	data, err := ev.Marshal()
	if err != nil {
		logger.Error("Failed to marshal %s for %s: %v", ev.Type, short(c.id), err)
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		logger.Warn("Dropping %s: send buffer full", short(c.id))
		metrics.DroppedClients.Inc()
		c.close()
	}
}

func (c *conn) readPump() {
	defer func() {
		c.close()
		c.handler.OnDisconnect()
		c.srv.remove(c)
		logger.WS("disconnected", short(c.id))
		c.srv.wg.Done()
	}()

	pongWait := c.srv.opts.PongWait
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("Relay read error on %s: %v", short(c.id), err)
			}
			return
		}

		ev, err := events.Parse(data)
		if err != nil {
			logger.Warn("Malformed frame from %s: %v", short(c.id), err)
			metrics.ProtocolErrors.WithLabelValues("malformed").Inc()
			c.enqueue(events.ErrorReply(MsgInternalError))
			continue
		}

		if err := c.dispatch(ev); err != nil {
			logger.Error("Relay handler error on %s: %v", short(c.id), err)
			metrics.ProtocolErrors.WithLabelValues("handler").Inc()
			c.enqueue(events.ErrorReply(MsgInternalError))
		}
	}
}

// dispatch keeps a panicking handler from taking the process down.
func (c *conn) dispatch(ev events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling %s: %v", ev.Type, r)
		}
	}()
	return c.handler.OnMessage(ev, c.enqueue)
}

func (c *conn) writePump() {
	pingPeriod := c.srv.opts.PongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		c.ws.Close()
		c.srv.wg.Done()
	}()

	writeWait := c.srv.opts.WriteWait
	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
