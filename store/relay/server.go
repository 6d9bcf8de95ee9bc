package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"go-ripple/debug"
	"go-ripple/store/cache"
)

const (
	helloTimeout = 5 * time.Second
	writeTimeout = 5 * time.Second
	sendBuffer   = 64

	defaultRate  = rate.Limit(20)
	defaultBurst = 40
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the relay hub. It keeps the latest entry per key (remnants of
// departed participants included) and forwards new entries to everyone.
type Server struct {
	cache *cache.Cache

	mu      sync.Mutex
	entries map[string]Entry
	order   []string
	clients map[*conn]struct{}

	limit rate.Limit
	burst int
}

// Option configures a Server
type Option func(*Server)

// WithRateLimit sets the per-connection frame rate
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(s *Server) {
		s.limit = limit
		s.burst = burst
	}
}

type conn struct {
	ws      *websocket.Conn
	key     string
	send    chan []byte
	limiter *rate.Limiter
}

// NewServer creates a hub. With a cache, stored entries are reloaded and
// every accepted entry is persisted.
func NewServer(c *cache.Cache, opts ...Option) (*Server, error) {
	s := &Server{
		cache:   c,
		entries: make(map[string]Entry),
		clients: make(map[*conn]struct{}),
		limit:   defaultRate,
		burst:   defaultBurst,
	}
	for _, opt := range opts {
		opt(s)
	}

	if c != nil {
		items, err := c.All(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load cache: %w", err)
		}
		for _, it := range items {
			var e Entry
			if err := json.Unmarshal(it.Value, &e); err != nil || e.Verify() != nil {
				debug.Warn("relay", "dropping cached entry %s", short(it.Key))
				continue
			}
			s.entries[e.Key] = e
			s.order = append(s.order, e.Key)
		}
		debug.Log("relay", "loaded %d cached entries", len(s.entries))
	}
	return s, nil
}

// Handler serves the websocket at /ws and metrics at /metrics
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// ListenAndServe runs the hub on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("relay listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the hub on ln until ctx is cancelled. Websocket clients are
// disconnected on the way out so they start redialing.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		debug.Log("relay", "listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("relay listen: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.closeClients()
		if err != nil {
			return fmt.Errorf("relay shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("relay listen: %w", err)
		}
		return nil
	}
}

// closeClients drops every websocket; Shutdown does not track hijacked
// connections
func (s *Server) closeClients() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.ws.Close()
	}
	debug.Log("relay", "closed %d client connections", len(conns))
}

// Len returns the number of stored entries
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Warn("relay", "upgrade: %v", err)
		return
	}

	key, err := readHello(ws)
	if err != nil {
		relayRejected.WithLabelValues("handshake").Inc()
		debug.Warn("relay", "handshake: %v", err)
		ws.Close()
		return
	}

	c := &conn{
		ws:      ws,
		key:     key,
		send:    make(chan []byte, sendBuffer),
		limiter: rate.NewLimiter(s.limit, s.burst),
	}
	s.register(c)
	go c.writePump()
	s.readPump(c)
}

func readHello(ws *websocket.Conn) (string, error) {
	ws.SetReadDeadline(time.Now().Add(helloTimeout))
	defer ws.SetReadDeadline(time.Time{})

	var env Envelope
	if err := ws.ReadJSON(&env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if env.Type != msgHello {
		return "", fmt.Errorf("%w: expected hello, got %q", ErrHandshake, env.Type)
	}
	if _, err := decodeKey(env.Key); err != nil {
		return "", err
	}
	return env.Key, nil
}

// register adds c, sends it the snapshot and tells everyone else
func (s *Server) register(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Envelope{Type: msgSnapshot, Entries: make([]Entry, 0, len(s.order)), Active: len(s.clients)}
	for _, k := range s.order {
		snap.Entries = append(snap.Entries, s.entries[k])
	}
	c.enqueue(snap)

	s.clients[c] = struct{}{}
	active := len(s.clients) - 1
	s.broadcastLocked(c, Envelope{Type: msgPeerJoined, Key: c.key, Active: active})

	relayClients.Inc()
	debug.Log("relay", "client %s joined (clients=%d)", short(c.key), active+1)
}

func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
	s.broadcastLocked(nil, Envelope{Type: msgPeerLeft, Key: c.key, Active: len(s.clients) - 1})

	relayClients.Dec()
	debug.Log("relay", "client %s left", short(c.key))
}

// broadcastLocked queues env for every client except one
func (s *Server) broadcastLocked(except *conn, env Envelope) {
	for o := range s.clients {
		if o != except {
			o.enqueue(env)
		}
	}
}

func (s *Server) readPump(c *conn) {
	defer func() {
		s.unregister(c)
		c.ws.Close()
	}()

	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				debug.Warn("relay", "read %s: %v", short(c.key), err)
			}
			return
		}
		if !c.limiter.Allow() {
			relayRejected.WithLabelValues("rate").Inc()
			debug.LogEvery(50, "relay", "rate limited %s", short(c.key))
			continue
		}
		if env.Type != msgSet || env.Entry == nil {
			relayRejected.WithLabelValues("type").Inc()
			continue
		}
		s.accept(c, *env.Entry)
	}
}

// accept stores and forwards an entry written by c
func (s *Server) accept(c *conn, e Entry) {
	if e.Key != c.key {
		relayRejected.WithLabelValues("foreign-key").Inc()
		debug.Warn("relay", "%s tried to write %s", short(c.key), short(e.Key))
		return
	}
	if err := e.Verify(); err != nil {
		relayRejected.WithLabelValues("signature").Inc()
		debug.Warn("relay", "entry from %s: %v", short(c.key), err)
		return
	}

	s.mu.Lock()
	old, exists := s.entries[e.Key]
	if exists && !e.newer(old) {
		s.mu.Unlock()
		relayRejected.WithLabelValues("stale").Inc()
		return
	}
	if !exists {
		s.order = append(s.order, e.Key)
	}
	s.entries[e.Key] = e
	s.broadcastLocked(c, Envelope{Type: msgEntry, Entry: &e})
	s.mu.Unlock()

	relayMessages.WithLabelValues(msgSet).Inc()

	if s.cache != nil {
		raw, err := json.Marshal(e)
		if err == nil {
			err = s.cache.Put(context.Background(), e.Key, raw)
		}
		if err != nil {
			debug.Warn("relay", "persist %s: %v", short(e.Key), err)
		}
	}
}

// enqueue drops the frame when the client cannot keep up; it catches up
// on reconnect. Callers hold the server lock.
func (c *conn) enqueue(env Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		debug.Warn("relay", "encode %s: %v", env.Type, err)
		return
	}
	select {
	case c.send <- raw:
	default:
		relayRejected.WithLabelValues("slow-client").Inc()
		debug.LogEvery(50, "relay", "send buffer full for %s", short(c.key))
	}
}

func (c *conn) writePump() {
	defer c.ws.Close()
	for raw := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
			debug.Warn("relay", "write %s: %v", short(c.key), err)
			return
		}
	}
	c.ws.WriteMessage(websocket.CloseMessage, []byte{})
}
