package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"go-ripple/debug"
	"go-ripple/session"
	"go-ripple/store/cache"
)

// Client is a session.Store backed by a relay hub. It keeps a verified
// copy of every entry, so reads never touch the network, and it keeps
// working from its cache while the hub is unreachable.
type Client struct {
	id    *Identity
	cache *cache.Cache
	now   func() time.Time

	mu       sync.Mutex
	entries  map[string]Entry
	order    []string
	denied   map[string]bool
	onChange func()
	onConn   func(session.ConnectionEvent)
	active   int
	lastSeen int64

	writeMu sync.Mutex
	ws      *websocket.Conn
	done    chan struct{}
	closed  bool

	// redial backoff bounds for Run
	retryMin time.Duration
	retryMax time.Duration
}

var _ session.Store = (*Client)(nil)

// NewClient creates a client for id. Entries found in c (if any) seed the
// local view before the first connection.
func NewClient(id *Identity, c *cache.Cache) (*Client, error) {
	cl := &Client{
		id:      id,
		cache:   c,
		now:     time.Now,
		entries: make(map[string]Entry),
		denied:  make(map[string]bool),

		retryMin: 500 * time.Millisecond,
		retryMax: 30 * time.Second,
	}
	if c == nil {
		return cl, nil
	}

	items, err := c.All(context.Background())
	if err != nil {
		return nil, fmt.Errorf("seed from cache: %w", err)
	}
	for _, it := range items {
		var e Entry
		if err := json.Unmarshal(it.Value, &e); err != nil || e.Verify() != nil {
			debug.Warn("relay", "dropping cached entry %s", short(it.Key))
			continue
		}
		cl.storeLocked(e)
	}
	debug.Log("relay", "seeded %d entries from cache", len(cl.entries))
	return cl, nil
}

// Connect dials the hub, sends our key and applies the snapshot. Frames
// are then read in the background until Close or a read error.
func (c *Client) Connect(ctx context.Context, url string) error {
	_, err := c.connect(ctx, url)
	return err
}

// Run keeps a hub connection up until ctx ends or the client is closed,
// redialing with exponential backoff after a failed dial or a drop. An
// existing connection is adopted rather than replaced.
func (c *Client) Run(ctx context.Context, url string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryMin
	b.MaxInterval = c.retryMax

	for {
		done := c.liveDone()
		if done == nil {
			var err error
			done, err = c.connect(ctx, url)
			switch {
			case errors.Is(err, ErrClosed):
				return nil
			case err != nil && ctx.Err() != nil:
				return nil
			case err != nil:
				debug.Warn("relay", "%v", err)
			}
		}

		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return nil
			}
			if c.isClosed() {
				return nil
			}
			b.Reset()
		}

		wait := b.NextBackOff()
		debug.Log("relay", "redial %s in %s", url, wait)
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil
		}
	}
}

// connect returns a channel closed when the new connection drops
func (c *Client) connect(ctx context.Context, url string) (chan struct{}, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	if err := ws.WriteJSON(Envelope{Type: msgHello, Key: c.id.PublicKey()}); err != nil {
		ws.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	ws.SetReadDeadline(time.Now().Add(helloTimeout))
	var snap Envelope
	if err := ws.ReadJSON(&snap); err != nil || snap.Type != msgSnapshot {
		ws.Close()
		return nil, fmt.Errorf("%w: no snapshot (%v)", ErrHandshake, err)
	}
	ws.SetReadDeadline(time.Time{})

	c.mu.Lock()
	for _, e := range snap.Entries {
		if err := e.Verify(); err != nil {
			debug.Warn("relay", "snapshot entry %s: %v", short(e.Key), err)
			continue
		}
		c.applyLocked(e)
	}
	c.active = snap.Active
	own, hasOwn := c.entries[c.id.PublicKey()]
	c.mu.Unlock()

	c.writeMu.Lock()
	if c.closed {
		c.writeMu.Unlock()
		ws.Close()
		return nil, ErrClosed
	}
	c.ws = ws
	c.done = make(chan struct{})
	done := c.done
	c.writeMu.Unlock()

	// push our cached entry in case the hub lost it
	if hasOwn {
		if err := c.write(Envelope{Type: msgSet, Entry: &own}); err != nil {
			debug.Warn("relay", "republish: %v", err)
		}
	}

	debug.Log("relay", "connected to %s as %s (entries=%d)", url, short(c.id.PublicKey()), len(snap.Entries))
	go c.readLoop(ws, done)
	c.changed("")
	return done, nil
}

func (c *Client) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				debug.Warn("relay", "read: %v", err)
			}
			c.disconnected(ws)
			return
		}

		switch env.Type {
		case msgEntry:
			if env.Entry == nil {
				continue
			}
			if err := env.Entry.Verify(); err != nil {
				debug.Warn("relay", "entry %s: %v", short(env.Entry.Key), err)
				continue
			}
			c.mu.Lock()
			applied := c.applyLocked(*env.Entry)
			c.mu.Unlock()
			if applied {
				c.changed(env.Entry.Key)
			}
		case msgPeerJoined:
			c.connection(session.ConnectionEvent{Type: session.ConnectionAdded, Peer: env.Key, Active: env.Active})
		case msgPeerLeft:
			c.connection(session.ConnectionEvent{Type: session.ConnectionDestroyed, Peer: env.Key, Active: env.Active})
		default:
			debug.LogEvery(20, "relay", "unexpected frame %q", env.Type)
		}
	}
}

func (c *Client) disconnected(ws *websocket.Conn) {
	c.writeMu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	c.writeMu.Unlock()
	ws.Close()

	c.connection(session.ConnectionEvent{Type: session.ConnectionDestroyed, Peer: "relay", Active: 0})
}

// Close drops the hub connection and stops Run; the local view stays
// readable
func (c *Client) Close() error {
	c.writeMu.Lock()
	ws, done := c.ws, c.done
	c.ws = nil
	c.closed = true
	if ws != nil {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
	}
	c.writeMu.Unlock()

	if ws == nil {
		return nil
	}
	err := ws.Close()
	<-done
	return err
}

// Connected reports whether a hub connection is up
func (c *Client) Connected() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws != nil
}

func (c *Client) liveDone() chan struct{} {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ws == nil {
		return nil
	}
	return c.done
}

func (c *Client) isClosed() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.closed
}

func (c *Client) write(env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ws == nil {
		return nil
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(env)
}

func (c *Client) PublicKey() string { return c.id.PublicKey() }

// GetAll returns every entry not denied by this client
func (c *Client) GetAll(ctx context.Context) ([]session.Replica, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]session.Replica, 0, len(c.order))
	for _, k := range c.order {
		if c.denied[k] {
			continue
		}
		out = append(out, session.Replica{
			PublicKey: k,
			State:     append(json.RawMessage(nil), c.entries[k].State...),
		})
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.denied[key] {
		return nil, false, nil
	}
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), e.State...), true, nil
}

// Set signs state, stores it locally and sends it to the hub when
// connected. Offline writes are republished on the next connection.
func (c *Client) Set(ctx context.Context, state json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	stamp := c.now().UnixNano()
	if stamp <= c.lastSeen {
		stamp = c.lastSeen + 1
	}
	e := c.id.Sign(stamp, state)
	c.applyLocked(e)
	c.mu.Unlock()

	if err := c.write(Envelope{Type: msgSet, Entry: &e}); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	c.changed(e.Key)
	return nil
}

func (c *Client) OnChange(handler func()) {
	c.mu.Lock()
	c.onChange = handler
	c.mu.Unlock()
}

func (c *Client) RemoveChangeHandlers() {
	c.OnChange(nil)
}

func (c *Client) OnConnection(handler func(session.ConnectionEvent)) {
	c.mu.Lock()
	c.onConn = handler
	c.mu.Unlock()
}

// Deny hides address from reads and change notifications. The hub keeps
// forwarding its entries; they are filtered here.
func (c *Client) Deny(address string) error {
	if address == c.id.PublicKey() {
		return ErrDenySelf
	}
	c.mu.Lock()
	c.denied[address] = true
	c.mu.Unlock()
	return nil
}

func (c *Client) Undeny(address string) error {
	c.mu.Lock()
	was := c.denied[address]
	delete(c.denied, address)
	c.mu.Unlock()
	if was {
		c.changed(address)
	}
	return nil
}

func (c *Client) ActiveConnections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// applyLocked keeps e if it is newer than what we hold, persisting it to
// the cache
func (c *Client) applyLocked(e Entry) bool {
	if old, ok := c.entries[e.Key]; ok && !e.newer(old) {
		return false
	}
	c.storeLocked(e)

	if c.cache != nil {
		raw, err := json.Marshal(e)
		if err == nil {
			err = c.cache.Put(context.Background(), e.Key, raw)
		}
		if err != nil {
			debug.Warn("relay", "cache %s: %v", short(e.Key), err)
		}
	}
	return true
}

func (c *Client) storeLocked(e Entry) {
	if _, ok := c.entries[e.Key]; !ok {
		c.order = append(c.order, e.Key)
	}
	c.entries[e.Key] = e
	if e.Key == c.id.PublicKey() && e.Stamp > c.lastSeen {
		c.lastSeen = e.Stamp
	}
}

// changed notifies the handler unless the writer is denied
func (c *Client) changed(writer string) {
	c.mu.Lock()
	fn := c.onChange
	denied := writer != "" && c.denied[writer]
	c.mu.Unlock()
	if fn != nil && !denied {
		fn()
	}
}

func (c *Client) connection(ev session.ConnectionEvent) {
	c.mu.Lock()
	c.active = ev.Active
	fn := c.onConn
	c.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}
