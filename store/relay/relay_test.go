package relay

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"go-ripple/session"
	"go-ripple/store/cache"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

func startHub(t *testing.T, c *cache.Cache, opts ...Option) (*Server, string) {
	t.Helper()
	srv, err := NewServer(c, opts...)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func connect(t *testing.T, url, secret string, c *cache.Cache) *Client {
	t.Helper()
	id, err := NewIdentity(secret)
	require.NoError(t, err)
	cl, err := NewClient(id, c)
	require.NoError(t, err)
	require.NoError(t, cl.Connect(context.Background(), url))
	t.Cleanup(func() { cl.Close() })
	return cl
}

func openCache(t *testing.T, name string) *cache.Cache {
	t.Helper()
	c, err := cache.Open(filepath.Join(t.TempDir(), name))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestIdentity(t *testing.T) {
	a1, err := NewIdentity("alpha")
	require.NoError(t, err)
	a2, err := NewIdentity("alpha")
	require.NoError(t, err)
	b, err := NewIdentity("")
	require.NoError(t, err)

	assert.Equal(t, a1.PublicKey(), a2.PublicKey())
	assert.NotEqual(t, a1.PublicKey(), b.PublicKey())
	assert.Len(t, a1.PublicKey(), 64)

	e := a1.Sign(1, json.RawMessage(`{"id":"x"}`))
	require.NoError(t, e.Verify())

	tampered := e
	tampered.State = json.RawMessage(`{"id":"y"}`)
	assert.ErrorIs(t, tampered.Verify(), ErrBadSignature)

	restamped := e
	restamped.Stamp = 2
	assert.ErrorIs(t, restamped.Verify(), ErrBadSignature)

	stolen := e
	stolen.Key = b.PublicKey()
	assert.ErrorIs(t, stolen.Verify(), ErrBadSignature)

	stolen.Key = "zz"
	assert.ErrorIs(t, stolen.Verify(), ErrBadKey)
}

func TestClientsReplicate(t *testing.T) {
	_, url := startHub(t, nil)
	ctx := context.Background()

	a := connect(t, url, "a", nil)
	b := connect(t, url, "b", nil)
	require.Eventually(t, func() bool { return a.ActiveConnections() == 1 }, waitFor, tick)
	assert.Equal(t, 1, b.ActiveConnections())

	var notified atomic.Int32
	b.OnChange(func() { notified.Add(1) })

	require.NoError(t, a.Set(ctx, json.RawMessage(`{"id":"rec-a"}`)))
	require.Eventually(t, func() bool {
		_, ok, _ := b.Get(ctx, a.PublicKey())
		return ok
	}, waitFor, tick)
	assert.Positive(t, notified.Load())

	raw, ok, err := a.Get(ctx, a.PublicKey())
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"rec-a"}`, string(raw))

	all, err := b.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, a.PublicKey(), all[0].PublicKey)
}

func TestSnapshotIncludesRemnants(t *testing.T) {
	_, url := startHub(t, nil)
	ctx := context.Background()

	a := connect(t, url, "a", nil)
	require.NoError(t, a.Set(ctx, json.RawMessage(`{"id":"gone"}`)))
	b := connect(t, url, "b", nil)
	require.Eventually(t, func() bool {
		_, ok, _ := b.Get(ctx, a.PublicKey())
		return ok
	}, waitFor, tick)

	events := make(chan session.ConnectionEvent, 8)
	b.OnConnection(func(ev session.ConnectionEvent) {
		select {
		case events <- ev:
		default:
		}
	})
	require.NoError(t, a.Close())

	select {
	case ev := <-events:
		assert.Equal(t, session.ConnectionDestroyed, ev.Type)
		assert.Equal(t, a.PublicKey(), ev.Peer)
		assert.Equal(t, 0, ev.Active)
	case <-time.After(waitFor):
		t.Fatal("no disconnect event")
	}

	// the departed record stays
	c := connect(t, url, "c", nil)
	_, ok, err := c.Get(ctx, a.PublicKey())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestServerRejectsForeignAndForgedEntries(t *testing.T) {
	srv, url := startHub(t, nil)
	mallory, _ := NewIdentity("mallory")
	victim, _ := NewIdentity("victim")

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.WriteJSON(Envelope{Type: msgHello, Key: mallory.PublicKey()}))
	var snap Envelope
	require.NoError(t, ws.ReadJSON(&snap))
	require.Equal(t, msgSnapshot, snap.Type)

	// writing someone else's key, even correctly signed by them
	foreign := victim.Sign(1, json.RawMessage(`{}`))
	require.NoError(t, ws.WriteJSON(Envelope{Type: msgSet, Entry: &foreign}))

	// own key but a broken signature
	forged := mallory.Sign(1, json.RawMessage(`{}`))
	forged.State = json.RawMessage(`{"x":1}`)
	require.NoError(t, ws.WriteJSON(Envelope{Type: msgSet, Entry: &forged}))

	good := mallory.Sign(2, json.RawMessage(`{}`))
	require.NoError(t, ws.WriteJSON(Envelope{Type: msgSet, Entry: &good}))

	// frames are handled in order, so once the good one lands the others
	// have been judged
	require.Eventually(t, func() bool { return srv.Len() == 1 }, waitFor, tick)

	stale := mallory.Sign(1, json.RawMessage(`{"old":true}`))
	require.NoError(t, ws.WriteJSON(Envelope{Type: msgSet, Entry: &stale}))
	newer := mallory.Sign(3, json.RawMessage(`{"new":true}`))
	require.NoError(t, ws.WriteJSON(Envelope{Type: msgSet, Entry: &newer}))

	watcher := connect(t, url, "watcher", nil)
	require.Eventually(t, func() bool {
		raw, ok, _ := watcher.Get(context.Background(), mallory.PublicKey())
		return ok && strings.Contains(string(raw), "new")
	}, waitFor, tick)
	_, ok, _ := watcher.Get(context.Background(), victim.PublicKey())
	assert.False(t, ok)
}

func TestHandshakeRequiresHello(t *testing.T) {
	_, url := startHub(t, nil)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(Envelope{Type: msgSet}))
	ws.SetReadDeadline(time.Now().Add(waitFor))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err, "hub closes the socket")
}

func TestRateLimit(t *testing.T) {
	srv, url := startHub(t, nil, WithRateLimit(rate.Every(time.Hour), 1))
	id, _ := NewIdentity("chatty")
	before := testutil.ToFloat64(relayRejected.WithLabelValues("rate"))

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.WriteJSON(Envelope{Type: msgHello, Key: id.PublicKey()}))
	var snap Envelope
	require.NoError(t, ws.ReadJSON(&snap))

	for i := int64(1); i <= 3; i++ {
		e := id.Sign(i, json.RawMessage(`{}`))
		require.NoError(t, ws.WriteJSON(Envelope{Type: msgSet, Entry: &e}))
	}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(relayRejected.WithLabelValues("rate"))-before >= 2
	}, waitFor, tick)
	assert.Equal(t, 1, srv.Len())
}

func TestServerReloadsFromCache(t *testing.T) {
	c := openCache(t, "hub.db")
	ctx := context.Background()

	_, url := startHub(t, c)
	a := connect(t, url, "a", nil)
	require.NoError(t, a.Set(ctx, json.RawMessage(`{"id":"kept"}`)))
	require.Eventually(t, func() bool {
		_, err := c.Get(ctx, a.PublicKey())
		return err == nil
	}, waitFor, tick)

	srv2, url2 := startHub(t, c)
	assert.Equal(t, 1, srv2.Len())
	b := connect(t, url2, "b", nil)
	_, ok, err := b.Get(ctx, a.PublicKey())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClientWorksOffline(t *testing.T) {
	c := openCache(t, "client.db")
	ctx := context.Background()
	id, _ := NewIdentity("solo")

	cl, err := NewClient(id, c)
	require.NoError(t, err)
	assert.False(t, cl.Connected())
	require.NoError(t, cl.Set(ctx, json.RawMessage(`{"id":"offline"}`)))

	// a second client over the same cache sees the write
	cl2, err := NewClient(id, c)
	require.NoError(t, err)
	raw, ok, err := cl2.Get(ctx, id.PublicKey())
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"offline"}`, string(raw))

	// and republishes it on connect
	srv, url := startHub(t, nil)
	require.NoError(t, cl2.Connect(ctx, url))
	defer cl2.Close()
	require.Eventually(t, func() bool { return srv.Len() == 1 }, waitFor, tick)
}

// serveHub runs srv on addr until the returned stop func is called
func serveHub(t *testing.T, srv *Server, addr string) (string, func()) {
	t.Helper()
	var ln net.Listener
	require.Eventually(t, func() bool {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return false
		}
		ln = l
		return true
	}, waitFor, tick, "address %s reusable", addr)

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error, 1)
	go func() { finished <- srv.Serve(ctx, ln) }()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			assert.NoError(t, <-finished)
		})
	}
	t.Cleanup(stop)
	return ln.Addr().String(), stop
}

// runClient keeps a client connected to url through Run
func runClient(t *testing.T, url, secret string) *Client {
	t.Helper()
	id, err := NewIdentity(secret)
	require.NoError(t, err)
	cl, err := NewClient(id, nil)
	require.NoError(t, err)
	cl.retryMin = 10 * time.Millisecond
	cl.retryMax = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error, 1)
	go func() { finished <- cl.Run(ctx, url) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-finished)
		cl.Close()
	})
	return cl
}

func TestClientRedialsAfterHubRestart(t *testing.T) {
	ctx := context.Background()
	first, err := NewServer(nil)
	require.NoError(t, err)
	addr, stopFirst := serveHub(t, first, "127.0.0.1:0")
	url := "ws://" + addr + "/ws"

	a := runClient(t, url, "a")
	b := runClient(t, url, "b")
	require.Eventually(t, func() bool { return a.Connected() && b.Connected() }, waitFor, tick)

	stopFirst()
	require.Eventually(t, func() bool { return !a.Connected() && !b.Connected() }, waitFor, tick)

	require.NoError(t, a.Set(ctx, json.RawMessage(`{"id":"while-down"}`)))

	second, err := NewServer(nil)
	require.NoError(t, err)
	serveHub(t, second, addr)

	require.Eventually(t, func() bool {
		raw, ok, _ := b.Get(ctx, a.PublicKey())
		return ok && strings.Contains(string(raw), "while-down")
	}, 3*waitFor, tick)
	assert.True(t, a.Connected())
	assert.Equal(t, 1, second.Len())
}

func TestRunStopsWhenClosed(t *testing.T) {
	_, url := startHub(t, nil)
	id, err := NewIdentity("closer")
	require.NoError(t, err)
	cl, err := NewClient(id, nil)
	require.NoError(t, err)
	cl.retryMin = 10 * time.Millisecond

	require.NoError(t, cl.Connect(context.Background(), url))
	finished := make(chan error, 1)
	go func() { finished <- cl.Run(context.Background(), url) }()

	require.NoError(t, cl.Close())
	select {
	case err := <-finished:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run kept going after Close")
	}
	assert.False(t, cl.Connected())
	assert.ErrorIs(t, cl.Connect(context.Background(), url), ErrClosed)
}

func TestClientDeny(t *testing.T) {
	_, url := startHub(t, nil)
	ctx := context.Background()

	a := connect(t, url, "a", nil)
	b := connect(t, url, "b", nil)
	require.NoError(t, a.Set(ctx, json.RawMessage(`{"v":1}`)))
	require.Eventually(t, func() bool {
		_, ok, _ := b.Get(ctx, a.PublicKey())
		return ok
	}, waitFor, tick)

	assert.ErrorIs(t, b.Deny(b.PublicKey()), ErrDenySelf)
	require.NoError(t, b.Deny(a.PublicKey()))

	var notified atomic.Int32
	b.OnChange(func() { notified.Add(1) })

	_, ok, _ := b.Get(ctx, a.PublicKey())
	assert.False(t, ok)
	all, _ := b.GetAll(ctx)
	assert.Empty(t, all)

	require.NoError(t, a.Set(ctx, json.RawMessage(`{"v":2}`)))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, notified.Load(), "denied writer does not notify")

	require.NoError(t, b.Undeny(a.PublicKey()))
	assert.GreaterOrEqual(t, notified.Load(), int32(1))
	require.Eventually(t, func() bool {
		raw, ok, _ := b.Get(ctx, a.PublicKey())
		return ok && strings.Contains(string(raw), "2")
	}, waitFor, tick)
}

func TestEntryURL(t *testing.T) {
	entry := &zeroconf.ServiceEntry{Port: 9000, AddrIPv4: []net.IP{net.ParseIP("192.168.1.5")}}
	url, ok := entryURL(entry)
	require.True(t, ok)
	assert.Equal(t, "ws://192.168.1.5:9000/ws", url)

	entry = &zeroconf.ServiceEntry{Port: 9000, AddrIPv6: []net.IP{net.ParseIP("fe80::1")}}
	url, ok = entryURL(entry)
	require.True(t, ok)
	assert.Equal(t, "ws://[fe80::1]:9000/ws", url)

	_, ok = entryURL(&zeroconf.ServiceEntry{Port: 9000})
	assert.False(t, ok)
}
