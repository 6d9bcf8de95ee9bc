// Package memory is an in-process replicated store. Peers joined to the
// same Network see each other's records immediately; it backs solo play
// when no relay is configured and the session tests.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"

	"go-ripple/session"
)

var ErrDenySelf = errors.New("cannot deny own key")

// Network is a set of peers sharing one key/value space
type Network struct {
	mu     sync.Mutex
	states map[string]json.RawMessage
	order  []string
	peers  map[string]*Peer
	joined []string
}

// NewNetwork creates an empty network
func NewNetwork() *Network {
	return &Network{
		states: make(map[string]json.RawMessage),
		peers:  make(map[string]*Peer),
	}
}

// Join adds a peer. An empty key gets a random one. Joining twice with the
// same key returns the existing peer.
func (n *Network) Join(key string) *Peer {
	if key == "" {
		key = uuid.NewString()
	}

	n.mu.Lock()
	if p, ok := n.peers[key]; ok {
		n.mu.Unlock()
		return p
	}
	p := &Peer{net: n, key: key, denied: make(map[string]bool)}
	others := n.peerListLocked()
	n.peers[key] = p
	n.joined = append(n.joined, key)
	active := len(n.peers) - 1
	n.mu.Unlock()

	for _, o := range others {
		o.connection(session.ConnectionEvent{Type: session.ConnectionAdded, Peer: key, Active: active})
	}
	return p
}

// Leave disconnects a peer. Its record stays in the network.
func (n *Network) Leave(key string) {
	n.mu.Lock()
	if _, ok := n.peers[key]; !ok {
		n.mu.Unlock()
		return
	}
	delete(n.peers, key)
	for i, k := range n.joined {
		if k == key {
			n.joined = append(n.joined[:i], n.joined[i+1:]...)
			break
		}
	}
	others := n.peerListLocked()
	active := len(n.peers) - 1
	n.mu.Unlock()

	for _, o := range others {
		o.connection(session.ConnectionEvent{Type: session.ConnectionDestroyed, Peer: key, Active: active})
	}
}

// Inject writes raw state under key as if that peer had set it. Used to
// seed remnants and malformed records.
func (n *Network) Inject(key string, state json.RawMessage) {
	n.put(key, state)
}

func (n *Network) put(key string, state json.RawMessage) {
	n.mu.Lock()
	if _, ok := n.states[key]; !ok {
		n.order = append(n.order, key)
	}
	n.states[key] = append(json.RawMessage(nil), state...)
	peers := n.peerListLocked()
	n.mu.Unlock()

	for _, p := range peers {
		p.changed(key)
	}
}

func (n *Network) get(key string) (json.RawMessage, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	raw, ok := n.states[key]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), raw...), true
}

func (n *Network) all() []session.Replica {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]session.Replica, 0, len(n.order))
	for _, k := range n.order {
		out = append(out, session.Replica{
			PublicKey: k,
			State:     append(json.RawMessage(nil), n.states[k]...),
		})
	}
	return out
}

func (n *Network) peerListLocked() []*Peer {
	out := make([]*Peer, 0, len(n.joined))
	for _, k := range n.joined {
		out = append(out, n.peers[k])
	}
	return out
}

func (n *Network) activeFor() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.peers) - 1
}

// Peer is one participant's view of the network. It implements
// session.Store.
type Peer struct {
	net *Network
	key string

	mu       sync.Mutex
	denied   map[string]bool
	onChange func()
	onConn   func(session.ConnectionEvent)
}

var _ session.Store = (*Peer)(nil)

func (p *Peer) PublicKey() string { return p.key }

// GetAll returns every record not denied by this peer
func (p *Peer) GetAll(ctx context.Context) ([]session.Replica, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all := p.net.all()
	out := all[:0]
	for _, r := range all {
		if !p.isDenied(r.PublicKey) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (p *Peer) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if p.isDenied(key) {
		return nil, false, nil
	}
	raw, ok := p.net.get(key)
	return raw, ok, nil
}

func (p *Peer) Set(ctx context.Context, state json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.net.put(p.key, state)
	return nil
}

func (p *Peer) OnChange(handler func()) {
	p.mu.Lock()
	p.onChange = handler
	p.mu.Unlock()
}

func (p *Peer) RemoveChangeHandlers() {
	p.OnChange(nil)
}

func (p *Peer) OnConnection(handler func(session.ConnectionEvent)) {
	p.mu.Lock()
	p.onConn = handler
	p.mu.Unlock()
}

func (p *Peer) Deny(address string) error {
	if address == p.key {
		return ErrDenySelf
	}
	p.mu.Lock()
	p.denied[address] = true
	p.mu.Unlock()
	return nil
}

func (p *Peer) Undeny(address string) error {
	p.mu.Lock()
	wasDenied := p.denied[address]
	delete(p.denied, address)
	p.mu.Unlock()

	// the lifted peer's record becomes visible again
	if wasDenied {
		p.changed(address)
	}
	return nil
}

// Denied reports whether address is currently denied
func (p *Peer) Denied(address string) bool {
	return p.isDenied(address)
}

func (p *Peer) ActiveConnections() int {
	return p.net.activeFor()
}

func (p *Peer) isDenied(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.denied[key]
}

// changed notifies the handler unless the writer is denied
func (p *Peer) changed(writer string) {
	p.mu.Lock()
	fn := p.onChange
	denied := p.denied[writer]
	p.mu.Unlock()
	if fn != nil && !denied {
		fn()
	}
}

func (p *Peer) connection(ev session.ConnectionEvent) {
	p.mu.Lock()
	fn := p.onConn
	p.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}
