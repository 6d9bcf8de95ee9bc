package session

import (
	"context"
	"encoding/json"
)

// Replica is one participant's raw state as held by the store
type Replica struct {
	PublicKey string
	State     json.RawMessage
}

// ConnectionEventType says whether a peer link came up or went away
type ConnectionEventType int

const (
	ConnectionAdded ConnectionEventType = iota
	ConnectionDestroyed
)

func (t ConnectionEventType) String() string {
	if t == ConnectionAdded {
		return "add-connection"
	}
	return "destroy-connection"
}

// ConnectionEvent reports a transport connection change
type ConnectionEvent struct {
	Type   ConnectionEventType
	Peer   string
	Active int // connection count after the change
}

// Store is the replicated key/value substrate. Every participant writes
// only its own key (its public key); everyone reads everything.
type Store interface {
	// PublicKey is the local transport identity
	PublicKey() string

	GetAll(ctx context.Context) ([]Replica, error)
	// Get returns the state under key, ok=false when absent
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	// Set replaces the local participant's state
	Set(ctx context.Context, state json.RawMessage) error

	// OnChange replaces the change handler (handlers never accumulate)
	OnChange(handler func())
	RemoveChangeHandlers()
	// OnConnection replaces the connection handler; nil removes it
	OnConnection(handler func(ConnectionEvent))

	// Deny stops replication from address. Denying twice is a no-op.
	Deny(address string) error
	Undeny(address string) error

	ActiveConnections() int
}
