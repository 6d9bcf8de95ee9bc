// Package relay replicates session records through a websocket hub. Each
// participant owns one key (an ed25519 public key) and signs what it
// writes; the hub forwards and persists entries but cannot forge them.
package relay

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrBadSignature = errors.New("relay: bad signature")
	ErrBadKey       = errors.New("relay: malformed public key")
	ErrDenySelf     = errors.New("relay: cannot deny own key")
	ErrNoRelay      = errors.New("relay: no relay found")
	ErrHandshake    = errors.New("relay: handshake failed")
	ErrClosed       = errors.New("relay: client closed")
)

// Message types on the wire
const (
	msgHello      = "hello"       // client -> hub: announce key
	msgSnapshot   = "snapshot"    // hub -> client: every stored entry
	msgSet        = "set"         // client -> hub: signed entry
	msgEntry      = "entry"       // hub -> client: someone's new entry
	msgPeerJoined = "peer-joined" // hub -> client
	msgPeerLeft   = "peer-left"   // hub -> client
)

// Envelope is the single frame type exchanged over the socket
type Envelope struct {
	Type    string  `json:"type"`
	Key     string  `json:"key,omitempty"`
	Entry   *Entry  `json:"entry,omitempty"`
	Entries []Entry `json:"entries,omitempty"`
	Active  int     `json:"active,omitempty"`
}

// Entry is one participant's signed state. Stamp orders writes from the
// same key; a stale stamp never replaces a newer entry.
type Entry struct {
	Key   string          `json:"key"`
	Stamp int64           `json:"stamp"`
	State json.RawMessage `json:"state"`
	Sig   string          `json:"sig"`
}

// Verify checks the signature against the entry's own key
func (e Entry) Verify() error {
	pub, err := decodeKey(e.Key)
	if err != nil {
		return err
	}
	sig, err := hex.DecodeString(e.Sig)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrBadSignature
	}
	if !ed25519.Verify(pub, signedBytes(e.Stamp, e.State), sig) {
		return ErrBadSignature
	}
	return nil
}

// newer reports whether e should replace old
func (e Entry) newer(old Entry) bool {
	return e.Stamp > old.Stamp
}

// Identity is a participant's signing key
type Identity struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewIdentity derives a key pair from secret, so the same secret always
// yields the same public key. An empty secret gives a fresh random key.
func NewIdentity(secret string) (*Identity, error) {
	if secret == "" {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		return &Identity{pub: pub, priv: priv}, nil
	}
	seed := sha256.Sum256([]byte(secret))
	priv := ed25519.NewKeyFromSeed(seed[:])
	return &Identity{pub: priv.Public().(ed25519.PublicKey), priv: priv}, nil
}

// PublicKey is the hex encoded public key, used as the store address
func (id *Identity) PublicKey() string {
	return hex.EncodeToString(id.pub)
}

// Sign wraps state in an entry signed by this identity
func (id *Identity) Sign(stamp int64, state json.RawMessage) Entry {
	sig := ed25519.Sign(id.priv, signedBytes(stamp, state))
	return Entry{
		Key:   id.PublicKey(),
		Stamp: stamp,
		State: append(json.RawMessage(nil), state...),
		Sig:   hex.EncodeToString(sig),
	}
}

func signedBytes(stamp int64, state []byte) []byte {
	buf := make([]byte, 8, 8+len(state))
	binary.BigEndian.PutUint64(buf, uint64(stamp))
	return append(buf, state...)
}

func decodeKey(key string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(key)
	if err != nil || len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: %q", ErrBadKey, key)
	}
	return ed25519.PublicKey(b), nil
}

func short(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
