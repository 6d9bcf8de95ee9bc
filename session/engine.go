package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go-ripple/debug"
	"go-ripple/loop"
)

// ErrBlockSelf is returned when asked to block the local participant
var ErrBlockSelf = errors.New("cannot block yourself")

// Participant is a validated replica as shown to the user
type Participant struct {
	Address string
	Record  *Record
	Self    bool
	Blocked bool
}

// Engine owns the local session record. It reconciles the record with the
// store on every change notification and drives the store's deny list.
//
// Mutating methods run on the loop. Local, Participants and
// ConnectionCount may be called from any goroutine.
type Engine struct {
	store Store

	mu           sync.RWMutex
	local        *Record
	participants []Participant
	connections  int

	onUpdate func()
}

// NewEngine creates an engine over a store
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// SetOnUpdate registers the callback fired after the record or the
// participant list changed
func (e *Engine) SetOnUpdate(fn func()) {
	e.onUpdate = fn
}

func (e *Engine) notify() {
	if e.onUpdate != nil {
		e.onUpdate()
	}
}

// PublicKey is the local transport identity
func (e *Engine) PublicKey() string {
	return e.store.PublicKey()
}

// Local returns a copy of the local record (nil before sign-in)
func (e *Engine) Local() *Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.local.Clone()
}

// Participants returns the validated participants, self first
func (e *Engine) Participants() []Participant {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Participant(nil), e.participants...)
}

// ConnectionCount returns the last known number of live connections
func (e *Engine) ConnectionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connections
}

// SignIn creates the local record if the store holds no valid one for our
// key, then runs a first sync
func (e *Engine) SignIn(ctx context.Context, name string) error {
	raw, ok, err := e.store.Get(ctx, e.store.PublicKey())
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	if !ok || !Validate(raw) {
		rec := NewRecord(name)
		if err := e.persist(ctx, rec); err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
		debug.Log("session", "created record id=%s key=%s", rec.ID, short(e.store.PublicKey()))
	}

	e.mu.Lock()
	e.connections = e.store.ActiveConnections()
	e.mu.Unlock()

	return e.Sync(ctx)
}

// Subscribe routes store notifications onto the scheduler. Calling it
// again replaces the previous subscription.
func (e *Engine) Subscribe(ctx context.Context, sched loop.Scheduler) {
	e.store.OnChange(func() {
		sched.Post(func() {
			if err := e.Sync(ctx); err != nil {
				debug.Warn("session", "sync: %v", err)
			}
		})
	})
	e.store.OnConnection(func(ev ConnectionEvent) {
		sched.Post(func() {
			e.mu.Lock()
			e.connections = ev.Active
			e.mu.Unlock()
			debug.Log("session", "%s peer=%s active=%d", ev.Type, short(ev.Peer), ev.Active)
			e.notify()
		})
	})
}

// SignOut drops the subscriptions and forgets the local record. The record
// stays in the store and is re-validated by whoever reads it.
func (e *Engine) SignOut() {
	e.store.RemoveChangeHandlers()
	e.store.OnConnection(nil)

	e.mu.Lock()
	e.local = nil
	e.participants = nil
	e.connections = 0
	e.mu.Unlock()
	e.notify()
}

// Sync reconciles the local record with the store:
//
//  1. read and validate every replica, dropping invalid ones
//  2. read our own replica; stop if it is missing or invalid
//  3. if the held record has a different id, merge saves (held first,
//     first occurrence of each save id wins)
//  4. adopt the result as the local record
//  5. re-apply every block to the transport
func (e *Engine) Sync(ctx context.Context) error {
	replicas, err := e.store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("get all: %w", err)
	}

	self := e.store.PublicKey()
	visible := make([]Participant, 0, len(replicas))
	for _, r := range replicas {
		rec, err := Parse(r.State)
		if err != nil {
			replicasObserved.WithLabelValues("invalid").Inc()
			debug.LogEvery(20, "session", "skip replica %s: %v", short(r.PublicKey), err)
			continue
		}
		replicasObserved.WithLabelValues("valid").Inc()
		visible = append(visible, Participant{
			Address: r.PublicKey,
			Record:  rec,
			Self:    r.PublicKey == self,
		})
	}

	raw, ok, err := e.store.Get(ctx, self)
	if err != nil {
		return fmt.Errorf("get local: %w", err)
	}
	var observed *Record
	if ok {
		observed, err = Parse(raw)
		if err != nil {
			debug.Warn("session", "local replica invalid: %v", err)
		}
	}
	if observed == nil {
		e.publish(visible, nil)
		return nil
	}

	e.mu.RLock()
	held := e.local
	e.mu.RUnlock()

	canonical := observed
	if held != nil && held.ID != observed.ID {
		canonical = held.Clone()
		canonical.Saves = mergeSaves(held.Saves, observed.Saves)

		if sameSaveIDs(canonical.Saves, observed.Saves) {
			mergesTotal.WithLabelValues("kept").Inc()
		} else {
			mergesTotal.WithLabelValues("written").Inc()
			if err := e.persist(ctx, canonical); err != nil {
				debug.Warn("session", "write merged record: %v", err)
			}
		}
		debug.Log("session", "merged held=%s observed=%s saves=%d", held.ID, observed.ID, len(canonical.Saves))
	}

	e.publish(visible, canonical)

	for _, b := range canonical.Blocks {
		if err := e.store.Deny(b.Address); err != nil {
			debug.Warn("session", "deny %s: %v", short(b.Address), err)
		}
	}
	return nil
}

// publish installs the local record and the participant list
func (e *Engine) publish(visible []Participant, local *Record) {
	if local != nil {
		for i := range visible {
			visible[i].Blocked = local.HasBlock(visible[i].Address)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].Self && !visible[j].Self
	})

	e.mu.Lock()
	if local != nil {
		e.local = local
	}
	e.participants = visible
	e.mu.Unlock()
	e.notify()
}

// Block denies the participant whose record id is targetID and adds it to
// the local denylist. Blocking an address already listed adds nothing.
func (e *Engine) Block(ctx context.Context, targetID string) error {
	local := e.Local()
	if local == nil {
		return ErrNoLocalRecord
	}

	target, ok := e.resolve(targetID)
	if !ok {
		denylistOps.WithLabelValues("block", "unresolved").Inc()
		debug.Warn("session", "block %s: participant not found", targetID)
		return fmt.Errorf("%w: %s", ErrUnresolved, targetID)
	}
	if target.Self {
		return ErrBlockSelf
	}

	if local.HasBlock(target.Address) {
		if err := e.store.Deny(target.Address); err != nil {
			debug.Warn("session", "deny %s: %v", short(target.Address), err)
		}
		denylistOps.WithLabelValues("block", "duplicate").Inc()
		return nil
	}

	local.Blocks = append(local.Blocks, Block{Name: target.Record.Name, Address: target.Address})
	if err := e.store.Deny(target.Address); err != nil {
		return fmt.Errorf("deny %s: %w", short(target.Address), err)
	}
	if err := e.commit(ctx, local); err != nil {
		return err
	}
	denylistOps.WithLabelValues("block", "ok").Inc()
	debug.Log("session", "blocked %q %s", target.Record.Name, short(target.Address))
	return nil
}

// Undeny lifts a block on address and removes it from the denylist
func (e *Engine) Undeny(ctx context.Context, address string) error {
	local := e.Local()
	if local == nil {
		return ErrNoLocalRecord
	}

	if err := e.store.Undeny(address); err != nil {
		denylistOps.WithLabelValues("undeny", "error").Inc()
		debug.Warn("session", "undeny %s: %v", short(address), err)
		return fmt.Errorf("undeny %s: %w", short(address), err)
	}

	kept := local.Blocks[:0]
	for _, b := range local.Blocks {
		if b.Address != address {
			kept = append(kept, b)
		}
	}
	local.Blocks = kept

	if err := e.commit(ctx, local); err != nil {
		return err
	}
	denylistOps.WithLabelValues("undeny", "ok").Inc()
	return nil
}

// SetName renames the local participant
func (e *Engine) SetName(ctx context.Context, name string) error {
	local := e.Local()
	if local == nil {
		return ErrNoLocalRecord
	}
	local.Name = name
	return e.commit(ctx, local)
}

// AddSave appends a preset to the local record
func (e *Engine) AddSave(ctx context.Context, s Save) error {
	local := e.Local()
	if local == nil {
		return ErrNoLocalRecord
	}
	local.Saves = mergeSaves(local.Saves, []Save{s})
	return e.commit(ctx, local)
}

// DeleteSave removes a preset by id
func (e *Engine) DeleteSave(ctx context.Context, id string) error {
	local := e.Local()
	if local == nil {
		return ErrNoLocalRecord
	}
	if _, ok := local.FindSave(id); !ok {
		return fmt.Errorf("%w: %s", ErrSaveNotFound, id)
	}

	kept := make([]Save, 0, len(local.Saves))
	for _, s := range local.Saves {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	local.Saves = kept
	return e.commit(ctx, local)
}

// FindSave looks a preset up in the local record
func (e *Engine) FindSave(id string) (Save, bool) {
	local := e.Local()
	if local == nil {
		return Save{}, false
	}
	return local.FindSave(id)
}

// commit persists rec and adopts it as the local record
func (e *Engine) commit(ctx context.Context, rec *Record) error {
	if err := e.persist(ctx, rec); err != nil {
		return err
	}
	e.mu.Lock()
	e.local = rec
	for i := range e.participants {
		p := &e.participants[i]
		p.Blocked = rec.HasBlock(p.Address)
		if p.Self {
			p.Record = rec.Clone()
		}
	}
	e.mu.Unlock()
	e.notify()
	return nil
}

func (e *Engine) persist(ctx context.Context, rec *Record) error {
	if rec.Saves == nil {
		rec.Saves = []Save{}
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if !Validate(raw) {
		return fmt.Errorf("%w: refusing to write", ErrInvalidRecord)
	}
	if err := e.store.Set(ctx, raw); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	return nil
}

func (e *Engine) resolve(id string) (Participant, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, p := range e.participants {
		if p.Record.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

func sameSaveIDs(a, b []Save) bool {
	if len(a) != len(b) {
		return false
	}
	ids := make(map[string]bool, len(a))
	for _, s := range a {
		ids[s.ID] = true
	}
	for _, s := range b {
		if !ids[s.ID] {
			return false
		}
	}
	return true
}

// short trims a public key for logs
func short(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
