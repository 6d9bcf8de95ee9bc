package session_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-ripple/grid"
	"go-ripple/loop"
	"go-ripple/session"
	"go-ripple/store/memory"
)

func signIn(t *testing.T, p *memory.Peer, name string) *session.Engine {
	t.Helper()
	e := session.NewEngine(p)
	require.NoError(t, e.SignIn(context.Background(), name))
	return e
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestSignInCreatesRecord(t *testing.T) {
	net := memory.NewNetwork()
	p := net.Join("alice-key")
	e := signIn(t, p, "alice")

	local := e.Local()
	require.NotNil(t, local)
	assert.Equal(t, "alice", local.Name)
	assert.NotEmpty(t, local.ID)
	assert.NotEqual(t, "alice-key", local.ID)
	assert.Empty(t, local.Saves)

	parts := e.Participants()
	require.Len(t, parts, 1)
	assert.True(t, parts[0].Self)
}

func TestSignInKeepsExistingRecord(t *testing.T) {
	net := memory.NewNetwork()
	net.Inject("alice-key", json.RawMessage(`{"id":"old","name":"alice","saves":[]}`))

	e := signIn(t, net.Join("alice-key"), "someone else")
	assert.Equal(t, "old", e.Local().ID)
	assert.Equal(t, "alice", e.Local().Name)
}

func TestInvalidReplicaExcluded(t *testing.T) {
	net := memory.NewNetwork()
	net.Inject("broken", json.RawMessage(`{"id":"b","name":7,"saves":[]}`))
	net.Inject("remnant", json.RawMessage(`{"id":"r","name":"old","saves":[]}`))

	e := signIn(t, net.Join("alice-key"), "alice")

	var addrs []string
	for _, p := range e.Participants() {
		addrs = append(addrs, p.Address)
	}
	assert.Equal(t, []string{"alice-key", "remnant"}, addrs)

	// invalid replicas cannot be blocked either
	err := e.Block(context.Background(), "b")
	assert.ErrorIs(t, err, session.ErrUnresolved)
}

func TestMergeOnDifferentID(t *testing.T) {
	net := memory.NewNetwork()
	p := net.Join("alice-key")
	e := signIn(t, p, "alice")
	ctx := context.Background()

	heldID := e.Local().ID
	require.NoError(t, e.AddSave(ctx, session.Save{
		ID: "a", Name: "mine", Tuning: "major", Tempo: 120, ActiveGridItems: []grid.Cell{},
	}))

	// the same key written from another device with its own record id
	other := session.Record{
		ID:   "other-device",
		Name: "alice (laptop)",
		Saves: []session.Save{
			{ID: "a", Name: "theirs", Tuning: "major", Tempo: 90, ActiveGridItems: []grid.Cell{}},
			{ID: "b", Name: "new", Tuning: "blues", Tempo: 80, ActiveGridItems: []grid.Cell{{Row: 1, Col: 2}}},
		},
	}
	net.Inject("alice-key", mustJSON(t, other))
	require.NoError(t, e.Sync(ctx))

	local := e.Local()
	assert.Equal(t, heldID, local.ID)
	require.Len(t, local.Saves, 2)
	assert.Equal(t, "a", local.Saves[0].ID)
	assert.Equal(t, "mine", local.Saves[0].Name)
	assert.Equal(t, "b", local.Saves[1].ID)

	// same save set as the store: nothing written back
	raw, ok, err := p.Get(ctx, "alice-key")
	require.NoError(t, err)
	require.True(t, ok)
	stored, err := session.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "other-device", stored.ID)
}

func TestMergeWritesBackNewSaves(t *testing.T) {
	net := memory.NewNetwork()
	p := net.Join("alice-key")
	e := signIn(t, p, "alice")
	ctx := context.Background()

	require.NoError(t, e.AddSave(ctx, session.Save{
		ID: "local-only", Name: "x", Tuning: "minor", Tempo: 100, ActiveGridItems: []grid.Cell{},
	}))
	net.Inject("alice-key", mustJSON(t, session.Record{
		ID: "other-device", Name: "alice", Saves: []session.Save{
			{ID: "remote", Name: "y", Tuning: "minor", Tempo: 100, ActiveGridItems: []grid.Cell{}},
		},
	}))
	require.NoError(t, e.Sync(ctx))

	raw, _, err := p.Get(ctx, "alice-key")
	require.NoError(t, err)
	stored, err := session.Parse(raw)
	require.NoError(t, err)
	require.Len(t, stored.Saves, 2)
	assert.Equal(t, "local-only", stored.Saves[0].ID)
	assert.Equal(t, "remote", stored.Saves[1].ID)

	// a second sync sees the same id and leaves everything alone
	require.NoError(t, e.Sync(ctx))
	assert.Len(t, e.Local().Saves, 2)
}

func TestBlockUndenyRoundTrip(t *testing.T) {
	net := memory.NewNetwork()
	pa := net.Join("alice-key")
	pb := net.Join("bob-key")
	ctx := context.Background()

	bob := signIn(t, pb, "bob")
	alice := signIn(t, pa, "alice")

	require.NoError(t, alice.Block(ctx, bob.Local().ID))

	local := alice.Local()
	require.Len(t, local.Blocks, 1)
	assert.Equal(t, session.Block{Name: "bob", Address: "bob-key"}, local.Blocks[0])
	assert.True(t, pa.Denied("bob-key"))

	// blocking twice adds nothing
	require.NoError(t, alice.Block(ctx, bob.Local().ID))
	assert.Len(t, alice.Local().Blocks, 1)

	// the block is persisted
	raw, _, err := pa.Get(ctx, "alice-key")
	require.NoError(t, err)
	stored, err := session.Parse(raw)
	require.NoError(t, err)
	assert.True(t, stored.HasBlock("bob-key"))

	require.NoError(t, alice.Undeny(ctx, "bob-key"))
	assert.Empty(t, alice.Local().Blocks)
	assert.False(t, pa.Denied("bob-key"))
}

func TestBlockUnresolvedMutatesNothing(t *testing.T) {
	net := memory.NewNetwork()
	p := net.Join("alice-key")
	e := signIn(t, p, "alice")

	before := e.Local()
	err := e.Block(context.Background(), "ghost")
	assert.ErrorIs(t, err, session.ErrUnresolved)
	assert.Equal(t, before, e.Local())
}

func TestBlockSelfRejected(t *testing.T) {
	net := memory.NewNetwork()
	e := signIn(t, net.Join("alice-key"), "alice")
	assert.ErrorIs(t, e.Block(context.Background(), e.Local().ID), session.ErrBlockSelf)
}

func TestSyncReappliesBlocks(t *testing.T) {
	net := memory.NewNetwork()
	net.Inject("alice-key", json.RawMessage(`{"id":"a","name":"alice","saves":[],"blocks":[{"name":"eve","address":"eve-key"}]}`))
	net.Inject("eve-key", json.RawMessage(`{"id":"e","name":"eve","saves":[]}`))

	net.Inject("bob-key", json.RawMessage(`{"id":"b","name":"bob","saves":[]}`))

	p := net.Join("alice-key")
	e := signIn(t, p, "alice")
	assert.True(t, p.Denied("eve-key"))

	// the first sync still read eve before the deny went out
	blocked := map[string]bool{}
	for _, part := range e.Participants() {
		blocked[part.Address] = part.Blocked
	}
	assert.Equal(t, map[string]bool{"alice-key": false, "bob-key": false, "eve-key": true}, blocked)

	require.NoError(t, e.Sync(context.Background()))
	for _, part := range e.Participants() {
		assert.NotEqual(t, "eve-key", part.Address, "denied replica must be hidden")
	}
	assert.Len(t, e.Participants(), 2)
}

func TestSaveLifecycle(t *testing.T) {
	net := memory.NewNetwork()
	e := signIn(t, net.Join("alice-key"), "alice")
	ctx := context.Background()

	s := session.NewSave("groove", grid.TuningBlues, 128, []grid.Cell{{Row: 2, Col: 3}})
	require.NoError(t, e.AddSave(ctx, s))

	got, ok := e.FindSave(s.ID)
	require.True(t, ok)
	assert.Equal(t, "groove", got.Name)

	require.NoError(t, e.DeleteSave(ctx, s.ID))
	_, ok = e.FindSave(s.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, e.DeleteSave(ctx, s.ID), session.ErrSaveNotFound)

	require.NoError(t, e.SetName(ctx, "ana"))
	assert.Equal(t, "ana", e.Local().Name)

	bad := session.NewSave("bad", grid.TuningBlues, 0, nil)
	assert.ErrorIs(t, e.AddSave(ctx, bad), session.ErrInvalidRecord)
	assert.Empty(t, e.Local().Saves)
}

func TestSubscribeRunsSyncOnLoop(t *testing.T) {
	net := memory.NewNetwork()
	pa := net.Join("alice-key")
	m := loop.NewManual(time.Unix(0, 0))
	ctx := context.Background()

	alice := signIn(t, pa, "alice")
	alice.Subscribe(ctx, m)

	updates := 0
	alice.SetOnUpdate(func() { updates++ })

	pb := net.Join("bob-key")
	signIn(t, pb, "bob")

	// nothing happens until the loop runs
	assert.Len(t, alice.Participants(), 1)
	m.Flush()
	assert.Len(t, alice.Participants(), 2)
	assert.Equal(t, 1, alice.ConnectionCount())
	assert.Positive(t, updates)

	alice.SignOut()
	assert.Nil(t, alice.Local())
	net.Inject("carol-key", json.RawMessage(`{"id":"c","name":"carol","saves":[]}`))
	m.Flush()
	assert.Empty(t, alice.Participants())
}

func TestSyncWithoutLocalRecord(t *testing.T) {
	net := memory.NewNetwork()
	net.Inject("bob-key", json.RawMessage(`{"id":"b","name":"bob","saves":[]}`))
	p := net.Join("alice-key")

	e := session.NewEngine(p)
	require.NoError(t, e.Sync(context.Background()))
	assert.Nil(t, e.Local())
	assert.Len(t, e.Participants(), 1)
	assert.ErrorIs(t, e.Block(context.Background(), "b"), session.ErrNoLocalRecord)
}
