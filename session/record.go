// Package session holds the replicated per-participant record and the
// engine that reconciles it with the distributed store.
package session

import (
	"github.com/google/uuid"

	"go-ripple/grid"
)

// Record is one participant's replicated state, stored as JSON under the
// participant's transport public key
type Record struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Saves  []Save  `json:"saves"`
	Blocks []Block `json:"blocks,omitempty"`
}

// Save is a named preset of tempo, tuning and enabled cells
type Save struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Tuning          string      `json:"tuning"`
	Tempo           float64     `json:"tempo"`
	ActiveGridItems []grid.Cell `json:"activeGridItems"`
}

// Block mutes one transport address
type Block struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// NewRecord creates an empty record with a fresh id
func NewRecord(name string) *Record {
	return &Record{
		ID:    uuid.NewString(),
		Name:  name,
		Saves: []Save{},
	}
}

// NewSave creates a save with a fresh id. Cells are deduplicated.
func NewSave(name string, tuning grid.TuningName, tempo float64, cells []grid.Cell) Save {
	return Save{
		ID:              uuid.NewString(),
		Name:            name,
		Tuning:          string(tuning),
		Tempo:           tempo,
		ActiveGridItems: grid.Distinct(cells),
	}
}

// Clone returns a deep copy
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{
		ID:     r.ID,
		Name:   r.Name,
		Saves:  make([]Save, len(r.Saves)),
		Blocks: append([]Block(nil), r.Blocks...),
	}
	for i, s := range r.Saves {
		s.ActiveGridItems = append([]grid.Cell(nil), s.ActiveGridItems...)
		out.Saves[i] = s
	}
	return out
}

// FindSave returns the save with id
func (r *Record) FindSave(id string) (Save, bool) {
	for _, s := range r.Saves {
		if s.ID == id {
			return s, true
		}
	}
	return Save{}, false
}

// HasBlock reports whether address is on the denylist
func (r *Record) HasBlock(address string) bool {
	for _, b := range r.Blocks {
		if b.Address == address {
			return true
		}
	}
	return false
}

// mergeSaves concatenates held and incoming saves and keeps the first
// occurrence of every id
func mergeSaves(held, incoming []Save) []Save {
	seen := make(map[string]bool, len(held)+len(incoming))
	merged := make([]Save, 0, len(held)+len(incoming))
	for _, list := range [][]Save{held, incoming} {
		for _, s := range list {
			if seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			merged = append(merged, s)
		}
	}
	return merged
}
