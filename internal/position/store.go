package position

import (
	"github.com/FelixGibson/gmx-synthetics/internal/store"
)

// Store holds open positions in memory. Like the data store it is
// single-threaded and supports snapshot/restore for all-or-nothing
// entry points.
type Store struct {
	positions map[store.Key]*Position
}

func NewStore() *Store {
	return &Store{positions: make(map[store.Key]*Position)}
}

// Get returns the live position; callers mutate it in place and the
// engine's snapshot discipline covers rollback.
func (s *Store) Get(key store.Key) (*Position, bool) {
	p, ok := s.positions[key]
	return p, ok
}

func (s *Store) Set(p *Position) {
	s.positions[p.Key()] = p
}

func (s *Store) Remove(key store.Key) {
	delete(s.positions, key)
}

func (s *Store) Len() int {
	return len(s.positions)
}

// All returns the live positions in unspecified order.
func (s *Store) All() []*Position {
	out := make([]*Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out
}

// ByAccount returns the account's live positions.
func (s *Store) ByAccount(account string) []*Position {
	var out []*Position
	for _, p := range s.positions {
		if p.Account == account {
			out = append(out, p)
		}
	}
	return out
}

func (s *Store) Snapshot() *Store {
	snap := NewStore()
	for k, p := range s.positions {
		snap.positions[k] = p.Clone()
	}
	return snap
}

func (s *Store) Restore(snap *Store) {
	s.positions = make(map[store.Key]*Position, len(snap.positions))
	for k, p := range snap.positions {
		s.positions[k] = p.Clone()
	}
}
