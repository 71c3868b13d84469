package store

import (
	"math/big"
)

// DataStore is the generic durable ledger behind the engine: open
// interest, cumulative funding indices, claimable balances, and
// checkpoint timestamps all live here under content-addressed keys
// (see keys.go). It carries no business logic.
//
// Not thread-safe; only accessed from the single-threaded engine.
type DataStore struct {
	uints map[Key]*big.Int
	ints  map[Key]*big.Int
	addrs map[Key]string
	bools map[Key]bool
	bytes map[Key][32]byte
}

func NewDataStore() *DataStore {
	return &DataStore{
		uints: make(map[Key]*big.Int),
		ints:  make(map[Key]*big.Int),
		addrs: make(map[Key]string),
		bools: make(map[Key]bool),
		bytes: make(map[Key][32]byte),
	}
}

// GetUint returns the unsigned value for key, zero if unset.
// The returned value is a copy; mutating it does not touch the store.
func (ds *DataStore) GetUint(key Key) *big.Int {
	if v, ok := ds.uints[key]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// SetUint stores an unsigned value. Negative values panic: unsigned
// slots going negative always indicates an upstream accounting bug, and
// the caller is expected to have range-checked via ApplyDeltaUint.
func (ds *DataStore) SetUint(key Key, value *big.Int) {
	if value.Sign() < 0 {
		panic("store: SetUint with negative value")
	}
	if value.Sign() == 0 {
		delete(ds.uints, key)
		return
	}
	ds.uints[key] = new(big.Int).Set(value)
}

// ApplyDeltaUint adds a signed delta to an unsigned slot and returns
// the new value. Reports ok=false (and leaves the slot untouched) if
// the result would go negative.
func (ds *DataStore) ApplyDeltaUint(key Key, delta *big.Int) (*big.Int, bool) {
	next := ds.GetUint(key)
	next.Add(next, delta)
	if next.Sign() < 0 {
		return next, false
	}
	ds.SetUint(key, next)
	return next, true
}

// GetInt returns the signed value for key, zero if unset.
func (ds *DataStore) GetInt(key Key) *big.Int {
	if v, ok := ds.ints[key]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// SetInt stores a signed value.
func (ds *DataStore) SetInt(key Key, value *big.Int) {
	if value.Sign() == 0 {
		delete(ds.ints, key)
		return
	}
	ds.ints[key] = new(big.Int).Set(value)
}

// ApplyDeltaInt adds a delta to a signed slot and returns the new value.
func (ds *DataStore) ApplyDeltaInt(key Key, delta *big.Int) *big.Int {
	next := ds.GetInt(key)
	next.Add(next, delta)
	ds.SetInt(key, next)
	return new(big.Int).Set(next)
}

func (ds *DataStore) GetAddress(key Key) string {
	return ds.addrs[key]
}

func (ds *DataStore) SetAddress(key Key, value string) {
	if value == "" {
		delete(ds.addrs, key)
		return
	}
	ds.addrs[key] = value
}

func (ds *DataStore) GetBool(key Key) bool {
	return ds.bools[key]
}

func (ds *DataStore) SetBool(key Key, value bool) {
	if !value {
		delete(ds.bools, key)
		return
	}
	ds.bools[key] = true
}

func (ds *DataStore) GetBytes32(key Key) [32]byte {
	return ds.bytes[key]
}

func (ds *DataStore) SetBytes32(key Key, value [32]byte) {
	ds.bytes[key] = value
}

// Snapshot captures a deep copy of all state. Paired with Restore it
// gives public entry points their all-or-nothing semantics: snapshot,
// mutate, and restore on failure.
func (ds *DataStore) Snapshot() *DataStore {
	snap := NewDataStore()
	for k, v := range ds.uints {
		snap.uints[k] = new(big.Int).Set(v)
	}
	for k, v := range ds.ints {
		snap.ints[k] = new(big.Int).Set(v)
	}
	for k, v := range ds.addrs {
		snap.addrs[k] = v
	}
	for k, v := range ds.bools {
		snap.bools[k] = v
	}
	for k, v := range ds.bytes {
		snap.bytes[k] = v
	}
	return snap
}

// Restore replaces all state with the snapshot's contents.
func (ds *DataStore) Restore(snap *DataStore) {
	ds.uints = make(map[Key]*big.Int, len(snap.uints))
	ds.ints = make(map[Key]*big.Int, len(snap.ints))
	ds.addrs = make(map[Key]string, len(snap.addrs))
	ds.bools = make(map[Key]bool, len(snap.bools))
	ds.bytes = make(map[Key][32]byte, len(snap.bytes))
	for k, v := range snap.uints {
		ds.uints[k] = new(big.Int).Set(v)
	}
	for k, v := range snap.ints {
		ds.ints[k] = new(big.Int).Set(v)
	}
	for k, v := range snap.addrs {
		ds.addrs[k] = v
	}
	for k, v := range snap.bools {
		ds.bools[k] = v
	}
	for k, v := range snap.bytes {
		ds.bytes[k] = v
	}
}
