package order

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/FelixGibson/gmx-synthetics/internal/store"
)

// Book holds pending orders. Single-threaded like the rest of the
// engine state; snapshot/restore gives entry points rollback.
type Book struct {
	orders map[store.Key]*Order
	byID   map[uuid.UUID]store.Key
	nonce  uint64
}

func NewBook() *Book {
	return &Book{
		orders: make(map[store.Key]*Order),
		byID:   make(map[uuid.UUID]store.Key),
	}
}

// Add materializes an order from validated params, assigning identity
// and the Created status.
func (b *Book) Add(p *CreateParams, now time.Time) *Order {
	b.nonce++
	o := &Order{
		ID:                    uuid.New(),
		Nonce:                 b.nonce,
		Account:               p.Account,
		Market:                p.Market,
		CollateralToken:       p.CollateralToken,
		IsLong:                p.IsLong,
		Type:                  p.Type,
		Status:                StatusCreated,
		SizeDeltaUsd:          new(big.Int).Set(p.SizeDeltaUsd),
		CollateralDeltaAmount: new(big.Int).Set(p.CollateralDeltaAmount),
		TriggerPrice:          new(big.Int).Set(p.TriggerPrice),
		AcceptablePrice:       new(big.Int).Set(p.AcceptablePrice),
		ExecutionFeeAmount:    new(big.Int).Set(p.ExecutionFeeAmount),
		CreatedAt:             now.Unix(),
		UpdatedAt:             now.Unix(),
	}
	b.orders[o.Key()] = o
	b.byID[o.ID] = o.Key()
	return o
}

func (b *Book) Get(id uuid.UUID) (*Order, bool) {
	key, ok := b.byID[id]
	if !ok {
		return nil, false
	}
	o, ok := b.orders[key]
	return o, ok
}

func (b *Book) Remove(id uuid.UUID) {
	key, ok := b.byID[id]
	if !ok {
		return
	}
	delete(b.orders, key)
	delete(b.byID, id)
}

func (b *Book) Len() int {
	return len(b.orders)
}

// ByAccount returns the account's pending orders in unspecified order.
func (b *Book) ByAccount(account string) []*Order {
	var out []*Order
	for _, o := range b.orders {
		if o.Account == account {
			out = append(out, o)
		}
	}
	return out
}

func (b *Book) Snapshot() *Book {
	snap := NewBook()
	snap.nonce = b.nonce
	for k, o := range b.orders {
		snap.orders[k] = o.Clone()
		snap.byID[o.ID] = k
	}
	return snap
}

func (b *Book) Restore(snap *Book) {
	b.nonce = snap.nonce
	b.orders = make(map[store.Key]*Order, len(snap.orders))
	b.byID = make(map[uuid.UUID]store.Key, len(snap.byID))
	for k, o := range snap.orders {
		b.orders[k] = o.Clone()
		b.byID[o.ID] = k
	}
}
