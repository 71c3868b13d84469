package engine

import (
	"math/big"

	"github.com/google/uuid"

	"github.com/FelixGibson/gmx-synthetics/internal/market"
	"github.com/FelixGibson/gmx-synthetics/internal/order"
	"github.com/FelixGibson/gmx-synthetics/internal/position"
	"github.com/FelixGibson/gmx-synthetics/internal/store"
)

// Read accessors for the query service. Like every engine method they
// must run on the engine's serialization boundary; returned values are
// copies or clones and safe to hand out.

// ClaimableFunding returns the escrowed funding balance for
// (market, token, account).
func (e *Engine) ClaimableFunding(marketID, token, account string) *big.Int {
	return e.ds.GetUint(store.ClaimableFundingAmountKey(marketID, token, account))
}

// OpenInterest returns the USD open interest for (market, token, side).
func (e *Engine) OpenInterest(marketID, token string, isLong bool) (*big.Int, error) {
	m, err := e.lookupMarket(marketID)
	if err != nil {
		return nil, err
	}
	return market.OpenInterestUsd(e.ds, m, token, isLong), nil
}

// FundingState returns a market's funding configuration and checkpoint.
func (e *Engine) FundingState(marketID string) (market.FundingState, error) {
	m, err := e.lookupMarket(marketID)
	if err != nil {
		return market.FundingState{}, err
	}
	return market.GetFundingState(e.ds, m), nil
}

// FundingIndex returns the cumulative funding index for
// (market, token, side).
func (e *Engine) FundingIndex(marketID, token string, isLong bool) (*big.Int, error) {
	m, err := e.lookupMarket(marketID)
	if err != nil {
		return nil, err
	}
	return market.FundingAmountPerSize(e.ds, m, token, isLong), nil
}

// BorrowingState returns one side's borrowing configuration and
// cumulative factor.
func (e *Engine) BorrowingState(marketID string, isLong bool) (market.BorrowingState, error) {
	m, err := e.lookupMarket(marketID)
	if err != nil {
		return market.BorrowingState{}, err
	}
	return market.GetBorrowingState(e.ds, m, isLong), nil
}

// Position returns a clone of the live position, if any.
func (e *Engine) Position(account, marketID, collateralToken string, isLong bool) (*position.Position, bool) {
	pos, ok := e.positions.Get(positionKey(account, marketID, collateralToken, isLong))
	if !ok {
		return nil, false
	}
	return pos.Clone(), true
}

// PositionsByAccount returns clones of the account's live positions.
func (e *Engine) PositionsByAccount(account string) []*position.Position {
	live := e.positions.ByAccount(account)
	out := make([]*position.Position, len(live))
	for i, p := range live {
		out[i] = p.Clone()
	}
	return out
}

// Order returns a clone of a pending order, if any.
func (e *Engine) Order(id uuid.UUID) (*order.Order, bool) {
	o, ok := e.orders.Get(id)
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// OrdersByAccount returns clones of the account's pending orders.
func (e *Engine) OrdersByAccount(account string) []*order.Order {
	live := e.orders.ByAccount(account)
	out := make([]*order.Order, len(live))
	for i, o := range live {
		out[i] = o.Clone()
	}
	return out
}

// Markets returns the registered markets.
func (e *Engine) Markets() []market.Market {
	out := make([]market.Market, 0, len(e.markets))
	for _, m := range e.markets {
		out = append(out, m)
	}
	return out
}
