package market

import (
	"math/big"

	"github.com/FelixGibson/gmx-synthetics/internal/errs"
	"github.com/FelixGibson/gmx-synthetics/internal/store"
)

// Market identifies a tradable pair. LongToken and ShortToken may be
// equal ("single-token market"); open interest and collateral sums are
// tracked independently per (market, token, side).
type Market struct {
	ID         string
	LongToken  string
	ShortToken string
}

func (m Market) IsSingleToken() bool {
	return m.LongToken == m.ShortToken
}

// Tokens returns the market's distinct collateral tokens, long token
// first. The ordering is load-bearing: USD apportioning assigns
// truncation remainders to the last token in this order.
func (m Market) Tokens() []string {
	if m.IsSingleToken() {
		return []string{m.LongToken}
	}
	return []string{m.LongToken, m.ShortToken}
}

// HasCollateralToken reports whether token is valid collateral here.
func (m Market) HasCollateralToken(token string) bool {
	return token == m.LongToken || token == m.ShortToken
}

// OpenInterestUsd reads the open interest accumulator for one
// (token, side) slot.
func OpenInterestUsd(ds *store.DataStore, m Market, token string, isLong bool) *big.Int {
	return ds.GetUint(store.OpenInterestKey(m.ID, token, isLong))
}

// SideOpenInterestUsd sums open interest across the market's tokens for
// one side.
func SideOpenInterestUsd(ds *store.DataStore, m Market, isLong bool) *big.Int {
	total := new(big.Int)
	for _, token := range m.Tokens() {
		total.Add(total, OpenInterestUsd(ds, m, token, isLong))
	}
	return total
}

// ApplyOpenInterestDelta adjusts one (token, side) accumulator. A
// result below zero means position size accounting upstream is broken,
// which is an invariant violation rather than a user error.
func ApplyOpenInterestDelta(ds *store.DataStore, m Market, token string, isLong bool, deltaUsd *big.Int) (*big.Int, error) {
	next, ok := ds.ApplyDeltaUint(store.OpenInterestKey(m.ID, token, isLong), deltaUsd)
	if !ok {
		return nil, errs.InvalidStatef(
			"open interest underflow: market=%s token=%s long=%v result=%s",
			m.ID, token, isLong, next,
		)
	}
	return next, nil
}
