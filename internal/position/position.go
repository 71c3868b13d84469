package position

import (
	"math/big"

	"github.com/FelixGibson/gmx-synthetics/internal/store"
)

// Position is one account's exposure in a market, keyed by
// (account, market, collateral token, side). SizeInUsd is Float-scaled;
// CollateralAmount is in the collateral token's smallest unit.
//
// FundingFeeAmountPerSize and BorrowingFactor snapshot the market's
// cumulative indices as of the last settlement. The difference between
// the live index and the snapshot, times size, is the unsettled fee.
type Position struct {
	Account         string
	Market          string
	CollateralToken string
	IsLong          bool

	SizeInUsd        *big.Int
	CollateralAmount *big.Int

	FundingFeeAmountPerSize *big.Int
	BorrowingFactor         *big.Int

	IncreasedAt int64
	DecreasedAt int64
}

func (p *Position) Key() store.Key {
	return store.PositionKey(p.Account, p.Market, p.CollateralToken, p.IsLong)
}

func (p *Position) IsEmpty() bool {
	return p.SizeInUsd.Sign() == 0 && p.CollateralAmount.Sign() == 0
}

// Clone deep-copies a position so snapshots never alias live state.
func (p *Position) Clone() *Position {
	c := *p
	c.SizeInUsd = new(big.Int).Set(p.SizeInUsd)
	c.CollateralAmount = new(big.Int).Set(p.CollateralAmount)
	c.FundingFeeAmountPerSize = new(big.Int).Set(p.FundingFeeAmountPerSize)
	c.BorrowingFactor = new(big.Int).Set(p.BorrowingFactor)
	return &c
}

// New returns an empty position shell with zeroed accumulators.
func New(account, marketID, collateralToken string, isLong bool) *Position {
	return &Position{
		Account:                 account,
		Market:                  marketID,
		CollateralToken:         collateralToken,
		IsLong:                  isLong,
		SizeInUsd:               new(big.Int),
		CollateralAmount:        new(big.Int),
		FundingFeeAmountPerSize: new(big.Int),
		BorrowingFactor:         new(big.Int),
	}
}
