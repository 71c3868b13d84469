package event

import (
	"math/big"
)

// FundingAccrued is emitted when a market's funding indices advance.
type FundingAccrued struct {
	Market       string   `json:"market"`
	Elapsed      int64    `json:"elapsed_seconds"`
	LongIsPayer  bool     `json:"long_is_payer"`
	PerSizePayer *big.Int `json:"per_size_payer"`
	PerSizeRecv  *big.Int `json:"per_size_recv"`
	FundingUsd   *big.Int `json:"funding_usd"`
}

func (e *FundingAccrued) EventName() string { return "FundingAccrued" }
func (e *FundingAccrued) MarketID() *string { return marketRef(e.Market) }

// BorrowingAccrued is emitted when one side's cumulative borrowing
// factor advances.
type BorrowingAccrued struct {
	Market  string   `json:"market"`
	IsLong  bool     `json:"is_long"`
	Elapsed int64    `json:"elapsed_seconds"`
	Delta   *big.Int `json:"delta"`
}

func (e *BorrowingAccrued) EventName() string { return "BorrowingAccrued" }
func (e *BorrowingAccrued) MarketID() *string { return marketRef(e.Market) }

// PositionFeesCollected is emitted once per settled position during
// order execution. FundingFeeUsd is signed: positive paid, negative
// received.
type PositionFeesCollected struct {
	Account           string   `json:"account"`
	Market            string   `json:"market"`
	CollateralToken   string   `json:"collateral_token"`
	IsLong            bool     `json:"is_long"`
	FundingFeeUsd     *big.Int `json:"funding_fee_usd"`
	FundingPaidAmount *big.Int `json:"funding_paid_amount"`
	BorrowingFeeUsd   *big.Int `json:"borrowing_fee_usd"`
	BorrowingPaid     *big.Int `json:"borrowing_paid_amount"`
}

func (e *PositionFeesCollected) EventName() string { return "PositionFeesCollected" }
func (e *PositionFeesCollected) MarketID() *string { return marketRef(e.Market) }

// ClaimableFundingUpdated is emitted when settlement escrows a
// cross-token funding receivable.
type ClaimableFundingUpdated struct {
	Account string   `json:"account"`
	Market  string   `json:"market"`
	Token   string   `json:"token"`
	Delta   *big.Int `json:"delta"`
	Next    *big.Int `json:"next"`
}

func (e *ClaimableFundingUpdated) EventName() string { return "ClaimableFundingUpdated" }
func (e *ClaimableFundingUpdated) MarketID() *string { return marketRef(e.Market) }

// FundingFeesClaimed is emitted per (market, token) pair on a
// successful claim transfer.
type FundingFeesClaimed struct {
	Account  string   `json:"account"`
	Market   string   `json:"market"`
	Token    string   `json:"token"`
	Receiver string   `json:"receiver"`
	Amount   *big.Int `json:"amount"`
}

func (e *FundingFeesClaimed) EventName() string { return "FundingFeesClaimed" }
func (e *FundingFeesClaimed) MarketID() *string { return marketRef(e.Market) }

// OpenInterestUpdated is emitted when execution moves a
// (market, token, side) open-interest accumulator.
type OpenInterestUpdated struct {
	Market   string   `json:"market"`
	Token    string   `json:"token"`
	IsLong   bool     `json:"is_long"`
	DeltaUsd *big.Int `json:"delta_usd"`
	NextUsd  *big.Int `json:"next_usd"`
}

func (e *OpenInterestUpdated) EventName() string { return "OpenInterestUpdated" }
func (e *OpenInterestUpdated) MarketID() *string { return marketRef(e.Market) }
