package query

import "time"

// FeeSettlementRecord is one settled position's fee breakdown. USD
// fields are 1e30 fixed-point integers and amount fields token base
// units, both serialized as decimal strings.
type FeeSettlementRecord struct {
	Sequence          int64     `json:"sequence"`
	Account           string    `json:"account"`
	MarketID          string    `json:"market_id"`
	CollateralToken   string    `json:"collateral_token"`
	IsLong            bool      `json:"is_long"`
	FundingFeeUsd     string    `json:"funding_fee_usd"`
	FundingPaidAmount string    `json:"funding_paid_amount"`
	BorrowingFeeUsd   string    `json:"borrowing_fee_usd"`
	BorrowingPaid     string    `json:"borrowing_paid_amount"`
	Timestamp         time.Time `json:"timestamp"`
}

// ClaimRecord is one (market, token) funding claim payout.
type ClaimRecord struct {
	Sequence  int64     `json:"sequence"`
	Account   string    `json:"account"`
	MarketID  string    `json:"market_id"`
	Token     string    `json:"token"`
	Receiver  string    `json:"receiver"`
	Amount    string    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// EventRecord is one row of the append-only event log.
type EventRecord struct {
	Sequence  int64     `json:"sequence"`
	EventName string    `json:"event_name"`
	MarketID  *string   `json:"market_id,omitempty"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}
