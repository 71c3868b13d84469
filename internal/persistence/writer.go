package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// RowWriter writes event and fee rows to Postgres using multi-row
// INSERT with ON CONFLICT DO NOTHING, so replaying a batch after a
// partial failure is safe.
type RowWriter struct {
	db *sql.DB
}

// EventRow is a row in synth.events: the full event payload as JSON
// plus the routing columns queries filter on.
type EventRow struct {
	Sequence  int64
	EventName string
	MarketID  *string
	Payload   []byte
	Timestamp time.Time
}

// FeeRow is a row in synth.fee_settlements, one per settled position.
// Amounts are decimal strings of base-unit integers.
type FeeRow struct {
	Sequence          int64
	Account           string
	Market            string
	CollateralToken   string
	IsLong            bool
	FundingFeeUsd     string
	FundingPaidAmount string
	BorrowingFeeUsd   string
	BorrowingPaid     string
	Timestamp         time.Time
}

// ClaimRow is a row in synth.funding_claims, one per (market, token)
// pair paid out by a claim.
type ClaimRow struct {
	Sequence  int64
	Account   string
	Market    string
	Token     string
	Receiver  string
	Amount    string
	Timestamp time.Time
}

func NewRowWriter(db *sql.DB) *RowWriter {
	return &RowWriter{db: db}
}

// WriteEventBatch inserts a batch of event rows inside tx.
func (w *RowWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO synth.events
		(sequence, event_name, market_id, payload, created_at)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*5)

	for i, e := range events {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, e.Sequence, e.EventName, e.MarketID, e.Payload, e.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteFeeBatch inserts a batch of fee settlement rows inside tx.
func (w *RowWriter) WriteFeeBatch(ctx context.Context, tx *sql.Tx, fees []FeeRow) error {
	if len(fees) == 0 {
		return nil
	}

	query := `INSERT INTO synth.fee_settlements
		(sequence, account, market_id, collateral_token, is_long,
		 funding_fee_usd, funding_paid_amount, borrowing_fee_usd, borrowing_paid_amount, created_at)
		VALUES `

	values := make([]string, 0, len(fees))
	args := make([]interface{}, 0, len(fees)*10)

	for i, f := range fees {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			f.Sequence, f.Account, f.Market, f.CollateralToken, f.IsLong,
			f.FundingFeeUsd, f.FundingPaidAmount, f.BorrowingFeeUsd, f.BorrowingPaid, f.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteClaimBatch inserts a batch of funding claim rows inside tx.
func (w *RowWriter) WriteClaimBatch(ctx context.Context, tx *sql.Tx, claims []ClaimRow) error {
	if len(claims) == 0 {
		return nil
	}

	query := `INSERT INTO synth.funding_claims
		(sequence, account, market_id, token, receiver, amount, created_at)
		VALUES `

	values := make([]string, 0, len(claims))
	args := make([]interface{}, 0, len(claims)*7)

	for i, c := range claims {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args, c.Sequence, c.Account, c.Market, c.Token, c.Receiver, c.Amount, c.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
