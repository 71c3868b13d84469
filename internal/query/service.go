package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Service provides read-only access to the persisted fee history.
// Live state (positions, orders, claimable balances) is served from
// the engine; this service answers the historical questions the
// engine no longer holds. All responses include as_of_sequence for
// freshness semantics.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Watermark returns the highest persisted event sequence.
func (s *Service) Watermark(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM synth.events`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("watermark: %w", err)
	}
	return seq.Int64, nil
}

// FeeSettlements returns an account's settled fee history, newest
// first, optionally filtered by market.
func (s *Service) FeeSettlements(ctx context.Context, account string, marketID *string, limit int) ([]FeeSettlementRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, account, market_id, collateral_token, is_long,
		       funding_fee_usd, funding_paid_amount,
		       borrowing_fee_usd, borrowing_paid_amount, created_at
		FROM synth.fee_settlements
		WHERE account = $1 AND ($2::text IS NULL OR market_id = $2)
		ORDER BY sequence DESC
		LIMIT $3
	`, account, marketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []FeeSettlementRecord
	for rows.Next() {
		var r FeeSettlementRecord
		if err := rows.Scan(
			&r.Sequence, &r.Account, &r.MarketID, &r.CollateralToken, &r.IsLong,
			&r.FundingFeeUsd, &r.FundingPaidAmount,
			&r.BorrowingFeeUsd, &r.BorrowingPaid, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Claims returns an account's funding claim payouts, newest first.
func (s *Service) Claims(ctx context.Context, account string, limit int) ([]ClaimRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, account, market_id, token, receiver, amount, created_at
		FROM synth.funding_claims
		WHERE account = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ClaimRecord
	for rows.Next() {
		var r ClaimRecord
		if err := rows.Scan(
			&r.Sequence, &r.Account, &r.MarketID, &r.Token,
			&r.Receiver, &r.Amount, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Events returns a market's event log slice starting after
// fromSequence, oldest first, optionally filtered by event name.
func (s *Service) Events(ctx context.Context, marketID string, eventName *string, fromSequence int64, limit int) ([]EventRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, event_name, market_id, payload, created_at
		FROM synth.events
		WHERE market_id = $1
		  AND sequence > $2
		  AND ($3::text IS NULL OR event_name = $3)
		ORDER BY sequence ASC
		LIMIT $4
	`, marketID, fromSequence, eventName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var r EventRecord
		if err := rows.Scan(&r.Sequence, &r.EventName, &r.MarketID, &r.Payload, &r.Timestamp); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// FundingHistory returns a market's funding accruals decoded from the
// event log, newest first.
func (s *Service) FundingHistory(ctx context.Context, marketID string, limit int) ([]json.RawMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT payload
		FROM synth.events
		WHERE market_id = $1 AND event_name = 'FundingAccrued'
		ORDER BY sequence DESC
		LIMIT $2
	`, marketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payloads []json.RawMessage
	for rows.Next() {
		var p []byte
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		payloads = append(payloads, json.RawMessage(p))
	}
	return payloads, rows.Err()
}
