package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"github.com/FelixGibson/gmx-synthetics/internal/event"
	"github.com/FelixGibson/gmx-synthetics/internal/ingestion"
	"github.com/FelixGibson/gmx-synthetics/internal/observability"
)

// Worker drains the persist channel and batch-writes to Postgres. It
// runs independently from the engine loop; the channel emitter feeding
// it is non-blocking, so a stalled database slows durability but never
// the engine.
type Worker struct {
	writer       *RowWriter
	inputChan    <-chan ingestion.PublishableEvent
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan ingestion.PublishableEvent,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Worker {
	return &Worker{
		writer:       NewRowWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

type batch struct {
	events []EventRow
	fees   []FeeRow
	claims []ClaimRow
}

func (b *batch) reset() {
	b.events = b.events[:0]
	b.fees = b.fees[:0]
	b.claims = b.claims[:0]
}

// Run batches incoming events and flushes either when the batch is
// full or the flush timeout expires. Blocks until ctx is cancelled or
// the input channel closes; remaining rows are flushed on the way out.
func (w *Worker) Run(ctx context.Context) error {
	b := &batch{events: make([]EventRow, 0, w.batchSize)}

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(b.events) > 0 {
				if err := w.flush(context.Background(), b); err != nil {
					w.logger.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case evt, ok := <-w.inputChan:
			if !ok {
				if len(b.events) > 0 {
					if err := w.flush(context.Background(), b); err != nil {
						w.logger.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			w.collect(b, evt)

			if len(b.events) >= w.batchSize {
				w.flushWithRetry(ctx, b)
				b.reset()
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(b.events) > 0 {
				w.flushWithRetry(ctx, b)
				b.reset()
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// collect appends the event row and, for fee and claim events, the
// typed row queries join against.
func (w *Worker) collect(b *batch, evt ingestion.PublishableEvent) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		w.logger.Error().
			Int64("sequence", evt.Sequence).
			Str("event_name", evt.EventName).
			Err(err).
			Msg("event payload not serializable, row skipped")
		return
	}

	b.events = append(b.events, EventRow{
		Sequence:  evt.Sequence,
		EventName: evt.EventName,
		MarketID:  evt.MarketID,
		Payload:   payload,
		Timestamp: evt.Timestamp,
	})

	switch p := evt.Payload.(type) {
	case *event.PositionFeesCollected:
		b.fees = append(b.fees, FeeRow{
			Sequence:          evt.Sequence,
			Account:           p.Account,
			Market:            p.Market,
			CollateralToken:   p.CollateralToken,
			IsLong:            p.IsLong,
			FundingFeeUsd:     bigString(p.FundingFeeUsd),
			FundingPaidAmount: bigString(p.FundingPaidAmount),
			BorrowingFeeUsd:   bigString(p.BorrowingFeeUsd),
			BorrowingPaid:     bigString(p.BorrowingPaid),
			Timestamp:         evt.Timestamp,
		})
	case *event.FundingFeesClaimed:
		b.claims = append(b.claims, ClaimRow{
			Sequence:  evt.Sequence,
			Account:   p.Account,
			Market:    p.Market,
			Token:     p.Token,
			Receiver:  p.Receiver,
			Amount:    bigString(p.Amount),
			Timestamp: evt.Timestamp,
		})
	}
}

// flushWithRetry retries with exponential backoff until the write
// succeeds or the context is cancelled. The worker never drops a
// collected batch; on shutdown it attempts one final flush with a
// background context.
func (w *Worker) flushWithRetry(ctx context.Context, b *batch) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("rows", len(b.events)).
				Msg("persistence retry")
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), b); err != nil {
					w.logger.Error().Err(err).Msg("final flush on shutdown failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, b); err == nil {
			if attempt > 0 {
				w.logger.Info().Int("attempts", attempt).Msg("persistence flush recovered")
			}
			return
		}
	}
}

func (w *Worker) flush(ctx context.Context, b *batch) error {
	start := time.Now()

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		w.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteEventBatch(ctx, tx, b.events); err != nil {
		w.countError("write_events")
		return err
	}
	if err := w.writer.WriteFeeBatch(ctx, tx, b.fees); err != nil {
		w.countError("write_fees")
		return err
	}
	if err := w.writer.WriteClaimBatch(ctx, tx, b.claims); err != nil {
		w.countError("write_claims")
		return err
	}
	if err := tx.Commit(); err != nil {
		w.countError("tx_commit")
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(b.events)))
		w.metrics.PersistRowsWritten.Add(float64(len(b.events) + len(b.fees) + len(b.claims)))
	}
	return nil
}

func (w *Worker) countError(errorType string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(errorType).Inc()
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
