package engine

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/FelixGibson/gmx-synthetics/internal/access"
	"github.com/FelixGibson/gmx-synthetics/internal/errs"
	"github.com/FelixGibson/gmx-synthetics/internal/event"
	"github.com/FelixGibson/gmx-synthetics/internal/market"
	"github.com/FelixGibson/gmx-synthetics/internal/order"
	"github.com/FelixGibson/gmx-synthetics/internal/position"
	"github.com/FelixGibson/gmx-synthetics/internal/precision"
)

// ExecuteOrder settles a pending order against its position using the
// keeper's versioned prices and timestamp. The operation is
// all-or-nothing: any failure rolls every store back to its state
// before the call. A market order that fails is cancelled with a
// refund; a non-market order that fails recoverably is frozen for
// retry.
func (e *Engine) ExecuteOrder(keeper string, id uuid.UUID, prices market.Prices, now time.Time) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	if !e.roles.HasRole(keeper, access.RoleOrderKeeper) {
		err := errs.Forbiddenf("%s lacks the order keeper role", keeper)
		e.rejected("executeOrder", err)
		return err
	}
	o, ok := e.orders.Get(id)
	if !ok {
		err := errs.InvalidInputf("order %s not found", id)
		e.rejected("executeOrder", err)
		return err
	}
	if !e.features.IsEnabled(access.ExecuteOrderFeature(o.Type.String())) {
		err := errs.FeatureDisabledf("executeOrder disabled for %s", o.Type)
		e.rejected("executeOrder", err)
		return err
	}
	if !o.Status.CanTransitionTo(order.StatusExecuted) {
		err := errs.InvalidStatef("order %s in status %s cannot execute", id, o.Status)
		e.rejected("executeOrder", err)
		return err
	}

	start := time.Now()
	snap := e.snapshot()
	err := e.executeOrder(keeper, o, prices, now)
	if err == nil {
		if e.metrics != nil {
			e.metrics.ExecuteDuration.WithLabelValues(o.Type.String()).Observe(time.Since(start).Seconds())
		}
		return nil
	}

	e.restore(snap)
	// The restore replaced book contents; re-resolve the order before
	// mutating its lifecycle.
	o, ok = e.orders.Get(id)
	if !ok {
		return errs.InvalidStatef("order %s lost during rollback", id)
	}

	e.logger.Warn().
		Str("order_id", id.String()).
		Str("kind", errs.KindOf(err).String()).
		Err(err).
		Msg("order execution failed")

	switch {
	case o.Type.IsMarket():
		// Market orders do not linger: refund and drop.
		if cancelErr := e.removeWithRefund(o, errs.KindOf(err).String()); cancelErr != nil {
			return cancelErr
		}
	case errs.IsRecoverable(err) && o.Status.CanTransitionTo(order.StatusFrozen):
		o.Status = order.StatusFrozen
		o.FrozenReason = err.Error()
		o.UpdatedAt = now.Unix()
		if e.metrics != nil {
			e.metrics.OrdersFrozen.WithLabelValues(o.Market, errs.KindOf(err).String()).Inc()
		}
		e.emitter.Emit(&event.OrderFrozen{
			OrderID: o.ID,
			Account: o.Account,
			Market:  o.Market,
			Reason:  o.FrozenReason,
		})
	}
	return err
}

func (e *Engine) executeOrder(keeper string, o *order.Order, prices market.Prices, now time.Time) error {
	m, err := e.lookupMarket(o.Market)
	if err != nil {
		return err
	}
	indexPrice, ok := prices.Price(m.LongToken)
	if !ok {
		return errs.InvalidInputf("missing price for %s", m.LongToken)
	}
	if err := checkExecutionPrice(o, indexPrice); err != nil {
		return err
	}

	if err := e.accrue(m, now.Unix()); err != nil {
		return err
	}

	var closed bool
	if o.Type.IsIncrease() {
		err = e.applyIncrease(m, o, prices, now)
	} else {
		closed, err = e.applyDecrease(m, o, prices, now)
	}
	if err != nil {
		return err
	}

	// Keeper compensation comes from the escrowed execution fee.
	if err := e.vault.TransferOut(o.CollateralToken, keeper, o.ExecutionFeeAmount); err != nil {
		return err
	}

	o.Status = order.StatusExecuted
	e.orders.Remove(o.ID)

	e.logger.Info().
		Str("order_id", o.ID.String()).
		Str("order_type", o.Type.String()).
		Bool("position_closed", closed).
		Msg("order executed")
	if e.metrics != nil {
		e.metrics.OrdersExecuted.WithLabelValues(o.Market, o.Type.String()).Inc()
		e.metrics.PendingOrders.Set(float64(e.orders.Len()))
		e.metrics.OpenPositions.Set(float64(e.positions.Len()))
	}
	e.emitter.Emit(&event.OrderExecuted{
		OrderID:        o.ID,
		Account:        o.Account,
		Market:         o.Market,
		OrderType:      o.Type.String(),
		SizeDeltaUsd:   o.SizeDeltaUsd,
		ExecutionPrice: indexPrice,
		PositionClosed: closed,
	})
	return nil
}

// checkExecutionPrice enforces trigger and acceptable price bounds
// against the keeper's index price. Liquidations bypass both.
func checkExecutionPrice(o *order.Order, indexPrice *big.Int) error {
	if o.Type == order.Liquidation {
		return nil
	}

	// Buying the index: opening longs and closing shorts profit from a
	// lower execution price. Selling is the mirror.
	buying := o.IsLong == o.Type.IsIncrease()

	if !o.Type.IsMarket() {
		triggered := false
		switch o.Type {
		case order.LimitIncrease:
			// Enter at trigger or better.
			if buying {
				triggered = indexPrice.Cmp(o.TriggerPrice) <= 0
			} else {
				triggered = indexPrice.Cmp(o.TriggerPrice) >= 0
			}
		case order.LimitDecrease:
			// Take profit once the price crosses the trigger.
			if o.IsLong {
				triggered = indexPrice.Cmp(o.TriggerPrice) >= 0
			} else {
				triggered = indexPrice.Cmp(o.TriggerPrice) <= 0
			}
		case order.StopLossDecrease:
			if o.IsLong {
				triggered = indexPrice.Cmp(o.TriggerPrice) <= 0
			} else {
				triggered = indexPrice.Cmp(o.TriggerPrice) >= 0
			}
		}
		if !triggered {
			return errs.UnacceptablePricef(
				"index price %s has not reached trigger %s for %s",
				indexPrice, o.TriggerPrice, o.Type,
			)
		}
	}

	if o.AcceptablePrice.Sign() > 0 {
		if buying && indexPrice.Cmp(o.AcceptablePrice) > 0 {
			return errs.UnacceptablePricef(
				"index price %s above acceptable %s", indexPrice, o.AcceptablePrice,
			)
		}
		if !buying && indexPrice.Cmp(o.AcceptablePrice) < 0 {
			return errs.UnacceptablePricef(
				"index price %s below acceptable %s", indexPrice, o.AcceptablePrice,
			)
		}
	}
	return nil
}

// accrue brings the market's funding and borrowing indices current
// before any settlement reads them.
func (e *Engine) accrue(m market.Market, now int64) error {
	acc, err := market.AccrueFunding(e.ds, m, now)
	if err != nil {
		return err
	}
	if acc != nil {
		if e.metrics != nil {
			e.metrics.FundingAccruals.WithLabelValues(m.ID).Inc()
		}
		e.emitter.Emit(&event.FundingAccrued{
			Market:       m.ID,
			Elapsed:      acc.Elapsed,
			LongIsPayer:  acc.LongIsPayer,
			PerSizePayer: acc.PerSizePayer,
			PerSizeRecv:  acc.PerSizeRecv,
			FundingUsd:   acc.FundingUsd,
		})
	}

	borrowed, err := market.AccrueBorrowing(e.ds, m, now)
	if err != nil {
		return err
	}
	for _, b := range borrowed {
		if e.metrics != nil {
			e.metrics.BorrowingAccruals.WithLabelValues(m.ID, sideLabel(b.IsLong)).Inc()
		}
		e.emitter.Emit(&event.BorrowingAccrued{
			Market:  m.ID,
			IsLong:  b.IsLong,
			Elapsed: b.Elapsed,
			Delta:   b.Delta,
		})
	}
	return nil
}

func sideLabel(isLong bool) string {
	if isLong {
		return "long"
	}
	return "short"
}

func (e *Engine) applyIncrease(m market.Market, o *order.Order, prices market.Prices, now time.Time) error {
	key := o.PositionKey()
	pos, ok := e.positions.Get(key)
	if !ok {
		pos = position.New(o.Account, o.Market, o.CollateralToken, o.IsLong)
		// A fresh position starts at the live indices so it owes
		// nothing for history it did not hold through.
		pos.FundingFeeAmountPerSize = market.FundingAmountPerSize(e.ds, m, o.CollateralToken, o.IsLong)
		pos.BorrowingFactor = market.CumulativeBorrowingFactor(e.ds, m, o.IsLong)
	}

	if err := e.settlePosition(m, prices, pos); err != nil {
		return err
	}

	pos.CollateralAmount.Add(pos.CollateralAmount, o.CollateralDeltaAmount)
	pos.SizeInUsd.Add(pos.SizeInUsd, o.SizeDeltaUsd)
	pos.IncreasedAt = now.Unix()
	e.positions.Set(pos)

	return e.applyOpenInterest(m, o.CollateralToken, o.IsLong, o.SizeDeltaUsd)
}

func (e *Engine) applyDecrease(m market.Market, o *order.Order, prices market.Prices, now time.Time) (bool, error) {
	key := o.PositionKey()
	pos, ok := e.positions.Get(key)
	if !ok {
		return false, errs.InvalidInputf(
			"no position for %s in %s", o.Account, o.Market,
		)
	}

	sizeDelta := new(big.Int).Set(o.SizeDeltaUsd)
	if o.Type == order.Liquidation {
		// Liquidation always closes the full size.
		sizeDelta.Set(pos.SizeInUsd)
	} else if sizeDelta.Cmp(pos.SizeInUsd) > 0 {
		return false, errs.InvalidInputf(
			"size delta %s exceeds position size %s", sizeDelta, pos.SizeInUsd,
		)
	}

	if err := e.settlePosition(m, prices, pos); err != nil {
		return false, err
	}

	// Collateral leaves proportionally to the size reduction, plus any
	// explicit withdrawal, capped at what remains.
	payout := new(big.Int)
	if pos.SizeInUsd.Sign() > 0 {
		payout = precision.MulDiv(pos.CollateralAmount, sizeDelta, pos.SizeInUsd, precision.RoundDown)
	}
	pos.SizeInUsd.Sub(pos.SizeInUsd, sizeDelta)
	pos.CollateralAmount.Sub(pos.CollateralAmount, payout)

	if o.CollateralDeltaAmount.Sign() > 0 {
		extra := new(big.Int).Set(o.CollateralDeltaAmount)
		if extra.Cmp(pos.CollateralAmount) > 0 {
			extra.Set(pos.CollateralAmount)
		}
		pos.CollateralAmount.Sub(pos.CollateralAmount, extra)
		payout.Add(payout, extra)
	}

	closed := false
	if pos.SizeInUsd.Sign() == 0 {
		payout.Add(payout, pos.CollateralAmount)
		pos.CollateralAmount.SetInt64(0)
		e.positions.Remove(key)
		closed = true
	} else {
		pos.DecreasedAt = now.Unix()
		e.positions.Set(pos)
	}

	if err := e.applyOpenInterest(m, o.CollateralToken, o.IsLong, new(big.Int).Neg(sizeDelta)); err != nil {
		return false, err
	}

	if payout.Sign() > 0 {
		if err := e.vault.TransferOut(o.CollateralToken, o.Account, payout); err != nil {
			return false, err
		}
	}
	return closed, nil
}

// settlePosition realizes pending funding and borrowing fees against a
// position at the current indices.
func (e *Engine) settlePosition(m market.Market, prices market.Prices, pos *position.Position) error {
	fs, err := position.SettleFunding(e.ds, m, prices, pos)
	if err != nil {
		if errs.KindOf(err) == errs.KindInsufficientCollateral && e.metrics != nil {
			e.metrics.FundingInsufficientCol.WithLabelValues(m.ID).Inc()
		}
		return err
	}
	bs, err := position.SettleBorrowing(e.ds, m, prices, pos)
	if err != nil {
		if errs.KindOf(err) == errs.KindInsufficientCollateral && e.metrics != nil {
			e.metrics.FundingInsufficientCol.WithLabelValues(m.ID).Inc()
		}
		return err
	}

	if e.metrics != nil {
		e.metrics.PositionsSettled.WithLabelValues(m.ID).Inc()
	}
	if fs.FundingUsd.Sign() != 0 || bs.BorrowingUsd.Sign() != 0 {
		e.emitter.Emit(&event.PositionFeesCollected{
			Account:           pos.Account,
			Market:            pos.Market,
			CollateralToken:   pos.CollateralToken,
			IsLong:            pos.IsLong,
			FundingFeeUsd:     fs.FundingUsd,
			FundingPaidAmount: fs.PaidAmount,
			BorrowingFeeUsd:   bs.BorrowingUsd,
			BorrowingPaid:     bs.PaidAmount,
		})
	}
	for _, c := range fs.Credits {
		if !c.Claimable {
			continue
		}
		e.emitter.Emit(&event.ClaimableFundingUpdated{
			Account: pos.Account,
			Market:  pos.Market,
			Token:   c.Token,
			Delta:   c.Amount,
			Next:    e.ClaimableFunding(pos.Market, c.Token, pos.Account),
		})
	}
	return nil
}

func (e *Engine) applyOpenInterest(m market.Market, token string, isLong bool, deltaUsd *big.Int) error {
	if deltaUsd.Sign() == 0 {
		return nil
	}
	next, err := market.ApplyOpenInterestDelta(e.ds, m, token, isLong, deltaUsd)
	if err != nil {
		return err
	}
	e.emitter.Emit(&event.OpenInterestUpdated{
		Market:   m.ID,
		Token:    token,
		IsLong:   isLong,
		DeltaUsd: deltaUsd,
		NextUsd:  next,
	})
	return nil
}

// CreateLiquidationOrder admits a keeper-initiated full-close order
// for an undercollateralized position.
func (e *Engine) CreateLiquidationOrder(keeper, account, marketID, collateralToken string, isLong bool, now time.Time) (*order.Order, error) {
	if err := e.begin(); err != nil {
		return nil, err
	}
	defer e.end()

	if !e.roles.HasRole(keeper, access.RoleOrderKeeper) {
		err := errs.Forbiddenf("%s lacks the order keeper role", keeper)
		e.rejected("createLiquidationOrder", err)
		return nil, err
	}
	if !e.features.IsEnabled(access.CreateOrderFeature(order.Liquidation.String())) {
		err := errs.FeatureDisabledf("createOrder disabled for %s", order.Liquidation)
		e.rejected("createLiquidationOrder", err)
		return nil, err
	}
	if _, err := e.lookupMarket(marketID); err != nil {
		e.rejected("createLiquidationOrder", err)
		return nil, err
	}
	pos, ok := e.positions.Get(positionKey(account, marketID, collateralToken, isLong))
	if !ok {
		err := errs.InvalidInputf("no position for %s in %s", account, marketID)
		e.rejected("createLiquidationOrder", err)
		return nil, err
	}

	o := e.orders.Add(&order.CreateParams{
		Account:               account,
		Market:                marketID,
		CollateralToken:       collateralToken,
		IsLong:                isLong,
		Type:                  order.Liquidation,
		SizeDeltaUsd:          new(big.Int).Set(pos.SizeInUsd),
		CollateralDeltaAmount: new(big.Int),
		TriggerPrice:          new(big.Int),
		AcceptablePrice:       new(big.Int),
		ExecutionFeeAmount:    new(big.Int),
	}, now)

	e.logger.Info().
		Str("order_id", o.ID.String()).
		Str("account", account).
		Str("market", marketID).
		Msg("liquidation order created")
	if e.metrics != nil {
		e.metrics.OrdersCreated.WithLabelValues(marketID, o.Type.String()).Inc()
		e.metrics.PendingOrders.Set(float64(e.orders.Len()))
	}
	e.emitter.Emit(&event.OrderCreated{
		OrderID:               o.ID,
		Account:               o.Account,
		Market:                o.Market,
		CollateralToken:       o.CollateralToken,
		IsLong:                o.IsLong,
		OrderType:             o.Type.String(),
		SizeDeltaUsd:          o.SizeDeltaUsd,
		CollateralDeltaAmount: o.CollateralDeltaAmount,
	})
	return o, nil
}
