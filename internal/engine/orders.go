package engine

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/FelixGibson/gmx-synthetics/internal/access"
	"github.com/FelixGibson/gmx-synthetics/internal/errs"
	"github.com/FelixGibson/gmx-synthetics/internal/event"
	"github.com/FelixGibson/gmx-synthetics/internal/order"
)

// CreateOrder validates params, escrows the order's collateral and
// execution fee, and admits the order to the book. Liquidation orders
// cannot be created here; see CreateLiquidationOrder.
func (e *Engine) CreateOrder(p *order.CreateParams, now time.Time) (*order.Order, error) {
	if err := e.begin(); err != nil {
		return nil, err
	}
	defer e.end()

	o, err := e.createOrder(p, now)
	if err != nil {
		e.rejected("createOrder", err)
		return nil, err
	}
	return o, nil
}

func (e *Engine) createOrder(p *order.CreateParams, now time.Time) (*order.Order, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Type == order.Liquidation {
		return nil, errs.InvalidOrderTypef("liquidation orders are keeper-initiated")
	}
	if !e.features.IsEnabled(access.CreateOrderFeature(p.Type.String())) {
		return nil, errs.FeatureDisabledf("createOrder disabled for %s", p.Type)
	}
	m, err := e.lookupMarket(p.Market)
	if err != nil {
		return nil, err
	}
	if !m.HasCollateralToken(p.CollateralToken) {
		return nil, errs.InvalidInputf(
			"token %s is not collateral for market %s", p.CollateralToken, m.ID,
		)
	}
	// Increase orders escrow their collateral up front; a decrease
	// order's CollateralDeltaAmount is a withdrawal request settled at
	// execution, so only the execution fee is escrowed.
	escrow := escrowAmount(p.Type, p.CollateralDeltaAmount, p.ExecutionFeeAmount)
	if err := e.vault.TransferIn(p.CollateralToken, p.Account, escrow); err != nil {
		return nil, err
	}

	o := e.orders.Add(p, now)

	e.logger.Info().
		Str("order_id", o.ID.String()).
		Str("account", o.Account).
		Str("market", o.Market).
		Str("order_type", o.Type.String()).
		Msg("order created")
	if e.metrics != nil {
		e.metrics.OrdersCreated.WithLabelValues(o.Market, o.Type.String()).Inc()
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

func escrowAmount(t order.Type, collateralDelta, executionFee *big.Int) *big.Int {
	total := new(big.Int).Set(executionFee)
	if t.IsIncrease() {
		total.Add(total, collateralDelta)
	}
	return total
}

// UpdateParams carries the mutable fields of a pending order. Nil
// fields are left unchanged. ExecutionFeeDeltaAmount tops up the
// order's escrowed execution fee through an additional vault receipt.
type UpdateParams struct {
	SizeDeltaUsd            *big.Int
	TriggerPrice            *big.Int
	AcceptablePrice         *big.Int
	ExecutionFeeDeltaAmount *big.Int
}

// UpdateOrder modifies a pending non-market order. Updating a frozen
// order clears the freeze so a keeper may retry it.
func (e *Engine) UpdateOrder(caller string, id uuid.UUID, p UpdateParams, now time.Time) (*order.Order, error) {
	if err := e.begin(); err != nil {
		return nil, err
	}
	defer e.end()

	o, err := e.updateOrder(caller, id, p, now)
	if err != nil {
		e.rejected("updateOrder", err)
		return nil, err
	}
	return o, nil
}

func (e *Engine) updateOrder(caller string, id uuid.UUID, p UpdateParams, now time.Time) (*order.Order, error) {
	o, ok := e.orders.Get(id)
	if !ok {
		return nil, errs.InvalidInputf("order %s not found", id)
	}
	if caller != o.Account {
		return nil, errs.Forbiddenf("order %s does not belong to %s", id, caller)
	}
	if o.Type.IsMarket() {
		return nil, errs.InvalidOrderTypef("market orders cannot be updated")
	}
	if !e.features.IsEnabled(access.UpdateOrderFeature(o.Type.String())) {
		return nil, errs.FeatureDisabledf("updateOrder disabled for %s", o.Type)
	}
	if !o.Status.CanTransitionTo(order.StatusUpdated) {
		return nil, errs.InvalidStatef("order %s in status %s cannot be updated", id, o.Status)
	}

	// All params are validated before any field is applied; a rejected
	// update leaves the order exactly as it was.
	if p.SizeDeltaUsd != nil && p.SizeDeltaUsd.Sign() <= 0 {
		return nil, errs.InvalidInputf("size delta must be positive")
	}
	if p.TriggerPrice != nil && p.TriggerPrice.Sign() <= 0 {
		return nil, errs.InvalidInputf("%s requires a positive trigger price", o.Type)
	}
	if p.AcceptablePrice != nil && p.AcceptablePrice.Sign() < 0 {
		return nil, errs.InvalidInputf("acceptable price must be non-negative")
	}
	if p.ExecutionFeeDeltaAmount != nil && p.ExecutionFeeDeltaAmount.Sign() <= 0 {
		return nil, errs.InvalidInputf("execution fee top-up must be positive")
	}

	// The top-up is escrowed before the order is touched so a failed
	// transfer leaves it untouched.
	if p.ExecutionFeeDeltaAmount != nil {
		if err := e.vault.TransferIn(o.CollateralToken, o.Account, p.ExecutionFeeDeltaAmount); err != nil {
			return nil, err
		}
		o.ExecutionFeeAmount = new(big.Int).Add(o.ExecutionFeeAmount, p.ExecutionFeeDeltaAmount)
	}

	if p.SizeDeltaUsd != nil {
		o.SizeDeltaUsd = new(big.Int).Set(p.SizeDeltaUsd)
	}
	if p.TriggerPrice != nil {
		o.TriggerPrice = new(big.Int).Set(p.TriggerPrice)
	}
	if p.AcceptablePrice != nil {
		o.AcceptablePrice = new(big.Int).Set(p.AcceptablePrice)
	}

	frozenCleared := o.Status == order.StatusFrozen
	o.Status = order.StatusUpdated
	o.FrozenReason = ""
	o.UpdatedAt = now.Unix()

	e.logger.Info().
		Str("order_id", o.ID.String()).
		Bool("frozen_cleared", frozenCleared).
		Msg("order updated")
	if e.metrics != nil {
		e.metrics.OrdersUpdated.WithLabelValues(o.Market).Inc()
	}
	e.emitter.Emit(&event.OrderUpdated{
		OrderID:         o.ID,
		Account:         o.Account,
		Market:          o.Market,
		SizeDeltaUsd:    o.SizeDeltaUsd,
		TriggerPrice:    o.TriggerPrice,
		AcceptablePrice: o.AcceptablePrice,
		FrozenCleared:   frozenCleared,
	})
	return o, nil
}

// CancelOrder removes a pending order and refunds its escrow. Owners
// may cancel their own non-market orders; order keepers may cancel any
// order.
func (e *Engine) CancelOrder(caller string, id uuid.UUID, reason string) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	if err := e.cancelOrder(caller, id, reason); err != nil {
		e.rejected("cancelOrder", err)
		return err
	}
	return nil
}

func (e *Engine) cancelOrder(caller string, id uuid.UUID, reason string) error {
	o, ok := e.orders.Get(id)
	if !ok {
		return errs.InvalidInputf("order %s not found", id)
	}
	isKeeper := e.roles.HasRole(caller, access.RoleOrderKeeper)
	if caller != o.Account && !isKeeper {
		return errs.Forbiddenf("order %s does not belong to %s", id, caller)
	}
	if o.Type.IsMarket() && !isKeeper {
		return errs.InvalidOrderTypef("market orders cannot be cancelled by their owner")
	}
	if !e.features.IsEnabled(access.CancelOrderFeature(o.Type.String())) {
		return errs.FeatureDisabledf("cancelOrder disabled for %s", o.Type)
	}
	if !o.Status.CanTransitionTo(order.StatusCancelled) {
		return errs.InvalidStatef("order %s in status %s cannot be cancelled", id, o.Status)
	}

	return e.removeWithRefund(o, reason)
}

// removeWithRefund refunds the order's escrow and drops it from the
// book. The refund happens first so a failed transfer leaves the order
// intact.
func (e *Engine) removeWithRefund(o *order.Order, reason string) error {
	refund := escrowAmount(o.Type, o.CollateralDeltaAmount, o.ExecutionFeeAmount)
	if err := e.vault.TransferOut(o.CollateralToken, o.Account, refund); err != nil {
		return err
	}
	e.orders.Remove(o.ID)

	e.logger.Info().
		Str("order_id", o.ID.String()).
		Str("reason", reason).
		Msg("order cancelled")
	if e.metrics != nil {
		e.metrics.OrdersCancelled.WithLabelValues(o.Market, reason).Inc()
		e.metrics.PendingOrders.Set(float64(e.orders.Len()))
	}
	e.emitter.Emit(&event.OrderCancelled{
		OrderID:        o.ID,
		Account:        o.Account,
		Market:         o.Market,
		Reason:         reason,
		RefundedAmount: refund,
	})
	return nil
}
