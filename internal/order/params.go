package order

import (
	"math/big"

	"github.com/FelixGibson/gmx-synthetics/internal/errs"
)

// CreateParams is the caller-supplied shape of a new order. The book
// assigns identity (ID, nonce) and the engine handles escrow.
type CreateParams struct {
	Account         string
	Market          string
	CollateralToken string
	IsLong          bool
	Type            Type

	SizeDeltaUsd          *big.Int
	CollateralDeltaAmount *big.Int
	TriggerPrice          *big.Int
	AcceptablePrice       *big.Int
	ExecutionFeeAmount    *big.Int
}

// Validate rejects structurally invalid parameters. Market and price
// checks that need live state stay in the engine.
func (p *CreateParams) Validate() error {
	if p.Account == "" {
		return errs.InvalidInputf("account is required")
	}
	if p.Market == "" {
		return errs.InvalidInputf("market is required")
	}
	if p.CollateralToken == "" {
		return errs.InvalidInputf("collateral token is required")
	}
	if !p.Type.IsValid() {
		return errs.InvalidOrderTypef("unknown order type %d", int(p.Type))
	}
	if p.SizeDeltaUsd == nil || p.SizeDeltaUsd.Sign() < 0 {
		return errs.InvalidInputf("size delta must be non-negative")
	}
	if p.CollateralDeltaAmount == nil || p.CollateralDeltaAmount.Sign() < 0 {
		return errs.InvalidInputf("collateral delta must be non-negative")
	}
	if p.SizeDeltaUsd.Sign() == 0 && p.CollateralDeltaAmount.Sign() == 0 {
		return errs.InvalidInputf("order must move size or collateral")
	}
	if p.TriggerPrice == nil || p.AcceptablePrice == nil {
		return errs.InvalidInputf("trigger and acceptable prices must be set, zero when unused")
	}
	if p.TriggerPrice.Sign() < 0 || p.AcceptablePrice.Sign() < 0 {
		return errs.InvalidInputf("prices must be non-negative")
	}
	if p.Type.IsMarket() && p.TriggerPrice.Sign() != 0 {
		return errs.InvalidInputf("market orders take no trigger price")
	}
	if !p.Type.IsMarket() && p.Type != Liquidation && p.TriggerPrice.Sign() == 0 {
		return errs.InvalidInputf("%s requires a trigger price", p.Type)
	}
	if p.ExecutionFeeAmount == nil || p.ExecutionFeeAmount.Sign() < 0 {
		return errs.InvalidInputf("execution fee must be non-negative")
	}
	return nil
}
