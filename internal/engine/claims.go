package engine

import (
	"math/big"
	"time"

	"github.com/FelixGibson/gmx-synthetics/internal/access"
	"github.com/FelixGibson/gmx-synthetics/internal/errs"
	"github.com/FelixGibson/gmx-synthetics/internal/event"
	"github.com/FelixGibson/gmx-synthetics/internal/market"
	"github.com/FelixGibson/gmx-synthetics/internal/store"
)

// ClaimFundingFees pays out escrowed funding receivables for each
// (market, token) pair to receiver. Pairs settle independently: a zero
// balance transfers nothing and is not an error. A failed transfer
// re-credits only its own pair and stops; earlier pairs stay paid.
// Returns the amount transferred per pair, aligned with the inputs.
func (e *Engine) ClaimFundingFees(caller string, markets, tokens []string, receiver string) ([]*big.Int, error) {
	if err := e.begin(); err != nil {
		return nil, err
	}
	defer e.end()

	if len(markets) != len(tokens) {
		err := errs.InvalidInputf(
			"markets and tokens length mismatch: %d vs %d", len(markets), len(tokens),
		)
		e.rejected("claimFundingFees", err)
		return nil, err
	}
	if !e.features.IsEnabled(access.ClaimFundingFeature) {
		err := errs.FeatureDisabledf("claimFundingFees disabled")
		e.rejected("claimFundingFees", err)
		return nil, err
	}
	if receiver == "" {
		receiver = caller
	}

	amounts := make([]*big.Int, 0, len(markets))
	for i := range markets {
		marketID, token := markets[i], tokens[i]
		if _, err := e.lookupMarket(marketID); err != nil {
			e.rejected("claimFundingFees", err)
			return amounts, err
		}

		key := store.ClaimableFundingAmountKey(marketID, token, caller)
		amount := e.ds.GetUint(key)
		if amount.Sign() == 0 {
			amounts = append(amounts, new(big.Int))
			continue
		}

		e.ds.SetUint(key, new(big.Int))
		if err := e.vault.TransferOut(token, receiver, amount); err != nil {
			// Undo this pair only; earlier transfers already settled.
			e.ds.SetUint(key, amount)
			if e.metrics != nil {
				e.metrics.ClaimsFailed.WithLabelValues(marketID, token).Inc()
			}
			e.logger.Warn().
				Str("market", marketID).
				Str("token", token).
				Str("account", caller).
				Err(err).
				Msg("claim transfer failed")
			return amounts, err
		}

		amounts = append(amounts, amount)
		if e.metrics != nil {
			e.metrics.ClaimsPaid.WithLabelValues(marketID, token).Inc()
		}
		e.emitter.Emit(&event.FundingFeesClaimed{
			Account:  caller,
			Market:   marketID,
			Token:    token,
			Receiver: receiver,
			Amount:   amount,
		})
	}
	return amounts, nil
}

// SetFundingFactor updates a market's funding rate configuration.
// The pending interval accrues at the old rate first, so a rate change
// is never retroactive.
func (e *Engine) SetFundingFactor(caller, marketID string, factorPerSecond *big.Int, exponent uint32, now time.Time) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	if !e.roles.HasRole(caller, access.RoleConfigKeeper) {
		err := errs.Forbiddenf("%s lacks the config keeper role", caller)
		e.rejected("setFundingFactor", err)
		return err
	}
	m, err := e.lookupMarket(marketID)
	if err != nil {
		e.rejected("setFundingFactor", err)
		return err
	}
	if err := e.accrue(m, now.Unix()); err != nil {
		return err
	}
	if err := market.SetFundingConfig(e.ds, m, factorPerSecond, exponent); err != nil {
		e.rejected("setFundingFactor", err)
		return err
	}
	e.logger.Info().
		Str("market", marketID).
		Str("factor", factorPerSecond.String()).
		Uint32("exponent", exponent).
		Msg("funding factor updated")
	return nil
}

// SetBorrowingFactor updates one side's borrowing rate, accruing the
// pending interval at the old rate first.
func (e *Engine) SetBorrowingFactor(caller, marketID string, isLong bool, factorPerSecond *big.Int, now time.Time) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	if !e.roles.HasRole(caller, access.RoleConfigKeeper) {
		err := errs.Forbiddenf("%s lacks the config keeper role", caller)
		e.rejected("setBorrowingFactor", err)
		return err
	}
	m, err := e.lookupMarket(marketID)
	if err != nil {
		e.rejected("setBorrowingFactor", err)
		return err
	}
	if err := e.accrue(m, now.Unix()); err != nil {
		return err
	}
	if err := market.SetBorrowingFactor(e.ds, m, isLong, factorPerSecond); err != nil {
		e.rejected("setBorrowingFactor", err)
		return err
	}
	e.logger.Info().
		Str("market", marketID).
		Str("side", sideLabel(isLong)).
		Str("factor", factorPerSecond.String()).
		Msg("borrowing factor updated")
	return nil
}

func positionKey(account, marketID, collateralToken string, isLong bool) store.Key {
	return store.PositionKey(account, marketID, collateralToken, isLong)
}
