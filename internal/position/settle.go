package position

import (
	"math/big"

	"github.com/FelixGibson/gmx-synthetics/internal/errs"
	"github.com/FelixGibson/gmx-synthetics/internal/market"
	"github.com/FelixGibson/gmx-synthetics/internal/precision"
	"github.com/FelixGibson/gmx-synthetics/internal/store"
)

// TokenCredit is one token-denominated piece of a funding receivable.
// Claimable credits were escrowed under the claimable-funding slot for
// later withdrawal; a non-claimable credit was added straight to the
// position's collateral.
type TokenCredit struct {
	Token     string
	Amount    *big.Int
	Claimable bool
}

// FundingSettlement summarizes one funding settlement against a
// position. FundingUsd is signed: positive means the position paid.
type FundingSettlement struct {
	FundingUsd *big.Int
	PaidAmount *big.Int // collateral token units deducted when paying
	Credits    []TokenCredit
}

// BorrowingSettlement summarizes one borrowing settlement. Borrowing
// fees are only ever owed.
type BorrowingSettlement struct {
	BorrowingUsd *big.Int
	PaidAmount   *big.Int
}

// SettleFunding realizes the funding accrued against pos since its
// last settlement and advances the position's index snapshot. The
// snapshot advances even when the realized delta is zero, so skipped
// stretches can never be replayed.
//
// Fees owed are converted at the collateral token price rounding up;
// amounts receivable round down. Rounding residue therefore stays in
// the pool rather than being minted.
func SettleFunding(ds *store.DataStore, m market.Market, prices market.Prices, pos *Position) (*FundingSettlement, error) {
	index := market.FundingAmountPerSize(ds, m, pos.CollateralToken, pos.IsLong)
	deltaIdx := new(big.Int).Sub(index, pos.FundingFeeAmountPerSize)

	fundingUsd := precision.ApplyFactor(pos.SizeInUsd, deltaIdx)

	settlement := &FundingSettlement{
		FundingUsd: fundingUsd,
		PaidAmount: new(big.Int),
	}

	switch {
	case fundingUsd.Sign() > 0:
		price, ok := prices.Price(pos.CollateralToken)
		if !ok {
			return nil, errs.InvalidInputf("missing price for %s", pos.CollateralToken)
		}
		owed := precision.UsdToTokenAmount(fundingUsd, price, precision.RoundUp)
		if pos.CollateralAmount.Cmp(owed) < 0 {
			return nil, errs.InsufficientCollateralf(
				"funding fee %s %s exceeds collateral %s",
				owed, pos.CollateralToken, pos.CollateralAmount,
			)
		}
		pos.CollateralAmount.Sub(pos.CollateralAmount, owed)
		settlement.PaidAmount = owed

	case fundingUsd.Sign() < 0:
		credits, err := creditFundingReceivable(ds, m, prices, pos, new(big.Int).Neg(fundingUsd))
		if err != nil {
			return nil, err
		}
		settlement.Credits = credits
	}

	pos.FundingFeeAmountPerSize = new(big.Int).Set(index)
	return settlement, nil
}

// creditFundingReceivable splits a receivable USD amount across the
// paying side's tokens in proportion to that side's per-token open
// interest, truncation remainder to the last token. A share in the
// position's own collateral token is credited to collateral directly;
// any other token is escrowed as claimable funding. When the paying
// side has fully closed, the receivable falls back to the position's
// collateral token.
func creditFundingReceivable(ds *store.DataStore, m market.Market, prices market.Prices, pos *Position, usd *big.Int) ([]TokenCredit, error) {
	payerIsLong := !pos.IsLong
	tokens := m.Tokens()

	payerTotal := market.SideOpenInterestUsd(ds, m, payerIsLong)

	shares := make([]*big.Int, len(tokens))
	if payerTotal.Sign() == 0 {
		if !m.HasCollateralToken(pos.CollateralToken) {
			return nil, errs.InvalidStatef(
				"position collateral %s is not a market token of %s",
				pos.CollateralToken, m.ID,
			)
		}
		for i, token := range tokens {
			if token == pos.CollateralToken {
				shares[i] = new(big.Int).Set(usd)
			} else {
				shares[i] = new(big.Int)
			}
		}
	} else {
		assigned := new(big.Int)
		for i, token := range tokens {
			if i == len(tokens)-1 {
				shares[i] = new(big.Int).Sub(usd, assigned)
				break
			}
			oi := market.OpenInterestUsd(ds, m, token, payerIsLong)
			shares[i] = precision.MulDiv(usd, oi, payerTotal, precision.RoundDown)
			assigned.Add(assigned, shares[i])
		}
	}

	var credits []TokenCredit
	for i, token := range tokens {
		if shares[i].Sign() == 0 {
			continue
		}
		price, ok := prices.Price(token)
		if !ok {
			return nil, errs.InvalidInputf("missing price for %s", token)
		}
		amount := precision.UsdToTokenAmount(shares[i], price, precision.RoundDown)
		if amount.Sign() == 0 {
			continue
		}
		if token == pos.CollateralToken {
			pos.CollateralAmount.Add(pos.CollateralAmount, amount)
			credits = append(credits, TokenCredit{Token: token, Amount: amount})
			continue
		}
		ds.ApplyDeltaUint(store.ClaimableFundingAmountKey(m.ID, token, pos.Account), amount)
		credits = append(credits, TokenCredit{Token: token, Amount: amount, Claimable: true})
	}
	return credits, nil
}

// SettleBorrowing realizes borrowing fees accrued since the position's
// last settlement and advances its borrowing snapshot. The snapshot
// advances unconditionally, matching funding.
func SettleBorrowing(ds *store.DataStore, m market.Market, prices market.Prices, pos *Position) (*BorrowingSettlement, error) {
	cumulative := market.CumulativeBorrowingFactor(ds, m, pos.IsLong)
	delta := new(big.Int).Sub(cumulative, pos.BorrowingFactor)
	if delta.Sign() < 0 {
		return nil, errs.InvalidStatef(
			"cumulative borrowing factor regressed: position snapshot %s, market %s",
			pos.BorrowingFactor, cumulative,
		)
	}

	borrowingUsd := precision.ApplyFactor(pos.SizeInUsd, delta)
	settlement := &BorrowingSettlement{
		BorrowingUsd: borrowingUsd,
		PaidAmount:   new(big.Int),
	}

	if borrowingUsd.Sign() > 0 {
		price, ok := prices.Price(pos.CollateralToken)
		if !ok {
			return nil, errs.InvalidInputf("missing price for %s", pos.CollateralToken)
		}
		owed := precision.UsdToTokenAmount(borrowingUsd, price, precision.RoundUp)
		if pos.CollateralAmount.Cmp(owed) < 0 {
			return nil, errs.InsufficientCollateralf(
				"borrowing fee %s %s exceeds collateral %s",
				owed, pos.CollateralToken, pos.CollateralAmount,
			)
		}
		pos.CollateralAmount.Sub(pos.CollateralAmount, owed)
		settlement.PaidAmount = owed
	}

	pos.BorrowingFactor = new(big.Int).Set(cumulative)
	return settlement, nil
}
