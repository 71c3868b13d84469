package market

import (
	"math/big"

	"github.com/FelixGibson/gmx-synthetics/internal/errs"
	"github.com/FelixGibson/gmx-synthetics/internal/precision"
	"github.com/FelixGibson/gmx-synthetics/internal/store"
)

// FundingState is a market's funding configuration plus its accrual
// checkpoint. UpdatedAt advances only when accrual is applied, never
// retroactively.
type FundingState struct {
	FactorPerSecond *big.Int // Float-scaled rate per second
	Exponent        uint32   // applied to the OI imbalance ratio
	UpdatedAt       int64    // unix seconds, 0 before first accrual
}

func GetFundingState(ds *store.DataStore, m Market) FundingState {
	return FundingState{
		FactorPerSecond: ds.GetUint(store.FundingFactorKey(m.ID)),
		Exponent:        uint32(ds.GetUint(store.FundingExponentKey(m.ID)).Uint64()),
		UpdatedAt:       ds.GetUint(store.FundingUpdatedAtKey(m.ID)).Int64(),
	}
}

// SetFundingConfig writes the funding factor and exponent. Role gating
// happens at the engine entry point, not here.
func SetFundingConfig(ds *store.DataStore, m Market, factorPerSecond *big.Int, exponent uint32) error {
	if factorPerSecond.Sign() < 0 {
		return errs.InvalidInputf("funding factor must be non-negative, got %s", factorPerSecond)
	}
	if exponent == 0 {
		return errs.InvalidInputf("funding exponent must be at least 1")
	}
	ds.SetUint(store.FundingFactorKey(m.ID), factorPerSecond)
	ds.SetUint(store.FundingExponentKey(m.ID), new(big.Int).SetUint64(uint64(exponent)))
	return nil
}

// FundingAmountPerSize reads the signed cumulative funding index for
// (token, side): Float-scaled USD accrued per USD of size since
// genesis. The paying side's index rises, the receiving side's falls.
func FundingAmountPerSize(ds *store.DataStore, m Market, token string, isLong bool) *big.Int {
	return ds.GetInt(store.FundingAmountPerSizeKey(m.ID, token, isLong))
}

// Accrual describes one applied funding interval.
type Accrual struct {
	Elapsed      int64
	LongIsPayer  bool
	PerSizePayer *big.Int // index increase applied to every payer-side token
	PerSizeRecv  *big.Int // index decrease applied to every receiver-side token
	FundingUsd   *big.Int // total USD moved from payer side to receiver side
}

// AccrueFunding brings the market's funding indices current at now.
//
// Rate magnitude: factor * (diffUsd/totalUsd)^exponent * elapsed, where
// diffUsd is the absolute long/short imbalance. The larger side pays.
// The per-size deltas below are the per-token USD shares divided by
// per-token open interest; because the shares are apportioned by the
// same open interest, the quotient is uniform across tokens, so a
// single payer delta and a single receiver delta cover all indices.
//
// Idempotent at equal timestamps; UpdatedAt never decreases. Returns a
// nil Accrual when nothing accrued.
func AccrueFunding(ds *store.DataStore, m Market, now int64) (*Accrual, error) {
	state := GetFundingState(ds, m)

	if state.UpdatedAt == 0 {
		// Genesis: start the clock, nothing to accrue against.
		ds.SetUint(store.FundingUpdatedAtKey(m.ID), big.NewInt(now))
		return nil, nil
	}
	if now < state.UpdatedAt {
		return nil, errs.InvalidStatef(
			"funding clock moved backwards: market=%s updatedAt=%d now=%d",
			m.ID, state.UpdatedAt, now,
		)
	}
	elapsed := now - state.UpdatedAt
	if elapsed == 0 {
		return nil, nil
	}

	longOI := SideOpenInterestUsd(ds, m, true)
	shortOI := SideOpenInterestUsd(ds, m, false)
	totalOI := new(big.Int).Add(longOI, shortOI)

	advance := func() {
		ds.SetUint(store.FundingUpdatedAtKey(m.ID), big.NewInt(now))
	}

	if totalOI.Sign() == 0 {
		advance()
		return nil, nil
	}

	diff := new(big.Int).Sub(longOI, shortOI)
	longIsPayer := diff.Sign() > 0
	diff.Abs(diff)
	if diff.Sign() == 0 || state.FactorPerSecond.Sign() == 0 {
		advance()
		return nil, nil
	}

	payerOI, recvOI := longOI, shortOI
	if !longIsPayer {
		payerOI, recvOI = shortOI, longOI
	}

	exponent := state.Exponent
	if exponent == 0 {
		exponent = 1
	}
	ratioPow := precision.Pow(precision.ToFactor(diff, totalOI), exponent)

	// perSizePayer = factor * ratio^exp * elapsed / Float, floored.
	num := new(big.Int).Mul(state.FactorPerSecond, ratioPow)
	num.Mul(num, big.NewInt(elapsed))
	perSizePayer := precision.Div(num, precision.Float, precision.RoundDown)

	// perSizeRecv spreads the payer side's USD across the receiver
	// side. It is derived from the already-floored payer delta so the
	// receiving side can never be credited more than the paying side
	// is charged; the residue stays unclaimed.
	recvNum := new(big.Int).Mul(perSizePayer, payerOI)
	perSizeRecv := precision.Div(recvNum, recvOI, precision.RoundDown)

	fundingUsd := precision.ApplyFactor(payerOI, perSizePayer)

	negRecv := new(big.Int).Neg(perSizeRecv)
	for _, token := range m.Tokens() {
		ds.ApplyDeltaInt(store.FundingAmountPerSizeKey(m.ID, token, longIsPayer), perSizePayer)
		ds.ApplyDeltaInt(store.FundingAmountPerSizeKey(m.ID, token, !longIsPayer), negRecv)
	}

	advance()

	return &Accrual{
		Elapsed:      elapsed,
		LongIsPayer:  longIsPayer,
		PerSizePayer: perSizePayer,
		PerSizeRecv:  perSizeRecv,
		FundingUsd:   fundingUsd,
	}, nil
}
