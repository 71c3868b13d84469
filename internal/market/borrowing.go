package market

import (
	"math/big"

	"github.com/FelixGibson/gmx-synthetics/internal/errs"
	"github.com/FelixGibson/gmx-synthetics/internal/store"
)

// BorrowingState is one side's borrowing configuration and checkpoint.
// Unlike funding, borrowing is single-sided: both sides pay into the
// pool and nothing is redistributed, so each side carries its own
// cumulative factor and clock.
type BorrowingState struct {
	FactorPerSecond  *big.Int // Float-scaled rate per second
	CumulativeFactor *big.Int // Float-scaled USD owed per USD of size since genesis
	UpdatedAt        int64
}

func GetBorrowingState(ds *store.DataStore, m Market, isLong bool) BorrowingState {
	return BorrowingState{
		FactorPerSecond:  ds.GetUint(store.BorrowingFactorKey(m.ID, isLong)),
		CumulativeFactor: ds.GetUint(store.CumulativeBorrowingFactorKey(m.ID, isLong)),
		UpdatedAt:        ds.GetUint(store.BorrowingUpdatedAtKey(m.ID, isLong)).Int64(),
	}
}

func SetBorrowingFactor(ds *store.DataStore, m Market, isLong bool, factorPerSecond *big.Int) error {
	if factorPerSecond.Sign() < 0 {
		return errs.InvalidInputf("borrowing factor must be non-negative, got %s", factorPerSecond)
	}
	ds.SetUint(store.BorrowingFactorKey(m.ID, isLong), factorPerSecond)
	return nil
}

// CumulativeBorrowingFactor reads the monotone per-size borrowing index
// for one side.
func CumulativeBorrowingFactor(ds *store.DataStore, m Market, isLong bool) *big.Int {
	return ds.GetUint(store.CumulativeBorrowingFactorKey(m.ID, isLong))
}

// BorrowingAccrual describes one side's applied borrowing interval.
type BorrowingAccrual struct {
	IsLong  bool
	Elapsed int64
	Delta   *big.Int // increase applied to the cumulative factor
}

// AccrueBorrowing brings both sides' cumulative borrowing factors
// current at now. Same checkpoint discipline as funding: genesis
// initializes the clock without accruing, equal timestamps are a
// no-op, and a backwards clock is an invariant violation.
func AccrueBorrowing(ds *store.DataStore, m Market, now int64) ([]BorrowingAccrual, error) {
	var applied []BorrowingAccrual
	for _, isLong := range []bool{true, false} {
		state := GetBorrowingState(ds, m, isLong)

		if state.UpdatedAt == 0 {
			ds.SetUint(store.BorrowingUpdatedAtKey(m.ID, isLong), big.NewInt(now))
			continue
		}
		if now < state.UpdatedAt {
			return nil, errs.InvalidStatef(
				"borrowing clock moved backwards: market=%s long=%v updatedAt=%d now=%d",
				m.ID, isLong, state.UpdatedAt, now,
			)
		}
		elapsed := now - state.UpdatedAt
		if elapsed == 0 {
			continue
		}

		ds.SetUint(store.BorrowingUpdatedAtKey(m.ID, isLong), big.NewInt(now))
		if state.FactorPerSecond.Sign() == 0 {
			continue
		}

		delta := new(big.Int).Mul(state.FactorPerSecond, big.NewInt(elapsed))
		next := new(big.Int).Add(state.CumulativeFactor, delta)
		ds.SetUint(store.CumulativeBorrowingFactorKey(m.ID, isLong), next)

		applied = append(applied, BorrowingAccrual{IsLong: isLong, Elapsed: elapsed, Delta: delta})
	}
	return applied, nil
}
