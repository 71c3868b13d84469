package order

import (
	"math/big"

	"github.com/google/uuid"

	"github.com/FelixGibson/gmx-synthetics/internal/store"
)

// Type is the order's execution semantics.
type Type int

const (
	TypeUnknown Type = iota
	MarketIncrease
	LimitIncrease
	MarketDecrease
	LimitDecrease
	StopLossDecrease
	Liquidation
)

func (t Type) String() string {
	switch t {
	case MarketIncrease:
		return "MarketIncrease"
	case LimitIncrease:
		return "LimitIncrease"
	case MarketDecrease:
		return "MarketDecrease"
	case LimitDecrease:
		return "LimitDecrease"
	case StopLossDecrease:
		return "StopLossDecrease"
	case Liquidation:
		return "Liquidation"
	default:
		return "Unknown"
	}
}

// TypeFromString parses a wire-format order type name.
func TypeFromString(s string) (Type, bool) {
	switch s {
	case "MarketIncrease":
		return MarketIncrease, true
	case "LimitIncrease":
		return LimitIncrease, true
	case "MarketDecrease":
		return MarketDecrease, true
	case "LimitDecrease":
		return LimitDecrease, true
	case "StopLossDecrease":
		return StopLossDecrease, true
	case "Liquidation":
		return Liquidation, true
	}
	return TypeUnknown, false
}

// IsMarket reports whether the order executes at the next available
// price with no trigger condition.
func (t Type) IsMarket() bool {
	return t == MarketIncrease || t == MarketDecrease
}

func (t Type) IsIncrease() bool {
	return t == MarketIncrease || t == LimitIncrease
}

func (t Type) IsDecrease() bool {
	switch t {
	case MarketDecrease, LimitDecrease, StopLossDecrease, Liquidation:
		return true
	}
	return false
}

// IsValid reports whether t names a concrete order type.
func (t Type) IsValid() bool {
	return t >= MarketIncrease && t <= Liquidation
}

// Status is the order's lifecycle state.
type Status int

const (
	StatusCreated Status = iota
	StatusUpdated
	StatusFrozen
	StatusExecuted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "Created"
	case StatusUpdated:
		return "Updated"
	case StatusFrozen:
		return "Frozen"
	case StatusExecuted:
		return "Executed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates order lifecycle transitions.
func (s Status) CanTransitionTo(next Status) bool {
	transitions := map[Status][]Status{
		StatusCreated: {
			StatusUpdated,
			StatusFrozen,
			StatusExecuted,
			StatusCancelled,
		},
		StatusUpdated: {
			StatusUpdated,
			StatusFrozen,
			StatusExecuted,
			StatusCancelled,
		},
		StatusFrozen: {
			StatusUpdated, // Update clears the freeze
			StatusExecuted,
			StatusCancelled,
		},
		StatusExecuted: {
			// Terminal state
		},
		StatusCancelled: {
			// Terminal state
		},
	}

	allowed, ok := transitions[s]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if next == a {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusExecuted || s == StatusCancelled
}

// Order is a pending instruction against a position. SizeDeltaUsd is
// Float-scaled; CollateralDeltaAmount and ExecutionFeeAmount are in
// token smallest units. TriggerPrice and AcceptablePrice use the same
// scale as keeper-supplied prices (Float-scaled USD per smallest unit,
// zero when unset).
type Order struct {
	ID    uuid.UUID
	Nonce uint64

	Account         string
	Market          string
	CollateralToken string
	IsLong          bool
	Type            Type
	Status          Status

	SizeDeltaUsd          *big.Int
	CollateralDeltaAmount *big.Int
	TriggerPrice          *big.Int
	AcceptablePrice       *big.Int
	ExecutionFeeAmount    *big.Int

	FrozenReason string
	CreatedAt    int64
	UpdatedAt    int64
}

func (o *Order) Key() store.Key {
	return store.OrderKey(o.Account, o.Nonce)
}

// PositionKey identifies the position this order settles against.
func (o *Order) PositionKey() store.Key {
	return store.PositionKey(o.Account, o.Market, o.CollateralToken, o.IsLong)
}

// Clone deep-copies an order for snapshots.
func (o *Order) Clone() *Order {
	c := *o
	c.SizeDeltaUsd = new(big.Int).Set(o.SizeDeltaUsd)
	c.CollateralDeltaAmount = new(big.Int).Set(o.CollateralDeltaAmount)
	c.TriggerPrice = new(big.Int).Set(o.TriggerPrice)
	c.AcceptablePrice = new(big.Int).Set(o.AcceptablePrice)
	c.ExecutionFeeAmount = new(big.Int).Set(o.ExecutionFeeAmount)
	return &c
}
