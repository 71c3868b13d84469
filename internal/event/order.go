package event

import (
	"math/big"

	"github.com/google/uuid"
)

// OrderCreated is emitted when an order enters the book with escrowed
// collateral.
type OrderCreated struct {
	OrderID               uuid.UUID `json:"order_id"`
	Account               string    `json:"account"`
	Market                string    `json:"market"`
	CollateralToken       string    `json:"collateral_token"`
	IsLong                bool      `json:"is_long"`
	OrderType             string    `json:"order_type"`
	SizeDeltaUsd          *big.Int  `json:"size_delta_usd"`
	CollateralDeltaAmount *big.Int  `json:"collateral_delta_amount"`
}

func (e *OrderCreated) EventName() string { return "OrderCreated" }
func (e *OrderCreated) MarketID() *string { return marketRef(e.Market) }

// OrderUpdated is emitted when a pending order's parameters change or
// a freeze is cleared.
type OrderUpdated struct {
	OrderID         uuid.UUID `json:"order_id"`
	Account         string    `json:"account"`
	Market          string    `json:"market"`
	SizeDeltaUsd    *big.Int  `json:"size_delta_usd"`
	TriggerPrice    *big.Int  `json:"trigger_price"`
	AcceptablePrice *big.Int  `json:"acceptable_price"`
	FrozenCleared   bool      `json:"frozen_cleared"`
}

func (e *OrderUpdated) EventName() string { return "OrderUpdated" }
func (e *OrderUpdated) MarketID() *string { return marketRef(e.Market) }

// OrderCancelled is emitted when an order leaves the book without
// executing; escrow has been refunded.
type OrderCancelled struct {
	OrderID        uuid.UUID `json:"order_id"`
	Account        string    `json:"account"`
	Market         string    `json:"market"`
	Reason         string    `json:"reason"`
	RefundedAmount *big.Int  `json:"refunded_amount"`
}

func (e *OrderCancelled) EventName() string { return "OrderCancelled" }
func (e *OrderCancelled) MarketID() *string { return marketRef(e.Market) }

// OrderFrozen is emitted when execution failed recoverably and the
// order was kept for retry.
type OrderFrozen struct {
	OrderID uuid.UUID `json:"order_id"`
	Account string    `json:"account"`
	Market  string    `json:"market"`
	Reason  string    `json:"reason"`
}

func (e *OrderFrozen) EventName() string { return "OrderFrozen" }
func (e *OrderFrozen) MarketID() *string { return marketRef(e.Market) }

// OrderExecuted is emitted after an order settled against its position
// and left the book.
type OrderExecuted struct {
	OrderID        uuid.UUID `json:"order_id"`
	Account        string    `json:"account"`
	Market         string    `json:"market"`
	OrderType      string    `json:"order_type"`
	SizeDeltaUsd   *big.Int  `json:"size_delta_usd"`
	ExecutionPrice *big.Int  `json:"execution_price"`
	PositionClosed bool      `json:"position_closed"`
}

func (e *OrderExecuted) EventName() string { return "OrderExecuted" }
func (e *OrderExecuted) MarketID() *string { return marketRef(e.Market) }
