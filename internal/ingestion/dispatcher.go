package ingestion

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/FelixGibson/gmx-synthetics/internal/engine"
	"github.com/FelixGibson/gmx-synthetics/internal/errs"
	"github.com/FelixGibson/gmx-synthetics/internal/market"
	"github.com/FelixGibson/gmx-synthetics/internal/order"
)

// Command kinds, matched against the last subject token.
const (
	CommandCreateOrder  = "create"
	CommandUpdateOrder  = "update"
	CommandExecuteOrder = "execute"
	CommandCancelOrder  = "cancel"
	CommandLiquidate    = "liquidate"
	CommandSetFunding   = "funding"
	CommandSetBorrowing = "borrowing"
)

// CreateOrderCommand submits a new order. Numeric fields are decimal
// strings: size and USD values Float-scaled, amounts in token base
// units.
type CreateOrderCommand struct {
	Account               string `json:"account"`
	Market                string `json:"market"`
	CollateralToken       string `json:"collateral_token"`
	IsLong                bool   `json:"is_long"`
	OrderType             string `json:"order_type"`
	SizeDeltaUsd          string `json:"size_delta_usd"`
	CollateralDeltaAmount string `json:"collateral_delta_amount"`
	TriggerPrice          string `json:"trigger_price"`
	AcceptablePrice       string `json:"acceptable_price"`
	ExecutionFeeAmount    string `json:"execution_fee_amount"`
	Timestamp             int64  `json:"timestamp"`
}

// UpdateOrderCommand revises a pending non-market order.
type UpdateOrderCommand struct {
	Account                 string    `json:"account"`
	OrderID                 uuid.UUID `json:"order_id"`
	SizeDeltaUsd            string    `json:"size_delta_usd"`
	TriggerPrice            string    `json:"trigger_price"`
	AcceptablePrice         string    `json:"acceptable_price"`
	ExecutionFeeDeltaAmount string    `json:"execution_fee_delta_amount"`
	Timestamp               int64     `json:"timestamp"`
}

// ExecuteOrderCommand asks the engine to execute a pending order with
// the keeper's versioned prices. Prices are Float-scaled USD per
// smallest token unit, as decimal strings.
type ExecuteOrderCommand struct {
	Keeper    string            `json:"keeper"`
	OrderID   uuid.UUID         `json:"order_id"`
	Prices    map[string]string `json:"prices"`
	Timestamp int64             `json:"timestamp"`
}

// CancelOrderCommand drops a pending order with a refund.
type CancelOrderCommand struct {
	Keeper  string    `json:"keeper"`
	OrderID uuid.UUID `json:"order_id"`
	Reason  string    `json:"reason"`
}

// LiquidateCommand creates and immediately executes a liquidation
// order for a position.
type LiquidateCommand struct {
	Keeper          string            `json:"keeper"`
	Account         string            `json:"account"`
	Market          string            `json:"market"`
	CollateralToken string            `json:"collateral_token"`
	IsLong          bool              `json:"is_long"`
	Prices          map[string]string `json:"prices"`
	Timestamp       int64             `json:"timestamp"`
}

// SetFundingCommand updates a market's funding rate configuration.
// The factor is a Float-scaled decimal string.
type SetFundingCommand struct {
	Keeper          string `json:"keeper"`
	Market          string `json:"market"`
	FactorPerSecond string `json:"factor_per_second"`
	Exponent        uint32 `json:"exponent"`
	Timestamp       int64  `json:"timestamp"`
}

// SetBorrowingCommand updates one side's borrowing rate.
type SetBorrowingCommand struct {
	Keeper          string `json:"keeper"`
	Market          string `json:"market"`
	IsLong          bool   `json:"is_long"`
	FactorPerSecond string `json:"factor_per_second"`
	Timestamp       int64  `json:"timestamp"`
}

// Dispatcher decodes keeper commands and applies them to the engine,
// one at a time. It is the engine's serialization boundary for the
// NATS surface.
type Dispatcher struct {
	gate     *engine.Gate
	commands <-chan RawCommand
	logger   zerolog.Logger
}

func NewDispatcher(gate *engine.Gate, commands <-chan RawCommand, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		gate:     gate,
		commands: commands,
		logger:   logger,
	}
}

// Run processes commands until the context is cancelled. Commands are
// acked once the engine has decided their fate; engine-level failures
// (frozen or cancelled orders) are terminal for the message, not
// redelivery candidates.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-d.commands:
			if !ok {
				return nil
			}
			d.handle(raw)
		}
	}
}

func (d *Dispatcher) handle(raw RawCommand) {
	kind := raw.Subject[strings.LastIndex(raw.Subject, ".")+1:]

	var err error
	switch kind {
	case CommandCreateOrder:
		err = d.handleCreate(raw.Data)
	case CommandUpdateOrder:
		err = d.handleUpdate(raw.Data)
	case CommandExecuteOrder:
		err = d.handleExecute(raw.Data)
	case CommandCancelOrder:
		err = d.handleCancel(raw.Data)
	case CommandLiquidate:
		err = d.handleLiquidate(raw.Data)
	case CommandSetFunding:
		err = d.handleSetFunding(raw.Data)
	case CommandSetBorrowing:
		err = d.handleSetBorrowing(raw.Data)
	default:
		d.logger.Warn().Str("subject", raw.Subject).Msg("unknown command subject")
		raw.AckFunc()
		return
	}

	if err != nil {
		d.logger.Warn().
			Str("subject", raw.Subject).
			Str("kind", errs.KindOf(err).String()).
			Err(err).
			Msg("command failed")
	}
	// The engine has already frozen, cancelled, or rejected as
	// appropriate; redelivering the same command cannot change the
	// outcome.
	raw.AckFunc()
}

func (d *Dispatcher) handleCreate(data []byte) error {
	var cmd CreateOrderCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return errs.Wrap(errs.KindInvalidInput, err, "decode create command")
	}

	orderType, ok := order.TypeFromString(cmd.OrderType)
	if !ok {
		return errs.InvalidOrderTypef("unknown order type %q", cmd.OrderType)
	}

	sizeDelta, err := parseAmount("size_delta_usd", cmd.SizeDeltaUsd)
	if err != nil {
		return err
	}
	collateralDelta, err := parseAmount("collateral_delta_amount", cmd.CollateralDeltaAmount)
	if err != nil {
		return err
	}
	triggerPrice, err := parseAmount("trigger_price", cmd.TriggerPrice)
	if err != nil {
		return err
	}
	acceptablePrice, err := parseAmount("acceptable_price", cmd.AcceptablePrice)
	if err != nil {
		return err
	}
	executionFee, err := parseAmount("execution_fee_amount", cmd.ExecutionFeeAmount)
	if err != nil {
		return err
	}

	return d.gate.Do(func(e *engine.Engine) error {
		_, err := e.CreateOrder(&order.CreateParams{
			Account:               cmd.Account,
			Market:                cmd.Market,
			CollateralToken:       cmd.CollateralToken,
			IsLong:                cmd.IsLong,
			Type:                  orderType,
			SizeDeltaUsd:          sizeDelta,
			CollateralDeltaAmount: collateralDelta,
			TriggerPrice:          triggerPrice,
			AcceptablePrice:       acceptablePrice,
			ExecutionFeeAmount:    executionFee,
		}, time.Unix(cmd.Timestamp, 0))
		return err
	})
}

func (d *Dispatcher) handleUpdate(data []byte) error {
	var cmd UpdateOrderCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return errs.Wrap(errs.KindInvalidInput, err, "decode update command")
	}

	sizeDelta, err := parseOptionalAmount("size_delta_usd", cmd.SizeDeltaUsd)
	if err != nil {
		return err
	}
	triggerPrice, err := parseOptionalAmount("trigger_price", cmd.TriggerPrice)
	if err != nil {
		return err
	}
	acceptablePrice, err := parseOptionalAmount("acceptable_price", cmd.AcceptablePrice)
	if err != nil {
		return err
	}
	feeDelta, err := parseOptionalAmount("execution_fee_delta_amount", cmd.ExecutionFeeDeltaAmount)
	if err != nil {
		return err
	}

	return d.gate.Do(func(e *engine.Engine) error {
		_, err := e.UpdateOrder(cmd.Account, cmd.OrderID, engine.UpdateParams{
			SizeDeltaUsd:            sizeDelta,
			TriggerPrice:            triggerPrice,
			AcceptablePrice:         acceptablePrice,
			ExecutionFeeDeltaAmount: feeDelta,
		}, time.Unix(cmd.Timestamp, 0))
		return err
	})
}

func (d *Dispatcher) handleExecute(data []byte) error {
	var cmd ExecuteOrderCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return errs.Wrap(errs.KindInvalidInput, err, "decode execute command")
	}
	prices, err := parsePrices(cmd.Prices)
	if err != nil {
		return err
	}
	return d.gate.Do(func(e *engine.Engine) error {
		return e.ExecuteOrder(cmd.Keeper, cmd.OrderID, prices, time.Unix(cmd.Timestamp, 0))
	})
}

func (d *Dispatcher) handleCancel(data []byte) error {
	var cmd CancelOrderCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return errs.Wrap(errs.KindInvalidInput, err, "decode cancel command")
	}
	return d.gate.Do(func(e *engine.Engine) error {
		return e.CancelOrder(cmd.Keeper, cmd.OrderID, cmd.Reason)
	})
}

func (d *Dispatcher) handleLiquidate(data []byte) error {
	var cmd LiquidateCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return errs.Wrap(errs.KindInvalidInput, err, "decode liquidate command")
	}
	prices, err := parsePrices(cmd.Prices)
	if err != nil {
		return err
	}
	now := time.Unix(cmd.Timestamp, 0)
	return d.gate.Do(func(e *engine.Engine) error {
		o, err := e.CreateLiquidationOrder(cmd.Keeper, cmd.Account, cmd.Market, cmd.CollateralToken, cmd.IsLong, now)
		if err != nil {
			return err
		}
		return e.ExecuteOrder(cmd.Keeper, o.ID, prices, now)
	})
}

func (d *Dispatcher) handleSetFunding(data []byte) error {
	var cmd SetFundingCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return errs.Wrap(errs.KindInvalidInput, err, "decode funding command")
	}
	factor, err := parseAmount("factor_per_second", cmd.FactorPerSecond)
	if err != nil {
		return err
	}
	return d.gate.Do(func(e *engine.Engine) error {
		return e.SetFundingFactor(cmd.Keeper, cmd.Market, factor, cmd.Exponent, time.Unix(cmd.Timestamp, 0))
	})
}

func (d *Dispatcher) handleSetBorrowing(data []byte) error {
	var cmd SetBorrowingCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return errs.Wrap(errs.KindInvalidInput, err, "decode borrowing command")
	}
	factor, err := parseAmount("factor_per_second", cmd.FactorPerSecond)
	if err != nil {
		return err
	}
	return d.gate.Do(func(e *engine.Engine) error {
		return e.SetBorrowingFactor(cmd.Keeper, cmd.Market, cmd.IsLong, factor, time.Unix(cmd.Timestamp, 0))
	})
}

// parseAmount parses a decimal-string integer field. Empty means
// zero, so optional fields need no special casing.
func parseAmount(field, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errs.InvalidInputf("malformed %s %q", field, s)
	}
	return v, nil
}

// parseOptionalAmount is parseAmount with empty meaning "unchanged"
// rather than zero.
func parseOptionalAmount(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	return parseAmount(field, s)
}

func parsePrices(raw map[string]string) (market.Prices, error) {
	prices := make(market.Prices, len(raw))
	for token, s := range raw {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, errs.InvalidInputf("malformed price %q for %s", s, token)
		}
		prices[token] = v
	}
	return prices, nil
}
