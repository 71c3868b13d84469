package ingestion

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/FelixGibson/gmx-synthetics/internal/access"
	"github.com/FelixGibson/gmx-synthetics/internal/bank"
	"github.com/FelixGibson/gmx-synthetics/internal/engine"
	"github.com/FelixGibson/gmx-synthetics/internal/market"
	"github.com/FelixGibson/gmx-synthetics/internal/order"
	"github.com/FelixGibson/gmx-synthetics/internal/precision"
)

var wntUsd = market.Market{ID: "WNT/USD", LongToken: "WNT", ShortToken: "USDC"}

func newDispatcherTestEngine(t *testing.T) (*engine.Engine, *bank.MemoryVault) {
	t.Helper()
	vault := bank.NewMemoryVault()
	e := engine.New(engine.Config{Vault: vault, Logger: zerolog.Nop()})
	if err := e.RegisterMarket(wntUsd); err != nil {
		t.Fatal(err)
	}
	e.Roles().Grant("keeper-1", access.RoleOrderKeeper)
	return e, vault
}

func newTestDispatcher(e *engine.Engine) *Dispatcher {
	return NewDispatcher(engine.NewGate(e), nil, zerolog.Nop())
}

func pendingOrder(t *testing.T, e *engine.Engine, vault *bank.MemoryVault) *order.Order {
	t.Helper()
	collateral := new(big.Int).Mul(big.NewInt(10), precision.Exp10(18))
	vault.Mint("WNT", "alice", collateral)
	o, err := e.CreateOrder(&order.CreateParams{
		Account:               "alice",
		Market:                wntUsd.ID,
		CollateralToken:       "WNT",
		IsLong:                true,
		Type:                  order.MarketIncrease,
		SizeDeltaUsd:          precision.FloatFromInt64(100_000),
		CollateralDeltaAmount: collateral,
		TriggerPrice:          new(big.Int),
		AcceptablePrice:       new(big.Int),
		ExecutionFeeAmount:    new(big.Int),
	}, time.Unix(100, 0))
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func pricePayload() map[string]string {
	return map[string]string{
		"WNT":  market.PriceFromUsd("WNT", 5000).String(),
		"USDC": market.PriceFromUsd("USDC", 1).String(),
	}
}

func deliver(t *testing.T, d *Dispatcher, subject string, payload interface{}) (acked bool) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	d.handle(RawCommand{
		Subject: subject,
		Data:    data,
		AckFunc: func() { acked = true },
		NakFunc: func() {},
	})
	return acked
}

func TestDispatcherExecuteCommand(t *testing.T) {
	e, vault := newDispatcherTestEngine(t)
	o := pendingOrder(t, e, vault)
	d := newTestDispatcher(e)

	acked := deliver(t, d, "synth.commands.execute", ExecuteOrderCommand{
		Keeper:    "keeper-1",
		OrderID:   o.ID,
		Prices:    pricePayload(),
		Timestamp: 100,
	})
	if !acked {
		t.Fatal("command not acked")
	}
	if _, ok := e.Position("alice", wntUsd.ID, "WNT", true); !ok {
		t.Fatal("position not opened")
	}
}

func TestDispatcherCancelCommand(t *testing.T) {
	e, vault := newDispatcherTestEngine(t)
	o := pendingOrder(t, e, vault)
	d := newTestDispatcher(e)

	acked := deliver(t, d, "synth.commands.cancel", CancelOrderCommand{
		Keeper:  "keeper-1",
		OrderID: o.ID,
		Reason:  "stale",
	})
	if !acked {
		t.Fatal("command not acked")
	}
	if _, ok := e.Order(o.ID); ok {
		t.Fatal("order still pending")
	}
}

func TestDispatcherLiquidateCommand(t *testing.T) {
	e, vault := newDispatcherTestEngine(t)
	o := pendingOrder(t, e, vault)
	d := newTestDispatcher(e)

	deliver(t, d, "synth.commands.execute", ExecuteOrderCommand{
		Keeper:    "keeper-1",
		OrderID:   o.ID,
		Prices:    pricePayload(),
		Timestamp: 100,
	})

	acked := deliver(t, d, "synth.commands.liquidate", LiquidateCommand{
		Keeper:          "keeper-1",
		Account:         "alice",
		Market:          wntUsd.ID,
		CollateralToken: "WNT",
		IsLong:          true,
		Prices:          pricePayload(),
		Timestamp:       200,
	})
	if !acked {
		t.Fatal("command not acked")
	}
	if _, ok := e.Position("alice", wntUsd.ID, "WNT", true); ok {
		t.Fatal("position survived liquidation")
	}
}

func TestDispatcherCreateAndUpdateCommands(t *testing.T) {
	e, vault := newDispatcherTestEngine(t)
	d := newTestDispatcher(e)

	collateral := new(big.Int).Mul(big.NewInt(10), precision.Exp10(18))
	vault.Mint("WNT", "alice", collateral)

	acked := deliver(t, d, "synth.commands.create", CreateOrderCommand{
		Account:               "alice",
		Market:                wntUsd.ID,
		CollateralToken:       "WNT",
		IsLong:                true,
		OrderType:             "LimitIncrease",
		SizeDeltaUsd:          precision.FloatFromInt64(50_000).String(),
		CollateralDeltaAmount: collateral.String(),
		TriggerPrice:          market.PriceFromUsd("WNT", 4500).String(),
		Timestamp:             100,
	})
	if !acked {
		t.Fatal("create not acked")
	}

	orders := e.OrdersByAccount("alice")
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(orders))
	}
	o := orders[0]
	if o.Type != order.LimitIncrease {
		t.Fatalf("type = %s", o.Type)
	}

	newTrigger := market.PriceFromUsd("WNT", 4200)
	acked = deliver(t, d, "synth.commands.update", UpdateOrderCommand{
		Account:      "alice",
		OrderID:      o.ID,
		SizeDeltaUsd: precision.FloatFromInt64(60_000).String(),
		TriggerPrice: newTrigger.String(),
		Timestamp:    150,
	})
	if !acked {
		t.Fatal("update not acked")
	}

	updated, ok := e.Order(o.ID)
	if !ok {
		t.Fatal("order missing after update")
	}
	if updated.SizeDeltaUsd.Cmp(precision.FloatFromInt64(60_000)) != 0 {
		t.Fatalf("size = %s", updated.SizeDeltaUsd)
	}
	if updated.TriggerPrice.Cmp(newTrigger) != 0 {
		t.Fatalf("trigger = %s", updated.TriggerPrice)
	}
}

func TestDispatcherRateCommands(t *testing.T) {
	e, _ := newDispatcherTestEngine(t)
	e.Roles().Grant("config-1", access.RoleConfigKeeper)
	d := newTestDispatcher(e)

	factor := new(big.Int).Mul(big.NewInt(1), precision.Exp10(20))
	acked := deliver(t, d, "synth.commands.funding", SetFundingCommand{
		Keeper:          "config-1",
		Market:          wntUsd.ID,
		FactorPerSecond: factor.String(),
		Exponent:        1,
		Timestamp:       100,
	})
	if !acked {
		t.Fatal("funding command not acked")
	}
	fs, err := e.FundingState(wntUsd.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fs.FactorPerSecond.Cmp(factor) != 0 || fs.Exponent != 1 {
		t.Fatalf("funding state = %+v", fs)
	}

	borrow := new(big.Int).Mul(big.NewInt(3), precision.Exp10(19))
	acked = deliver(t, d, "synth.commands.borrowing", SetBorrowingCommand{
		Keeper:          "config-1",
		Market:          wntUsd.ID,
		IsLong:          true,
		FactorPerSecond: borrow.String(),
		Timestamp:       100,
	})
	if !acked {
		t.Fatal("borrowing command not acked")
	}
	bs, err := e.BorrowingState(wntUsd.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if bs.FactorPerSecond.Cmp(borrow) != 0 {
		t.Fatalf("borrowing factor = %s", bs.FactorPerSecond)
	}
}

func TestDispatcherRateCommandRequiresConfigKeeper(t *testing.T) {
	e, _ := newDispatcherTestEngine(t)
	d := newTestDispatcher(e)

	factor := new(big.Int).Mul(big.NewInt(1), precision.Exp10(20))
	acked := deliver(t, d, "synth.commands.funding", SetFundingCommand{
		Keeper:          "keeper-1",
		Market:          wntUsd.ID,
		FactorPerSecond: factor.String(),
		Exponent:        1,
		Timestamp:       100,
	})
	if !acked {
		t.Fatal("rejected command must still be acked")
	}
	fs, err := e.FundingState(wntUsd.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fs.FactorPerSecond.Sign() != 0 {
		t.Fatalf("factor set by non-keeper: %s", fs.FactorPerSecond)
	}
}

func TestDispatcherMalformedPayloadIsAcked(t *testing.T) {
	e, _ := newDispatcherTestEngine(t)
	d := newTestDispatcher(e)

	acked := false
	d.handle(RawCommand{
		Subject: "synth.commands.execute",
		Data:    []byte("{not json"),
		AckFunc: func() { acked = true },
		NakFunc: func() {},
	})
	if !acked {
		t.Fatal("poison message must be acked, not redelivered")
	}
}

func TestDispatcherUnknownSubjectIsAcked(t *testing.T) {
	e, _ := newDispatcherTestEngine(t)
	d := newTestDispatcher(e)

	acked := false
	d.handle(RawCommand{
		Subject: "synth.commands.reboot",
		Data:    []byte("{}"),
		AckFunc: func() { acked = true },
		NakFunc: func() {},
	})
	if !acked {
		t.Fatal("unknown subject must be acked")
	}
}

func TestParsePricesRejectsMalformedValue(t *testing.T) {
	_, err := parsePrices(map[string]string{"WNT": "not-a-number"})
	if err == nil {
		t.Fatal("expected parse error")
	}
}
