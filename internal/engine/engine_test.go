package engine

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/FelixGibson/gmx-synthetics/internal/access"
	"github.com/FelixGibson/gmx-synthetics/internal/bank"
	"github.com/FelixGibson/gmx-synthetics/internal/errs"
	"github.com/FelixGibson/gmx-synthetics/internal/event"
	"github.com/FelixGibson/gmx-synthetics/internal/market"
	"github.com/FelixGibson/gmx-synthetics/internal/order"
	"github.com/FelixGibson/gmx-synthetics/internal/precision"
	"github.com/FelixGibson/gmx-synthetics/internal/store"
)

const (
	keeper = "keeper-1"
	config = "config-1"
)

var wntUsd = market.Market{ID: "WNT/USD", LongToken: "WNT", ShortToken: "USDC"}

type recordingEmitter struct {
	events []event.Event
}

func (r *recordingEmitter) Emit(e event.Event) {
	r.events = append(r.events, e)
}

func (r *recordingEmitter) names() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventName()
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *bank.MemoryVault, *recordingEmitter) {
	t.Helper()
	vault := bank.NewMemoryVault()
	emitter := &recordingEmitter{}
	e := New(Config{
		Vault:   vault,
		Emitter: emitter,
		Logger:  zerolog.Nop(),
	})
	if err := e.RegisterMarket(wntUsd); err != nil {
		t.Fatalf("RegisterMarket: %v", err)
	}
	e.Roles().Grant(keeper, access.RoleOrderKeeper)
	e.Roles().Grant(config, access.RoleConfigKeeper)
	return e, vault, emitter
}

func scenarioPrices() market.Prices {
	return market.Prices{
		"WNT":  market.PriceFromUsd("WNT", 5000),
		"USDC": market.PriceFromUsd("USDC", 1),
	}
}

func wnt(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), precision.Exp10(18))
}

func usdc(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), precision.Exp10(6))
}

func marketIncrease(account, token string, isLong bool, sizeUsd int64, collateral *big.Int) *order.CreateParams {
	return &order.CreateParams{
		Account:               account,
		Market:                wntUsd.ID,
		CollateralToken:       token,
		IsLong:                isLong,
		Type:                  order.MarketIncrease,
		SizeDeltaUsd:          precision.FloatFromInt64(sizeUsd),
		CollateralDeltaAmount: collateral,
		TriggerPrice:          new(big.Int),
		AcceptablePrice:       new(big.Int),
		ExecutionFeeAmount:    new(big.Int),
	}
}

func marketDecrease(account, token string, isLong bool, sizeUsd int64) *order.CreateParams {
	return &order.CreateParams{
		Account:               account,
		Market:                wntUsd.ID,
		CollateralToken:       token,
		IsLong:                isLong,
		Type:                  order.MarketDecrease,
		SizeDeltaUsd:          precision.FloatFromInt64(sizeUsd),
		CollateralDeltaAmount: new(big.Int),
		TriggerPrice:          new(big.Int),
		AcceptablePrice:       new(big.Int),
		ExecutionFeeAmount:    new(big.Int),
	}
}

func claimKey(marketID, token, account string) store.Key {
	return store.ClaimableFundingAmountKey(marketID, token, account)
}

func TestCreateOrderEscrowsCollateral(t *testing.T) {
	e, vault, emitter := newTestEngine(t)
	vault.Mint("WNT", "alice", wnt(11))

	p := marketIncrease("alice", "WNT", true, 200_000, wnt(10))
	p.ExecutionFeeAmount = big.NewInt(1000)
	o, err := e.CreateOrder(p, time.Unix(100, 0))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if o.Status != order.StatusCreated {
		t.Fatalf("status = %s", o.Status)
	}
	wantEscrow := new(big.Int).Add(wnt(10), big.NewInt(1000))
	if got := vault.EscrowBalance("WNT"); got.Cmp(wantEscrow) != 0 {
		t.Fatalf("escrow = %s, want %s", got, wantEscrow)
	}
	if got := emitter.names(); len(got) != 1 || got[0] != "OrderCreated" {
		t.Fatalf("events = %v", got)
	}
}

func TestCreateOrderRejections(t *testing.T) {
	e, vault, _ := newTestEngine(t)
	vault.Mint("WNT", "alice", wnt(1))

	p := marketIncrease("alice", "WNT", true, 1000, wnt(1))
	p.Type = order.Liquidation
	if _, err := e.CreateOrder(p, time.Unix(0, 0)); !errors.Is(err, errs.ErrInvalidOrderType) {
		t.Fatalf("liquidation create: %v", err)
	}

	p = marketIncrease("alice", "WNT", true, 1000, wnt(1))
	p.Market = "GHOST/USD"
	if _, err := e.CreateOrder(p, time.Unix(0, 0)); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("unknown market: %v", err)
	}

	p = marketIncrease("alice", "WBTC", true, 1000, big.NewInt(1))
	if _, err := e.CreateOrder(p, time.Unix(0, 0)); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("foreign collateral: %v", err)
	}

	e.Features().Disable(access.CreateOrderFeature(order.MarketIncrease.String()))
	p = marketIncrease("alice", "WNT", true, 1000, wnt(1))
	if _, err := e.CreateOrder(p, time.Unix(0, 0)); !errors.Is(err, errs.ErrFeatureDisabled) {
		t.Fatalf("feature disabled: %v", err)
	}
	e.Features().Enable(access.CreateOrderFeature(order.MarketIncrease.String()))

	p = marketIncrease("alice", "WNT", true, 1000, wnt(5))
	if _, err := e.CreateOrder(p, time.Unix(0, 0)); !errors.Is(err, errs.ErrInsufficientCollateral) {
		t.Fatalf("insufficient balance: %v", err)
	}
}

func TestExecuteOrderRequiresKeeperRole(t *testing.T) {
	e, vault, _ := newTestEngine(t)
	vault.Mint("WNT", "alice", wnt(1))
	o, err := e.CreateOrder(marketIncrease("alice", "WNT", true, 1000, wnt(1)), time.Unix(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	err = e.ExecuteOrder("alice", o.ID, scenarioPrices(), time.Unix(1, 0))
	if !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
}

func TestExecuteIncreaseOpensPosition(t *testing.T) {
	e, vault, _ := newTestEngine(t)
	vault.Mint("WNT", "alice", wnt(10))

	o, err := e.CreateOrder(marketIncrease("alice", "WNT", true, 200_000, wnt(10)), time.Unix(100, 0))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ExecuteOrder(keeper, o.ID, scenarioPrices(), time.Unix(100, 0)); err != nil {
		t.Fatalf("ExecuteOrder: %v", err)
	}

	pos, ok := e.Position("alice", wntUsd.ID, "WNT", true)
	if !ok {
		t.Fatal("position missing")
	}
	if pos.SizeInUsd.Cmp(precision.FloatFromInt64(200_000)) != 0 {
		t.Fatalf("size = %s", pos.SizeInUsd)
	}
	if pos.CollateralAmount.Cmp(wnt(10)) != 0 {
		t.Fatalf("collateral = %s", pos.CollateralAmount)
	}
	oi, err := e.OpenInterest(wntUsd.ID, "WNT", true)
	if err != nil {
		t.Fatal(err)
	}
	if oi.Cmp(precision.FloatFromInt64(200_000)) != 0 {
		t.Fatalf("open interest = %s", oi)
	}
	if _, ok := e.Order(o.ID); ok {
		t.Fatal("order still pending after execution")
	}
}

// Two weeks and three seconds of funding between a $200k long and a
// $100k short. The long pays 1612804000000000 wei on decrease; the
// short's claim is one wei less, and the residue stays in escrow.
func TestFundingLifecycleExactScenario(t *testing.T) {
	e, vault, _ := newTestEngine(t)
	prices := scenarioPrices()
	t0 := time.Unix(1_700_000_000, 0)
	t1 := t0.Add(1_209_603 * time.Second)

	if err := e.SetFundingFactor(config, wntUsd.ID, precision.Exp10(20), 1, t0); err != nil {
		t.Fatalf("SetFundingFactor: %v", err)
	}

	vault.Mint("WNT", "alice", wnt(10))
	vault.Mint("USDC", "bob", usdc(100_000))

	aliceOpen, err := e.CreateOrder(marketIncrease("alice", "WNT", true, 200_000, wnt(10)), t0)
	if err != nil {
		t.Fatal(err)
	}
	bobOpen, err := e.CreateOrder(marketIncrease("bob", "USDC", false, 100_000, usdc(100_000)), t0)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ExecuteOrder(keeper, aliceOpen.ID, prices, t0); err != nil {
		t.Fatal(err)
	}
	if err := e.ExecuteOrder(keeper, bobOpen.ID, prices, t0); err != nil {
		t.Fatal(err)
	}

	aliceClose, err := e.CreateOrder(marketDecrease("alice", "WNT", true, 190_000), t1)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ExecuteOrder(keeper, aliceClose.ID, prices, t1); err != nil {
		t.Fatalf("alice decrease: %v", err)
	}

	wantPaid := big.NewInt(1_612_804_000_000_000)
	pos, ok := e.Position("alice", wntUsd.ID, "WNT", true)
	if !ok {
		t.Fatal("alice position missing")
	}
	// Fee deducted before the proportional 190/200 payout; one
	// twentieth of the post-fee collateral remains.
	postFee := new(big.Int).Sub(wnt(10), wantPaid)
	payout := new(big.Int).Mul(postFee, precision.FloatFromInt64(190_000))
	payout.Quo(payout, precision.FloatFromInt64(200_000))
	wantRemaining := new(big.Int).Sub(postFee, payout)
	if pos.CollateralAmount.Cmp(wantRemaining) != 0 {
		t.Fatalf("alice collateral = %s, want %s", pos.CollateralAmount, wantRemaining)
	}
	if got := vault.Balance("WNT", "alice"); got.Cmp(payout) != 0 {
		t.Fatalf("alice payout = %s, want %s", got, payout)
	}

	bobClose, err := e.CreateOrder(marketDecrease("bob", "USDC", false, 100_000), t1)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ExecuteOrder(keeper, bobClose.ID, prices, t1); err != nil {
		t.Fatalf("bob decrease: %v", err)
	}

	wantClaim := big.NewInt(1_612_803_999_999_999)
	if got := e.ClaimableFunding(wntUsd.ID, "WNT", "bob"); got.Cmp(wantClaim) != 0 {
		t.Fatalf("bob claimable = %s, want %s", got, wantClaim)
	}
	// Bob's USDC came back whole; his receivable was WNT-denominated.
	if got := vault.Balance("USDC", "bob"); got.Cmp(usdc(100_000)) != 0 {
		t.Fatalf("bob USDC = %s", got)
	}
	if _, ok := e.Position("bob", wntUsd.ID, "USDC", false); ok {
		t.Fatal("bob position should be closed")
	}

	amounts, err := e.ClaimFundingFees("bob", []string{wntUsd.ID}, []string{"WNT"}, "")
	if err != nil {
		t.Fatalf("ClaimFundingFees: %v", err)
	}
	if len(amounts) != 1 || amounts[0].Cmp(wantClaim) != 0 {
		t.Fatalf("claimed = %v, want %s", amounts, wantClaim)
	}
	if got := vault.Balance("WNT", "bob"); got.Cmp(wantClaim) != 0 {
		t.Fatalf("bob WNT = %s", got)
	}
	if got := e.ClaimableFunding(wntUsd.ID, "WNT", "bob"); got.Sign() != 0 {
		t.Fatalf("claimable not zeroed: %s", got)
	}

	// Double claim transfers nothing.
	amounts, err = e.ClaimFundingFees("bob", []string{wntUsd.ID}, []string{"WNT"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if amounts[0].Sign() != 0 {
		t.Fatalf("double claim paid %s", amounts[0])
	}

	// The rounding residue of exactly one wei stays in escrow after
	// alice fully exits.
	aliceFinal, err := e.CreateOrder(marketDecrease("alice", "WNT", true, 10_000), t1)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ExecuteOrder(keeper, aliceFinal.ID, prices, t1); err != nil {
		t.Fatal(err)
	}
	if got := vault.EscrowBalance("WNT"); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("escrow residue = %s wei, want 1", got)
	}
}

func TestExecuteFailureRestoresStateAndFreezesLimitOrder(t *testing.T) {
	e, vault, emitter := newTestEngine(t)
	prices := scenarioPrices()
	t0 := time.Unix(1_700_000_000, 0)

	vault.Mint("WNT", "alice", wnt(10))
	p := marketIncrease("alice", "WNT", true, 200_000, wnt(10))
	p.Type = order.LimitIncrease
	p.TriggerPrice = market.PriceFromUsd("WNT", 4000) // below market, not triggered
	o, err := e.CreateOrder(p, t0)
	if err != nil {
		t.Fatal(err)
	}

	err = e.ExecuteOrder(keeper, o.ID, prices, t0)
	if !errors.Is(err, errs.ErrUnacceptablePrice) {
		t.Fatalf("err = %v, want unacceptable price", err)
	}

	got, ok := e.Order(o.ID)
	if !ok {
		t.Fatal("order lost")
	}
	if got.Status != order.StatusFrozen {
		t.Fatalf("status = %s, want Frozen", got.Status)
	}
	// No position, no open interest: execution side effects rolled back.
	if _, ok := e.Position("alice", wntUsd.ID, "WNT", true); ok {
		t.Fatal("position created despite failure")
	}
	oi, _ := e.OpenInterest(wntUsd.ID, "WNT", true)
	if oi.Sign() != 0 {
		t.Fatalf("open interest = %s", oi)
	}

	names := emitter.names()
	if names[len(names)-1] != "OrderFrozen" {
		t.Fatalf("last event = %s", names[len(names)-1])
	}

	// Raising the trigger clears the freeze and lets execution pass.
	if _, err := e.UpdateOrder("alice", o.ID, UpdateParams{
		TriggerPrice: market.PriceFromUsd("WNT", 6000),
	}, t0); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	got, _ = e.Order(o.ID)
	if got.Status != order.StatusUpdated || got.FrozenReason != "" {
		t.Fatalf("freeze not cleared: %+v", got)
	}
	if err := e.ExecuteOrder(keeper, o.ID, prices, t0.Add(time.Second)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if _, ok := e.Position("alice", wntUsd.ID, "WNT", true); !ok {
		t.Fatal("position missing after retry")
	}
}

func TestExecuteFailedMarketOrderIsCancelledWithRefund(t *testing.T) {
	e, vault, emitter := newTestEngine(t)
	t0 := time.Unix(1_700_000_000, 0)

	vault.Mint("WNT", "alice", wnt(10))
	p := marketIncrease("alice", "WNT", true, 200_000, wnt(10))
	p.AcceptablePrice = market.PriceFromUsd("WNT", 4000) // worse than market
	o, err := e.CreateOrder(p, t0)
	if err != nil {
		t.Fatal(err)
	}

	err = e.ExecuteOrder(keeper, o.ID, scenarioPrices(), t0)
	if !errors.Is(err, errs.ErrUnacceptablePrice) {
		t.Fatalf("err = %v", err)
	}
	if _, ok := e.Order(o.ID); ok {
		t.Fatal("failed market order should be removed")
	}
	if got := vault.Balance("WNT", "alice"); got.Cmp(wnt(10)) != 0 {
		t.Fatalf("refund = %s, want %s", got, wnt(10))
	}
	names := emitter.names()
	if names[len(names)-1] != "OrderCancelled" {
		t.Fatalf("last event = %s", names[len(names)-1])
	}
}

func TestUpdateOrderRules(t *testing.T) {
	e, vault, _ := newTestEngine(t)
	t0 := time.Unix(0, 0)
	vault.Mint("WNT", "alice", wnt(2))

	mo, err := e.CreateOrder(marketIncrease("alice", "WNT", true, 1000, wnt(1)), t0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.UpdateOrder("alice", mo.ID, UpdateParams{SizeDeltaUsd: big.NewInt(1)}, t0); !errors.Is(err, errs.ErrInvalidOrderType) {
		t.Fatalf("market order update: %v", err)
	}

	p := marketIncrease("alice", "WNT", true, 1000, wnt(1))
	p.Type = order.LimitIncrease
	p.TriggerPrice = market.PriceFromUsd("WNT", 4000)
	lo, err := e.CreateOrder(p, t0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.UpdateOrder("mallory", lo.ID, UpdateParams{}, t0); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("foreign update: %v", err)
	}
	if _, err := e.UpdateOrder("alice", lo.ID, UpdateParams{TriggerPrice: new(big.Int)}, t0); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("zero trigger: %v", err)
	}
	got, err := e.UpdateOrder("alice", lo.ID, UpdateParams{SizeDeltaUsd: precision.FloatFromInt64(2000)}, time.Unix(50, 0))
	if err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	if got.Status != order.StatusUpdated || got.UpdatedAt != 50 {
		t.Fatalf("order = %+v", got)
	}
}

func TestUpdateOrderFailureLeavesOrderUntouched(t *testing.T) {
	e, vault, _ := newTestEngine(t)
	t0 := time.Unix(0, 0)
	vault.Mint("WNT", "alice", wnt(1))

	p := marketIncrease("alice", "WNT", true, 1000, wnt(1))
	p.Type = order.LimitIncrease
	p.TriggerPrice = market.PriceFromUsd("WNT", 4000)
	lo, err := e.CreateOrder(p, t0)
	if err != nil {
		t.Fatal(err)
	}

	// A valid size paired with an invalid trigger must reject the whole
	// update, not half of it.
	_, err = e.UpdateOrder("alice", lo.ID, UpdateParams{
		SizeDeltaUsd: precision.FloatFromInt64(9999),
		TriggerPrice: big.NewInt(-1),
	}, time.Unix(50, 0))
	if !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("err = %v, want invalid input", err)
	}

	got, ok := e.Order(lo.ID)
	if !ok {
		t.Fatal("order missing")
	}
	if got.SizeDeltaUsd.Cmp(precision.FloatFromInt64(1000)) != 0 {
		t.Fatalf("size mutated by rejected update: %s", got.SizeDeltaUsd)
	}
	if got.TriggerPrice.Cmp(market.PriceFromUsd("WNT", 4000)) != 0 {
		t.Fatalf("trigger mutated by rejected update: %s", got.TriggerPrice)
	}
	if got.Status != order.StatusCreated || got.UpdatedAt != 0 {
		t.Fatalf("order = %+v", got)
	}
}

func TestUpdateOrderExecutionFeeTopUp(t *testing.T) {
	e, vault, _ := newTestEngine(t)
	t0 := time.Unix(0, 0)
	vault.Mint("WNT", "alice", new(big.Int).Add(wnt(1), big.NewInt(1500)))

	p := marketIncrease("alice", "WNT", true, 1000, wnt(1))
	p.Type = order.LimitIncrease
	p.TriggerPrice = market.PriceFromUsd("WNT", 4000)
	p.ExecutionFeeAmount = big.NewInt(1000)
	lo, err := e.CreateOrder(p, t0)
	if err != nil {
		t.Fatal(err)
	}

	got, err := e.UpdateOrder("alice", lo.ID, UpdateParams{
		ExecutionFeeDeltaAmount: big.NewInt(500),
	}, time.Unix(50, 0))
	if err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	if got.ExecutionFeeAmount.Cmp(big.NewInt(1500)) != 0 {
		t.Fatalf("fee = %s, want 1500", got.ExecutionFeeAmount)
	}
	wantEscrow := new(big.Int).Add(wnt(1), big.NewInt(1500))
	if bal := vault.EscrowBalance("WNT"); bal.Cmp(wantEscrow) != 0 {
		t.Fatalf("escrow = %s, want %s", bal, wantEscrow)
	}

	// Alice's balance is exhausted, so a further top-up fails at the
	// vault and the order keeps its current fee.
	if _, err := e.UpdateOrder("alice", lo.ID, UpdateParams{
		ExecutionFeeDeltaAmount: big.NewInt(500),
	}, time.Unix(60, 0)); err == nil {
		t.Fatal("expected transfer failure")
	}
	got, _ = e.Order(lo.ID)
	if got.ExecutionFeeAmount.Cmp(big.NewInt(1500)) != 0 {
		t.Fatalf("fee mutated by failed top-up: %s", got.ExecutionFeeAmount)
	}

	// Cancelling refunds collateral plus the topped-up fee.
	if err := e.CancelOrder("alice", lo.ID, "done"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if bal := vault.Balance("WNT", "alice"); bal.Cmp(wantEscrow) != 0 {
		t.Fatalf("refunded balance = %s, want %s", bal, wantEscrow)
	}
}

func TestCancelOrderRules(t *testing.T) {
	e, vault, _ := newTestEngine(t)
	t0 := time.Unix(0, 0)
	vault.Mint("WNT", "alice", wnt(2))

	mo, err := e.CreateOrder(marketIncrease("alice", "WNT", true, 1000, wnt(1)), t0)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.CancelOrder("alice", mo.ID, "user"); !errors.Is(err, errs.ErrInvalidOrderType) {
		t.Fatalf("owner market cancel: %v", err)
	}
	if err := e.CancelOrder("mallory", mo.ID, "grief"); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("foreign cancel: %v", err)
	}
	// Keepers may drop stale market orders.
	if err := e.CancelOrder(keeper, mo.ID, "stale"); err != nil {
		t.Fatalf("keeper cancel: %v", err)
	}
	if got := vault.Balance("WNT", "alice"); got.Cmp(wnt(2)) != 0 {
		t.Fatalf("refund = %s", got)
	}

	p := marketIncrease("alice", "WNT", true, 1000, wnt(1))
	p.Type = order.LimitIncrease
	p.TriggerPrice = market.PriceFromUsd("WNT", 4000)
	lo, err := e.CreateOrder(p, t0)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.CancelOrder("alice", lo.ID, "changed my mind"); err != nil {
		t.Fatalf("owner limit cancel: %v", err)
	}
	if got := vault.Balance("WNT", "alice"); got.Cmp(wnt(2)) != 0 {
		t.Fatalf("balance after refund = %s", got)
	}
}

func TestClaimFundingFeesPairSemantics(t *testing.T) {
	e, vault, _ := newTestEngine(t)

	if _, err := e.ClaimFundingFees("bob", []string{wntUsd.ID}, []string{"WNT", "USDC"}, ""); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("length mismatch: %v", err)
	}

	// Seed two claimable pairs backed by escrow.
	vault.Mint("WNT", "funder", wnt(1))
	vault.Mint("USDC", "funder", usdc(100))
	if err := vault.TransferIn("WNT", "funder", wnt(1)); err != nil {
		t.Fatal(err)
	}
	if err := vault.TransferIn("USDC", "funder", usdc(100)); err != nil {
		t.Fatal(err)
	}
	e.ds.SetUint(claimKey(wntUsd.ID, "WNT", "bob"), big.NewInt(500))
	e.ds.SetUint(claimKey(wntUsd.ID, "USDC", "bob"), big.NewInt(700))

	amounts, err := e.ClaimFundingFees("bob", []string{wntUsd.ID, wntUsd.ID}, []string{"WNT", "USDC"}, "bob")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(amounts) != 2 || amounts[0].Cmp(big.NewInt(500)) != 0 || amounts[1].Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("amounts = %v", amounts)
	}

	e.ds.SetUint(claimKey(wntUsd.ID, "WNT", "carol"), big.NewInt(11))
	e.ds.SetUint(claimKey(wntUsd.ID, "USDC", "carol"), big.NewInt(13))
	vault.FailTransfersTo["carol-recv"] = true
	amounts, err = e.ClaimFundingFees("carol", []string{wntUsd.ID, wntUsd.ID}, []string{"WNT", "USDC"}, "carol-recv")
	if err == nil {
		t.Fatal("expected transfer failure")
	}
	if len(amounts) != 0 {
		t.Fatalf("amounts before failure = %v", amounts)
	}
	// First pair failed, so it is re-credited and the second untouched.
	if got := e.ClaimableFunding(wntUsd.ID, "WNT", "carol"); got.Cmp(big.NewInt(11)) != 0 {
		t.Fatalf("WNT re-credit = %s", got)
	}
	if got := e.ClaimableFunding(wntUsd.ID, "USDC", "carol"); got.Cmp(big.NewInt(13)) != 0 {
		t.Fatalf("USDC untouched = %s", got)
	}
}

func TestLiquidationClosesFullPosition(t *testing.T) {
	e, vault, _ := newTestEngine(t)
	prices := scenarioPrices()
	t0 := time.Unix(1_700_000_000, 0)

	vault.Mint("WNT", "alice", wnt(10))
	o, err := e.CreateOrder(marketIncrease("alice", "WNT", true, 200_000, wnt(10)), t0)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ExecuteOrder(keeper, o.ID, prices, t0); err != nil {
		t.Fatal(err)
	}

	if _, err := e.CreateLiquidationOrder("alice", "alice", wntUsd.ID, "WNT", true, t0); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("non-keeper liquidation: %v", err)
	}
	lo, err := e.CreateLiquidationOrder(keeper, "alice", wntUsd.ID, "WNT", true, t0)
	if err != nil {
		t.Fatalf("CreateLiquidationOrder: %v", err)
	}
	if err := e.ExecuteOrder(keeper, lo.ID, prices, t0.Add(time.Second)); err != nil {
		t.Fatalf("liquidation execute: %v", err)
	}
	if _, ok := e.Position("alice", wntUsd.ID, "WNT", true); ok {
		t.Fatal("position survived liquidation")
	}
	oi, _ := e.OpenInterest(wntUsd.ID, "WNT", true)
	if oi.Sign() != 0 {
		t.Fatalf("open interest = %s", oi)
	}
}

type reentrantEmitter struct {
	engine *Engine
	err    error
}

func (r *reentrantEmitter) Emit(event.Event) {
	if r.engine != nil && r.err == nil {
		_, r.err = r.engine.ClaimFundingFees("x", nil, nil, "")
	}
}

func TestReentrantCallsRejected(t *testing.T) {
	vault := bank.NewMemoryVault()
	emitter := &reentrantEmitter{}
	e := New(Config{Vault: vault, Emitter: emitter, Logger: zerolog.Nop()})
	emitter.engine = e
	if err := e.RegisterMarket(wntUsd); err != nil {
		t.Fatal(err)
	}

	vault.Mint("WNT", "alice", wnt(1))
	if _, err := e.CreateOrder(marketIncrease("alice", "WNT", true, 1000, wnt(1)), time.Unix(0, 0)); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if !errors.Is(emitter.err, errs.ErrInvalidState) {
		t.Fatalf("reentrant call err = %v, want invalid state", emitter.err)
	}
}

func TestSetFundingFactorRequiresConfigRole(t *testing.T) {
	e, _, _ := newTestEngine(t)
	err := e.SetFundingFactor("alice", wntUsd.ID, big.NewInt(1), 1, time.Unix(0, 0))
	if !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("err = %v", err)
	}
	if err := e.SetBorrowingFactor("alice", wntUsd.ID, true, big.NewInt(1), time.Unix(0, 0)); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("err = %v", err)
	}
}

func TestBorrowingFeesChargedOnDecrease(t *testing.T) {
	e, vault, _ := newTestEngine(t)
	prices := scenarioPrices()
	t0 := time.Unix(1_700_000_000, 0)
	t1 := t0.Add(1000 * time.Second)

	// 1e-9 of size per second.
	if err := e.SetBorrowingFactor(config, wntUsd.ID, true, precision.Exp10(21), t0); err != nil {
		t.Fatal(err)
	}

	vault.Mint("WNT", "alice", wnt(10))
	o, err := e.CreateOrder(marketIncrease("alice", "WNT", true, 100_000, wnt(10)), t0)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ExecuteOrder(keeper, o.ID, prices, t0); err != nil {
		t.Fatal(err)
	}

	c, err := e.CreateOrder(marketDecrease("alice", "WNT", true, 100_000), t1)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ExecuteOrder(keeper, c.ID, prices, t1); err != nil {
		t.Fatal(err)
	}

	// 1e-9 * 1000s * $100k = $0.1 owed, 0.00002 WNT at $5000, charged
	// before the close payout.
	wantFee := big.NewInt(20_000_000_000_000)
	wantBack := new(big.Int).Sub(wnt(10), wantFee)
	if got := vault.Balance("WNT", "alice"); got.Cmp(wantBack) != 0 {
		t.Fatalf("alice balance = %s, want %s", got, wantBack)
	}
}
