package server

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/FelixGibson/gmx-synthetics/internal/access"
	"github.com/FelixGibson/gmx-synthetics/internal/bank"
	"github.com/FelixGibson/gmx-synthetics/internal/engine"
	"github.com/FelixGibson/gmx-synthetics/internal/market"
	"github.com/FelixGibson/gmx-synthetics/internal/observability"
	"github.com/FelixGibson/gmx-synthetics/internal/order"
	"github.com/FelixGibson/gmx-synthetics/internal/precision"
)

var wntUsd = market.Market{ID: "WNT/USD", LongToken: "WNT", ShortToken: "USDC"}

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine, *bank.MemoryVault) {
	t.Helper()
	vault := bank.NewMemoryVault()
	e := engine.New(engine.Config{Vault: vault, Logger: zerolog.Nop()})
	if err := e.RegisterMarket(wntUsd); err != nil {
		t.Fatal(err)
	}
	e.Roles().Grant("keeper-1", access.RoleOrderKeeper)
	e.Roles().Grant("config-1", access.RoleConfigKeeper)

	handler := buildHTTPHandler(&Deps{
		Gate:          engine.NewGate(e),
		HealthChecker: observability.NewHealthChecker(),
		Logger:        zerolog.Nop(),
	})
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts, e, vault
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestListMarketsRoute(t *testing.T) {
	ts, _, _ := newTestServer(t)

	var body struct {
		Markets []marketView `json:"markets"`
	}
	if status := getJSON(t, ts, "/v1/markets", &body); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if len(body.Markets) != 1 || body.Markets[0].ID != "WNT/USD" {
		t.Fatalf("markets = %+v", body.Markets)
	}
	if body.Markets[0].LongToken != "WNT" || body.Markets[0].ShortToken != "USDC" {
		t.Fatalf("tokens = %+v", body.Markets[0])
	}
}

func TestFundingRouteEscapedMarketID(t *testing.T) {
	ts, e, _ := newTestServer(t)

	factor := new(big.Int).Mul(big.NewInt(1), precision.Exp10(20))
	if err := e.SetFundingFactor("config-1", "WNT/USD", factor, 1, time.Unix(1000, 0)); err != nil {
		t.Fatal(err)
	}

	var body fundingView
	path := "/v1/markets/" + url.PathEscape("WNT/USD") + "/funding"
	if status := getJSON(t, ts, path, &body); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body.FactorPerSecond != factor.String() {
		t.Fatalf("factor = %s, want %s", body.FactorPerSecond, factor)
	}
	if body.Exponent != 1 || body.UpdatedAt != 1000 {
		t.Fatalf("state = %+v", body)
	}
	if _, ok := body.LongIndex["WNT"]; !ok {
		t.Fatalf("long index missing WNT: %+v", body.LongIndex)
	}
}

func TestFundingRouteUnknownMarket(t *testing.T) {
	ts, _, _ := newTestServer(t)

	path := "/v1/markets/" + url.PathEscape("DOGE/USD") + "/funding"
	if status := getJSON(t, ts, path, nil); status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestPositionsAndOrdersRoutes(t *testing.T) {
	ts, e, vault := newTestServer(t)

	collateral := new(big.Int).Mul(big.NewInt(10), precision.Exp10(18))
	vault.Mint("WNT", "alice", collateral)
	o, err := e.CreateOrder(&order.CreateParams{
		Account:               "alice",
		Market:                "WNT/USD",
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

	var orders struct {
		Orders []orderView `json:"orders"`
	}
	if status := getJSON(t, ts, "/v1/accounts/alice/orders", &orders); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if len(orders.Orders) != 1 || orders.Orders[0].ID != o.ID.String() {
		t.Fatalf("orders = %+v", orders.Orders)
	}

	prices := market.Prices{
		"WNT":  market.PriceFromUsd("WNT", 5000),
		"USDC": market.PriceFromUsd("USDC", 1),
	}
	if err := e.ExecuteOrder("keeper-1", o.ID, prices, time.Unix(100, 0)); err != nil {
		t.Fatal(err)
	}

	var positions struct {
		Positions []positionView `json:"positions"`
	}
	if status := getJSON(t, ts, "/v1/accounts/alice/positions", &positions); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if len(positions.Positions) != 1 {
		t.Fatalf("positions = %+v", positions.Positions)
	}
	p := positions.Positions[0]
	if p.SizeInUsd != precision.FloatFromInt64(100_000).String() {
		t.Fatalf("size = %s", p.SizeInUsd)
	}
	if p.CollateralAmount != collateral.String() {
		t.Fatalf("collateral = %s", p.CollateralAmount)
	}

	var oi openInterestView
	path := "/v1/markets/" + url.PathEscape("WNT/USD") + "/open-interest"
	if status := getJSON(t, ts, path, &oi); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if oi.Long["WNT"] != precision.FloatFromInt64(100_000).String() {
		t.Fatalf("long OI = %+v", oi.Long)
	}
}

func TestClaimableRouteEmpty(t *testing.T) {
	ts, _, _ := newTestServer(t)

	var body struct {
		Claimable []claimableEntry `json:"claimable"`
	}
	if status := getJSON(t, ts, "/v1/accounts/alice/claimable", &body); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if len(body.Claimable) != 0 {
		t.Fatalf("claimable = %+v", body.Claimable)
	}
}

func TestClaimRoute(t *testing.T) {
	ts, _, _ := newTestServer(t)

	body := strings.NewReader(`{"markets":["WNT/USD"],"tokens":["WNT"]}`)
	resp, err := http.Post(ts.URL+"/v1/accounts/alice/claims", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out claimResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	// Nothing claimable yet; a zero payout is not an error.
	if len(out.Amounts) != 1 || out.Amounts[0] != "0" {
		t.Fatalf("amounts = %+v", out.Amounts)
	}
}

func TestClaimRouteRejectsMismatchedPairs(t *testing.T) {
	ts, _, _ := newTestServer(t)

	body := strings.NewReader(`{"markets":["WNT/USD"],"tokens":[]}`)
	resp, err := http.Post(ts.URL+"/v1/accounts/alice/claims", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHistoryRoutesWithoutStore(t *testing.T) {
	ts, _, _ := newTestServer(t)

	if status := getJSON(t, ts, "/v1/accounts/alice/fees", nil); status != http.StatusServiceUnavailable {
		t.Fatalf("fees status = %d, want 503", status)
	}
	if status := getJSON(t, ts, "/v1/accounts/alice/claims", nil); status != http.StatusServiceUnavailable {
		t.Fatalf("claims status = %d, want 503", status)
	}
}

func TestHealthRoutes(t *testing.T) {
	vault := bank.NewMemoryVault()
	e := engine.New(engine.Config{Vault: vault, Logger: zerolog.Nop()})
	hc := observability.NewHealthChecker()
	handler := buildHTTPHandler(&Deps{
		Gate:          engine.NewGate(e),
		HealthChecker: hc,
		Logger:        zerolog.Nop(),
	})
	ts := httptest.NewServer(handler)
	defer ts.Close()

	if status := getJSON(t, ts, "/healthz", nil); status != http.StatusOK {
		t.Fatalf("healthz = %d", status)
	}
	if status := getJSON(t, ts, "/readyz", nil); status != http.StatusServiceUnavailable {
		t.Fatalf("readyz before ready = %d, want 503", status)
	}
	hc.SetReady(true)
	if status := getJSON(t, ts, "/readyz", nil); status != http.StatusOK {
		t.Fatalf("readyz after ready = %d", status)
	}
}
