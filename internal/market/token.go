package market

import (
	"math/big"

	"github.com/FelixGibson/gmx-synthetics/internal/precision"
)

// Token registry. Amounts are integers in the token's smallest unit;
// decimals control conversion between whole tokens and units.
type Token struct {
	Symbol   string
	Decimals uint32
}

var tokens = map[string]Token{
	"WNT":  {Symbol: "WNT", Decimals: 18},
	"WBTC": {Symbol: "WBTC", Decimals: 8},
	"USDC": {Symbol: "USDC", Decimals: 6},
	"USDT": {Symbol: "USDT", Decimals: 6},
}

func GetToken(symbol string) (Token, bool) {
	t, ok := tokens[symbol]
	return t, ok
}

// Prices maps token symbol to Float-scaled USD per smallest token unit.
// Prices are versioned inputs supplied by the execution keeper; the
// engine never fetches them itself.
type Prices map[string]*big.Int

// Price returns the price for a token, ok=false when absent.
func (p Prices) Price(token string) (*big.Int, bool) {
	v, ok := p[token]
	if !ok || v == nil || v.Sign() <= 0 {
		return nil, false
	}
	return v, true
}

// PriceFromUsd is a convenience for building Prices in tests and
// keeper payloads: whole-token USD price plus registry decimals.
func PriceFromUsd(symbol string, usdPerToken int64) *big.Int {
	t, ok := GetToken(symbol)
	if !ok {
		return new(big.Int)
	}
	return precision.PriceFromUsd(usdPerToken, t.Decimals)
}
