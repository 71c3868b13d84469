package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// Key is a content-addressed store key: SHA-256 over a concept tag and
// the identifying fields, length-prefixed so no two field sequences
// collide. Every reader and writer of a slot must derive the key
// through the same function here.
type Key [32]byte

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

func hashKey(concept string, fields ...string) Key {
	h := sha256.New()
	writeField(h, concept)
	for _, f := range fields {
		writeField(h, f)
	}
	var key Key
	copy(key[:], h.Sum(nil))
	return key
}

func writeField(h interface{ Write([]byte) (int, error) }, s string) {
	n := len(s)
	h.Write([]byte{byte(n >> 8), byte(n)})
	h.Write([]byte(s))
}

func sideField(isLong bool) string {
	if isLong {
		return "long"
	}
	return "short"
}

// OpenInterestKey addresses the unsigned USD open-interest accumulator
// for (market, collateral token, side).
func OpenInterestKey(market, token string, isLong bool) Key {
	return hashKey("OPEN_INTEREST", market, token, sideField(isLong))
}

// FundingAmountPerSizeKey addresses the signed cumulative funding index
// for (market, token, side).
func FundingAmountPerSizeKey(market, token string, isLong bool) Key {
	return hashKey("FUNDING_AMOUNT_PER_SIZE", market, token, sideField(isLong))
}

// ClaimableFundingAmountKey addresses the escrowed funding balance owed
// to account in token.
func ClaimableFundingAmountKey(market, token, account string) Key {
	return hashKey("CLAIMABLE_FUNDING_AMOUNT", market, token, account)
}

// FundingFactorKey addresses a market's funding factor per second
// (Float-scaled).
func FundingFactorKey(market string) Key {
	return hashKey("FUNDING_FACTOR", market)
}

// FundingExponentKey addresses a market's funding exponent factor.
func FundingExponentKey(market string) Key {
	return hashKey("FUNDING_EXPONENT_FACTOR", market)
}

// FundingUpdatedAtKey addresses a market's funding accrual checkpoint
// (unix seconds).
func FundingUpdatedAtKey(market string) Key {
	return hashKey("FUNDING_UPDATED_AT", market)
}

// BorrowingFactorKey addresses one side's borrowing factor per second
// (Float-scaled).
func BorrowingFactorKey(market string, isLong bool) Key {
	return hashKey("BORROWING_FACTOR", market, sideField(isLong))
}

// CumulativeBorrowingFactorKey addresses the cumulative borrowing index
// for (market, side).
func CumulativeBorrowingFactorKey(market string, isLong bool) Key {
	return hashKey("CUMULATIVE_BORROWING_FACTOR", market, sideField(isLong))
}

// BorrowingUpdatedAtKey addresses a market's borrowing accrual
// checkpoint (unix seconds).
func BorrowingUpdatedAtKey(market string, isLong bool) Key {
	return hashKey("BORROWING_UPDATED_AT", market, sideField(isLong))
}

// FeatureDisabledKey addresses the kill switch for one feature.
// Features are enabled unless explicitly disabled.
func FeatureDisabledKey(feature string) Key {
	return hashKey("FEATURE_DISABLED", feature)
}

// PositionKey identifies a position record: one per
// (account, market, collateral token, side).
func PositionKey(account, market, collateralToken string, isLong bool) Key {
	return hashKey("POSITION", account, market, collateralToken, sideField(isLong))
}

// OrderKey identifies an order record from its owner and a creation
// nonce.
func OrderKey(account string, nonce uint64) Key {
	return hashKey("ORDER", account, nonceField(nonce))
}

func nonceField(nonce uint64) string {
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(nonce)
		nonce >>= 8
	}
	return string(buf)
}
