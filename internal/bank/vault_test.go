package bank

import (
	"errors"
	"math/big"
	"testing"

	"github.com/FelixGibson/gmx-synthetics/internal/errs"
)

func TestTransferInMovesToEscrow(t *testing.T) {
	v := NewMemoryVault()
	v.Mint("USDC", "alice", big.NewInt(1000))

	if err := v.TransferIn("USDC", "alice", big.NewInt(400)); err != nil {
		t.Fatalf("TransferIn: %v", err)
	}
	if got := v.Balance("USDC", "alice"); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("alice = %s", got)
	}
	if got := v.EscrowBalance("USDC"); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("escrow = %s", got)
	}
}

func TestTransferInInsufficientBalance(t *testing.T) {
	v := NewMemoryVault()
	v.Mint("USDC", "alice", big.NewInt(10))

	err := v.TransferIn("USDC", "alice", big.NewInt(11))
	if !errors.Is(err, errs.ErrInsufficientCollateral) {
		t.Fatalf("err = %v", err)
	}
	if got := v.Balance("USDC", "alice"); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("balance mutated on failed transfer: %s", got)
	}
}

func TestTransferOutRoundTrip(t *testing.T) {
	v := NewMemoryVault()
	v.Mint("WNT", "alice", big.NewInt(500))
	if err := v.TransferIn("WNT", "alice", big.NewInt(500)); err != nil {
		t.Fatal(err)
	}
	if err := v.TransferOut("WNT", "bob", big.NewInt(200)); err != nil {
		t.Fatalf("TransferOut: %v", err)
	}
	if got := v.Balance("WNT", "bob"); got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("bob = %s", got)
	}
	if got := v.EscrowBalance("WNT"); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("escrow = %s", got)
	}
}

func TestTransferOutBeyondEscrowIsInvalidState(t *testing.T) {
	v := NewMemoryVault()
	err := v.TransferOut("WNT", "bob", big.NewInt(1))
	if !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("err = %v", err)
	}
}

func TestForcedTransferFailureLeavesBalances(t *testing.T) {
	v := NewMemoryVault()
	v.Mint("WNT", "alice", big.NewInt(100))
	if err := v.TransferIn("WNT", "alice", big.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	v.FailTransfersTo["bob"] = true

	if err := v.TransferOut("WNT", "bob", big.NewInt(50)); err == nil {
		t.Fatal("expected forced failure")
	}
	if got := v.EscrowBalance("WNT"); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("escrow mutated on failed transfer: %s", got)
	}
}

func TestZeroAmountTransfersAreNoops(t *testing.T) {
	v := NewMemoryVault()
	if err := v.TransferIn("USDC", "alice", new(big.Int)); err != nil {
		t.Fatalf("TransferIn zero: %v", err)
	}
	if err := v.TransferOut("USDC", "alice", new(big.Int)); err != nil {
		t.Fatalf("TransferOut zero: %v", err)
	}
}

func TestNegativeAmountRejected(t *testing.T) {
	v := NewMemoryVault()
	if err := v.TransferIn("USDC", "alice", big.NewInt(-5)); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}
