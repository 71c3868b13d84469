package bank

import (
	"fmt"
	"math/big"

	"github.com/FelixGibson/gmx-synthetics/internal/errs"
)

// Vault moves token balances between accounts and the engine's escrow.
// The engine calls TransferIn to escrow order collateral and
// TransferOut to refund, pay out, or honor claims. A failed transfer
// must leave balances unchanged.
type Vault interface {
	TransferIn(token, from string, amount *big.Int) error
	TransferOut(token, to string, amount *big.Int) error
	Balance(token, account string) *big.Int
}

type balanceKey struct {
	token   string
	account string
}

// MemoryVault is an in-memory Vault. The escrow pool is tracked per
// token under a reserved internal account.
type MemoryVault struct {
	balances map[balanceKey]*big.Int

	// FailTransfersTo forces TransferOut failures for an account.
	// Exists so claim rollback paths are testable.
	FailTransfersTo map[string]bool
}

const escrowAccount = "\x00escrow"

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		balances:        make(map[balanceKey]*big.Int),
		FailTransfersTo: make(map[string]bool),
	}
}

// Mint credits an account out of thin air. Test and bootstrap helper.
func (v *MemoryVault) Mint(token, account string, amount *big.Int) {
	v.credit(token, account, amount)
}

func (v *MemoryVault) Balance(token, account string) *big.Int {
	if b, ok := v.balances[balanceKey{token, account}]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// EscrowBalance returns the pooled escrow for a token.
func (v *MemoryVault) EscrowBalance(token string) *big.Int {
	return v.Balance(token, escrowAccount)
}

func (v *MemoryVault) TransferIn(token, from string, amount *big.Int) error {
	if amount.Sign() < 0 {
		return errs.InvalidInputf("transfer amount must be non-negative, got %s", amount)
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := v.debit(token, from, amount); err != nil {
		return err
	}
	v.credit(token, escrowAccount, amount)
	return nil
}

func (v *MemoryVault) TransferOut(token, to string, amount *big.Int) error {
	if amount.Sign() < 0 {
		return errs.InvalidInputf("transfer amount must be non-negative, got %s", amount)
	}
	if amount.Sign() == 0 {
		return nil
	}
	if v.FailTransfersTo[to] {
		return fmt.Errorf("transfer to %s rejected", to)
	}
	if v.EscrowBalance(token).Cmp(amount) < 0 {
		// Paying out more than was escrowed is an accounting bug, not
		// a user error.
		return errs.InvalidStatef(
			"escrow %s %s below requested %s", v.EscrowBalance(token), token, amount,
		)
	}
	if err := v.debit(token, escrowAccount, amount); err != nil {
		return err
	}
	v.credit(token, to, amount)
	return nil
}

func (v *MemoryVault) credit(token, account string, amount *big.Int) {
	k := balanceKey{token, account}
	b, ok := v.balances[k]
	if !ok {
		b = new(big.Int)
		v.balances[k] = b
	}
	b.Add(b, amount)
}

func (v *MemoryVault) debit(token, account string, amount *big.Int) error {
	k := balanceKey{token, account}
	b, ok := v.balances[k]
	if !ok || b.Cmp(amount) < 0 {
		return errs.InsufficientCollateralf(
			"balance %s %s below requested %s", v.Balance(token, account), token, amount,
		)
	}
	b.Sub(b, amount)
	return nil
}
