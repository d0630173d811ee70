package types

import (
	"fmt"
	"math/big"
)

// Account holds the spendable balances tracked per address. VEX is the
// native settlement asset; VUSD and VGLD are the fungible tokens accepted
// for prices and deposits.
type Account struct {
	Nonce       uint64   `json:"nonce"`
	BalanceVEX  *big.Int `json:"balanceVEX"`
	BalanceVUSD *big.Int `json:"balanceVUSD"`
	BalanceVGLD *big.Int `json:"balanceVGLD"`
}

// EnsureBalances replaces any nil balance pointers with zero values so
// arithmetic never dereferences nil.
func (a *Account) EnsureBalances() {
	if a.BalanceVEX == nil {
		a.BalanceVEX = big.NewInt(0)
	}
	if a.BalanceVUSD == nil {
		a.BalanceVUSD = big.NewInt(0)
	}
	if a.BalanceVGLD == nil {
		a.BalanceVGLD = big.NewInt(0)
	}
}

// Balance returns a copy of the balance held in the given asset.
func (a *Account) Balance(asset string) (*big.Int, error) {
	a.EnsureBalances()
	switch asset {
	case "VEX":
		return new(big.Int).Set(a.BalanceVEX), nil
	case "VUSD":
		return new(big.Int).Set(a.BalanceVUSD), nil
	case "VGLD":
		return new(big.Int).Set(a.BalanceVGLD), nil
	default:
		return nil, fmt.Errorf("unsupported asset %s", asset)
	}
}

// SetBalance overwrites the balance held in the given asset.
func (a *Account) SetBalance(asset string, v *big.Int) error {
	if v == nil {
		v = big.NewInt(0)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("negative balance for asset %s", asset)
	}
	switch asset {
	case "VEX":
		a.BalanceVEX = new(big.Int).Set(v)
	case "VUSD":
		a.BalanceVUSD = new(big.Int).Set(v)
	case "VGLD":
		a.BalanceVGLD = new(big.Int).Set(v)
	default:
		return fmt.Errorf("unsupported asset %s", asset)
	}
	return nil
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{BalanceVEX: big.NewInt(0), BalanceVUSD: big.NewInt(0), BalanceVGLD: big.NewInt(0)}
	}
	clone := &Account{Nonce: a.Nonce}
	if a.BalanceVEX != nil {
		clone.BalanceVEX = new(big.Int).Set(a.BalanceVEX)
	}
	if a.BalanceVUSD != nil {
		clone.BalanceVUSD = new(big.Int).Set(a.BalanceVUSD)
	}
	if a.BalanceVGLD != nil {
		clone.BalanceVGLD = new(big.Int).Set(a.BalanceVGLD)
	}
	clone.EnsureBalances()
	return clone
}
