package state

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var ledgerPrefix = []byte("escrow/ledger/")

func ledgerKey(owner [20]byte, asset string) []byte {
	buf := make([]byte, len(ledgerPrefix)+len(asset)+1+len(owner))
	copy(buf, ledgerPrefix)
	copy(buf[len(ledgerPrefix):], asset)
	buf[len(ledgerPrefix)+len(asset)] = ':'
	copy(buf[len(ledgerPrefix)+len(asset)+1:], owner[:])
	return ethcrypto.Keccak256(buf)
}

// EscrowBalance returns the amount currently held by the protocol for the
// owner in the given asset. Missing entries read as zero.
func (m *Manager) EscrowBalance(owner [20]byte, asset string) (*big.Int, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("state: manager not configured")
	}
	balance := new(big.Int)
	ok, err := m.getRecord(ledgerKey(owner, asset), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// EscrowCredit records funds moving into escrow on the owner's behalf.
// Negative amounts are rejected; zero amounts are no-ops.
func (m *Manager) EscrowCredit(owner [20]byte, asset string, amt *big.Int) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not configured")
	}
	if amt == nil {
		amt = big.NewInt(0)
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("state: negative escrow credit")
	}
	if amt.Sign() == 0 {
		return nil
	}
	current, err := m.EscrowBalance(owner, asset)
	if err != nil {
		return err
	}
	current.Add(current, amt)
	return m.putRecord(ledgerKey(owner, asset), current)
}

// EscrowDebit releases funds from the owner's escrow entry. Overdrafts are
// rejected; a fully drained entry is deleted.
func (m *Manager) EscrowDebit(owner [20]byte, asset string, amt *big.Int) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not configured")
	}
	if amt == nil {
		amt = big.NewInt(0)
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("state: negative escrow debit")
	}
	if amt.Sign() == 0 {
		return nil
	}
	current, err := m.EscrowBalance(owner, asset)
	if err != nil {
		return err
	}
	if current.Cmp(amt) < 0 {
		return fmt.Errorf("state: insufficient escrow balance")
	}
	current.Sub(current, amt)
	if current.Sign() == 0 {
		return m.db.Delete(ledgerKey(owner, asset))
	}
	return m.putRecord(ledgerKey(owner, asset), current)
}
