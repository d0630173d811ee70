package state

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"vouchex/core/types"
	"vouchex/storage"
)

// Manager provides the persistent state backend for the voucher protocol:
// accounts, supplies, vouchers, the escrow ledger, cached distribution
// records and the administrative param store. Records are RLP-encoded and
// stored under keccak-hashed prefixed keys so the layout stays stable across
// schema growth.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database required")
	}
	return &Manager{db: db}, nil
}

var (
	accountPrefix = []byte("account:")
	vaultPrefix   = []byte("vouchex/vault/")
	paramPrefix   = []byte("params:")
)

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

func paramKey(name string) []byte {
	buf := make([]byte, len(paramPrefix)+len(name))
	copy(buf, paramPrefix)
	copy(buf[len(paramPrefix):], name)
	return ethcrypto.Keccak256(buf)
}

// getRecord decodes the RLP value stored under key into out. The boolean
// reports whether the key existed.
func (m *Manager) getRecord(key []byte, out interface{}) (bool, error) {
	ok, err := m.db.Has(key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	data, err := m.db.Get(key)
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) putRecord(key []byte, in interface{}) error {
	encoded, err := rlp.EncodeToBytes(in)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// GetAccount loads the account stored for the address, returning a fresh
// zero-balance account when none exists yet.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("state: manager not configured")
	}
	acc := &types.Account{}
	ok, err := m.getRecord(accountKey(addr), acc)
	if err != nil {
		return nil, err
	}
	if !ok {
		acc = &types.Account{}
	}
	acc.EnsureBalances()
	return acc, nil
}

// PutAccount persists the account for the address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not configured")
	}
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	account.EnsureBalances()
	return m.putRecord(accountKey(addr), account)
}

// EscrowVaultAddress derives the deterministic module address holding
// escrowed funds for the given asset.
func (m *Manager) EscrowVaultAddress(asset string) ([20]byte, error) {
	if asset == "" {
		return [20]byte{}, fmt.Errorf("state: asset required")
	}
	hash := ethcrypto.Keccak256(append(append([]byte{}, vaultPrefix...), asset...))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr, nil
}

// ParamStoreGet reads an administrative parameter.
func (m *Manager) ParamStoreGet(name string) ([]byte, bool, error) {
	if name == "" {
		return nil, false, fmt.Errorf("state: param name required")
	}
	var value []byte
	ok, err := m.getRecord(paramKey(name), &value)
	if err != nil || !ok {
		return nil, ok, err
	}
	return value, true, nil
}

// ParamStorePut writes an administrative parameter.
func (m *Manager) ParamStorePut(name string, value []byte) error {
	if name == "" {
		return fmt.Errorf("state: param name required")
	}
	return m.putRecord(paramKey(name), value)
}
