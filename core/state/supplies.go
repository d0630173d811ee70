package state

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"vouchex/native/voucher"
)

var supplyPrefix = []byte("voucher/supply/")

func supplyKey(id [32]byte) []byte {
	buf := make([]byte, len(supplyPrefix)+len(id))
	copy(buf, supplyPrefix)
	copy(buf[len(supplyPrefix):], id[:])
	return ethcrypto.Keccak256(buf)
}

// storedSupply mirrors voucher.Supply with unsigned timestamps because RLP
// has no signed integer encoding.
type storedSupply struct {
	ID                   [32]byte
	Seller               [20]byte
	PriceAsset           string
	DepositAsset         string
	UnitPrice            *big.Int
	SellerDepositPerUnit *big.Int
	BuyerDepositPerUnit  *big.Int
	ValidFrom            uint64
	ValidTo              uint64
	Quantity             uint64
	Remaining            uint64
	Issued               uint64
	CreatedAt            uint64
	CancelledAt          uint64
	RemainderUnits       uint64
}

func toStoredSupply(s *voucher.Supply) *storedSupply {
	return &storedSupply{
		ID:                   s.ID,
		Seller:               s.Seller,
		PriceAsset:           s.PriceAsset,
		DepositAsset:         s.DepositAsset,
		UnitPrice:            s.UnitPrice,
		SellerDepositPerUnit: s.SellerDepositPerUnit,
		BuyerDepositPerUnit:  s.BuyerDepositPerUnit,
		ValidFrom:            uint64(s.ValidFrom),
		ValidTo:              uint64(s.ValidTo),
		Quantity:             s.Quantity,
		Remaining:            s.Remaining,
		Issued:               s.Issued,
		CreatedAt:            uint64(s.CreatedAt),
		CancelledAt:          uint64(s.CancelledAt),
		RemainderUnits:       s.RemainderUnits,
	}
}

func (s *storedSupply) toSupply() *voucher.Supply {
	return &voucher.Supply{
		ID:                   s.ID,
		Seller:               s.Seller,
		PriceAsset:           s.PriceAsset,
		DepositAsset:         s.DepositAsset,
		UnitPrice:            s.UnitPrice,
		SellerDepositPerUnit: s.SellerDepositPerUnit,
		BuyerDepositPerUnit:  s.BuyerDepositPerUnit,
		ValidFrom:            int64(s.ValidFrom),
		ValidTo:              int64(s.ValidTo),
		Quantity:             s.Quantity,
		Remaining:            s.Remaining,
		Issued:               s.Issued,
		CreatedAt:            int64(s.CreatedAt),
		CancelledAt:          int64(s.CancelledAt),
		RemainderUnits:       s.RemainderUnits,
	}
}

// SupplyPut validates and persists a voucher supply.
func (m *Manager) SupplyPut(s *voucher.Supply) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not configured")
	}
	sanitized, err := voucher.SanitizeSupply(s)
	if err != nil {
		return err
	}
	return m.putRecord(supplyKey(sanitized.ID), toStoredSupply(sanitized))
}

// SupplyGet loads the supply stored under the identifier.
func (m *Manager) SupplyGet(id [32]byte) (*voucher.Supply, bool) {
	if m == nil || m.db == nil {
		return nil, false
	}
	stored := new(storedSupply)
	ok, err := m.getRecord(supplyKey(id), stored)
	if err != nil || !ok {
		return nil, false
	}
	supply := stored.toSupply()
	supply.UnitPrice = ensureBig(supply.UnitPrice)
	supply.SellerDepositPerUnit = ensureBig(supply.SellerDepositPerUnit)
	supply.BuyerDepositPerUnit = ensureBig(supply.BuyerDepositPerUnit)
	return supply, true
}

func ensureBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
