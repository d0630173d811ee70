package state

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"vouchex/native/voucher"
)

var (
	voucherRecPrefix   = []byte("voucher/record/")
	distributionPrefix = []byte("voucher/distribution/")
)

func voucherKey(id [32]byte) []byte {
	buf := make([]byte, len(voucherRecPrefix)+len(id))
	copy(buf, voucherRecPrefix)
	copy(buf[len(voucherRecPrefix):], id[:])
	return ethcrypto.Keccak256(buf)
}

func distributionKey(id [32]byte) []byte {
	buf := make([]byte, len(distributionPrefix)+len(id))
	copy(buf, distributionPrefix)
	copy(buf[len(distributionPrefix):], id[:])
	return ethcrypto.Keccak256(buf)
}

// storedVoucher mirrors voucher.Voucher with unsigned timestamps for RLP.
type storedVoucher struct {
	ID           [32]byte
	SupplyID     [32]byte
	Buyer        [20]byte
	Seller       [20]byte
	CommittedAt  uint64
	RedeemedAt   uint64
	RefundedAt   uint64
	ExpiredAt    uint64
	ComplainedAt uint64
	CancelledAt  uint64
	FinalizedAt  uint64
}

func toStoredVoucher(v *voucher.Voucher) *storedVoucher {
	return &storedVoucher{
		ID:           v.ID,
		SupplyID:     v.SupplyID,
		Buyer:        v.Buyer,
		Seller:       v.Seller,
		CommittedAt:  uint64(v.CommittedAt),
		RedeemedAt:   uint64(v.RedeemedAt),
		RefundedAt:   uint64(v.RefundedAt),
		ExpiredAt:    uint64(v.ExpiredAt),
		ComplainedAt: uint64(v.ComplainedAt),
		CancelledAt:  uint64(v.CancelledAt),
		FinalizedAt:  uint64(v.FinalizedAt),
	}
}

func (s *storedVoucher) toVoucher() *voucher.Voucher {
	return &voucher.Voucher{
		ID:           s.ID,
		SupplyID:     s.SupplyID,
		Buyer:        s.Buyer,
		Seller:       s.Seller,
		CommittedAt:  int64(s.CommittedAt),
		RedeemedAt:   int64(s.RedeemedAt),
		RefundedAt:   int64(s.RefundedAt),
		ExpiredAt:    int64(s.ExpiredAt),
		ComplainedAt: int64(s.ComplainedAt),
		CancelledAt:  int64(s.CancelledAt),
		FinalizedAt:  int64(s.FinalizedAt),
	}
}

// VoucherPut validates and persists a voucher record.
func (m *Manager) VoucherPut(v *voucher.Voucher) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not configured")
	}
	sanitized, err := voucher.SanitizeVoucher(v)
	if err != nil {
		return err
	}
	return m.putRecord(voucherKey(sanitized.ID), toStoredVoucher(sanitized))
}

// VoucherGet loads the voucher stored under the identifier.
func (m *Manager) VoucherGet(id [32]byte) (*voucher.Voucher, bool) {
	if m == nil || m.db == nil {
		return nil, false
	}
	stored := new(storedVoucher)
	ok, err := m.getRecord(voucherKey(id), stored)
	if err != nil || !ok {
		return nil, false
	}
	return stored.toVoucher(), true
}

// storedSplit mirrors voucher.Split for RLP.
type storedSplit struct {
	Buyer  *big.Int
	Seller *big.Int
	Escrow *big.Int
}

type storedDistribution struct {
	VoucherID     [32]byte
	Price         storedSplit
	SellerDeposit storedSplit
	BuyerDeposit  storedSplit
	ComputedAt    uint64
}

func toStoredSplit(s voucher.Split) storedSplit {
	return storedSplit{Buyer: ensureBig(s.Buyer), Seller: ensureBig(s.Seller), Escrow: ensureBig(s.Escrow)}
}

func (s storedSplit) toSplit() voucher.Split {
	return voucher.Split{Buyer: ensureBig(s.Buyer), Seller: ensureBig(s.Seller), Escrow: ensureBig(s.Escrow)}
}

// DistributionPut persists the cached settlement record for a voucher.
func (m *Manager) DistributionPut(d *voucher.Distribution) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not configured")
	}
	if d == nil {
		return fmt.Errorf("state: nil distribution")
	}
	stored := &storedDistribution{
		VoucherID:     d.VoucherID,
		Price:         toStoredSplit(d.Price),
		SellerDeposit: toStoredSplit(d.SellerDeposit),
		BuyerDeposit:  toStoredSplit(d.BuyerDeposit),
		ComputedAt:    uint64(d.ComputedAt),
	}
	return m.putRecord(distributionKey(d.VoucherID), stored)
}

// DistributionGet loads the cached settlement record, if any.
func (m *Manager) DistributionGet(voucherID [32]byte) (*voucher.Distribution, bool) {
	if m == nil || m.db == nil {
		return nil, false
	}
	stored := new(storedDistribution)
	ok, err := m.getRecord(distributionKey(voucherID), stored)
	if err != nil || !ok {
		return nil, false
	}
	return &voucher.Distribution{
		VoucherID:     stored.VoucherID,
		Price:         stored.Price.toSplit(),
		SellerDeposit: stored.SellerDeposit.toSplit(),
		BuyerDeposit:  stored.BuyerDeposit.toSplit(),
		ComputedAt:    int64(stored.ComputedAt),
	}, true
}
