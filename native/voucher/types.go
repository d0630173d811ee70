package voucher

import (
	"fmt"
	"math/big"
	"strings"
)

// AssetKind distinguishes the native settlement asset from fungible tokens.
// Only the withdrawal processor branches on it; the settlement math never
// does.
type AssetKind uint8

const (
	AssetNative AssetKind = iota
	AssetToken
)

// String returns the canonical lowercase label for the asset kind.
func (k AssetKind) String() string {
	if k == AssetNative {
		return "native"
	}
	return "token"
}

// Asset is the tagged handle for a payment or deposit asset.
type Asset struct {
	Symbol string
	Kind   AssetKind
}

// NormalizeAsset ensures the provided symbol matches a supported asset
// ("VEX", "VUSD" or "VGLD") and returns the canonical uppercase form.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	switch trimmed {
	case "VEX", "VUSD", "VGLD":
		return trimmed, nil
	default:
		return "", fmt.Errorf("unsupported asset: %s", symbol)
	}
}

// ResolveAsset returns the tagged handle for a supported asset symbol.
func ResolveAsset(symbol string) (Asset, error) {
	normalized, err := NormalizeAsset(symbol)
	if err != nil {
		return Asset{}, err
	}
	if normalized == "VEX" {
		return Asset{Symbol: normalized, Kind: AssetNative}, nil
	}
	return Asset{Symbol: normalized, Kind: AssetToken}, nil
}

// SupplyConfig carries the seller-chosen parameters for a new voucher set.
type SupplyConfig struct {
	PriceAsset           string
	DepositAsset         string
	UnitPrice            *big.Int
	SellerDepositPerUnit *big.Int
	BuyerDepositPerUnit  *big.Int
	ValidFrom            int64
	ValidTo              int64
	Quantity             uint64
}

// Supply is a seller's batch offer of identical redeemable vouchers. The
// identifier is the keccak256 hash of the seller address and a
// caller-supplied nonce, ensuring deterministic IDs without storing the
// nonce.
type Supply struct {
	ID                   [32]byte
	Seller               [20]byte
	PriceAsset           string
	DepositAsset         string
	UnitPrice            *big.Int
	SellerDepositPerUnit *big.Int
	BuyerDepositPerUnit  *big.Int
	ValidFrom            int64
	ValidTo              int64
	Quantity             uint64
	Remaining            uint64
	Issued               uint64
	CreatedAt            int64
	CancelledAt          int64
	RemainderUnits       uint64
}

// Clone returns a deep copy of the supply so callers can safely mutate the
// copy without affecting the stored instance.
func (s *Supply) Clone() *Supply {
	if s == nil {
		return nil
	}
	clone := *s
	clone.UnitPrice = cloneOrZero(s.UnitPrice)
	clone.SellerDepositPerUnit = cloneOrZero(s.SellerDepositPerUnit)
	clone.BuyerDepositPerUnit = cloneOrZero(s.BuyerDepositPerUnit)
	return &clone
}

// Cancelled reports whether the seller has cancelled the unsold remainder.
func (s *Supply) Cancelled() bool { return s != nil && s.CancelledAt != 0 }

// SanitizeSupply validates and normalises the supplied definition, returning
// a cloned instance with canonical asset casing and non-nil amounts. The
// function does not mutate the original value.
func SanitizeSupply(s *Supply) (*Supply, error) {
	if s == nil {
		return nil, fmt.Errorf("voucher: nil supply")
	}
	clone := s.Clone()
	priceAsset, err := NormalizeAsset(clone.PriceAsset)
	if err != nil {
		return nil, err
	}
	clone.PriceAsset = priceAsset
	depositAsset, err := NormalizeAsset(clone.DepositAsset)
	if err != nil {
		return nil, err
	}
	clone.DepositAsset = depositAsset
	if clone.UnitPrice.Sign() < 0 || clone.SellerDepositPerUnit.Sign() < 0 || clone.BuyerDepositPerUnit.Sign() < 0 {
		return nil, fmt.Errorf("voucher: supply amounts must be non-negative")
	}
	if clone.Remaining > clone.Quantity {
		return nil, fmt.Errorf("voucher: remaining exceeds quantity")
	}
	if clone.ValidTo < clone.ValidFrom {
		return nil, fmt.Errorf("voucher: validity window inverted")
	}
	return clone, nil
}

// Outcome identifies the single terminal buyer/keeper action recorded on a
// voucher.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeRedeemed
	OutcomeRefunded
	OutcomeExpired
)

// String returns the canonical lowercase label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeRedeemed:
		return "redeemed"
	case OutcomeRefunded:
		return "refunded"
	case OutcomeExpired:
		return "expired"
	default:
		return "none"
	}
}

// Voucher is one committed unit of a supply, tracked through its own
// lifecycle. The status is deliberately a struct of optional timestamps
// rather than a linear enum: complain and cancel are independent,
// order-insensitive facts and the settlement split must not depend on their
// ordering.
type Voucher struct {
	ID       [32]byte
	SupplyID [32]byte
	Buyer    [20]byte
	Seller   [20]byte

	CommittedAt  int64
	RedeemedAt   int64
	RefundedAt   int64
	ExpiredAt    int64
	ComplainedAt int64
	CancelledAt  int64
	FinalizedAt  int64
}

// Clone returns a copy of the voucher. All fields are value types so a
// shallow copy suffices.
func (v *Voucher) Clone() *Voucher {
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}

// Outcome reports which terminal flag has been recorded, if any.
func (v *Voucher) Outcome() Outcome {
	switch {
	case v == nil:
		return OutcomeNone
	case v.RedeemedAt != 0:
		return OutcomeRedeemed
	case v.RefundedAt != 0:
		return OutcomeRefunded
	case v.ExpiredAt != 0:
		return OutcomeExpired
	default:
		return OutcomeNone
	}
}

// OutcomeAt returns the timestamp of the recorded outcome, or zero.
func (v *Voucher) OutcomeAt() int64 {
	switch v.Outcome() {
	case OutcomeRedeemed:
		return v.RedeemedAt
	case OutcomeRefunded:
		return v.RefundedAt
	case OutcomeExpired:
		return v.ExpiredAt
	default:
		return 0
	}
}

// Complained reports whether the buyer disputed the outcome.
func (v *Voucher) Complained() bool { return v != nil && v.ComplainedAt != 0 }

// Cancelled reports whether the seller admitted fault.
func (v *Voucher) Cancelled() bool { return v != nil && v.CancelledAt != 0 }

// Finalized reports whether the voucher is closed for settlement.
func (v *Voucher) Finalized() bool { return v != nil && v.FinalizedAt != 0 }

// SanitizeVoucher validates the flag invariants: at most one outcome, no
// complaint without an outcome, nothing recorded before commit.
func SanitizeVoucher(v *Voucher) (*Voucher, error) {
	if v == nil {
		return nil, fmt.Errorf("voucher: nil voucher")
	}
	clone := v.Clone()
	if clone.CommittedAt == 0 {
		return nil, fmt.Errorf("voucher: commit timestamp missing")
	}
	outcomes := 0
	for _, ts := range []int64{clone.RedeemedAt, clone.RefundedAt, clone.ExpiredAt} {
		if ts < 0 {
			return nil, fmt.Errorf("voucher: negative timestamp")
		}
		if ts != 0 {
			outcomes++
		}
	}
	if outcomes > 1 {
		return nil, fmt.Errorf("voucher: multiple outcome flags set")
	}
	if clone.ComplainedAt != 0 && outcomes == 0 {
		return nil, fmt.Errorf("voucher: complaint without outcome")
	}
	if clone.FinalizedAt != 0 && outcomes == 0 && clone.CancelledAt == 0 {
		return nil, fmt.Errorf("voucher: finalized without outcome or cancellation")
	}
	return clone, nil
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
