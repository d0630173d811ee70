package voucher

import (
	"fmt"
	"math/big"
)

// Split is the three-way division of one pool. The legs always sum exactly
// to the pool total.
type Split struct {
	Buyer  *big.Int
	Seller *big.Int
	Escrow *big.Int
}

// Total returns the sum of the three legs.
func (s Split) Total() *big.Int {
	total := new(big.Int).Add(cloneOrZero(s.Buyer), cloneOrZero(s.Seller))
	return total.Add(total, cloneOrZero(s.Escrow))
}

// Clone returns a deep copy of the split.
func (s Split) Clone() Split {
	return Split{
		Buyer:  cloneOrZero(s.Buyer),
		Seller: cloneOrZero(s.Seller),
		Escrow: cloneOrZero(s.Escrow),
	}
}

// Distribution is the cached settlement record for a finalized voucher. Its
// presence in state marks the voucher as paid out: repeat withdrawals find
// it and become no-ops.
type Distribution struct {
	VoucherID     [32]byte
	Price         Split
	SellerDeposit Split
	BuyerDeposit  Split
	ComputedAt    int64
}

// Clone returns a deep copy of the distribution record.
func (d *Distribution) Clone() *Distribution {
	if d == nil {
		return nil
	}
	return &Distribution{
		VoucherID:     d.VoucherID,
		Price:         d.Price.Clone(),
		SellerDeposit: d.SellerDeposit.Clone(),
		BuyerDeposit:  d.BuyerDeposit.Clone(),
		ComputedAt:    d.ComputedAt,
	}
}

func toBuyer(total *big.Int) Split {
	return Split{Buyer: new(big.Int).Set(total), Seller: big.NewInt(0), Escrow: big.NewInt(0)}
}

func toSeller(total *big.Int) Split {
	return Split{Buyer: big.NewInt(0), Seller: new(big.Int).Set(total), Escrow: big.NewInt(0)}
}

func toEscrow(total *big.Int) Split {
	return Split{Buyer: big.NewInt(0), Seller: big.NewInt(0), Escrow: new(big.Int).Set(total)}
}

// splitCancelFault is the seller-at-fault penalty applied when cancel
// compounds with an outcome: 50% buyer, 25% seller, 25% escrow. The quarter
// legs are floor divisions and the buyer absorbs the remainder so the pool
// conserves exactly.
func splitCancelFault(total *big.Int) Split {
	quarter := new(big.Int).Div(total, big.NewInt(4))
	buyer := new(big.Int).Sub(total, quarter)
	buyer.Sub(buyer, quarter)
	return Split{Buyer: buyer, Seller: new(big.Int).Set(quarter), Escrow: quarter}
}

// splitHalf is the pre-cancel split: half to the seller, the rest (including
// any odd unit) to the buyer.
func splitHalf(total *big.Int) Split {
	half := new(big.Int).Div(total, big.NewInt(2))
	return Split{
		Buyer:  new(big.Int).Sub(total, half),
		Seller: half,
		Escrow: big.NewInt(0),
	}
}

// Distribute computes the three-way settlement of price, seller deposit and
// buyer deposit for a finalized voucher. The function is pure: it reads only
// the voucher's flags and the supply's per-unit amounts, which makes the
// result invariant under the relative ordering of complain and cancel.
func Distribute(v *Voucher, s *Supply) (*Distribution, error) {
	if v == nil || s == nil {
		return nil, fmt.Errorf("voucher: distribution requires voucher and supply")
	}
	if !v.Finalized() {
		return nil, fmt.Errorf("%w: voucher not finalized", ErrInvalidTransition)
	}
	sanitized, err := SanitizeVoucher(v)
	if err != nil {
		return nil, err
	}
	price := cloneOrZero(s.UnitPrice)
	sellerDep := cloneOrZero(s.SellerDepositPerUnit)
	buyerDep := cloneOrZero(s.BuyerDepositPerUnit)

	dist := &Distribution{VoucherID: sanitized.ID}

	outcome := sanitized.Outcome()
	if outcome == OutcomeNone {
		// Seller pre-cancelled straight from COMMITTED.
		if !sanitized.Cancelled() {
			return nil, fmt.Errorf("%w: no outcome and no cancellation", ErrInvalidTransition)
		}
		dist.Price = toBuyer(price)
		dist.SellerDeposit = splitHalf(sellerDep)
		dist.BuyerDeposit = toBuyer(buyerDep)
		return dist, nil
	}

	// Price follows the outcome alone.
	if outcome == OutcomeRedeemed {
		dist.Price = toSeller(price)
	} else {
		dist.Price = toBuyer(price)
	}

	// Seller deposit: cancel dominates complain; a complaint alone forfeits
	// it to the neutral pool.
	switch {
	case sanitized.Cancelled():
		dist.SellerDeposit = splitCancelFault(sellerDep)
	case sanitized.Complained():
		dist.SellerDeposit = toEscrow(sellerDep)
	default:
		dist.SellerDeposit = toSeller(sellerDep)
	}

	// Buyer deposit returns to the buyer whenever the voucher was redeemed
	// or the seller admitted fault; a unilateral refund/expiry forfeits it.
	switch {
	case outcome == OutcomeRedeemed, sanitized.Cancelled():
		dist.BuyerDeposit = toBuyer(buyerDep)
	default:
		dist.BuyerDeposit = toEscrow(buyerDep)
	}
	return dist, nil
}
