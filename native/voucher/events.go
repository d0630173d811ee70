package voucher

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"vouchex/core/types"
)

const (
	EventTypeSupplyCreated      = "voucher.supply.created"
	EventTypeSupplyCancelled    = "voucher.supply.cancelled"
	EventTypeRemainderWithdrawn = "voucher.supply.remainderWithdrawn"
	EventTypeCommitted          = "voucher.committed"
	EventTypeRedeemed           = "voucher.redeemed"
	EventTypeRefunded           = "voucher.refunded"
	EventTypeExpired            = "voucher.expired"
	EventTypeComplained         = "voucher.complained"
	EventTypeCancelFault        = "voucher.cancelFault"
	EventTypeFinalized          = "voucher.finalized"
	EventTypeWithdrawn          = "voucher.withdrawn"
	EventTypeDisasterWithdrawal = "voucher.disaster.withdrawn"
)

// NewSupplyCreatedEvent returns the canonical payload for a new voucher set.
func NewSupplyCreatedEvent(s *Supply) *types.Event {
	attrs := supplyAttrs(s)
	return &types.Event{Type: EventTypeSupplyCreated, Attributes: attrs}
}

// NewSupplyCancelledEvent returns the payload emitted when the seller
// cancels the unsold remainder.
func NewSupplyCancelledEvent(s *Supply) *types.Event {
	attrs := supplyAttrs(s)
	if s != nil {
		attrs["remainderUnits"] = strconv.FormatUint(s.RemainderUnits, 10)
	}
	return &types.Event{Type: EventTypeSupplyCancelled, Attributes: attrs}
}

// NewRemainderWithdrawnEvent returns the payload for the seller reclaiming
// the deposit share of the unsold remainder.
func NewRemainderWithdrawnEvent(s *Supply, amount *big.Int) *types.Event {
	attrs := supplyAttrs(s)
	attrs["amount"] = cloneOrZero(amount).String()
	return &types.Event{Type: EventTypeRemainderWithdrawn, Attributes: attrs}
}

// NewCommittedEvent returns the canonical payload for a fresh commitment.
func NewCommittedEvent(v *Voucher, s *Supply) *types.Event {
	attrs := voucherAttrs(v)
	if s != nil {
		attrs["priceAsset"] = s.PriceAsset
		attrs["depositAsset"] = s.DepositAsset
		attrs["unitPrice"] = cloneOrZero(s.UnitPrice).String()
	}
	return &types.Event{Type: EventTypeCommitted, Attributes: attrs}
}

// NewOutcomeEvent returns the payload for whichever outcome flag was just
// recorded.
func NewOutcomeEvent(v *Voucher) *types.Event {
	eventType := EventTypeExpired
	switch v.Outcome() {
	case OutcomeRedeemed:
		eventType = EventTypeRedeemed
	case OutcomeRefunded:
		eventType = EventTypeRefunded
	}
	return &types.Event{Type: eventType, Attributes: voucherAttrs(v)}
}

// NewComplainedEvent returns the payload for a buyer dispute.
func NewComplainedEvent(v *Voucher) *types.Event {
	return &types.Event{Type: EventTypeComplained, Attributes: voucherAttrs(v)}
}

// NewCancelFaultEvent returns the payload for a seller fault admission.
func NewCancelFaultEvent(v *Voucher) *types.Event {
	return &types.Event{Type: EventTypeCancelFault, Attributes: voucherAttrs(v)}
}

// NewFinalizedEvent returns the payload emitted when the voucher closes for
// settlement.
func NewFinalizedEvent(v *Voucher) *types.Event {
	return &types.Event{Type: EventTypeFinalized, Attributes: voucherAttrs(v)}
}

// NewWithdrawnEvent returns the payload for the settlement payout, carrying
// each pool's three-way split.
func NewWithdrawnEvent(v *Voucher, d *Distribution) *types.Event {
	attrs := voucherAttrs(v)
	if d != nil {
		splitAttrs(attrs, "price", d.Price)
		splitAttrs(attrs, "sellerDeposit", d.SellerDeposit)
		splitAttrs(attrs, "buyerDeposit", d.BuyerDeposit)
	}
	return &types.Event{Type: EventTypeWithdrawn, Attributes: attrs}
}

// NewDisasterWithdrawnEvent returns the payload for an emergency full drain.
func NewDisasterWithdrawnEvent(account [20]byte, asset Asset, amount *big.Int) *types.Event {
	attrs := map[string]string{
		"account":   hex.EncodeToString(account[:]),
		"asset":     asset.Symbol,
		"assetKind": asset.Kind.String(),
		"amount":    cloneOrZero(amount).String(),
	}
	return &types.Event{Type: EventTypeDisasterWithdrawal, Attributes: attrs}
}

func supplyAttrs(s *Supply) map[string]string {
	attrs := make(map[string]string)
	if s == nil {
		return attrs
	}
	attrs["supplyId"] = hex.EncodeToString(s.ID[:])
	attrs["seller"] = hex.EncodeToString(s.Seller[:])
	attrs["remaining"] = strconv.FormatUint(s.Remaining, 10)
	attrs["quantity"] = strconv.FormatUint(s.Quantity, 10)
	return attrs
}

func voucherAttrs(v *Voucher) map[string]string {
	attrs := make(map[string]string)
	if v == nil {
		return attrs
	}
	attrs["voucherId"] = hex.EncodeToString(v.ID[:])
	attrs["supplyId"] = hex.EncodeToString(v.SupplyID[:])
	attrs["buyer"] = hex.EncodeToString(v.Buyer[:])
	attrs["seller"] = hex.EncodeToString(v.Seller[:])
	attrs["outcome"] = v.Outcome().String()
	if v.Complained() {
		attrs["complainedAt"] = strconv.FormatInt(v.ComplainedAt, 10)
	}
	if v.Cancelled() {
		attrs["cancelledAt"] = strconv.FormatInt(v.CancelledAt, 10)
	}
	if v.Finalized() {
		attrs["finalizedAt"] = strconv.FormatInt(v.FinalizedAt, 10)
	}
	return attrs
}

func splitAttrs(attrs map[string]string, prefix string, s Split) {
	attrs[prefix+"Buyer"] = cloneOrZero(s.Buyer).String()
	attrs[prefix+"Seller"] = cloneOrZero(s.Seller).String()
	attrs[prefix+"Escrow"] = cloneOrZero(s.Escrow).String()
}
