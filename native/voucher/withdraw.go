package voucher

import (
	"math/big"

	nativecommon "vouchex/native/common"
)

// payout is one leg of the merged transfer plan assembled by Withdraw.
type payout struct {
	to     [20]byte
	asset  Asset
	amount *big.Int
}

// Withdraw drains the computed, not-yet-paid settlement of a finalized
// voucher into real transfers. Permissionless: the first call after
// finalization computes and caches the Distribution record, debits the
// escrow ledger per pool, and pays every party in one merged transfer per
// (payee, asset). Subsequent calls find the cached record and are silent
// no-ops.
//
// The price and deposit assets may be the same token, two different tokens,
// or native plus token; each pool is resolved to its tagged asset handle and
// the plan merges legs per handle so a payee receives at most one transfer
// per asset.
func (e *Engine) Withdraw(voucherID [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if voucherID == ([32]byte{}) {
		return ErrZeroID
	}
	if e.escrowPool == ([20]byte{}) {
		return errNilPool
	}
	v, ok := e.state.VoucherGet(voucherID)
	if !ok {
		return ErrUnknownVoucher
	}
	supply, ok := e.state.SupplyGet(v.SupplyID)
	if !ok {
		return ErrUnknownSupply
	}
	if !v.Finalized() {
		return ErrNothingToWithdraw
	}
	if _, paid := e.state.DistributionGet(voucherID); paid {
		return nil
	}
	dist, err := Distribute(v, supply)
	if err != nil {
		return err
	}
	dist.ComputedAt = e.now()

	priceAsset, err := ResolveAsset(supply.PriceAsset)
	if err != nil {
		return err
	}
	depositAsset, err := ResolveAsset(supply.DepositAsset)
	if err != nil {
		return err
	}

	// Each pool is debited from the party that escrowed it: the buyer funded
	// price and buyer deposit at commit, the seller funded their deposit at
	// supply creation.
	type pool struct {
		owner [20]byte
		asset Asset
		split Split
	}
	pools := []pool{
		{owner: v.Buyer, asset: priceAsset, split: dist.Price},
		{owner: v.Seller, asset: depositAsset, split: dist.SellerDeposit},
		{owner: v.Buyer, asset: depositAsset, split: dist.BuyerDeposit},
	}
	merged := make(map[string]*payout)
	addLeg := func(to [20]byte, asset Asset, amt *big.Int) {
		if amt == nil || amt.Sign() == 0 {
			return
		}
		key := asset.Symbol + string(to[:])
		if existing, ok := merged[key]; ok {
			existing.amount.Add(existing.amount, amt)
			return
		}
		merged[key] = &payout{to: to, asset: asset, amount: new(big.Int).Set(amt)}
	}
	for _, p := range pools {
		total := p.split.Total()
		if total.Sign() == 0 {
			continue
		}
		if err := e.state.EscrowDebit(p.owner, p.asset.Symbol, total); err != nil {
			return err
		}
		addLeg(v.Buyer, p.asset, p.split.Buyer)
		addLeg(v.Seller, p.asset, p.split.Seller)
		addLeg(e.escrowPool, p.asset, p.split.Escrow)
	}
	// Deterministic payee order: buyer, seller, escrow pool; price asset
	// before deposit asset.
	for _, to := range [][20]byte{v.Buyer, v.Seller, e.escrowPool} {
		for _, asset := range []Asset{priceAsset, depositAsset} {
			leg, ok := merged[asset.Symbol+string(to[:])]
			if !ok {
				continue
			}
			vault, err := e.state.EscrowVaultAddress(leg.asset.Symbol)
			if err != nil {
				return err
			}
			if err := e.transferAsset(vault, leg.to, leg.asset.Symbol, leg.amount); err != nil {
				return err
			}
			delete(merged, asset.Symbol+string(to[:]))
		}
	}
	if err := e.state.DistributionPut(dist); err != nil {
		return err
	}
	e.emit(NewWithdrawnEvent(v, dist))
	return nil
}

// WithdrawSupplyRemainder returns the seller-deposit share escrowed for the
// unsold remainder of a cancelled supply. Gated to the original seller; pays
// once and zeroes the remainder.
func (e *Engine) WithdrawSupplyRemainder(supplyID [32]byte, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	supply, err := e.loadSupply(supplyID)
	if err != nil {
		return err
	}
	if caller != supply.Seller {
		return ErrUnauthorized
	}
	if !supply.Cancelled() || supply.RemainderUnits == 0 {
		return ErrNothingToWithdraw
	}
	amount := new(big.Int).Mul(supply.SellerDepositPerUnit, new(big.Int).SetUint64(supply.RemainderUnits))
	if amount.Sign() > 0 {
		if err := e.state.EscrowDebit(supply.Seller, supply.DepositAsset, amount); err != nil {
			return err
		}
		vault, err := e.state.EscrowVaultAddress(supply.DepositAsset)
		if err != nil {
			return err
		}
		if err := e.transferAsset(vault, supply.Seller, supply.DepositAsset, amount); err != nil {
			return err
		}
	}
	supply.RemainderUnits = 0
	if err := e.state.SupplyPut(supply); err != nil {
		return err
	}
	e.emit(NewRemainderWithdrawnEvent(supply, amount))
	return nil
}

// WithdrawOnDisaster drains the caller's entire escrow ledger balance for
// one asset in a single transfer, bypassing the distribution engine. Only
// available once the disaster circuit breaker has been armed.
func (e *Engine) WithdrawOnDisaster(caller [20]byte, asset string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller == ([20]byte{}) {
		return ErrZeroID
	}
	if e.disaster == nil || !e.disaster.InDisaster() {
		return ErrDisasterInactive
	}
	handle, err := ResolveAsset(asset)
	if err != nil {
		return err
	}
	balance, err := e.state.EscrowBalance(caller, handle.Symbol)
	if err != nil {
		return err
	}
	if balance == nil || balance.Sign() == 0 {
		return ErrEscrowEmpty
	}
	if err := e.state.EscrowDebit(caller, handle.Symbol, balance); err != nil {
		return err
	}
	vault, err := e.state.EscrowVaultAddress(handle.Symbol)
	if err != nil {
		return err
	}
	if err := e.transferAsset(vault, caller, handle.Symbol, balance); err != nil {
		return err
	}
	e.emit(NewDisasterWithdrawnEvent(caller, handle, balance))
	return nil
}
