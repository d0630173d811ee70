package voucher

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"vouchex/core/events"
	"vouchex/core/types"
	nativecommon "vouchex/native/common"
)

var (
	errNilState = errors.New("voucher engine: state not configured")
	errNilPool  = errors.New("voucher engine: escrow pool not configured")
)

// ModuleName identifies this module to the pause controller.
const ModuleName = "voucher"

const moduleName = ModuleName

// Default dispute windows. Deployments override them from configuration.
const (
	DefaultComplainPeriod    int64 = 7 * 24 * 60 * 60
	DefaultCancelFaultPeriod int64 = 7 * 24 * 60 * 60
)

type engineState interface {
	SupplyPut(*Supply) error
	SupplyGet(id [32]byte) (*Supply, bool)
	VoucherPut(*Voucher) error
	VoucherGet(id [32]byte) (*Voucher, bool)
	EscrowCredit(owner [20]byte, asset string, amt *big.Int) error
	EscrowDebit(owner [20]byte, asset string, amt *big.Int) error
	EscrowBalance(owner [20]byte, asset string) (*big.Int, error)
	DistributionPut(*Distribution) error
	DistributionGet(voucherID [32]byte) (*Distribution, bool)
	EscrowVaultAddress(asset string) ([20]byte, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// LimitOracle is the risk collaborator consulted before deposits are
// escrowed. A nil oracle disables the check.
type LimitOracle interface {
	MaxAllowedDeposit(asset string) (*big.Int, error)
}

// TokenRegistry mints and burns the voucher/supply ownership tokens. The
// settlement logic only notifies it; ownership representation is external.
type TokenRegistry interface {
	OnCommit(supplyID, voucherID [32]byte, buyer [20]byte) error
	OnSupplyCancel(supplyID [32]byte) error
}

type voucherEvent struct {
	evt *types.Event
}

func (e voucherEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e voucherEvent) Event() *types.Event { return e.evt }

// Engine wires the voucher lifecycle and settlement logic with external
// state, the pause controller and event emitters. Every transition is
// synchronous: it either completes fully or fails without touching the
// ledger.
type Engine struct {
	state             engineState
	emitter           events.Emitter
	pauses            nativecommon.PauseView
	disaster          nativecommon.DisasterView
	limits            LimitOracle
	tokens            TokenRegistry
	escrowPool        [20]byte
	nowFn             func() int64
	complainPeriod    int64
	cancelFaultPeriod int64
}

// NewEngine creates a voucher engine with a no-op emitter and the default
// dispute windows. Callers configure collaborators via the setters.
func NewEngine() *Engine {
	return &Engine{
		emitter:           events.NoopEmitter{},
		nowFn:             func() int64 { return time.Now().Unix() },
		complainPeriod:    DefaultComplainPeriod,
		cancelFaultPeriod: DefaultCancelFaultPeriod,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPauses configures the pause view guarding every action.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetDisasterView configures the circuit-breaker view consulted by the
// disaster withdrawal path.
func (e *Engine) SetDisasterView(d nativecommon.DisasterView) { e.disaster = d }

// SetLimitOracle configures the deposit-limit collaborator.
func (e *Engine) SetLimitOracle(o LimitOracle) { e.limits = o }

// SetTokenRegistry configures the voucher-token collaborator.
func (e *Engine) SetTokenRegistry(t TokenRegistry) { e.tokens = t }

// SetEscrowPool configures the address receiving forfeited dispute funds.
func (e *Engine) SetEscrowPool(addr [20]byte) { e.escrowPool = addr }

// SetPeriods overrides the complain and cancel-fault windows, in seconds.
// Non-positive values reset the defaults.
func (e *Engine) SetPeriods(complain, cancelFault int64) {
	if complain <= 0 {
		complain = DefaultComplainPeriod
	}
	if cancelFault <= 0 {
		cancelFault = DefaultCancelFaultPeriod
	}
	e.complainPeriod = complain
	e.cancelFaultPeriod = cancelFault
}

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(voucherEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadSupply(id [32]byte) (*Supply, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if id == ([32]byte{}) {
		return nil, ErrZeroID
	}
	supply, ok := e.state.SupplyGet(id)
	if !ok {
		return nil, ErrUnknownSupply
	}
	return supply, nil
}

func (e *Engine) loadVoucher(id [32]byte) (*Voucher, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if id == ([32]byte{}) {
		return nil, ErrZeroID
	}
	v, ok := e.state.VoucherGet(id)
	if !ok {
		return nil, ErrUnknownVoucher
	}
	return v, nil
}

// transferAsset moves spendable balance between accounts. Zero amounts are
// silently skipped so merged transfer plans can carry empty legs.
func (e *Engine) transferAsset(from, to [20]byte, asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneOrZero(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("voucher: negative transfer amount")
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromBal, err := fromAcc.Balance(normalized)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	toBal, err := toAcc.Balance(normalized)
	if err != nil {
		return err
	}
	if err := fromAcc.SetBalance(normalized, new(big.Int).Sub(fromBal, amt)); err != nil {
		return err
	}
	if err := toAcc.SetBalance(normalized, new(big.Int).Add(toBal, amt)); err != nil {
		return err
	}
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

func (e *Engine) checkDepositLimits(depositAsset string, sellerDeposit, buyerDeposit *big.Int) error {
	if e == nil || e.limits == nil {
		return nil
	}
	max, err := e.limits.MaxAllowedDeposit(depositAsset)
	if err != nil {
		return err
	}
	if max == nil {
		return nil
	}
	if sellerDeposit.Cmp(max) > 0 || buyerDeposit.Cmp(max) > 0 {
		return ErrDepositOverLimit
	}
	return nil
}

// CreateSupply initialises and persists a new voucher set, escrowing the
// seller's deposit for the full batch. Recreating an identical definition is
// idempotent.
func (e *Engine) CreateSupply(seller [20]byte, cfg SupplyConfig, nonce [32]byte) (*Supply, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if seller == ([20]byte{}) {
		return nil, ErrZeroID
	}
	priceAsset, err := NormalizeAsset(cfg.PriceAsset)
	if err != nil {
		return nil, err
	}
	depositAsset, err := NormalizeAsset(cfg.DepositAsset)
	if err != nil {
		return nil, err
	}
	unitPrice := cloneOrZero(cfg.UnitPrice)
	sellerDeposit := cloneOrZero(cfg.SellerDepositPerUnit)
	buyerDeposit := cloneOrZero(cfg.BuyerDepositPerUnit)
	if unitPrice.Sign() <= 0 {
		return nil, fmt.Errorf("voucher: unit price must be positive")
	}
	if sellerDeposit.Sign() < 0 || buyerDeposit.Sign() < 0 {
		return nil, fmt.Errorf("voucher: deposits must be non-negative")
	}
	if cfg.Quantity == 0 {
		return nil, fmt.Errorf("voucher: quantity must be positive")
	}
	now := e.now()
	if cfg.ValidTo <= cfg.ValidFrom {
		return nil, fmt.Errorf("voucher: validity window inverted")
	}
	if cfg.ValidTo <= now {
		return nil, fmt.Errorf("%w: validity window already elapsed", ErrWindowViolation)
	}
	if err := e.checkDepositLimits(depositAsset, sellerDeposit, buyerDeposit); err != nil {
		return nil, err
	}
	id := ethcrypto.Keccak256Hash(seller[:], nonce[:])
	if existing, ok := e.state.SupplyGet(id); ok {
		// Idempotent behaviour: definitions must match.
		if existing.Seller != seller || existing.PriceAsset != priceAsset ||
			existing.DepositAsset != depositAsset ||
			existing.UnitPrice.Cmp(unitPrice) != 0 ||
			existing.SellerDepositPerUnit.Cmp(sellerDeposit) != 0 ||
			existing.BuyerDepositPerUnit.Cmp(buyerDeposit) != 0 ||
			existing.ValidFrom != cfg.ValidFrom || existing.ValidTo != cfg.ValidTo ||
			existing.Quantity != cfg.Quantity {
			return nil, fmt.Errorf("voucher: supply id already exists with different definition")
		}
		return existing.Clone(), nil
	}
	total := new(big.Int).Mul(sellerDeposit, new(big.Int).SetUint64(cfg.Quantity))
	vault, err := e.state.EscrowVaultAddress(depositAsset)
	if err != nil {
		return nil, err
	}
	if err := e.transferAsset(seller, vault, depositAsset, total); err != nil {
		return nil, err
	}
	if err := e.state.EscrowCredit(seller, depositAsset, total); err != nil {
		return nil, err
	}
	supply := &Supply{
		ID:                   id,
		Seller:               seller,
		PriceAsset:           priceAsset,
		DepositAsset:         depositAsset,
		UnitPrice:            unitPrice,
		SellerDepositPerUnit: sellerDeposit,
		BuyerDepositPerUnit:  buyerDeposit,
		ValidFrom:            cfg.ValidFrom,
		ValidTo:              cfg.ValidTo,
		Quantity:             cfg.Quantity,
		Remaining:            cfg.Quantity,
		CreatedAt:            now,
	}
	if err := e.state.SupplyPut(supply); err != nil {
		return nil, err
	}
	e.emit(NewSupplyCreatedEvent(supply))
	return supply.Clone(), nil
}

// Commit claims one voucher from the supply for the buyer, escrowing price
// plus buyer deposit. Fund sufficiency is verified across merged assets
// before any balance moves so a failure never leaves a partial credit.
func (e *Engine) Commit(supplyID [32]byte, buyer [20]byte) (*Voucher, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if buyer == ([20]byte{}) {
		return nil, ErrZeroID
	}
	supply, err := e.loadSupply(supplyID)
	if err != nil {
		return nil, err
	}
	if supply.Remaining == 0 || supply.Cancelled() {
		return nil, ErrSupplyExhausted
	}
	now := e.now()
	if now < supply.ValidFrom || now > supply.ValidTo {
		return nil, fmt.Errorf("%w: commit outside validity window", ErrWindowViolation)
	}
	if err := e.checkDepositLimits(supply.DepositAsset, supply.SellerDepositPerUnit, supply.BuyerDepositPerUnit); err != nil {
		return nil, err
	}
	// Merge required funds per asset up front; the price and deposit assets
	// may be the same token.
	required := map[string]*big.Int{
		supply.PriceAsset: new(big.Int).Set(supply.UnitPrice),
	}
	if existing, ok := required[supply.DepositAsset]; ok {
		existing.Add(existing, supply.BuyerDepositPerUnit)
	} else {
		required[supply.DepositAsset] = new(big.Int).Set(supply.BuyerDepositPerUnit)
	}
	buyerAcc, err := e.state.GetAccount(buyer[:])
	if err != nil {
		return nil, err
	}
	for asset, amt := range required {
		bal, err := buyerAcc.Balance(asset)
		if err != nil {
			return nil, err
		}
		if bal.Cmp(amt) < 0 {
			return nil, ErrInsufficientFunds
		}
	}
	priceVault, err := e.state.EscrowVaultAddress(supply.PriceAsset)
	if err != nil {
		return nil, err
	}
	depositVault, err := e.state.EscrowVaultAddress(supply.DepositAsset)
	if err != nil {
		return nil, err
	}
	if err := e.transferAsset(buyer, priceVault, supply.PriceAsset, supply.UnitPrice); err != nil {
		return nil, err
	}
	if err := e.state.EscrowCredit(buyer, supply.PriceAsset, supply.UnitPrice); err != nil {
		return nil, err
	}
	if err := e.transferAsset(buyer, depositVault, supply.DepositAsset, supply.BuyerDepositPerUnit); err != nil {
		return nil, err
	}
	if err := e.state.EscrowCredit(buyer, supply.DepositAsset, supply.BuyerDepositPerUnit); err != nil {
		return nil, err
	}
	supply.Remaining--
	supply.Issued++
	if err := e.state.SupplyPut(supply); err != nil {
		return nil, err
	}
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], supply.Issued)
	voucherID := ethcrypto.Keccak256Hash(supply.ID[:], buyer[:], seq[:])
	v := &Voucher{
		ID:          voucherID,
		SupplyID:    supply.ID,
		Buyer:       buyer,
		Seller:      supply.Seller,
		CommittedAt: now,
	}
	if err := e.state.VoucherPut(v); err != nil {
		return nil, err
	}
	if e.tokens != nil {
		if err := e.tokens.OnCommit(supply.ID, voucherID, buyer); err != nil {
			return nil, err
		}
	}
	e.emit(NewCommittedEvent(v, supply))
	return v.Clone(), nil
}

// Redeem records the buyer's confirmation that the voucher was used.
func (e *Engine) Redeem(voucherID [32]byte, caller [20]byte) error {
	return e.recordOutcome(voucherID, caller, OutcomeRedeemed)
}

// Refund records the buyer voluntarily backing out before redeeming.
func (e *Engine) Refund(voucherID [32]byte, caller [20]byte) error {
	return e.recordOutcome(voucherID, caller, OutcomeRefunded)
}

func (e *Engine) recordOutcome(voucherID [32]byte, caller [20]byte, outcome Outcome) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	v, err := e.loadVoucher(voucherID)
	if err != nil {
		return err
	}
	if caller != v.Buyer {
		return ErrUnauthorized
	}
	if v.Outcome() != OutcomeNone || v.Cancelled() || v.Finalized() {
		return ErrInvalidTransition
	}
	supply, err := e.loadSupply(v.SupplyID)
	if err != nil {
		return err
	}
	now := e.now()
	if now < supply.ValidFrom || now > supply.ValidTo {
		return fmt.Errorf("%w: outcome outside validity window", ErrWindowViolation)
	}
	switch outcome {
	case OutcomeRedeemed:
		v.RedeemedAt = now
	case OutcomeRefunded:
		v.RefundedAt = now
	default:
		return ErrInvalidTransition
	}
	if err := e.state.VoucherPut(v); err != nil {
		return err
	}
	e.emit(NewOutcomeEvent(v))
	return nil
}

// Expire records the automatic outcome once the validity window elapsed with
// no buyer action. Anyone may invoke it; re-expiring is a no-op.
func (e *Engine) Expire(voucherID [32]byte) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	v, err := e.loadVoucher(voucherID)
	if err != nil {
		return err
	}
	if v.Outcome() == OutcomeExpired {
		return nil
	}
	if v.Outcome() != OutcomeNone || v.Cancelled() || v.Finalized() {
		return ErrInvalidTransition
	}
	supply, err := e.loadSupply(v.SupplyID)
	if err != nil {
		return err
	}
	now := e.now()
	if now <= supply.ValidTo {
		return fmt.Errorf("%w: validity window still open", ErrWindowViolation)
	}
	v.ExpiredAt = now
	if err := e.state.VoucherPut(v); err != nil {
		return err
	}
	e.emit(NewOutcomeEvent(v))
	return nil
}

// Complain records the buyer's dispute of the outcome. Allowed once, only
// after an outcome, within the complain-period measured from the outcome
// timestamp.
func (e *Engine) Complain(voucherID [32]byte, caller [20]byte) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	v, err := e.loadVoucher(voucherID)
	if err != nil {
		return err
	}
	if caller != v.Buyer {
		return ErrUnauthorized
	}
	if v.Outcome() == OutcomeNone || v.Complained() || v.Finalized() {
		return ErrInvalidTransition
	}
	now := e.now()
	if now > v.OutcomeAt()+e.complainPeriod {
		return fmt.Errorf("%w: complain period elapsed", ErrWindowViolation)
	}
	v.ComplainedAt = now
	if err := e.state.VoucherPut(v); err != nil {
		return err
	}
	e.emit(NewComplainedEvent(v))
	return nil
}

// CancelOrFault records the seller admitting fault, either pre-emptively
// from COMMITTED or in response to an outcome. Allowed once.
func (e *Engine) CancelOrFault(voucherID [32]byte, caller [20]byte) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	v, err := e.loadVoucher(voucherID)
	if err != nil {
		return err
	}
	if caller != v.Seller {
		return ErrUnauthorized
	}
	if v.Cancelled() || v.Finalized() {
		return ErrInvalidTransition
	}
	now := e.now()
	if outcomeAt := v.OutcomeAt(); outcomeAt != 0 {
		if now > outcomeAt+e.cancelFaultPeriod {
			return fmt.Errorf("%w: cancel-fault period elapsed", ErrWindowViolation)
		}
	} else {
		supply, err := e.loadSupply(v.SupplyID)
		if err != nil {
			return err
		}
		if now > supply.ValidTo+e.cancelFaultPeriod {
			return fmt.Errorf("%w: cancel-fault period elapsed", ErrWindowViolation)
		}
	}
	v.CancelledAt = now
	if err := e.state.VoucherPut(v); err != nil {
		return err
	}
	e.emit(NewCancelFaultEvent(v))
	return nil
}

// Finalize closes the voucher for settlement. Permissionless and
// irreversible. With an outcome recorded, both dispute windows must have
// elapsed or been short-circuited by the relevant party acting; a
// pre-cancelled voucher (no outcome) finalizes immediately because no
// complaint can ever be raised without an outcome.
func (e *Engine) Finalize(voucherID [32]byte) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	v, err := e.loadVoucher(voucherID)
	if err != nil {
		return err
	}
	if v.Finalized() {
		return ErrInvalidTransition
	}
	now := e.now()
	if v.Outcome() == OutcomeNone {
		if !v.Cancelled() {
			return ErrInvalidTransition
		}
	} else {
		outcomeAt := v.OutcomeAt()
		complainSettled := v.Complained() || now > outcomeAt+e.complainPeriod
		cancelSettled := v.Cancelled() || now > outcomeAt+e.cancelFaultPeriod
		if !complainSettled || !cancelSettled {
			return fmt.Errorf("%w: dispute windows still open", ErrWindowViolation)
		}
	}
	v.FinalizedAt = now
	if err := e.state.VoucherPut(v); err != nil {
		return err
	}
	e.emit(NewFinalizedEvent(v))
	return nil
}

// CancelSupply zeroes the unsold remainder of a supply. Seller only. The
// frozen remainder stays escrowed until the seller reclaims it via
// WithdrawSupplyRemainder.
func (e *Engine) CancelSupply(supplyID [32]byte, caller [20]byte) error {
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
	if supply.Cancelled() {
		return ErrInvalidTransition
	}
	if supply.Remaining == 0 {
		return ErrSupplyExhausted
	}
	supply.RemainderUnits = supply.Remaining
	supply.Remaining = 0
	supply.CancelledAt = e.now()
	if err := e.state.SupplyPut(supply); err != nil {
		return err
	}
	if e.tokens != nil {
		if err := e.tokens.OnSupplyCancel(supply.ID); err != nil {
			return err
		}
	}
	e.emit(NewSupplyCancelledEvent(supply))
	return nil
}
