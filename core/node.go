package core

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"vouchex/core/events"
	"vouchex/core/state"
	"vouchex/core/types"
	"vouchex/native/common"
	"vouchex/native/voucher"
	"vouchex/observability"
	"vouchex/storage"
)

// Node owns the persistent state and the voucher engine and serialises every
// state transition behind a single mutex. RPC handlers call the exported
// methods; nothing else touches the engine directly.
type Node struct {
	stateMu sync.Mutex

	db      storage.Database
	manager *state.Manager
	engine  *voucher.Engine
	pauses  *common.Controller
	metrics *observability.ModuleMetricsRegistry
	logger  *slog.Logger
}

// Options configures a node at construction time.
type Options struct {
	Admin             [20]byte
	EscrowPool        [20]byte
	ComplainPeriod    int64
	CancelFaultPeriod int64
	Logger            *slog.Logger
}

// NewNode wires the database, state manager, pause controller and engine.
func NewNode(db storage.Database, opts Options) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	manager, err := state.NewManager(db)
	if err != nil {
		return nil, err
	}
	pauses, err := common.NewController(manager, opts.Admin)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	engine := voucher.NewEngine()
	engine.SetState(manager)
	engine.SetPauses(pauses)
	engine.SetDisasterView(pauses)
	engine.SetEscrowPool(opts.EscrowPool)
	engine.SetPeriods(opts.ComplainPeriod, opts.CancelFaultPeriod)
	n := &Node{
		db:      db,
		manager: manager,
		engine:  engine,
		pauses:  pauses,
		metrics: observability.ModuleMetrics(),
		logger:  logger,
	}
	engine.SetEmitter(nodeEmitter{logger: logger})
	return n, nil
}

// nodeEmitter logs every engine event as a structured line.
type nodeEmitter struct {
	logger *slog.Logger
}

func (e nodeEmitter) Emit(evt events.Event) {
	if e.logger == nil || evt == nil {
		return
	}
	attrs := []any{}
	if typed, ok := evt.(interface{ Event() *types.Event }); ok {
		if inner := typed.Event(); inner != nil {
			for k, v := range inner.Attributes {
				attrs = append(attrs, slog.String(k, v))
			}
		}
	}
	e.logger.Info(evt.EventType(), attrs...)
}

func (n *Node) observe(method string, start time.Time, err error) {
	n.metrics.Observe("voucher", method, start, err)
	if err != nil {
		n.logger.Warn("action failed", "method", method, "error", err.Error())
	}
}

// CreateSupply creates a new voucher supply on behalf of the seller.
func (n *Node) CreateSupply(seller [20]byte, cfg voucher.SupplyConfig, nonce [32]byte) (*voucher.Supply, error) {
	start := time.Now()
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	supply, err := n.engine.CreateSupply(seller, cfg, nonce)
	n.observe("createSupply", start, err)
	return supply, err
}

// CancelSupply voids the unsold remainder of a supply.
func (n *Node) CancelSupply(supplyID [32]byte, caller [20]byte) error {
	start := time.Now()
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	err := n.engine.CancelSupply(supplyID, caller)
	n.observe("cancelSupply", start, err)
	return err
}

// Commit claims one voucher from a supply for the buyer.
func (n *Node) Commit(supplyID [32]byte, buyer [20]byte) (*voucher.Voucher, error) {
	start := time.Now()
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	v, err := n.engine.Commit(supplyID, buyer)
	n.observe("commit", start, err)
	return v, err
}

// Redeem records the buyer redeeming the voucher.
func (n *Node) Redeem(voucherID [32]byte, caller [20]byte) error {
	start := time.Now()
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	err := n.engine.Redeem(voucherID, caller)
	n.observe("redeem", start, err)
	return err
}

// Refund records the buyer backing out of the voucher.
func (n *Node) Refund(voucherID [32]byte, caller [20]byte) error {
	start := time.Now()
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	err := n.engine.Refund(voucherID, caller)
	n.observe("refund", start, err)
	return err
}

// Expire records the voucher lapsing after its validity window.
func (n *Node) Expire(voucherID [32]byte) error {
	start := time.Now()
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	err := n.engine.Expire(voucherID)
	n.observe("expire", start, err)
	return err
}

// Complain records the buyer's dispute.
func (n *Node) Complain(voucherID [32]byte, caller [20]byte) error {
	start := time.Now()
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	err := n.engine.Complain(voucherID, caller)
	n.observe("complain", start, err)
	return err
}

// CancelOrFault records the seller admitting fault.
func (n *Node) CancelOrFault(voucherID [32]byte, caller [20]byte) error {
	start := time.Now()
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	err := n.engine.CancelOrFault(voucherID, caller)
	n.observe("cancelOrFault", start, err)
	return err
}

// Finalize closes the voucher for settlement.
func (n *Node) Finalize(voucherID [32]byte) error {
	start := time.Now()
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	err := n.engine.Finalize(voucherID)
	n.observe("finalize", start, err)
	return err
}

// Withdraw releases the settlement of a finalized voucher.
func (n *Node) Withdraw(voucherID [32]byte) error {
	start := time.Now()
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	err := n.engine.Withdraw(voucherID)
	n.observe("withdraw", start, err)
	return err
}

// WithdrawSupplyRemainder returns the frozen seller deposit of a cancelled
// supply.
func (n *Node) WithdrawSupplyRemainder(supplyID [32]byte, caller [20]byte) error {
	start := time.Now()
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	err := n.engine.WithdrawSupplyRemainder(supplyID, caller)
	n.observe("withdrawSupplyRemainder", start, err)
	return err
}

// WithdrawOnDisaster drains the caller's escrow ledger under the disaster
// circuit breaker.
func (n *Node) WithdrawOnDisaster(caller [20]byte, asset string) error {
	start := time.Now()
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	err := n.engine.WithdrawOnDisaster(caller, asset)
	n.observe("withdrawOnDisaster", start, err)
	return err
}

// Pause halts the voucher module. Administrator only.
func (n *Node) Pause(caller [20]byte) error {
	start := time.Now()
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	err := n.pauses.Pause(caller, voucher.ModuleName)
	n.observe("pause", start, err)
	return err
}

// Unpause resumes the voucher module. Administrator only; rejected once the
// disaster flag is armed.
func (n *Node) Unpause(caller [20]byte) error {
	start := time.Now()
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	err := n.pauses.Unpause(caller, voucher.ModuleName)
	n.observe("unpause", start, err)
	return err
}

// SetDisasterState arms the permanent circuit breaker. Administrator only,
// voucher module must already be paused.
func (n *Node) SetDisasterState(caller [20]byte) error {
	start := time.Now()
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	err := n.pauses.SetDisasterState(caller, voucher.ModuleName)
	n.observe("setDisasterState", start, err)
	return err
}

// GetSupply returns the persisted supply, if any.
func (n *Node) GetSupply(id [32]byte) (*voucher.Supply, bool) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.manager.SupplyGet(id)
}

// GetVoucher returns the persisted voucher record, if any.
func (n *Node) GetVoucher(id [32]byte) (*voucher.Voucher, bool) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.manager.VoucherGet(id)
}

// GetDistribution returns the cached settlement record, if any.
func (n *Node) GetDistribution(voucherID [32]byte) (*voucher.Distribution, bool) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.manager.DistributionGet(voucherID)
}

// EscrowBalance returns the ledger entitlement of an owner for one asset.
func (n *Node) EscrowBalance(owner [20]byte, asset string) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	normalized, err := voucher.NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	return n.manager.EscrowBalance(owner, normalized)
}

// GetAccount returns the spendable account record for an address.
func (n *Node) GetAccount(addr [20]byte) (*types.Account, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.manager.GetAccount(addr[:])
}

// Credit adds spendable balance to an account. Used by the faucet-style admin
// surface on development deployments.
func (n *Node) Credit(addr [20]byte, asset string, amount *big.Int) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	normalized, err := voucher.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("core: credit amount must be positive")
	}
	account, err := n.manager.GetAccount(addr[:])
	if err != nil {
		return err
	}
	bal, err := account.Balance(normalized)
	if err != nil {
		return err
	}
	if err := account.SetBalance(normalized, new(big.Int).Add(bal, amount)); err != nil {
		return err
	}
	return n.manager.PutAccount(addr[:], account)
}

// IsPaused reports the voucher module pause flag.
func (n *Node) IsPaused() bool {
	return n.pauses.IsPaused(voucher.ModuleName)
}

// InDisaster reports the permanent circuit-breaker flag.
func (n *Node) InDisaster() bool {
	return n.pauses.InDisaster()
}

// Close releases the underlying database.
func (n *Node) Close() {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	n.db.Close()
}
