package voucher

import (
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"vouchex/core/types"
)

type mockState struct {
	supplies      map[[32]byte]*Supply
	vouchers      map[[32]byte]*Voucher
	escrow        map[string]*big.Int
	distributions map[[32]byte]*Distribution
	accounts      map[string]*types.Account
}

func newMockState() *mockState {
	return &mockState{
		supplies:      make(map[[32]byte]*Supply),
		vouchers:      make(map[[32]byte]*Voucher),
		escrow:        make(map[string]*big.Int),
		distributions: make(map[[32]byte]*Distribution),
		accounts:      make(map[string]*types.Account),
	}
}

func (m *mockState) SupplyPut(s *Supply) error {
	sanitized, err := SanitizeSupply(s)
	if err != nil {
		return err
	}
	m.supplies[sanitized.ID] = sanitized
	return nil
}

func (m *mockState) SupplyGet(id [32]byte) (*Supply, bool) {
	s, ok := m.supplies[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

func (m *mockState) VoucherPut(v *Voucher) error {
	sanitized, err := SanitizeVoucher(v)
	if err != nil {
		return err
	}
	m.vouchers[sanitized.ID] = sanitized
	return nil
}

func (m *mockState) VoucherGet(id [32]byte) (*Voucher, bool) {
	v, ok := m.vouchers[id]
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

func escrowKey(owner [20]byte, asset string) string {
	return asset + ":" + string(owner[:])
}

func (m *mockState) EscrowCredit(owner [20]byte, asset string, amt *big.Int) error {
	if amt == nil || amt.Sign() == 0 {
		return nil
	}
	key := escrowKey(owner, asset)
	current, ok := m.escrow[key]
	if !ok {
		current = big.NewInt(0)
	}
	m.escrow[key] = new(big.Int).Add(current, amt)
	return nil
}

func (m *mockState) EscrowDebit(owner [20]byte, asset string, amt *big.Int) error {
	if amt == nil || amt.Sign() == 0 {
		return nil
	}
	key := escrowKey(owner, asset)
	current, ok := m.escrow[key]
	if !ok || current.Cmp(amt) < 0 {
		return ErrEscrowEmpty
	}
	m.escrow[key] = new(big.Int).Sub(current, amt)
	return nil
}

func (m *mockState) EscrowBalance(owner [20]byte, asset string) (*big.Int, error) {
	current, ok := m.escrow[escrowKey(owner, asset)]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(current), nil
}

func (m *mockState) DistributionPut(d *Distribution) error {
	m.distributions[d.VoucherID] = d.Clone()
	return nil
}

func (m *mockState) DistributionGet(voucherID [32]byte) (*Distribution, bool) {
	d, ok := m.distributions[voucherID]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

func (m *mockState) EscrowVaultAddress(asset string) ([20]byte, error) {
	hash := ethcrypto.Keccak256([]byte("test/vault/" + asset))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr, nil
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	acc, ok := m.accounts[string(addr)]
	if !ok {
		acc = &types.Account{}
	}
	clone := acc.Clone()
	clone.EnsureBalances()
	return clone, nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	m.accounts[string(addr)] = account.Clone()
	return nil
}

func (m *mockState) fund(t *testing.T, addr [20]byte, asset string, amount int64) {
	t.Helper()
	acc, err := m.GetAccount(addr[:])
	require.NoError(t, err)
	require.NoError(t, acc.SetBalance(asset, big.NewInt(amount)))
	require.NoError(t, m.PutAccount(addr[:], acc))
}

func (m *mockState) balance(t *testing.T, addr [20]byte, asset string) *big.Int {
	t.Helper()
	acc, err := m.GetAccount(addr[:])
	require.NoError(t, err)
	bal, err := acc.Balance(asset)
	require.NoError(t, err)
	return bal
}

type stubPauses struct {
	paused map[string]bool
}

func (s *stubPauses) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	return s.paused[module]
}

type stubDisaster struct {
	armed bool
}

func (s *stubDisaster) InDisaster() bool { return s != nil && s.armed }

var (
	seller = [20]byte{0x01}
	buyer  = [20]byte{0x02}
	pool   = [20]byte{0x0f}
	nonceA = [32]byte{0xaa}
)

const (
	baseTime  = int64(1_700_000_000)
	validFrom = baseTime - 100
	validTo   = baseTime + 1_000
)

func testConfig() SupplyConfig {
	return SupplyConfig{
		PriceAsset:           "VUSD",
		DepositAsset:         "VUSD",
		UnitPrice:            big.NewInt(300),
		SellerDepositPerUnit: big.NewInt(50),
		BuyerDepositPerUnit:  big.NewInt(40),
		ValidFrom:            validFrom,
		ValidTo:              validTo,
		Quantity:             3,
	}
}

func newTestEngine(t *testing.T) (*Engine, *mockState) {
	t.Helper()
	state := newMockState()
	engine := NewEngine()
	engine.SetState(state)
	engine.SetEscrowPool(pool)
	engine.SetNowFunc(func() int64 { return baseTime })
	state.fund(t, seller, "VUSD", 10_000)
	state.fund(t, buyer, "VUSD", 10_000)
	return engine, state
}

func createTestSupply(t *testing.T, engine *Engine) *Supply {
	t.Helper()
	supply, err := engine.CreateSupply(seller, testConfig(), nonceA)
	require.NoError(t, err)
	return supply
}

func commitTestVoucher(t *testing.T, engine *Engine, supplyID [32]byte) *Voucher {
	t.Helper()
	v, err := engine.Commit(supplyID, buyer)
	require.NoError(t, err)
	return v
}

func TestCreateSupplyEscrowsSellerDeposit(t *testing.T) {
	engine, state := newTestEngine(t)
	supply := createTestSupply(t, engine)

	require.Equal(t, uint64(3), supply.Quantity)
	require.Equal(t, uint64(3), supply.Remaining)
	require.Equal(t, uint64(0), supply.Issued)

	// 3 units x 50 deposit leave the seller's spendable balance.
	require.Equal(t, int64(10_000-150), state.balance(t, seller, "VUSD").Int64())
	escrowed, err := state.EscrowBalance(seller, "VUSD")
	require.NoError(t, err)
	require.Equal(t, int64(150), escrowed.Int64())
}

func TestCreateSupplyIdempotentOnIdenticalDefinition(t *testing.T) {
	engine, state := newTestEngine(t)
	first := createTestSupply(t, engine)

	second, err := engine.CreateSupply(seller, testConfig(), nonceA)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	// No double escrow.
	escrowed, err := state.EscrowBalance(seller, "VUSD")
	require.NoError(t, err)
	require.Equal(t, int64(150), escrowed.Int64())

	altered := testConfig()
	altered.UnitPrice = big.NewInt(999)
	_, err = engine.CreateSupply(seller, altered, nonceA)
	require.Error(t, err)
}

func TestCreateSupplyRejectsBadDefinitions(t *testing.T) {
	engine, _ := newTestEngine(t)

	cfg := testConfig()
	cfg.UnitPrice = big.NewInt(0)
	_, err := engine.CreateSupply(seller, cfg, nonceA)
	require.Error(t, err)

	cfg = testConfig()
	cfg.Quantity = 0
	_, err = engine.CreateSupply(seller, cfg, nonceA)
	require.Error(t, err)

	cfg = testConfig()
	cfg.ValidFrom, cfg.ValidTo = cfg.ValidTo, cfg.ValidFrom
	_, err = engine.CreateSupply(seller, cfg, nonceA)
	require.Error(t, err)

	cfg = testConfig()
	cfg.ValidFrom = baseTime - 500
	cfg.ValidTo = baseTime - 100
	_, err = engine.CreateSupply(seller, cfg, nonceA)
	require.ErrorIs(t, err, ErrWindowViolation)

	cfg = testConfig()
	cfg.PriceAsset = "DOGE"
	_, err = engine.CreateSupply(seller, cfg, nonceA)
	require.Error(t, err)
}

func TestCreateSupplyInsufficientSellerFunds(t *testing.T) {
	engine, state := newTestEngine(t)
	broke := [20]byte{0x07}
	state.fund(t, broke, "VUSD", 10)
	_, err := engine.CreateSupply(broke, testConfig(), nonceA)
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestCommitEscrowsPriceAndDeposit(t *testing.T) {
	engine, state := newTestEngine(t)
	supply := createTestSupply(t, engine)
	v := commitTestVoucher(t, engine, supply.ID)

	require.Equal(t, supply.ID, v.SupplyID)
	require.Equal(t, buyer, v.Buyer)
	require.Equal(t, seller, v.Seller)
	require.Equal(t, baseTime, v.CommittedAt)

	stored, ok := state.SupplyGet(supply.ID)
	require.True(t, ok)
	require.Equal(t, uint64(2), stored.Remaining)
	require.Equal(t, uint64(1), stored.Issued)

	// Price 300 + buyer deposit 40 leave the buyer's account.
	require.Equal(t, int64(10_000-340), state.balance(t, buyer, "VUSD").Int64())
	escrowed, err := state.EscrowBalance(buyer, "VUSD")
	require.NoError(t, err)
	require.Equal(t, int64(340), escrowed.Int64())
}

func TestCommitInsufficientFundsLeavesStateUntouched(t *testing.T) {
	engine, state := newTestEngine(t)
	supply := createTestSupply(t, engine)

	poor := [20]byte{0x09}
	state.fund(t, poor, "VUSD", 320) // covers the price but not the deposit

	_, err := engine.Commit(supply.ID, poor)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// Nothing moved and nothing was decremented.
	require.Equal(t, int64(320), state.balance(t, poor, "VUSD").Int64())
	escrowed, escErr := state.EscrowBalance(poor, "VUSD")
	require.NoError(t, escErr)
	require.Zero(t, escrowed.Sign())
	stored, ok := state.SupplyGet(supply.ID)
	require.True(t, ok)
	require.Equal(t, uint64(3), stored.Remaining)
}

func TestCommitExhaustsSupply(t *testing.T) {
	engine, _ := newTestEngine(t)
	supply := createTestSupply(t, engine)

	for i := 0; i < 3; i++ {
		commitTestVoucher(t, engine, supply.ID)
	}
	_, err := engine.Commit(supply.ID, buyer)
	require.ErrorIs(t, err, ErrSupplyExhausted)
}

func TestCommitOutsideWindow(t *testing.T) {
	engine, _ := newTestEngine(t)
	supply := createTestSupply(t, engine)

	engine.SetNowFunc(func() int64 { return validTo + 1 })
	_, err := engine.Commit(supply.ID, buyer)
	require.ErrorIs(t, err, ErrWindowViolation)
}

func TestCommitUnknownSupply(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.Commit([32]byte{0x55}, buyer)
	require.ErrorIs(t, err, ErrUnknownSupply)
}

func TestRedeemBuyerOnly(t *testing.T) {
	engine, state := newTestEngine(t)
	supply := createTestSupply(t, engine)
	v := commitTestVoucher(t, engine, supply.ID)

	require.ErrorIs(t, engine.Redeem(v.ID, seller), ErrUnauthorized)
	require.NoError(t, engine.Redeem(v.ID, buyer))

	stored, ok := state.VoucherGet(v.ID)
	require.True(t, ok)
	require.Equal(t, OutcomeRedeemed, stored.Outcome())

	// A second outcome is rejected.
	require.ErrorIs(t, engine.Refund(v.ID, buyer), ErrInvalidTransition)
	require.ErrorIs(t, engine.Redeem(v.ID, buyer), ErrInvalidTransition)
}

func TestRefundRecordsOutcome(t *testing.T) {
	engine, state := newTestEngine(t)
	supply := createTestSupply(t, engine)
	v := commitTestVoucher(t, engine, supply.ID)

	require.NoError(t, engine.Refund(v.ID, buyer))
	stored, ok := state.VoucherGet(v.ID)
	require.True(t, ok)
	require.Equal(t, OutcomeRefunded, stored.Outcome())
}

func TestOutcomeOutsideWindow(t *testing.T) {
	engine, _ := newTestEngine(t)
	supply := createTestSupply(t, engine)
	v := commitTestVoucher(t, engine, supply.ID)

	engine.SetNowFunc(func() int64 { return validTo + 1 })
	require.ErrorIs(t, engine.Redeem(v.ID, buyer), ErrWindowViolation)
	require.ErrorIs(t, engine.Refund(v.ID, buyer), ErrWindowViolation)
}

func TestExpireRequiresElapsedWindow(t *testing.T) {
	engine, state := newTestEngine(t)
	supply := createTestSupply(t, engine)
	v := commitTestVoucher(t, engine, supply.ID)

	require.ErrorIs(t, engine.Expire(v.ID), ErrWindowViolation)

	engine.SetNowFunc(func() int64 { return validTo + 1 })
	require.NoError(t, engine.Expire(v.ID))
	stored, ok := state.VoucherGet(v.ID)
	require.True(t, ok)
	require.Equal(t, OutcomeExpired, stored.Outcome())

	// Expiring again is a harmless no-op.
	require.NoError(t, engine.Expire(v.ID))
}

func TestExpireRejectedAfterOutcomeOrCancel(t *testing.T) {
	engine, _ := newTestEngine(t)
	supply := createTestSupply(t, engine)
	v := commitTestVoucher(t, engine, supply.ID)
	v2 := commitTestVoucher(t, engine, supply.ID)
	require.NoError(t, engine.Redeem(v.ID, buyer))
	require.NoError(t, engine.CancelOrFault(v2.ID, seller))

	engine.SetNowFunc(func() int64 { return validTo + 1 })
	require.ErrorIs(t, engine.Expire(v.ID), ErrInvalidTransition)
	require.ErrorIs(t, engine.Expire(v2.ID), ErrInvalidTransition)
}

func TestComplainRequiresOutcome(t *testing.T) {
	engine, _ := newTestEngine(t)
	supply := createTestSupply(t, engine)
	v := commitTestVoucher(t, engine, supply.ID)

	require.ErrorIs(t, engine.Complain(v.ID, buyer), ErrInvalidTransition)
	require.NoError(t, engine.Redeem(v.ID, buyer))
	require.ErrorIs(t, engine.Complain(v.ID, seller), ErrUnauthorized)
	require.NoError(t, engine.Complain(v.ID, buyer))

	// Only once.
	require.ErrorIs(t, engine.Complain(v.ID, buyer), ErrInvalidTransition)
}

func TestComplainWindowElapsed(t *testing.T) {
	engine, _ := newTestEngine(t)
	supply := createTestSupply(t, engine)
	v := commitTestVoucher(t, engine, supply.ID)
	require.NoError(t, engine.Redeem(v.ID, buyer))

	engine.SetNowFunc(func() int64 { return baseTime + DefaultComplainPeriod + 1 })
	require.ErrorIs(t, engine.Complain(v.ID, buyer), ErrWindowViolation)
}

func TestCancelOrFaultPreemptive(t *testing.T) {
	engine, state := newTestEngine(t)
	supply := createTestSupply(t, engine)
	v := commitTestVoucher(t, engine, supply.ID)

	require.ErrorIs(t, engine.CancelOrFault(v.ID, buyer), ErrUnauthorized)
	require.NoError(t, engine.CancelOrFault(v.ID, seller))

	stored, ok := state.VoucherGet(v.ID)
	require.True(t, ok)
	require.True(t, stored.Cancelled())
	require.Equal(t, OutcomeNone, stored.Outcome())

	// Only once.
	require.ErrorIs(t, engine.CancelOrFault(v.ID, seller), ErrInvalidTransition)
}

func TestCancelOrFaultWindowFromOutcome(t *testing.T) {
	engine, _ := newTestEngine(t)
	supply := createTestSupply(t, engine)
	v := commitTestVoucher(t, engine, supply.ID)
	require.NoError(t, engine.Refund(v.ID, buyer))

	engine.SetNowFunc(func() int64 { return baseTime + DefaultCancelFaultPeriod + 1 })
	require.ErrorIs(t, engine.CancelOrFault(v.ID, seller), ErrWindowViolation)
}

func TestCancelOrFaultWindowFromExpiry(t *testing.T) {
	engine, _ := newTestEngine(t)
	supply := createTestSupply(t, engine)
	v := commitTestVoucher(t, engine, supply.ID)

	// No outcome: the window runs from the end of validity.
	engine.SetNowFunc(func() int64 { return validTo + DefaultCancelFaultPeriod + 1 })
	require.ErrorIs(t, engine.CancelOrFault(v.ID, seller), ErrWindowViolation)
}

func TestFinalizeWaitsForDisputeWindows(t *testing.T) {
	engine, state := newTestEngine(t)
	supply := createTestSupply(t, engine)
	v := commitTestVoucher(t, engine, supply.ID)
	require.NoError(t, engine.Redeem(v.ID, buyer))

	require.ErrorIs(t, engine.Finalize(v.ID), ErrWindowViolation)

	engine.SetNowFunc(func() int64 { return baseTime + DefaultComplainPeriod + DefaultCancelFaultPeriod + 1 })
	require.NoError(t, engine.Finalize(v.ID))
	stored, ok := state.VoucherGet(v.ID)
	require.True(t, ok)
	require.True(t, stored.Finalized())

	require.ErrorIs(t, engine.Finalize(v.ID), ErrInvalidTransition)
}

func TestFinalizeShortCircuitWhenBothPartiesActed(t *testing.T) {
	engine, _ := newTestEngine(t)
	supply := createTestSupply(t, engine)
	v := commitTestVoucher(t, engine, supply.ID)
	require.NoError(t, engine.Redeem(v.ID, buyer))
	require.NoError(t, engine.Complain(v.ID, buyer))
	require.NoError(t, engine.CancelOrFault(v.ID, seller))

	// Both windows are settled by action; no waiting required.
	require.NoError(t, engine.Finalize(v.ID))
}

func TestFinalizePreCancelledImmediately(t *testing.T) {
	engine, _ := newTestEngine(t)
	supply := createTestSupply(t, engine)
	v := commitTestVoucher(t, engine, supply.ID)

	require.ErrorIs(t, engine.Finalize(v.ID), ErrInvalidTransition)
	require.NoError(t, engine.CancelOrFault(v.ID, seller))
	require.NoError(t, engine.Finalize(v.ID))
}

func TestCancelSupplyFreezesRemainder(t *testing.T) {
	engine, state := newTestEngine(t)
	supply := createTestSupply(t, engine)
	commitTestVoucher(t, engine, supply.ID)

	require.ErrorIs(t, engine.CancelSupply(supply.ID, buyer), ErrUnauthorized)
	require.NoError(t, engine.CancelSupply(supply.ID, seller))

	stored, ok := state.SupplyGet(supply.ID)
	require.True(t, ok)
	require.Equal(t, uint64(0), stored.Remaining)
	require.Equal(t, uint64(2), stored.RemainderUnits)
	require.True(t, stored.Cancelled())

	// Further commits and a second cancel are rejected.
	_, err := engine.Commit(supply.ID, buyer)
	require.ErrorIs(t, err, ErrSupplyExhausted)
	require.ErrorIs(t, engine.CancelSupply(supply.ID, seller), ErrInvalidTransition)
}

func TestPauseBlocksEveryAction(t *testing.T) {
	engine, _ := newTestEngine(t)
	supply := createTestSupply(t, engine)
	v := commitTestVoucher(t, engine, supply.ID)

	engine.SetPauses(&stubPauses{paused: map[string]bool{ModuleName: true}})

	_, err := engine.CreateSupply(seller, testConfig(), [32]byte{0xbb})
	require.Error(t, err)
	_, err = engine.Commit(supply.ID, buyer)
	require.Error(t, err)
	require.Error(t, engine.Redeem(v.ID, buyer))
	require.Error(t, engine.Refund(v.ID, buyer))
	require.Error(t, engine.Expire(v.ID))
	require.Error(t, engine.Complain(v.ID, buyer))
	require.Error(t, engine.CancelOrFault(v.ID, seller))
	require.Error(t, engine.Finalize(v.ID))
	require.Error(t, engine.Withdraw(v.ID))
	require.Error(t, engine.CancelSupply(supply.ID, seller))
	require.Error(t, engine.WithdrawSupplyRemainder(supply.ID, seller))
}

func TestDepositLimitOracleEnforced(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.SetLimitOracle(limitOracleFunc(func(asset string) (*big.Int, error) {
		return big.NewInt(45), nil
	}))

	// Seller deposit 50 exceeds the cap.
	_, err := engine.CreateSupply(seller, testConfig(), nonceA)
	require.ErrorIs(t, err, ErrDepositOverLimit)

	cfg := testConfig()
	cfg.SellerDepositPerUnit = big.NewInt(45)
	_, err = engine.CreateSupply(seller, cfg, nonceA)
	require.NoError(t, err)
}

type limitOracleFunc func(asset string) (*big.Int, error)

func (f limitOracleFunc) MaxAllowedDeposit(asset string) (*big.Int, error) { return f(asset) }
