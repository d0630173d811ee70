package core

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vouchex/native/voucher"
	"vouchex/storage"
)

var (
	nodeAdmin  = [20]byte{0x0a}
	nodePool   = [20]byte{0x0f}
	nodeSeller = [20]byte{0x01}
	nodeBuyer  = [20]byte{0x02}
)

func newTestNode(t *testing.T, db storage.Database) *Node {
	t.Helper()
	node, err := NewNode(db, Options{Admin: nodeAdmin, EscrowPool: nodePool})
	require.NoError(t, err)
	return node
}

func nodeSupplyConfig() voucher.SupplyConfig {
	now := time.Now().Unix()
	return voucher.SupplyConfig{
		PriceAsset:           "VUSD",
		DepositAsset:         "VUSD",
		UnitPrice:            big.NewInt(300),
		SellerDepositPerUnit: big.NewInt(50),
		BuyerDepositPerUnit:  big.NewInt(40),
		ValidFrom:            now - 60,
		ValidTo:              now + 3600,
		Quantity:             2,
	}
}

func TestNodeFullLifecycle(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())
	require.NoError(t, node.Credit(nodeSeller, "VUSD", big.NewInt(10_000)))
	require.NoError(t, node.Credit(nodeBuyer, "VUSD", big.NewInt(10_000)))

	supply, err := node.CreateSupply(nodeSeller, nodeSupplyConfig(), [32]byte{0xaa})
	require.NoError(t, err)

	v, err := node.Commit(supply.ID, nodeBuyer)
	require.NoError(t, err)
	require.NoError(t, node.Redeem(v.ID, nodeBuyer))
	require.NoError(t, node.Complain(v.ID, nodeBuyer))
	require.NoError(t, node.CancelOrFault(v.ID, nodeSeller))
	require.NoError(t, node.Finalize(v.ID))
	require.NoError(t, node.Withdraw(v.ID))

	dist, ok := node.GetDistribution(v.ID)
	require.True(t, ok)
	// Redeem with cancel: price to seller, fault split on the deposit.
	require.Equal(t, int64(300), dist.Price.Seller.Int64())
	require.Equal(t, int64(12), dist.SellerDeposit.Seller.Int64())
	require.Equal(t, int64(26), dist.SellerDeposit.Buyer.Int64())
	require.Equal(t, int64(40), dist.BuyerDeposit.Buyer.Int64())
}

func TestNodeStateSurvivesRestart(t *testing.T) {
	db := storage.NewMemDB()
	node := newTestNode(t, db)
	require.NoError(t, node.Credit(nodeSeller, "VUSD", big.NewInt(10_000)))

	supply, err := node.CreateSupply(nodeSeller, nodeSupplyConfig(), [32]byte{0xaa})
	require.NoError(t, err)
	require.NoError(t, node.Pause(nodeAdmin))

	// A new node over the same database sees the supply and the pause flag.
	restarted := newTestNode(t, db)
	loaded, ok := restarted.GetSupply(supply.ID)
	require.True(t, ok)
	require.Equal(t, supply.ID, loaded.ID)
	require.True(t, restarted.IsPaused())

	// Paused module rejects new work until unpaused.
	_, err = restarted.Commit(supply.ID, nodeBuyer)
	require.Error(t, err)
	require.NoError(t, restarted.Unpause(nodeAdmin))
	require.NoError(t, restarted.Credit(nodeBuyer, "VUSD", big.NewInt(1_000)))
	_, err = restarted.Commit(supply.ID, nodeBuyer)
	require.NoError(t, err)
}

func TestNodeAdminGating(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())
	intruder := [20]byte{0x66}

	require.Error(t, node.Pause(intruder))
	require.False(t, node.IsPaused())

	require.Error(t, node.SetDisasterState(nodeAdmin)) // must pause first
	require.NoError(t, node.Pause(nodeAdmin))
	require.NoError(t, node.SetDisasterState(nodeAdmin))
	require.True(t, node.InDisaster())
	require.Error(t, node.Unpause(nodeAdmin))
}

func TestNodeCreditValidation(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())
	require.Error(t, node.Credit(nodeSeller, "BTC", big.NewInt(1)))
	require.Error(t, node.Credit(nodeSeller, "VUSD", big.NewInt(0)))
	require.Error(t, node.Credit(nodeSeller, "VUSD", nil))

	require.NoError(t, node.Credit(nodeSeller, "vusd", big.NewInt(5)))
	acc, err := node.GetAccount(nodeSeller)
	require.NoError(t, err)
	require.Equal(t, int64(5), acc.BalanceVUSD.Int64())
}
