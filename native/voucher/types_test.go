package voucher

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAsset(t *testing.T) {
	for raw, want := range map[string]string{
		"VEX":    "VEX",
		"vusd":   "VUSD",
		" vgld ": "VGLD",
	} {
		got, err := NormalizeAsset(raw)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := NormalizeAsset("BTC")
	require.Error(t, err)
	_, err = NormalizeAsset("")
	require.Error(t, err)
}

func TestResolveAssetKinds(t *testing.T) {
	native, err := ResolveAsset("vex")
	require.NoError(t, err)
	require.Equal(t, AssetNative, native.Kind)

	token, err := ResolveAsset("VUSD")
	require.NoError(t, err)
	require.Equal(t, AssetToken, token.Kind)

	require.Equal(t, "native", native.Kind.String())
	require.Equal(t, "token", token.Kind.String())
}

func TestSupplyCloneIsDeep(t *testing.T) {
	original := settleSupply(300, 50, 40)
	clone := original.Clone()
	clone.UnitPrice.SetInt64(999)
	require.Equal(t, int64(300), original.UnitPrice.Int64())
}

func TestSanitizeSupplyNormalizesAssets(t *testing.T) {
	s := settleSupply(300, 50, 40)
	s.PriceAsset = "vusd"
	s.DepositAsset = " vgld "
	sanitized, err := SanitizeSupply(s)
	require.NoError(t, err)
	require.Equal(t, "VUSD", sanitized.PriceAsset)
	require.Equal(t, "VGLD", sanitized.DepositAsset)
	// The original is untouched.
	require.Equal(t, "vusd", s.PriceAsset)
}

func TestSanitizeSupplyRejectsInvalid(t *testing.T) {
	s := settleSupply(300, 50, 40)
	s.UnitPrice = big.NewInt(-1)
	_, err := SanitizeSupply(s)
	require.Error(t, err)

	s = settleSupply(300, 50, 40)
	s.Remaining = s.Quantity + 1
	_, err = SanitizeSupply(s)
	require.Error(t, err)

	s = settleSupply(300, 50, 40)
	s.ValidFrom, s.ValidTo = s.ValidTo, s.ValidFrom
	_, err = SanitizeSupply(s)
	require.Error(t, err)
}

func TestVoucherOutcomeFlags(t *testing.T) {
	v := &Voucher{CommittedAt: baseTime}
	require.Equal(t, OutcomeNone, v.Outcome())
	require.Zero(t, v.OutcomeAt())

	v.RefundedAt = baseTime + 5
	require.Equal(t, OutcomeRefunded, v.Outcome())
	require.Equal(t, baseTime+5, v.OutcomeAt())
	require.False(t, v.Complained())
	require.False(t, v.Cancelled())

	v.ComplainedAt = baseTime + 6
	v.CancelledAt = baseTime + 7
	require.True(t, v.Complained())
	require.True(t, v.Cancelled())
}

func TestSanitizeVoucherInvariants(t *testing.T) {
	_, err := SanitizeVoucher(nil)
	require.Error(t, err)

	// Commit timestamp is mandatory.
	_, err = SanitizeVoucher(&Voucher{})
	require.Error(t, err)

	// At most one outcome flag.
	_, err = SanitizeVoucher(&Voucher{CommittedAt: 1, RedeemedAt: 2, RefundedAt: 3})
	require.Error(t, err)

	// No complaint without an outcome.
	_, err = SanitizeVoucher(&Voucher{CommittedAt: 1, ComplainedAt: 2})
	require.Error(t, err)

	// No finalization without an outcome or a cancellation.
	_, err = SanitizeVoucher(&Voucher{CommittedAt: 1, FinalizedAt: 2})
	require.Error(t, err)

	// Pre-cancelled finalization is legal.
	_, err = SanitizeVoucher(&Voucher{CommittedAt: 1, CancelledAt: 2, FinalizedAt: 3})
	require.NoError(t, err)

	sanitized, err := SanitizeVoucher(&Voucher{CommittedAt: 1, RedeemedAt: 2, ComplainedAt: 3})
	require.NoError(t, err)
	require.Equal(t, OutcomeRedeemed, sanitized.Outcome())
}

func TestOutcomeString(t *testing.T) {
	require.Equal(t, "none", OutcomeNone.String())
	require.Equal(t, "redeemed", OutcomeRedeemed.String())
	require.Equal(t, "refunded", OutcomeRefunded.String())
	require.Equal(t, "expired", OutcomeExpired.String())
}
