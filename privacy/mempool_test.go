package privacy

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func mustEmbed(t *testing.T, priv *PrivacyTransaction, lockTime uint32) *HostTransaction {
	t.Helper()
	host := &HostTransaction{Version: 1, LockTime: lockTime}
	require.NoError(t, EmbedPrivacyTransaction(priv, host))
	return host
}

func newTestTracker(t *testing.T, deps ContextualCheckDeps) *KeyImageTracker {
	t.Helper()
	return NewKeyImageTracker(deps, zerolog.Nop())
}

func TestPreValidatePassesThroughNonPrivacy(t *testing.T) {
	tracker := newTestTracker(t, ContextualCheckDeps{})

	host := &HostTransaction{Version: 1, Outputs: []HostTxOut{{Value: 50, Script: []byte{0x76}}}}
	result := tracker.PreValidateTransaction(host)
	require.False(t, result.IsPrivacyTx)
	require.True(t, result.IsValid)
	require.Empty(t, result.KeyImages)
}

func TestPreValidateMalformedPayload(t *testing.T) {
	tracker := newTestTracker(t, ContextualCheckDeps{})

	// Version-flagged but no payload output.
	host := &HostTransaction{Version: 1 | 0x8000}
	result := tracker.PreValidateTransaction(host)
	require.True(t, result.IsPrivacyTx)
	require.False(t, result.IsValid)
	require.Equal(t, RejectMalformedPayload, result.RejectReason)

	// Marker output with a truncated payload: the version flag says a
	// payload exists, but the push no longer decodes.
	tx := mustBuildRingCT(t, []uint64{100}, []uint64{100}, 0, 4)
	good := mustEmbed(t, tx, 0)
	bad := &HostTransaction{Version: good.Version, Outputs: append([]HostTxOut(nil), good.Outputs...)}
	script := good.Outputs[len(good.Outputs)-1].Script
	bad.Outputs[len(bad.Outputs)-1].Script = script[:len(script)-5]

	result = tracker.PreValidateTransaction(bad)
	require.True(t, result.IsPrivacyTx)
	require.False(t, result.IsValid)
	require.Equal(t, RejectMalformedPayload, result.RejectReason)
}

func TestPreValidateWithoutLedgerPassesThroughUntracked(t *testing.T) {
	tracker := newTestTracker(t, ContextualCheckDeps{})

	tx := mustBuildRingCT(t, []uint64{100}, []uint64{100}, 0, 4)
	host := mustEmbed(t, tx, 0)

	result := tracker.PreValidateTransaction(host)
	require.True(t, result.IsPrivacyTx)
	require.True(t, result.IsValid)
	require.Empty(t, result.KeyImages, "skipped validation must not surface key images")

	// Accepting the pass-through result tracks nothing.
	tracker.OnTransactionAccepted(host.TxID(), result)
	require.Empty(t, tracker.MempoolKeyImages())
	require.False(t, tracker.IsKeyImageInMempool(tx.Inputs[0].KeyImage))
}

func TestMempoolKeyImageRace(t *testing.T) {
	// Two transactions spending the same output race into the mempool:
	// whichever is accepted first wins, the second is rejected before it
	// ever reaches consensus.
	tracker := newTestTracker(t, ContextualCheckDeps{Ledger: openTestLedger(t)})

	tx := mustBuildRingCT(t, []uint64{1000}, []uint64{1000}, 0, 4)
	host1 := mustEmbed(t, tx, 1)
	host2 := mustEmbed(t, tx, 2) // same key images, distinct txid

	result1 := tracker.PreValidateTransaction(host1)
	require.True(t, result1.IsValid, "first spend rejected: %s", result1.RejectReason)
	require.Len(t, result1.KeyImages, 1)
	tracker.OnTransactionAccepted(host1.TxID(), result1)

	require.True(t, tracker.IsKeyImageInMempool(tx.Inputs[0].KeyImage))

	result2 := tracker.PreValidateTransaction(host2)
	require.False(t, result2.IsValid)
	require.Equal(t, RejectKeyImageInMempool, result2.RejectReason)

	// Once the first leaves the mempool, the second relays.
	tracker.OnTransactionRemoved(host1.TxID())
	require.False(t, tracker.IsKeyImageInMempool(tx.Inputs[0].KeyImage))

	result2 = tracker.PreValidateTransaction(host2)
	require.True(t, result2.IsValid, "retry rejected: %s", result2.RejectReason)
}

func TestPreValidateAgainstLedger(t *testing.T) {
	ledger := openTestLedger(t)
	tracker := newTestTracker(t, ContextualCheckDeps{Ledger: ledger})

	tx := mustBuildRingCT(t, []uint64{100}, []uint64{100}, 0, 4)
	host := mustEmbed(t, tx, 0)

	result := tracker.PreValidateTransaction(host)
	require.True(t, result.IsValid, "fresh spend rejected: %s", result.RejectReason)

	// Confirmed on chain: the mempool must refuse it outright.
	require.NoError(t, ledger.MarkSpent(tx.Inputs[0].KeyImage, [32]byte{9}, 10))

	result = tracker.PreValidateTransaction(host)
	require.False(t, result.IsValid)
	require.Equal(t, ResultKeyImageSpent.String(), result.RejectReason)
}

func TestOnTransactionRemovedIdempotent(t *testing.T) {
	tracker := newTestTracker(t, ContextualCheckDeps{Ledger: openTestLedger(t)})

	// Removing an unknown txid is a no-op.
	tracker.OnTransactionRemoved([32]byte{1, 2, 3})

	tx := mustBuildRingCT(t, []uint64{100}, []uint64{100}, 0, 4)
	host := mustEmbed(t, tx, 0)
	result := tracker.PreValidateTransaction(host)
	require.True(t, result.IsValid)
	tracker.OnTransactionAccepted(host.TxID(), result)
	require.NotEmpty(t, tracker.MempoolKeyImages())

	tracker.OnTransactionRemoved(host.TxID())
	tracker.OnTransactionRemoved(host.TxID())
	require.Empty(t, tracker.MempoolKeyImages())
}

func TestOnTransactionAcceptedSkipsInvalid(t *testing.T) {
	tracker := newTestTracker(t, ContextualCheckDeps{})

	tx := mustBuildRingCT(t, []uint64{100}, []uint64{100}, 0, 4)
	result := PreValidationResult{
		IsPrivacyTx:  true,
		IsValid:      false,
		RejectReason: RejectMalformedPayload,
		KeyImages:    tx.KeyImages(),
	}
	tracker.OnTransactionAccepted([32]byte{5}, result)
	require.Empty(t, tracker.MempoolKeyImages(), "rejected tx must not be tracked")
}

func TestTrackerClear(t *testing.T) {
	tracker := newTestTracker(t, ContextualCheckDeps{Ledger: openTestLedger(t)})

	tx := mustBuildRingCT(t, []uint64{100}, []uint64{100}, 0, 4)
	host := mustEmbed(t, tx, 0)
	result := tracker.PreValidateTransaction(host)
	require.True(t, result.IsValid)
	tracker.OnTransactionAccepted(host.TxID(), result)
	require.NotEmpty(t, tracker.MempoolKeyImages())

	tracker.Clear()
	require.Empty(t, tracker.MempoolKeyImages())
	require.False(t, tracker.IsKeyImageInMempool(tx.Inputs[0].KeyImage))
}
