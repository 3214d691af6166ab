package privacy

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *KeyImageLedger {
	t.Helper()
	ledger, err := OpenKeyImageLedger(filepath.Join(t.TempDir(), "keyimages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func testKeyImage(t *testing.T) KeyImage {
	t.Helper()
	priv, pub := mustKeypair(t)
	ki, err := GenerateKeyImage(priv, pub)
	require.NoError(t, err)
	return ki
}

func TestLedgerMarkUnmark(t *testing.T) {
	ledger := openTestLedger(t)
	ki := testKeyImage(t)
	txHash := [32]byte{1}

	spent, err := ledger.IsSpent(ki)
	require.NoError(t, err)
	require.False(t, spent, "fresh key image reported spent")

	require.NoError(t, ledger.MarkSpent(ki, txHash, 100))

	spent, err = ledger.IsSpent(ki)
	require.NoError(t, err)
	require.True(t, spent)

	entry, found, err := ledger.GetEntry(ki)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, txHash, entry.TxHash)
	require.Equal(t, uint64(100), entry.BlockHeight)

	require.NoError(t, ledger.UnmarkSpent(ki))
	spent, err = ledger.IsSpent(ki)
	require.NoError(t, err)
	require.False(t, spent, "key image still spent after unmark")

	// Unmarking an absent key is a no-op.
	require.NoError(t, ledger.UnmarkSpent(ki))
}

func TestLedgerMarkSpentUpserts(t *testing.T) {
	ledger := openTestLedger(t)
	ki := testKeyImage(t)

	require.NoError(t, ledger.MarkSpent(ki, [32]byte{1}, 10))
	require.NoError(t, ledger.MarkSpent(ki, [32]byte{2}, 20))

	entry, found, err := ledger.GetEntry(ki)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, [32]byte{2}, entry.TxHash, "upsert did not replace the entry")
	require.Equal(t, uint64(20), entry.BlockHeight)
}

func TestLedgerBatchWriteErase(t *testing.T) {
	ledger := openTestLedger(t)

	spends := make([]KeyImageSpend, 5)
	keyImages := make([]KeyImage, 5)
	for i := range spends {
		keyImages[i] = testKeyImage(t)
		spends[i] = KeyImageSpend{
			KeyImage: keyImages[i],
			Entry:    KeyImageEntry{TxHash: [32]byte{byte(i)}, BlockHeight: uint64(i)},
		}
	}

	require.NoError(t, ledger.WriteKeyImages(spends))

	count, err := ledger.Count()
	require.NoError(t, err)
	require.Equal(t, 5, count)

	for i, ki := range keyImages {
		spent, serr := ledger.IsSpent(ki)
		require.NoError(t, serr)
		require.True(t, spent, "batch entry %d missing", i)
	}

	require.NoError(t, ledger.EraseKeyImages(keyImages))
	count, err = ledger.Count()
	require.NoError(t, err)
	require.Equal(t, 0, count, "erase left entries behind")

	// Empty batches are no-ops.
	require.NoError(t, ledger.WriteKeyImages(nil))
	require.NoError(t, ledger.EraseKeyImages(nil))
}

func TestLedgerBatchWriteAbortsWholesale(t *testing.T) {
	ledger := openTestLedger(t)

	// A batch that fails after several entries were already put must
	// leave no entry behind: the corrupt key image aborts the update
	// transaction and rolls back the earlier writes.
	good := []KeyImage{testKeyImage(t), testKeyImage(t), testKeyImage(t)}
	spends := make([]KeyImageSpend, 0, 4)
	for i, ki := range good {
		spends = append(spends, KeyImageSpend{
			KeyImage: ki,
			Entry:    KeyImageEntry{TxHash: [32]byte{byte(i + 1)}, BlockHeight: uint64(i)},
		})
	}
	spends = append(spends, KeyImageSpend{KeyImage: KeyImage{}, Entry: KeyImageEntry{TxHash: [32]byte{9}}})

	require.Error(t, ledger.WriteKeyImages(spends))

	count, err := ledger.Count()
	require.NoError(t, err)
	require.Equal(t, 0, count, "partial batch became visible")
	for _, ki := range good {
		spent, serr := ledger.IsSpent(ki)
		require.NoError(t, serr)
		require.False(t, spent)
	}

	// A committed batch stays intact when a later batch aborts.
	require.NoError(t, ledger.WriteKeyImages(spends[:2]))
	require.Error(t, ledger.WriteKeyImages([]KeyImageSpend{
		{KeyImage: good[2], Entry: KeyImageEntry{TxHash: [32]byte{8}, BlockHeight: 7}},
		{KeyImage: KeyImage{}},
	}))

	count, err = ledger.Count()
	require.NoError(t, err)
	require.Equal(t, 2, count)
	spent, err := ledger.IsSpent(good[2])
	require.NoError(t, err)
	require.False(t, spent, "aborted batch leaked an entry")
}

func TestLedgerForEachOrdered(t *testing.T) {
	ledger := openTestLedger(t)

	for i := 0; i < 4; i++ {
		require.NoError(t, ledger.MarkSpent(testKeyImage(t), [32]byte{byte(i)}, uint64(i)))
	}

	var prev KeyImage
	var seen int
	err := ledger.ForEach(func(ki KeyImage, entry KeyImageEntry) error {
		if seen > 0 {
			require.True(t, string(prev[:]) < string(ki[:]), "iteration not in key order")
		}
		prev = ki
		seen++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 4, seen)
}

func TestLedgerPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyimages.db")

	ledger, err := OpenKeyImageLedger(path)
	require.NoError(t, err)

	ki := testKeyImage(t)
	require.NoError(t, ledger.MarkSpent(ki, [32]byte{7}, 77))
	require.NoError(t, ledger.Sync())
	require.NoError(t, ledger.Close())

	reopened, err := OpenKeyImageLedger(path)
	require.NoError(t, err)
	defer reopened.Close()

	spent, err := reopened.IsSpent(ki)
	require.NoError(t, err)
	require.True(t, spent, "entry lost across reopen")
}

func TestLedgerClosedErrors(t *testing.T) {
	ledger, err := OpenKeyImageLedger(filepath.Join(t.TempDir(), "keyimages.db"))
	require.NoError(t, err)
	require.NoError(t, ledger.Close())

	ki := testKeyImage(t)
	_, err = ledger.IsSpent(ki)
	require.ErrorIs(t, err, ErrLedgerClosed)
	require.ErrorIs(t, ledger.MarkSpent(ki, [32]byte{}, 0), ErrLedgerClosed)
	require.ErrorIs(t, ledger.Sync(), ErrLedgerClosed)
	require.ErrorIs(t, ledger.Close(), ErrLedgerClosed)
}
