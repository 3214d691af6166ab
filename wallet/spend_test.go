package wallet

import (
	"crypto/rand"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"wattx/privacy"
)

// fakeChain is a DecoyProvider over a synthetic output set.
type fakeChain struct {
	candidates []privacy.DecoyCandidate
	height     uint64
}

func newFakeChain(t *testing.T, count int, height uint64) *fakeChain {
	t.Helper()
	c := &fakeChain{height: height}
	for i := 0; i < count; i++ {
		_, pub := testKeypair(t)
		commit, err := privacy.CreateCommitment(uint64(i + 1))
		require.NoError(t, err)
		var txHash [32]byte
		binary.LittleEndian.PutUint32(txHash[:], uint32(i))
		txHash[31] = 0xEE
		c.candidates = append(c.candidates, privacy.DecoyCandidate{
			OutPoint:   privacy.OutPoint{TxHash: txHash, Index: 0},
			PubKey:     pub,
			Commitment: commit.Commitment,
			Height:     uint64(i) % (height / 2),
		})
	}
	return c
}

func (c *fakeChain) OutputCount() uint64 { return uint64(len(c.candidates)) }
func (c *fakeChain) Height() uint64      { return c.height }

func (c *fakeChain) OutputByIndex(index uint64) (privacy.DecoyCandidate, bool) {
	if index >= uint64(len(c.candidates)) {
		return privacy.DecoyCandidate{}, false
	}
	return c.candidates[index], true
}

func (c *fakeChain) RandomOutputs(count int, minHeight, maxHeight uint64) []privacy.DecoyCandidate {
	var out []privacy.DecoyCandidate
	for attempts := 0; len(out) < count && attempts < count*20; attempts++ {
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			return out
		}
		candidate := c.candidates[binary.LittleEndian.Uint64(b[:])%uint64(len(c.candidates))]
		if candidate.Height < minHeight || candidate.Height > maxHeight {
			continue
		}
		out = append(out, candidate)
	}
	return out
}

// fundedWallet returns a wallet holding one mature 1000-unit output.
func fundedWallet(t *testing.T) *Wallet {
	t.Helper()
	w := newTestWallet(t)
	scanner := NewScanner(w, zerolog.Nop())
	tx := fundingTx(t, walletAddress(t, w), []uint64{1000}, 0)
	found, _ := scanner.ScanBlock(&BlockData{
		Height:       1,
		Transactions: []TxData{{TxID: [32]byte{0xAA}, Privacy: tx}},
	})
	require.Equal(t, 1, found)
	return w
}

func TestCreateTransaction(t *testing.T) {
	w := fundedWallet(t)
	recipient := newTestWallet(t)
	chain := newFakeChain(t, 512, 200)

	tx, err := w.CreateTransaction(SpendRequest{
		Recipient: recipient.Address(),
		Amount:    600,
		Fee:       10,
	}, chain, 200)
	require.NoError(t, err)

	require.Equal(t, privacy.TypeRingCT, tx.Type)
	require.Equal(t, uint64(10), tx.Fee)
	require.Len(t, tx.Inputs, 1)
	require.Len(t, tx.Outputs, 2, "payment plus change")
	require.Equal(t, privacy.GetDefaultRingSize(200), tx.Inputs[0].Ring.Size())

	require.Equal(t, privacy.ResultValid, privacy.CheckPrivacyTransaction(tx, 200))
	require.True(t, privacy.VerifyMLSAGSignature(tx.SigningHash(), tx.MLSAG))

	// The recipient finds the payment, the sender finds the change.
	recipientScanner := NewScanner(recipient, zerolog.Nop())
	found, _ := recipientScanner.ScanBlock(&BlockData{
		Height:       201,
		Transactions: []TxData{{TxID: [32]byte{0xBB}, Privacy: tx}},
	})
	require.Equal(t, 1, found)
	require.Equal(t, uint64(600), recipient.Balance())

	senderScanner := NewScanner(w, zerolog.Nop())
	found, spent := senderScanner.ScanBlock(&BlockData{
		Height:       201,
		Transactions: []TxData{{TxID: [32]byte{0xBB}, Privacy: tx}},
	})
	require.Equal(t, 1, found, "change output not detected")
	require.Equal(t, 1, spent, "spent input not detected")
	require.Equal(t, uint64(390), w.Balance())
}

func TestCreateTransactionNoChange(t *testing.T) {
	w := fundedWallet(t)
	recipient := newTestWallet(t)
	chain := newFakeChain(t, 512, 200)

	tx, err := w.CreateTransaction(SpendRequest{
		Recipient: recipient.Address(),
		Amount:    995,
		Fee:       5,
	}, chain, 200)
	require.NoError(t, err)
	require.Len(t, tx.Outputs, 1, "exact spend must not create change")
}

func TestCreateTransactionErrors(t *testing.T) {
	w := fundedWallet(t)
	recipient := newTestWallet(t)
	chain := newFakeChain(t, 512, 200)

	t.Run("insufficient funds", func(t *testing.T) {
		_, err := w.CreateTransaction(SpendRequest{
			Recipient: recipient.Address(),
			Amount:    5000,
		}, chain, 200)
		require.ErrorIs(t, err, ErrInsufficientFunds)
	})

	t.Run("immature funds", func(t *testing.T) {
		_, err := w.CreateTransaction(SpendRequest{
			Recipient: recipient.Address(),
			Amount:    100,
		}, chain, 2) // one confirmation
		require.Error(t, err)
	})

	t.Run("zero amount", func(t *testing.T) {
		_, err := w.CreateTransaction(SpendRequest{Recipient: recipient.Address()}, chain, 200)
		require.Error(t, err)
	})

	t.Run("bad recipient", func(t *testing.T) {
		_, err := w.CreateTransaction(SpendRequest{Recipient: "sx1notanaddress", Amount: 10}, chain, 200)
		require.Error(t, err)
	})

	t.Run("view only", func(t *testing.T) {
		viewOnly, err := NewViewOnlyWallet(filepath.Join(t.TempDir(), "view.wallet"), []byte("pw"),
			w.ExportViewOnlyKeys())
		require.NoError(t, err)
		_, err = viewOnly.CreateTransaction(SpendRequest{
			Recipient: recipient.Address(),
			Amount:    10,
		}, chain, 200)
		require.ErrorIs(t, err, ErrViewOnly)
	})
}
