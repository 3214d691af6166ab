package wallet

import (
	"github.com/rs/zerolog"

	"wattx/privacy"
)

// BlockData is the minimal block info needed for scanning.
type BlockData struct {
	Height       uint64
	Transactions []TxData
}

// TxData is the minimal tx info needed for scanning.
type TxData struct {
	TxID       [32]byte
	IsCoinbase bool
	Privacy    *privacy.PrivacyTransaction
}

// Scanner scans blocks for wallet-relevant transactions. The per-output
// view tag rejects virtually all foreign outputs with a single hash, so a
// full scan costs one ECDH per output plus one point addition per match.
type Scanner struct {
	wallet *Wallet
	log    zerolog.Logger
}

// NewScanner creates a scanner for a wallet.
func NewScanner(w *Wallet, log zerolog.Logger) *Scanner {
	return &Scanner{wallet: w, log: log}
}

// ScanBlock scans a block for owned outputs and spent key images.
func (s *Scanner) ScanBlock(block *BlockData) (found, spent int) {
	keys := s.wallet.Keys()
	viewOnly := s.wallet.IsViewOnly()

	for _, tx := range block.Transactions {
		if tx.Privacy == nil {
			continue
		}

		for i := range tx.Privacy.Outputs {
			out := &tx.Privacy.Outputs[i]
			if !privacy.ScanStealthOutput(&out.Stealth, keys.ScanPrivKey, keys.SpendPubKey) {
				continue
			}

			owned, err := s.recoverOutput(tx.TxID, out, &keys, viewOnly, block.Height, tx.IsCoinbase)
			if err != nil {
				s.log.Warn().Err(err).Hex("txid", tx.TxID[:]).
					Uint32("output", out.Stealth.OutputIndex).
					Msg("matched output failed recovery")
				continue
			}

			s.wallet.AddOutput(owned)
			found++
		}

		// View-only wallets cannot compute key images, so spend
		// detection needs the full keys.
		if viewOnly {
			continue
		}
		for _, keyImage := range tx.Privacy.KeyImages() {
			if s.wallet.MarkSpent(keyImage, block.Height) {
				spent++
			}
		}
	}

	return found, spent
}

// recoverOutput turns a matched stealth output into an OwnedOutput:
// decrypt the amount, re-derive the blinding, verify both reopen the
// on-chain commitment, and (for full wallets) derive the one-time
// private key and key image.
func (s *Scanner) recoverOutput(txID [32]byte, out *privacy.PrivacyOutput, keys *privacy.StealthKeys, viewOnly bool, height uint64, coinbase bool) (*OwnedOutput, error) {
	sharedSecret, err := privacy.ComputeSharedSecret(keys.ScanPrivKey, out.Stealth.Ephemeral.EphemeralPubKey)
	if err != nil {
		return nil, err
	}

	amount := privacy.DecryptAmount(out.EncryptedAmount, sharedSecret)
	blinding := privacy.DeriveOutputBlinding(sharedSecret, out.Stealth.OutputIndex)

	// A commitment that does not reopen means the sender lied about the
	// amount or used a different derivation; never credit it.
	if err := privacy.VerifyCommitment(out.Commitment, amount, blinding); err != nil {
		return nil, err
	}

	owned := &OwnedOutput{
		TxID:          txID,
		OutputIndex:   out.Stealth.OutputIndex,
		Amount:        amount,
		Blinding:      blinding,
		OneTimePubKey: out.Stealth.OneTimePubKey,
		Commitment:    out.Commitment,
		BlockHeight:   height,
		IsCoinbase:    coinbase,
	}

	if !viewOnly {
		oneTimePriv, err := privacy.DeriveStealthSpendingKey(
			keys.ScanPrivKey, keys.SpendPrivKey,
			out.Stealth.Ephemeral.EphemeralPubKey, out.Stealth.OutputIndex)
		if err != nil {
			return nil, err
		}
		owned.OneTimePrivKey = oneTimePriv

		keyImage, err := privacy.GenerateKeyImage(oneTimePriv, out.Stealth.OneTimePubKey)
		if err != nil {
			return nil, err
		}
		owned.KeyImage = keyImage
	}

	return owned, nil
}

// ScanBlocks scans multiple blocks in height order.
func (s *Scanner) ScanBlocks(blocks []*BlockData) (totalFound, totalSpent int) {
	for _, block := range blocks {
		found, spent := s.ScanBlock(block)
		totalFound += found
		totalSpent += spent

		s.wallet.SetSyncedHeight(block.Height)
	}
	return totalFound, totalSpent
}
