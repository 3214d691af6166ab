package privacy

import (
	"fmt"

	"wattx/protocol/params"
)

// Two-phase transaction validation. Contextless checks are pure structure:
// ring bounds, key image shape, type/field consistency, blob sizes.
// Contextual checks consult the ledger, the ring policy, the signature
// predicate, the commitment balance and the range proofs. Every failure
// maps to one enumerated reason surfaced verbatim to the caller.

// ValidationResult enumerates the rejection reasons.
type ValidationResult int

const (
	ResultValid ValidationResult = iota
	ResultKeyImageSpent
	ResultInvalidKeyImageFormat
	ResultInvalidRingSize
	ResultInvalidRingSignature
	ResultInvalidMLSAGSignature
	ResultInvalidCommitmentBalance
	ResultInvalidRangeProof
	ResultInvalidStealthOutput
	ResultInvalidDecoySelection
	ResultMixedPrivacyTypes
	ResultInternalError
)

// String returns the reject-reason string surfaced to peers and logs.
func (r ValidationResult) String() string {
	switch r {
	case ResultValid:
		return "valid"
	case ResultKeyImageSpent:
		return "key-image-spent"
	case ResultInvalidKeyImageFormat:
		return "invalid-key-image-format"
	case ResultInvalidRingSize:
		return "invalid-ring-size"
	case ResultInvalidRingSignature:
		return "invalid-ring-signature"
	case ResultInvalidMLSAGSignature:
		return "invalid-mlsag-signature"
	case ResultInvalidCommitmentBalance:
		return "invalid-commitment-balance"
	case ResultInvalidRangeProof:
		return "invalid-range-proof"
	case ResultInvalidStealthOutput:
		return "invalid-stealth-output"
	case ResultInvalidDecoySelection:
		return "invalid-decoy-selection"
	case ResultMixedPrivacyTypes:
		return "invalid-mixed-privacy-types"
	default:
		return "internal-error"
	}
}

// Valid reports whether the result is a pass.
func (r ValidationResult) Valid() bool {
	return r == ResultValid
}

// GetMinRingSize returns the consensus minimum ring size at a height. The
// minimum steps up at fixed activation heights; height 0 is the mempool
// sentinel and uses the initial minimum so historical-size rings still
// relay until their blocks age out.
func GetMinRingSize(height uint64) int {
	switch {
	case height < params.RingSizeMidHeight:
		return params.MinRingSizeInitial
	case height < params.RingSizeFinalHeight:
		return params.MinRingSizeMid
	default:
		return params.MinRingSizeFinal
	}
}

// GetDefaultRingSize returns the ring size the builder targets at a
// height: the fixed default, raised to the consensus minimum should the
// schedule ever overtake it.
func GetDefaultRingSize(height uint64) int {
	size := params.DefaultRingSize
	if min := GetMinRingSize(height); min > size {
		size = min
	}
	return size
}

// CheckPrivacyTransaction performs contextless validation at the given
// height. It touches no chain state.
func CheckPrivacyTransaction(tx *PrivacyTransaction, height uint64) ValidationResult {
	if tx == nil {
		return ResultInternalError
	}
	if !tx.Type.Valid() {
		return ResultMixedPrivacyTypes
	}
	if len(tx.Inputs) == 0 && len(tx.FCMPInputs) == 0 {
		return ResultInternalError
	}
	if len(tx.Outputs) == 0 {
		return ResultInternalError
	}
	if len(tx.Inputs) > params.MaxPrivacyInputs || len(tx.Outputs) > params.MaxPrivacyOutputs {
		return ResultInternalError
	}

	if res := checkTypeConsistency(tx); !res.Valid() {
		return res
	}

	// Per-input checks: key image shape, intra-tx duplicates, ring
	// bounds.
	minRing := GetMinRingSize(height)
	seen := make(map[[32]byte]struct{}, len(tx.Inputs)+len(tx.FCMPInputs))
	checkKeyImage := func(ki KeyImage) ValidationResult {
		if !ki.Valid() {
			return ResultInvalidKeyImageFormat
		}
		h := ki.Hash()
		if _, dup := seen[h]; dup {
			return ResultKeyImageSpent
		}
		seen[h] = struct{}{}
		return ResultValid
	}

	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		if res := checkKeyImage(in.KeyImage); !res.Valid() {
			return res
		}
		if tx.Type.usesRings() {
			size := in.Ring.Size()
			if size < minRing || size > params.MaxRingSize {
				return ResultInvalidRingSize
			}
		}
	}
	for i := range tx.FCMPInputs {
		if res := checkKeyImage(tx.FCMPInputs[i].KeyImage); !res.Valid() {
			return res
		}
	}

	// Per-output checks.
	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		if _, err := parsePoint(out.Stealth.OneTimePubKey); err != nil {
			return ResultInvalidStealthOutput
		}
		if _, err := parsePoint(out.Stealth.Ephemeral.EphemeralPubKey); err != nil {
			return ResultInvalidStealthOutput
		}
		if tx.Type.usesCommitments() {
			if _, err := parsePoint(out.Commitment); err != nil {
				return ResultInvalidCommitmentBalance
			}
		}
	}

	// Gross structural blob sizes. The decoder enforces these too, but
	// in-memory transactions must not bypass them.
	if len(tx.AggregatedRangeProof) > params.MaxRangeProofSize {
		return ResultInvalidRangeProof
	}
	if len(tx.FCMPAggSig) > params.MaxSignatureSize {
		return ResultInvalidMLSAGSignature
	}

	return ResultValid
}

// checkTypeConsistency asserts the populated fields agree with the
// declared wire tag.
func checkTypeConsistency(tx *PrivacyTransaction) ValidationResult {
	switch tx.Type {
	case TypeTransparent:
		// Transparent value transfer never reaches the privacy layer.
		return ResultMixedPrivacyTypes
	case TypeStealth, TypeConfidential:
		if tx.MLSAG != nil || len(tx.FCMPInputs) > 0 || len(tx.FCMPAggSig) > 0 {
			return ResultMixedPrivacyTypes
		}
		for i := range tx.Inputs {
			if tx.Inputs[i].Ring.Size() > 0 {
				return ResultMixedPrivacyTypes
			}
		}
	case TypeRing, TypeRingCT:
		if len(tx.FCMPInputs) > 0 || len(tx.FCMPAggSig) > 0 {
			return ResultMixedPrivacyTypes
		}
		if tx.MLSAG == nil {
			return ResultInvalidMLSAGSignature
		}
		if len(tx.MLSAG.KeyImages) != len(tx.Inputs) {
			return ResultMixedPrivacyTypes
		}
		for i := range tx.Inputs {
			if tx.MLSAG.KeyImages[i] != tx.Inputs[i].KeyImage {
				return ResultMixedPrivacyTypes
			}
		}
	case TypeFCMP:
		if tx.MLSAG != nil || len(tx.Inputs) > 0 {
			return ResultMixedPrivacyTypes
		}
		if len(tx.FCMPInputs) == 0 {
			return ResultMixedPrivacyTypes
		}
	default:
		return ResultMixedPrivacyTypes
	}
	return ResultValid
}

// ContextualCheckDeps carries the collaborators contextual validation
// needs. Ledger is required; the rest degrade to permissive defaults when
// nil (no ring policy, in-process MLSAG verification, no FCMP backend).
type ContextualCheckDeps struct {
	Ledger     *KeyImageLedger
	Verifier   MLSAGVerifier
	RingPolicy RingPolicy
	FCMP       FCMPBackend
}

// ContextualCheckPrivacyTransaction performs the chain-state-dependent
// phase. The contextless phase runs first so a caller can use this as the
// single entry point.
func ContextualCheckPrivacyTransaction(tx *PrivacyTransaction, deps ContextualCheckDeps, height uint64) ValidationResult {
	if res := CheckPrivacyTransaction(tx, height); !res.Valid() {
		return res
	}
	if deps.Ledger == nil {
		return ResultInternalError
	}

	// Double-spend check against the canonical chain.
	for _, ki := range tx.KeyImages() {
		spent, err := deps.Ledger.IsSpent(ki)
		if err != nil {
			return ResultInternalError
		}
		if spent {
			return ResultKeyImageSpent
		}
	}

	// Ring member policy.
	if tx.Type.usesRings() && deps.RingPolicy != nil {
		for i := range tx.Inputs {
			if err := deps.RingPolicy.CheckRingMembers(&tx.Inputs[i].Ring, height); err != nil {
				return ResultInvalidDecoySelection
			}
		}
	}

	// Signature predicate.
	switch {
	case tx.Type.usesRings():
		verifier := deps.Verifier
		if verifier == nil {
			verifier = StandardVerifier{}
		}
		if !verifier.VerifyMLSAG(tx.SigningHash(), tx.MLSAG) {
			return ResultInvalidMLSAGSignature
		}
	case tx.Type == TypeFCMP:
		if deps.FCMP == nil {
			return ResultInternalError
		}
		for i := range tx.FCMPInputs {
			in := &tx.FCMPInputs[i]
			if !deps.FCMP.Verify(in.Root, in, in.Proof) {
				return ResultInvalidMLSAGSignature
			}
		}
	}

	// Commitment balance and range proofs.
	if tx.Type.usesCommitments() {
		inputCommitments := make([][33]byte, 0, len(tx.Inputs))
		for i := range tx.Inputs {
			inputCommitments = append(inputCommitments, tx.Inputs[i].InputCommitment)
		}
		outputCommitments := make([][33]byte, 0, len(tx.Outputs))
		for i := range tx.Outputs {
			outputCommitments = append(outputCommitments, tx.Outputs[i].Commitment)
		}

		if len(inputCommitments) > 0 {
			balanced, err := VerifyBalance(inputCommitments, outputCommitments, tx.Fee)
			if err != nil || !balanced {
				return ResultInvalidCommitmentBalance
			}
		}

		if !VerifyAggregatedRangeProof(outputCommitments, tx.AggregatedRangeProof) {
			return ResultInvalidRangeProof
		}
	}

	return ResultValid
}

// ConnectPrivacyTransaction marks every input key image spent in one
// atomic ledger batch. A ledger failure here must halt block connection:
// a silently dropped write reopens a double-spend.
func ConnectPrivacyTransaction(tx *PrivacyTransaction, ledger *KeyImageLedger, txHash [32]byte, height uint64) error {
	if ledger == nil {
		return ErrLedgerClosed
	}
	keyImages := tx.KeyImages()
	spends := make([]KeyImageSpend, 0, len(keyImages))
	for _, ki := range keyImages {
		spends = append(spends, KeyImageSpend{
			KeyImage: ki,
			Entry:    KeyImageEntry{TxHash: txHash, BlockHeight: height},
		})
	}
	if err := ledger.WriteKeyImages(spends); err != nil {
		return fmt.Errorf("failed to connect privacy tx: %w", err)
	}
	return nil
}

// DisconnectPrivacyTransaction unmarks the transaction's key images during
// block disconnect. Transactions within a block disconnect in reverse
// order, and blocks in strict reverse height order relative to connect;
// violating that ordering corrupts the ledger's correspondence to chain
// state.
func DisconnectPrivacyTransaction(tx *PrivacyTransaction, ledger *KeyImageLedger) error {
	if ledger == nil {
		return ErrLedgerClosed
	}
	if err := ledger.EraseKeyImages(tx.KeyImages()); err != nil {
		return fmt.Errorf("failed to disconnect privacy tx: %w", err)
	}
	return nil
}
