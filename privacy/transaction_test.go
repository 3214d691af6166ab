package privacy

import (
	"bytes"
	"testing"
)

func TestPrivacyTransactionSerializeRoundTrip(t *testing.T) {
	tx := mustBuildRingCT(t, []uint64{500, 300}, []uint64{790}, 10, 4)
	tx.LockTime = 12345

	blob := tx.Serialize()
	decoded, err := DeserializePrivacyTransaction(blob)
	if err != nil {
		t.Fatalf("failed to deserialize: %v", err)
	}

	if decoded.Version != tx.Version || decoded.Type != tx.Type {
		t.Error("header mismatch after round trip")
	}
	if decoded.Fee != tx.Fee || decoded.LockTime != tx.LockTime {
		t.Error("trailer mismatch after round trip")
	}
	if len(decoded.Inputs) != len(tx.Inputs) || len(decoded.Outputs) != len(tx.Outputs) {
		t.Fatal("input/output count mismatch")
	}
	for i := range tx.Inputs {
		if decoded.Inputs[i].KeyImage != tx.Inputs[i].KeyImage {
			t.Errorf("input %d key image mismatch", i)
		}
		if decoded.Inputs[i].InputCommitment != tx.Inputs[i].InputCommitment {
			t.Errorf("input %d commitment mismatch", i)
		}
		if decoded.Inputs[i].Ring.Size() != tx.Inputs[i].Ring.Size() {
			t.Errorf("input %d ring size mismatch", i)
		}
	}
	for i := range tx.Outputs {
		if decoded.Outputs[i] != tx.Outputs[i] {
			t.Errorf("output %d mismatch", i)
		}
	}

	if decoded.MLSAG == nil {
		t.Fatal("MLSAG lost in round trip")
	}
	if decoded.MLSAG.C0 != tx.MLSAG.C0 {
		t.Error("MLSAG challenge mismatch")
	}
	if !bytes.Equal(decoded.AggregatedRangeProof, tx.AggregatedRangeProof) {
		t.Error("range proof mismatch")
	}

	// The rebound signature must still verify.
	if !VerifyMLSAGSignature(decoded.SigningHash(), decoded.MLSAG) {
		t.Error("rebound MLSAG does not verify")
	}

	// Re-serializing must be byte-identical.
	if !bytes.Equal(decoded.Serialize(), blob) {
		t.Error("serialization not canonical")
	}
	if decoded.TxHash() != tx.TxHash() {
		t.Error("tx hash changed across round trip")
	}
}

func TestFCMPTransactionSerializeRoundTrip(t *testing.T) {
	keys := mustGenerateKeys(t)
	addr := keys.Address()
	_, stealth, err := GenerateStealthDestination(&addr, 0)
	if err != nil {
		t.Fatalf("failed to generate destination: %v", err)
	}
	commit := mustCommit(t, 100)

	tx := &PrivacyTransaction{
		Version: 1,
		Type:    TypeFCMP,
		Outputs: []PrivacyOutput{{Stealth: *stealth, Commitment: commit.Commitment}},
		FCMPInputs: []FCMPInput{{
			Root:     [32]byte{1, 2},
			KeyImage: testKeyImage(t),
			Proof:    []byte{0xDE, 0xAD, 0xBE, 0xEF},
		}},
		FCMPAggSig: []byte{0xCA, 0xFE},
		Fee:        3,
	}

	decoded, err := DeserializePrivacyTransaction(tx.Serialize())
	if err != nil {
		t.Fatalf("failed to deserialize: %v", err)
	}
	if len(decoded.FCMPInputs) != 1 {
		t.Fatal("FCMP input lost")
	}
	if decoded.FCMPInputs[0].Root != tx.FCMPInputs[0].Root {
		t.Error("root mismatch")
	}
	if decoded.FCMPInputs[0].KeyImage != tx.FCMPInputs[0].KeyImage {
		t.Error("key image mismatch")
	}
	if !bytes.Equal(decoded.FCMPInputs[0].Proof, tx.FCMPInputs[0].Proof) {
		t.Error("proof mismatch")
	}
	if !bytes.Equal(decoded.FCMPAggSig, tx.FCMPAggSig) {
		t.Error("aggregated signature mismatch")
	}
}

func TestDeserializeRejects(t *testing.T) {
	tx := mustBuildRingCT(t, []uint64{100}, []uint64{100}, 0, 4)
	blob := tx.Serialize()

	t.Run("empty", func(t *testing.T) {
		if _, err := DeserializePrivacyTransaction(nil); err == nil {
			t.Error("empty payload accepted")
		}
	})

	t.Run("truncated", func(t *testing.T) {
		for _, cut := range []int{1, 5, len(blob) / 2, len(blob) - 1} {
			if _, err := DeserializePrivacyTransaction(blob[:cut]); err == nil {
				t.Errorf("truncation at %d accepted", cut)
			}
		}
	})

	t.Run("trailing bytes", func(t *testing.T) {
		if _, err := DeserializePrivacyTransaction(append(append([]byte(nil), blob...), 0x00)); err == nil {
			t.Error("trailing byte accepted")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		bad := append([]byte(nil), blob...)
		bad[4] = 99
		if _, err := DeserializePrivacyTransaction(bad); err == nil {
			t.Error("unknown type accepted")
		}
	})

	t.Run("oversized payload", func(t *testing.T) {
		if _, err := DeserializePrivacyTransaction(make([]byte, 1<<20+1)); err == nil {
			t.Error("oversized payload accepted")
		}
	})
}

func TestSigningHashStripsSignatures(t *testing.T) {
	tx := mustBuildRingCT(t, []uint64{100}, []uint64{100}, 0, 4)

	before := tx.SigningHash()
	tx.MLSAG.C0[0] ^= 1
	after := tx.SigningHash()
	if before != after {
		t.Error("signing hash depends on the signature")
	}

	tx.Fee++
	if tx.SigningHash() == before {
		t.Error("signing hash insensitive to fee")
	}
}

func TestHostTransactionEmbedExtract(t *testing.T) {
	tx := mustBuildRingCT(t, []uint64{100}, []uint64{95}, 5, 4)

	host := &HostTransaction{
		Version: 2,
		Outputs: []HostTxOut{{Value: 0, Script: []byte{0x76, 0xa9}}},
	}
	if HasPrivacyData(host) {
		t.Fatal("plain host tx reported privacy data")
	}
	priv, err := ExtractPrivacyTransaction(host)
	if err != nil || priv != nil {
		t.Fatalf("plain host tx extraction: got %v, %v", priv, err)
	}

	if err := EmbedPrivacyTransaction(tx, host); err != nil {
		t.Fatalf("failed to embed: %v", err)
	}
	if host.Version&0x8000 == 0 {
		t.Error("embed did not set the version flag")
	}
	if !HasPrivacyData(host) {
		t.Fatal("embedded host tx reports no privacy data")
	}

	extracted, err := ExtractPrivacyTransaction(host)
	if err != nil {
		t.Fatalf("failed to extract: %v", err)
	}
	if extracted == nil || extracted.TxHash() != tx.TxHash() {
		t.Error("extracted transaction differs from embedded one")
	}
}

func TestHasPrivacyDataByVersionFlagOnly(t *testing.T) {
	host := &HostTransaction{Version: 1 | 0x8000}
	if !HasPrivacyData(host) {
		t.Error("version flag not honored")
	}
	if _, err := ExtractPrivacyTransaction(host); err == nil {
		t.Error("flagged tx without payload must error")
	}
}

func TestParsePushDataVariants(t *testing.T) {
	payloads := [][]byte{
		bytes.Repeat([]byte{0xAB}, 10),   // direct push
		bytes.Repeat([]byte{0xCD}, 200),  // OP_PUSHDATA1
		bytes.Repeat([]byte{0xEF}, 4000), // OP_PUSHDATA2
	}
	for _, payload := range payloads {
		script := append([]byte{opReturn}, pushData(payload)...)
		got, ok := parsePushData(script)
		if !ok {
			t.Fatalf("failed to parse push of %d bytes", len(payload))
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("push of %d bytes corrupted", len(payload))
		}
	}

	if _, ok := parsePushData([]byte{0x76, 0x01, 0xFF}); ok {
		t.Error("non-OP_RETURN script parsed")
	}
	if _, ok := parsePushData([]byte{opReturn, 0x4c}); ok {
		t.Error("truncated OP_PUSHDATA1 parsed")
	}
}

func TestHostTxIDDistinct(t *testing.T) {
	a := &HostTransaction{Version: 1, LockTime: 1}
	b := &HostTransaction{Version: 1, LockTime: 2}
	if a.TxID() == b.TxID() {
		t.Error("distinct host transactions share a txid")
	}
}
