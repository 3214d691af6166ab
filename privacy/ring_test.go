package privacy

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func mustKeypair(t *testing.T) (priv [32]byte, pub [33]byte) {
	t.Helper()
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("failed to generate keypair: %v", err)
	}
	copy(priv[:], k.Serialize())
	copy(pub[:], k.PubKey().SerializeCompressed())
	return
}

func mustRing(t *testing.T, size, realIndex int) (Ring, [32]byte) {
	t.Helper()
	ring := Ring{Members: make([]RingMember, size)}
	var realPriv [32]byte
	for i := 0; i < size; i++ {
		priv, pub := mustKeypair(t)
		ring.Members[i].PubKey = pub
		if i == realIndex {
			realPriv = priv
		}
	}
	return ring, realPriv
}

func TestKeyImageDeterministic(t *testing.T) {
	priv, pub := mustKeypair(t)

	ki1, err := GenerateKeyImage(priv, pub)
	if err != nil {
		t.Fatalf("failed to generate key image: %v", err)
	}
	ki2, err := GenerateKeyImage(priv, pub)
	if err != nil {
		t.Fatalf("failed to generate key image: %v", err)
	}

	if ki1 != ki2 {
		t.Error("key image not deterministic")
	}
	if !ki1.Valid() {
		t.Error("key image not a valid compressed point")
	}

	otherPriv, otherPub := mustKeypair(t)
	ki3, err := GenerateKeyImage(otherPriv, otherPub)
	if err != nil {
		t.Fatalf("failed to generate key image: %v", err)
	}
	if ki1 == ki3 {
		t.Error("distinct keys produced the same key image")
	}
}

func TestKeyImageValid(t *testing.T) {
	var ki KeyImage
	if ki.Valid() {
		t.Error("zero key image accepted")
	}
	ki[0] = 0x05
	if ki.Valid() {
		t.Error("bad prefix accepted")
	}
}

func TestRingSignatureRoundTrip(t *testing.T) {
	message := [32]byte{1, 2, 3}

	for _, realIndex := range []int{0, 3, 7} {
		ring, priv := mustRing(t, 8, realIndex)

		sig, err := CreateRingSignature(message, ring, realIndex, priv)
		if err != nil {
			t.Fatalf("failed to sign at index %d: %v", realIndex, err)
		}
		if !VerifyRingSignature(message, sig) {
			t.Errorf("valid signature rejected (real index %d)", realIndex)
		}

		wrongMessage := message
		wrongMessage[0] ^= 1
		if VerifyRingSignature(wrongMessage, sig) {
			t.Error("signature verified for wrong message")
		}
	}
}

func TestRingSignatureRejectsTampering(t *testing.T) {
	message := [32]byte{9}
	ring, priv := mustRing(t, 4, 2)

	sig, err := CreateRingSignature(message, ring, 2, priv)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	tamperedS := *sig
	tamperedS.S = append([][32]byte(nil), sig.S...)
	tamperedS.S[1][0] ^= 1
	if VerifyRingSignature(message, &tamperedS) {
		t.Error("tampered response accepted")
	}

	tamperedC := *sig
	tamperedC.C0[0] ^= 1
	if VerifyRingSignature(message, &tamperedC) {
		t.Error("tampered challenge accepted")
	}

	// Substituting a different key image must fail.
	otherPriv, otherPub := mustKeypair(t)
	otherKI, err := GenerateKeyImage(otherPriv, otherPub)
	if err != nil {
		t.Fatalf("failed to generate key image: %v", err)
	}
	tamperedKI := *sig
	tamperedKI.KeyImage = otherKI
	if VerifyRingSignature(message, &tamperedKI) {
		t.Error("substituted key image accepted")
	}
}

func TestRingSignatureBadInputs(t *testing.T) {
	message := [32]byte{}
	ring, priv := mustRing(t, 3, 0)

	if _, err := CreateRingSignature(message, Ring{}, 0, priv); err == nil {
		t.Error("expected error for empty ring")
	}
	if _, err := CreateRingSignature(message, ring, 3, priv); err == nil {
		t.Error("expected error for out-of-range index")
	}
	if _, err := CreateRingSignature(message, ring, -1, priv); err == nil {
		t.Error("expected error for negative index")
	}
}

func TestMLSAGRoundTrip(t *testing.T) {
	message := [32]byte{0xAA}
	const inputs = 3
	const ringSize = 5
	const realIndex = 2

	rings := make([]Ring, inputs)
	privKeys := make([][32]byte, inputs)
	for j := 0; j < inputs; j++ {
		rings[j], privKeys[j] = mustRing(t, ringSize, realIndex)
	}

	sig, err := CreateMLSAGSignature(message, rings, realIndex, privKeys)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(sig.KeyImages) != inputs {
		t.Fatalf("key image count: got %d, want %d", len(sig.KeyImages), inputs)
	}
	if !VerifyMLSAGSignature(message, sig) {
		t.Fatal("valid MLSAG rejected")
	}

	wrongMessage := message
	wrongMessage[5] ^= 1
	if VerifyMLSAGSignature(wrongMessage, sig) {
		t.Error("MLSAG verified for wrong message")
	}

	tampered := *sig
	tampered.S = make([][][32]byte, inputs)
	for j := range sig.S {
		tampered.S[j] = append([][32]byte(nil), sig.S[j]...)
	}
	tampered.S[1][3][0] ^= 1
	if VerifyMLSAGSignature(message, &tampered) {
		t.Error("tampered MLSAG accepted")
	}
}

func TestMLSAGKeyImagesMatchSingleRing(t *testing.T) {
	// Each ring's key image must equal the standalone derivation for its
	// real member, so ledger entries agree regardless of signature shape.
	message := [32]byte{0x01}
	ring, priv := mustRing(t, 4, 1)

	sig, err := CreateMLSAGSignature(message, []Ring{ring}, 1, [][32]byte{priv})
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	expected, err := GenerateKeyImage(priv, ring.Members[1].PubKey)
	if err != nil {
		t.Fatalf("failed to generate key image: %v", err)
	}
	if sig.KeyImages[0] != expected {
		t.Error("MLSAG key image differs from standalone derivation")
	}
}

func TestMLSAGRejectsMismatchedRings(t *testing.T) {
	message := [32]byte{}
	ring3, priv3 := mustRing(t, 3, 0)
	ring4, _ := mustRing(t, 4, 0)

	if _, err := CreateMLSAGSignature(message, []Ring{ring3, ring4}, 0, [][32]byte{priv3, priv3}); err == nil {
		t.Error("expected error for mismatched ring sizes")
	}
	if _, err := CreateMLSAGSignature(message, []Ring{ring3}, 0, nil); err == nil {
		t.Error("expected error for missing keys")
	}
}
