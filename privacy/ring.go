package privacy

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Ring signatures prove that one of the ring's public keys signed without
// revealing which. The key image I = x*Hp(P) links two spends of the same
// output regardless of which rings they hide in.

var (
	// ErrInvalidRing is returned for rings with fewer than two members.
	ErrInvalidRing = errors.New("ring needs at least two members")

	// ErrBadRealIndex is returned when the signer index is outside the
	// ring.
	ErrBadRealIndex = errors.New("real index outside ring")
)

// KeyImage is the 33-byte compressed linkability point.
type KeyImage [33]byte

// Valid reports whether the key image is a well-formed compressed point.
func (ki KeyImage) Valid() bool {
	if ki[0] != 0x02 && ki[0] != 0x03 {
		return false
	}
	_, err := secp256k1.ParsePubKey(ki[:])
	return err == nil
}

// Hash returns the 32-byte identifier used for map keys and logs.
func (ki KeyImage) Hash() [32]byte {
	return sha256.Sum256(ki[:])
}

// OutPoint references an output by transaction hash and index.
type OutPoint struct {
	TxHash [32]byte
	Index  uint32
}

// RingMember is one candidate output in a ring.
type RingMember struct {
	OutPoint   OutPoint
	PubKey     [33]byte
	Commitment [33]byte
}

// Ring is an ordered set of candidate outputs, one real and the rest
// decoys.
type Ring struct {
	Members []RingMember
}

// Valid reports whether the ring can hide a spend at all.
func (r *Ring) Valid() bool {
	return len(r.Members) >= 2
}

// Size returns the ring size.
func (r *Ring) Size() int {
	return len(r.Members)
}

// hashToPointForKey maps a public key to its linkability base Hp(P).
func hashToPointForKey(pubKey [33]byte) ([33]byte, error) {
	return hashToPoint(ringDomain, "HashToPoint", pubKey[:])
}

// GenerateKeyImage computes I = x*Hp(P) for the output key pair.
func GenerateKeyImage(privKey [32]byte, pubKey [33]byte) (KeyImage, error) {
	hp, err := hashToPointForKey(pubKey)
	if err != nil {
		return KeyImage{}, err
	}
	point, err := scalarMultPoint(privKey, hp)
	if err != nil {
		return KeyImage{}, fmt.Errorf("failed to compute key image: %w", err)
	}
	return KeyImage(point), nil
}

// ===== Single-input ring signature =====

// RingSignature is a back-substitution ring signature over one ring.
type RingSignature struct {
	Ring     Ring
	KeyImage KeyImage
	C0       [32]byte
	S        [][32]byte
}

// Valid performs the structural checks required before verification.
func (sig *RingSignature) Valid() bool {
	return sig.Ring.Valid() && len(sig.S) == sig.Ring.Size() && sig.KeyImage.Valid()
}

// computeL returns L = s*G + c*P.
func computeL(s, c [32]byte, pubKey [33]byte) ([33]byte, error) {
	p, err := parsePoint(pubKey)
	if err != nil {
		return [33]byte{}, err
	}
	r := mulAndAdd(reduceToScalar(s), basePointJacobian(), reduceToScalar(c), p)
	return serializePoint(&r)
}

// computeR returns R = s*Hp(P) + c*I.
func computeR(s, c [32]byte, pubKey [33]byte, keyImage KeyImage) ([33]byte, error) {
	hp, err := hashToPointForKey(pubKey)
	if err != nil {
		return [33]byte{}, err
	}
	hpPoint, err := parsePoint(hp)
	if err != nil {
		return [33]byte{}, err
	}
	kiPoint, err := parsePoint([33]byte(keyImage))
	if err != nil {
		return [33]byte{}, err
	}
	r := mulAndAdd(reduceToScalar(s), hpPoint, reduceToScalar(c), kiPoint)
	return serializePoint(&r)
}

// ringChallenge chains the next challenge from the previous L,R pair.
func ringChallenge(message [32]byte, l, r [33]byte) [32]byte {
	return hashToScalar([]byte(ringDomain), []byte("Challenge"), message[:], l[:], r[:])
}

// CreateRingSignature signs message with the private key of the ring member
// at realIndex.
func CreateRingSignature(message [32]byte, ring Ring, realIndex int, privKey [32]byte) (*RingSignature, error) {
	if !ring.Valid() {
		return nil, ErrInvalidRing
	}
	n := ring.Size()
	if realIndex < 0 || realIndex >= n {
		return nil, ErrBadRealIndex
	}

	keyImage, err := GenerateKeyImage(privKey, ring.Members[realIndex].PubKey)
	if err != nil {
		return nil, err
	}

	sig := &RingSignature{
		Ring:     ring,
		KeyImage: keyImage,
		S:        make([][32]byte, n),
	}

	// Commit with a fresh nonce at the real position.
	alpha, err := randomScalar()
	if err != nil {
		return nil, err
	}
	lReal, err := scalarBaseMult(alpha)
	if err != nil {
		return nil, err
	}
	hpReal, err := hashToPointForKey(ring.Members[realIndex].PubKey)
	if err != nil {
		return nil, err
	}
	rReal, err := scalarMultPoint(alpha, hpReal)
	if err != nil {
		return nil, err
	}

	c := make([][32]byte, n)
	c[(realIndex+1)%n] = ringChallenge(message, lReal, rReal)

	// Walk the ring with random responses, propagating challenges.
	for offset := 1; offset < n; offset++ {
		i := (realIndex + offset) % n
		next := (i + 1) % n

		if sig.S[i], err = randomScalar(); err != nil {
			return nil, err
		}

		l, lerr := computeL(sig.S[i], c[i], ring.Members[i].PubKey)
		if lerr != nil {
			return nil, lerr
		}
		r, rerr := computeR(sig.S[i], c[i], ring.Members[i].PubKey, keyImage)
		if rerr != nil {
			return nil, rerr
		}

		if next != realIndex {
			c[next] = ringChallenge(message, l, r)
		} else {
			c[realIndex] = ringChallenge(message, l, r)
		}
	}

	// Close the ring: s = alpha - c*x.
	sig.S[realIndex] = scalarSub(alpha, scalarMul(c[realIndex], privKey))
	sig.C0 = c[0]
	return sig, nil
}

// VerifyRingSignature checks that the challenge chain closes.
func VerifyRingSignature(message [32]byte, sig *RingSignature) bool {
	if !sig.Valid() {
		return false
	}
	n := sig.Ring.Size()

	c := sig.C0
	var lastL, lastR [33]byte
	for i := 0; i < n; i++ {
		if _, err := parseScalar(sig.S[i]); err != nil {
			return false
		}

		l, err := computeL(sig.S[i], c, sig.Ring.Members[i].PubKey)
		if err != nil {
			return false
		}
		r, err := computeR(sig.S[i], c, sig.Ring.Members[i].PubKey, sig.KeyImage)
		if err != nil {
			return false
		}
		lastL, lastR = l, r
		if i < n-1 {
			c = ringChallenge(message, l, r)
		}
	}

	return ringChallenge(message, lastL, lastR) == sig.C0
}

// ===== MLSAG =====

// MLSAGSignature links m rings (one per input) under a single challenge
// chain, producing one key image per input. All rings share the ring size
// and the real column.
type MLSAGSignature struct {
	Rings     []Ring
	KeyImages []KeyImage
	C0        [32]byte
	S         [][][32]byte
}

// Valid performs structural checks: consistent ring count, uniform ring
// size, response matrix shape and well-formed key images.
func (sig *MLSAGSignature) Valid() bool {
	m := len(sig.Rings)
	if m == 0 || len(sig.KeyImages) != m || len(sig.S) != m {
		return false
	}
	n := sig.Rings[0].Size()
	for j := 0; j < m; j++ {
		if !sig.Rings[j].Valid() || sig.Rings[j].Size() != n || len(sig.S[j]) != n {
			return false
		}
		if !sig.KeyImages[j].Valid() {
			return false
		}
	}
	return true
}

// RingSize returns the shared ring size.
func (sig *MLSAGSignature) RingSize() int {
	if len(sig.Rings) == 0 {
		return 0
	}
	return sig.Rings[0].Size()
}

// mlsagChallenge hashes one column of L,R pairs across all rings.
func mlsagChallenge(message [32]byte, ls, rs [][33]byte) [32]byte {
	parts := make([][]byte, 0, 3+2*len(ls))
	parts = append(parts, []byte(ringDomain), []byte("MLSAGChallenge"), message[:])
	for j := range ls {
		parts = append(parts, ls[j][:], rs[j][:])
	}
	return hashToScalar(parts...)
}

// CreateMLSAGSignature signs message with one private key per ring, all
// sitting at the same real column.
func CreateMLSAGSignature(message [32]byte, rings []Ring, realIndex int, privKeys [][32]byte) (*MLSAGSignature, error) {
	m := len(rings)
	if m == 0 || len(privKeys) != m {
		return nil, errors.New("mismatched rings and keys")
	}
	n := rings[0].Size()
	for _, ring := range rings {
		if !ring.Valid() || ring.Size() != n {
			return nil, ErrInvalidRing
		}
	}
	if realIndex < 0 || realIndex >= n {
		return nil, ErrBadRealIndex
	}

	sig := &MLSAGSignature{
		Rings:     rings,
		KeyImages: make([]KeyImage, m),
		S:         make([][][32]byte, m),
	}

	alphas := make([][32]byte, m)
	colL := make([][33]byte, m)
	colR := make([][33]byte, m)
	for j := 0; j < m; j++ {
		ki, err := GenerateKeyImage(privKeys[j], rings[j].Members[realIndex].PubKey)
		if err != nil {
			return nil, err
		}
		sig.KeyImages[j] = ki
		sig.S[j] = make([][32]byte, n)

		if alphas[j], err = randomScalar(); err != nil {
			return nil, err
		}
		if colL[j], err = scalarBaseMult(alphas[j]); err != nil {
			return nil, err
		}
		hp, err := hashToPointForKey(rings[j].Members[realIndex].PubKey)
		if err != nil {
			return nil, err
		}
		if colR[j], err = scalarMultPoint(alphas[j], hp); err != nil {
			return nil, err
		}
	}

	c := make([][32]byte, n)
	c[(realIndex+1)%n] = mlsagChallenge(message, colL, colR)

	for offset := 1; offset < n; offset++ {
		i := (realIndex + offset) % n
		next := (i + 1) % n

		for j := 0; j < m; j++ {
			var err error
			if sig.S[j][i], err = randomScalar(); err != nil {
				return nil, err
			}
			if colL[j], err = computeL(sig.S[j][i], c[i], rings[j].Members[i].PubKey); err != nil {
				return nil, err
			}
			if colR[j], err = computeR(sig.S[j][i], c[i], rings[j].Members[i].PubKey, sig.KeyImages[j]); err != nil {
				return nil, err
			}
		}

		if next != realIndex {
			c[next] = mlsagChallenge(message, colL, colR)
		} else {
			c[realIndex] = mlsagChallenge(message, colL, colR)
		}
	}

	for j := 0; j < m; j++ {
		sig.S[j][realIndex] = scalarSub(alphas[j], scalarMul(c[realIndex], privKeys[j]))
	}
	sig.C0 = c[0]
	return sig, nil
}

// VerifyMLSAGSignature checks the linked challenge chain across all rings.
func VerifyMLSAGSignature(message [32]byte, sig *MLSAGSignature) bool {
	if !sig.Valid() {
		return false
	}
	m := len(sig.Rings)
	n := sig.RingSize()

	c := sig.C0
	colL := make([][33]byte, m)
	colR := make([][33]byte, m)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			if _, err := parseScalar(sig.S[j][i]); err != nil {
				return false
			}
			var err error
			if colL[j], err = computeL(sig.S[j][i], c, sig.Rings[j].Members[i].PubKey); err != nil {
				return false
			}
			if colR[j], err = computeR(sig.S[j][i], c, sig.Rings[j].Members[i].PubKey, sig.KeyImages[j]); err != nil {
				return false
			}
		}
		if i < n-1 {
			c = mlsagChallenge(message, colL, colR)
		}
	}

	return mlsagChallenge(message, colL, colR) == sig.C0
}

// MLSAGVerifier is the signature predicate the validator consumes. Supplied
// at engine construction so alternative verifiers (batch, hardware) can be
// swapped in.
type MLSAGVerifier interface {
	VerifyMLSAG(message [32]byte, sig *MLSAGSignature) bool
}

// StandardVerifier runs the in-process MLSAG verification.
type StandardVerifier struct{}

// VerifyMLSAG implements MLSAGVerifier.
func (StandardVerifier) VerifyMLSAG(message [32]byte, sig *MLSAGSignature) bool {
	return VerifyMLSAGSignature(message, sig)
}
