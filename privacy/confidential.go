package privacy

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Confidential amounts hide transaction values inside Pedersen commitments
// C = v*H + r*G while keeping them verifiable: commitments to a balanced
// transaction sum to the fee commitment, and range proofs pin every
// committed value into [0, 2^64).

var (
	// ErrCommitmentMismatch is returned when a commitment does not reopen
	// with the claimed amount and blinding.
	ErrCommitmentMismatch = errors.New("commitment does not match amount and blinding")

	// ErrNoBlindings is returned when blinding arithmetic is asked to
	// operate on empty input.
	ErrNoBlindings = errors.New("no blinding factors supplied")
)

// PedersenCommitment pairs the public commitment point with the secret
// opening. Only the Commitment field ever goes on the wire.
type PedersenCommitment struct {
	Commitment [33]byte
	Blinding   [32]byte
	Amount     uint64
}

// ===== Generators =====

// Generator derivation is try-and-increment hash-to-curve over fixed domain
// tags, so H, U and the per-bit vectors are nothing-up-my-sleeve and
// identical across implementations. The per-bit tables grow on demand:
// an aggregated range proof needs 64 pairs per padded output, each pair
// derived from its absolute index with the same tagged hash.

const rangeProofBits = 64

var (
	generatorOnce sync.Once
	generatorH    [33]byte
	generatorU    [33]byte
	generatorErr  error

	vectorMu sync.Mutex
	vectorG  [][33]byte
	vectorH  [][33]byte
)

func initGenerators() {
	generatorOnce.Do(func() {
		generatorH, generatorErr = hashToPoint(ctDomain, "GeneratorH")
		if generatorErr != nil {
			return
		}
		generatorU, generatorErr = hashToPoint(ctDomain, "GeneratorU")
		if generatorErr != nil {
			return
		}
		_, _, generatorErr = bitGenerators(rangeProofBits)
	})
}

// bitGenerators returns the first n per-bit generator pairs, deriving any
// missing tail under the table lock. The returned slices alias immutable
// backing entries and are safe to read concurrently.
func bitGenerators(n int) ([][33]byte, [][33]byte, error) {
	vectorMu.Lock()
	defer vectorMu.Unlock()

	var idx [4]byte
	for i := len(vectorG); i < n; i++ {
		binary.LittleEndian.PutUint32(idx[:], uint32(i))
		g, err := hashToPoint(ctDomain, "BulletproofG", idx[:])
		if err != nil {
			return nil, nil, err
		}
		h, err := hashToPoint(ctDomain, "BulletproofH", idx[:])
		if err != nil {
			return nil, nil, err
		}
		vectorG = append(vectorG, g)
		vectorH = append(vectorH, h)
	}
	return vectorG[:n:n], vectorH[:n:n], nil
}

// GeneratorH returns the value generator H.
func GeneratorH() ([33]byte, error) {
	initGenerators()
	return generatorH, generatorErr
}

// GeneratorU returns the inner-product generator U.
func GeneratorU() ([33]byte, error) {
	initGenerators()
	return generatorU, generatorErr
}

// amountScalar maps a uint64 amount onto a scalar.
func amountScalar(amount uint64) *secp256k1.ModNScalar {
	var b [32]byte
	binary.BigEndian.PutUint64(b[24:], amount)
	var s secp256k1.ModNScalar
	s.SetBytes(&b)
	return &s
}

// ===== Commitments =====

// CreateCommitment commits to amount with a fresh random blinding factor.
func CreateCommitment(amount uint64) (*PedersenCommitment, error) {
	blinding, err := randomScalar()
	if err != nil {
		return nil, err
	}
	return CreateCommitmentWithBlinding(amount, blinding)
}

// CreateCommitmentWithBlinding computes C = amount*H + blinding*G. A zero
// amount degrades to blinding*G.
func CreateCommitmentWithBlinding(amount uint64, blinding [32]byte) (*PedersenCommitment, error) {
	point, err := commitmentPoint(amount, blinding)
	if err != nil {
		return nil, err
	}
	return &PedersenCommitment{Commitment: point, Blinding: blinding, Amount: amount}, nil
}

func commitmentPoint(amount uint64, blinding [32]byte) ([33]byte, error) {
	if _, err := GeneratorH(); err != nil {
		return [33]byte{}, err
	}

	blindPoint, err := scalarBaseMult(blinding)
	if err != nil {
		return [33]byte{}, fmt.Errorf("failed to compute blinding term: %w", err)
	}
	if amount == 0 {
		return blindPoint, nil
	}

	amountPoint, err := scalarMultPoint(amountScalar(amount).Bytes(), generatorH)
	if err != nil {
		return [33]byte{}, fmt.Errorf("failed to compute amount term: %w", err)
	}
	return pointAdd(amountPoint, blindPoint)
}

// VerifyCommitment checks that commitment opens to (amount, blinding).
func VerifyCommitment(commitment [33]byte, amount uint64, blinding [32]byte) error {
	expected, err := commitmentPoint(amount, blinding)
	if err != nil {
		return err
	}
	if expected != commitment {
		return ErrCommitmentMismatch
	}
	return nil
}

// CommitmentAdd returns the homomorphic sum a+b.
func CommitmentAdd(a, b [33]byte) ([33]byte, error) {
	return pointAdd(a, b)
}

// CommitmentSub returns a-b.
func CommitmentSub(a, b [33]byte) ([33]byte, error) {
	return pointSub(a, b)
}

// BlindingAdd returns (a + b) mod n.
func BlindingAdd(a, b [32]byte) [32]byte {
	return scalarAdd(a, b)
}

// BlindingSub returns (a - b) mod n.
func BlindingSub(a, b [32]byte) [32]byte {
	return scalarSub(a, b)
}

// GenerateBlinding returns a fresh random blinding factor.
func GenerateBlinding() ([32]byte, error) {
	return randomScalar()
}

// DeriveOutputBlinding derives the deterministic blinding factor for an
// output from the ECDH shared secret. Both sender and recipient compute
// the same value, so the recipient can reopen the commitment and later
// spend the output without any extra wire data.
func DeriveOutputBlinding(sharedSecret [33]byte, outputIndex uint32) [32]byte {
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], outputIndex)
	return hashToScalar([]byte(ctDomain), []byte("Blinding"), sharedSecret[:], idx[:])
}

// VerifyBalance checks the homomorphic balance equation
//
//	sum(inputs) == sum(outputs) + fee*H
//
// by folding everything into one Jacobian accumulator and testing for the
// point at infinity. A one-unit discrepancy in any amount flips the result.
func VerifyBalance(inputCommitments, outputCommitments [][33]byte, fee uint64) (bool, error) {
	if _, err := GeneratorH(); err != nil {
		return false, err
	}
	if len(inputCommitments) == 0 {
		return false, errors.New("no input commitments")
	}

	var acc secp256k1.JacobianPoint
	for _, c := range inputCommitments {
		p, err := parsePoint(c)
		if err != nil {
			return false, err
		}
		var next secp256k1.JacobianPoint
		secp256k1.AddNonConst(&acc, p, &next)
		acc = next
	}

	subtract := func(p *secp256k1.JacobianPoint) {
		neg := *p
		neg.Y.Negate(1).Normalize()
		var next secp256k1.JacobianPoint
		secp256k1.AddNonConst(&acc, &neg, &next)
		acc = next
	}

	for _, c := range outputCommitments {
		p, err := parsePoint(c)
		if err != nil {
			return false, err
		}
		subtract(p)
	}

	if fee > 0 {
		hPoint, err := parsePoint(generatorH)
		if err != nil {
			return false, err
		}
		var feePoint secp256k1.JacobianPoint
		secp256k1.ScalarMultNonConst(amountScalar(fee), hPoint, &feePoint)
		subtract(&feePoint)
	}

	return isInfinity(&acc), nil
}

// ComputeBalancingBlindingFactor returns the blinding factor the final
// output must use so that sum(inputBlinds) == sum(outputBlinds): the sum of
// the input blindings minus the blindings already assigned to other outputs.
func ComputeBalancingBlindingFactor(inputBlinds, outputBlinds [][32]byte) ([32]byte, error) {
	if len(inputBlinds) == 0 {
		return [32]byte{}, ErrNoBlindings
	}

	var sum [32]byte
	for _, b := range inputBlinds {
		sum = scalarAdd(sum, b)
	}
	for _, b := range outputBlinds {
		sum = scalarSub(sum, b)
	}
	return sum, nil
}

// ===== Amount encryption =====

// amountMask derives the XOR pad for amount encryption from the ECDH
// shared secret.
func amountMask(sharedSecret [33]byte) [8]byte {
	h := sha256.New()
	h.Write([]byte(ctDomain))
	h.Write([]byte("AmountEncrypt"))
	h.Write(sharedSecret[:])
	var digest [32]byte
	h.Sum(digest[:0])

	var mask [8]byte
	copy(mask[:], digest[:8])
	return mask
}

// EncryptAmount hides the explicit amount under the shared secret so the
// recipient's wallet can show plaintext values. Orthogonal to the
// commitment: consensus never reads this field.
func EncryptAmount(amount uint64, sharedSecret [33]byte) [8]byte {
	mask := amountMask(sharedSecret)
	var out [8]byte
	binary.LittleEndian.PutUint64(out[:], amount)
	for i := range out {
		out[i] ^= mask[i]
	}
	return out
}

// DecryptAmount reverses EncryptAmount.
func DecryptAmount(encrypted [8]byte, sharedSecret [33]byte) uint64 {
	mask := amountMask(sharedSecret)
	var plain [8]byte
	for i := range plain {
		plain[i] = encrypted[i] ^ mask[i]
	}
	return binary.LittleEndian.Uint64(plain[:])
}
