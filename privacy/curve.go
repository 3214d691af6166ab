package privacy

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Domain separators for the three hash namespaces used by the privacy layer.
// These are consensus constants: changing any of them forks the chain.
const (
	stealthDomain = "WATTx_Stealth_v1"
	ctDomain      = "WATTx_Confidential_v1"
	ringDomain    = "WATTx_Ring_v1"
)

var (
	// ErrInvalidPoint is returned when bytes do not decode to a curve point.
	ErrInvalidPoint = errors.New("invalid curve point")

	// ErrInvalidScalar is returned when bytes are not a canonical non-zero
	// scalar modulo the group order.
	ErrInvalidScalar = errors.New("invalid scalar")
)

// ===== Scalars =====

// randomScalar returns a uniformly random non-zero scalar.
func randomScalar() ([32]byte, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to generate scalar: %w", err)
	}
	var out [32]byte
	copy(out[:], priv.Serialize())
	return out, nil
}

// parseScalar decodes a canonical non-zero scalar. Out-of-range or zero
// values are rejected; use reduceToScalar for hash outputs.
func parseScalar(b [32]byte) (*secp256k1.ModNScalar, error) {
	var s secp256k1.ModNScalar
	if overflow := s.SetBytes(&b); overflow != 0 {
		return nil, ErrInvalidScalar
	}
	if s.IsZero() {
		return nil, ErrInvalidScalar
	}
	return &s, nil
}

// reduceToScalar interprets 32 bytes as a big-endian integer reduced modulo
// the group order. Used for hash-derived scalars where reduction is the
// defined behavior.
func reduceToScalar(b [32]byte) *secp256k1.ModNScalar {
	var s secp256k1.ModNScalar
	s.SetBytes(&b)
	return &s
}

// hashToScalar hashes the given parts with SHA-256 and reduces the digest
// modulo the group order.
func hashToScalar(parts ...[]byte) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var digest [32]byte
	h.Sum(digest[:0])
	s := reduceToScalar(digest)
	return s.Bytes()
}

// scalarAdd returns (a + b) mod n.
func scalarAdd(a, b [32]byte) [32]byte {
	sa := reduceToScalar(a)
	sb := reduceToScalar(b)
	sa.Add(sb)
	return sa.Bytes()
}

// scalarSub returns (a - b) mod n.
func scalarSub(a, b [32]byte) [32]byte {
	sa := reduceToScalar(a)
	sb := reduceToScalar(b)
	sb.Negate()
	sa.Add(sb)
	return sa.Bytes()
}

// scalarMul returns (a * b) mod n.
func scalarMul(a, b [32]byte) [32]byte {
	sa := reduceToScalar(a)
	sb := reduceToScalar(b)
	sa.Mul(sb)
	return sa.Bytes()
}

// scalarNegate returns (-a) mod n.
func scalarNegate(a [32]byte) [32]byte {
	sa := reduceToScalar(a)
	sa.Negate()
	return sa.Bytes()
}

// scalarIsZero reports whether a is congruent to zero mod n.
func scalarIsZero(a [32]byte) bool {
	return reduceToScalar(a).IsZero()
}

// ===== Points =====

// parsePoint decodes a 33-byte compressed point into Jacobian coordinates.
func parsePoint(b [33]byte) (*secp256k1.JacobianPoint, error) {
	pub, err := secp256k1.ParsePubKey(b[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	var p secp256k1.JacobianPoint
	pub.AsJacobian(&p)
	return &p, nil
}

// serializePoint returns the 33-byte compressed encoding of a Jacobian
// point. The point must not be the point at infinity.
func serializePoint(p *secp256k1.JacobianPoint) ([33]byte, error) {
	var out [33]byte
	if isInfinity(p) {
		return out, ErrInvalidPoint
	}
	cp := *p
	cp.ToAffine()
	pub := secp256k1.NewPublicKey(&cp.X, &cp.Y)
	copy(out[:], pub.SerializeCompressed())
	return out, nil
}

// isInfinity reports whether p is the point at infinity.
func isInfinity(p *secp256k1.JacobianPoint) bool {
	return p.Z.IsZero() || (p.X.IsZero() && p.Y.IsZero())
}

// scalarBaseMult returns k*G compressed.
func scalarBaseMult(k [32]byte) ([33]byte, error) {
	s := reduceToScalar(k)
	if s.IsZero() {
		return [33]byte{}, ErrInvalidScalar
	}
	var p secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(s, &p)
	return serializePoint(&p)
}

// scalarMultPoint returns k*P compressed.
func scalarMultPoint(k [32]byte, point [33]byte) ([33]byte, error) {
	s := reduceToScalar(k)
	if s.IsZero() {
		return [33]byte{}, ErrInvalidScalar
	}
	p, err := parsePoint(point)
	if err != nil {
		return [33]byte{}, err
	}
	var r secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(s, p, &r)
	return serializePoint(&r)
}

// pointAdd returns a+b compressed. Fails if the sum is the point at
// infinity, which callers treat as a hard cryptographic failure.
func pointAdd(a, b [33]byte) ([33]byte, error) {
	pa, err := parsePoint(a)
	if err != nil {
		return [33]byte{}, err
	}
	pb, err := parsePoint(b)
	if err != nil {
		return [33]byte{}, err
	}
	var r secp256k1.JacobianPoint
	secp256k1.AddNonConst(pa, pb, &r)
	return serializePoint(&r)
}

// pointNegate returns -P compressed.
func pointNegate(a [33]byte) ([33]byte, error) {
	p, err := parsePoint(a)
	if err != nil {
		return [33]byte{}, err
	}
	p.Y.Negate(1).Normalize()
	return serializePoint(p)
}

// pointSub returns a-b compressed.
func pointSub(a, b [33]byte) ([33]byte, error) {
	nb, err := pointNegate(b)
	if err != nil {
		return [33]byte{}, err
	}
	return pointAdd(a, nb)
}

// mulAndAdd returns s1*P1 + s2*P2 in Jacobian form without serializing the
// intermediate values. Either term may evaluate to infinity; only the final
// combination is checked by callers.
func mulAndAdd(s1 *secp256k1.ModNScalar, p1 *secp256k1.JacobianPoint,
	s2 *secp256k1.ModNScalar, p2 *secp256k1.JacobianPoint) secp256k1.JacobianPoint {
	var a, b, r secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(s1, p1, &a)
	secp256k1.ScalarMultNonConst(s2, p2, &b)
	secp256k1.AddNonConst(&a, &b, &r)
	return r
}

// basePointJacobian returns G in Jacobian form.
func basePointJacobian() *secp256k1.JacobianPoint {
	var one secp256k1.ModNScalar
	one.SetInt(1)
	var g secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&one, &g)
	return &g
}

// ===== Hash-to-point =====

// hashToPoint maps arbitrary input to a curve point using try-and-increment:
// hash the input with an attempt counter, use the digest as a compressed
// x coordinate with the prefix parity taken from the digest, and retry until
// the candidate decodes. Deterministic for fixed input.
func hashToPoint(domain, tag string, parts ...[]byte) ([33]byte, error) {
	var counterBytes [4]byte
	for counter := 0; counter < 256; counter++ {
		binary.LittleEndian.PutUint32(counterBytes[:], uint32(counter))

		h := sha256.New()
		h.Write([]byte(domain))
		h.Write([]byte(tag))
		for _, p := range parts {
			h.Write(p)
		}
		h.Write(counterBytes[:])
		var digest [32]byte
		h.Sum(digest[:0])

		var candidate [33]byte
		candidate[0] = 0x02 | (digest[0] & 1)
		copy(candidate[1:], digest[:])

		if _, err := secp256k1.ParsePubKey(candidate[:]); err == nil {
			return candidate, nil
		}
	}
	return [33]byte{}, fmt.Errorf("hash-to-point: no candidate found for tag %q", tag)
}
