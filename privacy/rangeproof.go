package privacy

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Range proofs pin committed amounts into [0, 2^64). The proof commits to
// the bit decomposition of every amount (A, S), opens the consistency
// polynomial (T1, T2, tauX, mu, tHat) against the delta(y,z) correction,
// and compresses the bit vectors with a log-round inner-product argument,
// so the verifier checks both that the polynomial balances against the
// commitments and that A and S really encode the claimed bits. The
// aggregated form pads the output count to a power of two and proves all
// bit vectors at once; proof size grows logarithmically with the count.

const (
	rangeProofVersionSingle     = 0x01
	rangeProofVersionAggregated = 0x02

	// 4 points + 3 scalars for the polynomial opening.
	rangeProofBodySize = 4*33 + 3*32

	// maxAggregatedOutputs bounds the count byte of an aggregated proof.
	maxAggregatedOutputs = 255

	// maxProofBits bounds the per-bit generator tables: 64 bits per
	// padded output, output count padded up to 256.
	maxProofBits = rangeProofBits * 256
)

var (
	// ErrMalformedRangeProof is returned when a proof blob has the wrong
	// version byte or length.
	ErrMalformedRangeProof = errors.New("malformed range proof")
)

// rangeProofBody is the deserialized fixed-size proof body.
type rangeProofBody struct {
	A    [33]byte
	S    [33]byte
	T1   [33]byte
	T2   [33]byte
	TauX [32]byte
	Mu   [32]byte
	THat [32]byte
}

func (b *rangeProofBody) append(out []byte) []byte {
	out = append(out, b.A[:]...)
	out = append(out, b.S[:]...)
	out = append(out, b.T1[:]...)
	out = append(out, b.T2[:]...)
	out = append(out, b.TauX[:]...)
	out = append(out, b.Mu[:]...)
	out = append(out, b.THat[:]...)
	return out
}

func parseRangeProofBody(raw []byte) (*rangeProofBody, error) {
	if len(raw) != rangeProofBodySize {
		return nil, ErrMalformedRangeProof
	}
	body := &rangeProofBody{}
	copy(body.A[:], raw[0:33])
	copy(body.S[:], raw[33:66])
	copy(body.T1[:], raw[66:99])
	copy(body.T2[:], raw[99:132])
	copy(body.TauX[:], raw[132:164])
	copy(body.Mu[:], raw[164:196])
	copy(body.THat[:], raw[196:228])
	return body, nil
}

// challengeScalar derives a Fiat-Shamir challenge from the running
// transcript.
func challengeScalar(label string, transcript []byte) [32]byte {
	return hashToScalar([]byte(ctDomain), []byte(label), transcript)
}

func scalarOne() [32]byte {
	var s [32]byte
	s[31] = 1
	return s
}

// powersOf returns [1, base, base^2, ..., base^(n-1)].
func powersOf(base [32]byte, n int) [][32]byte {
	out := make([][32]byte, n)
	p := scalarOne()
	for i := 0; i < n; i++ {
		out[i] = p
		p = scalarMul(p, base)
	}
	return out
}

func twoPowerScalars() [rangeProofBits][32]byte {
	var out [rangeProofBits][32]byte
	for k := 0; k < rangeProofBits; k++ {
		out[k] = amountScalar(uint64(1) << uint(k)).Bytes()
	}
	return out
}

func nextPowerOfTwo(m int) int {
	p := 1
	for p < m {
		p <<= 1
	}
	return p
}

// proofRounds returns the inner-product folding depth for a proof over
// the given output count.
func proofRounds(outputs int) int {
	n := nextPowerOfTwo(outputs) * rangeProofBits
	rounds := 0
	for size := n; size > 1; size >>= 1 {
		rounds++
	}
	return rounds
}

func ipaSize(rounds int) int {
	return 1 + 2*33*rounds + 2*32
}

func appendInnerProduct(out []byte, p *InnerProductProof) []byte {
	out = append(out, byte(len(p.L)))
	for i := range p.L {
		out = append(out, p.L[i][:]...)
	}
	for i := range p.R {
		out = append(out, p.R[i][:]...)
	}
	out = append(out, p.A[:]...)
	out = append(out, p.B[:]...)
	return out
}

func parseInnerProduct(raw []byte, rounds int) (*InnerProductProof, error) {
	if len(raw) != ipaSize(rounds) || int(raw[0]) != rounds {
		return nil, ErrMalformedRangeProof
	}
	proof := &InnerProductProof{
		L: make([][33]byte, rounds),
		R: make([][33]byte, rounds),
	}
	off := 1
	for i := 0; i < rounds; i++ {
		copy(proof.L[i][:], raw[off:off+33])
		off += 33
	}
	for i := 0; i < rounds; i++ {
		copy(proof.R[i][:], raw[off:off+33])
		off += 33
	}
	copy(proof.A[:], raw[off:off+32])
	copy(proof.B[:], raw[off+32:off+64])
	return proof, nil
}

// proveBulletproof runs the full proving core over the claimed openings.
// The caller has already checked that every commitment reopens.
func proveBulletproof(amounts []uint64, blindings [][32]byte, commitments [][33]byte) (*rangeProofBody, *InnerProductProof, error) {
	m := len(amounts)
	mPad := nextPowerOfTwo(m)
	n := mPad * rangeProofBits

	if _, err := GeneratorH(); err != nil {
		return nil, nil, err
	}
	gVec, hVec, err := bitGenerators(n)
	if err != nil {
		return nil, nil, err
	}
	gs, err := parsePoints(gVec)
	if err != nil {
		return nil, nil, err
	}
	hs, err := parsePoints(hVec)
	if err != nil {
		return nil, nil, err
	}
	hPoint, err := parsePoint(generatorH)
	if err != nil {
		return nil, nil, err
	}

	// Bit decomposition across all outputs; padded outputs contribute
	// zero bits and zero blinding.
	one := scalarOne()
	aL := make([][32]byte, n)
	aR := make([][32]byte, n)
	for j := 0; j < m; j++ {
		for i := 0; i < rangeProofBits; i++ {
			if (amounts[j]>>uint(i))&1 == 1 {
				aL[j*rangeProofBits+i] = one
			}
		}
	}
	for i := range aR {
		aR[i] = scalarSub(aL[i], one)
	}

	// A = alpha*G + <aL,Gi> + <aR,Hi>
	alpha, err := randomScalar()
	if err != nil {
		return nil, nil, err
	}
	var accA secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(reduceToScalar(alpha), &accA)
	for i := 0; i < n; i++ {
		var next secp256k1.JacobianPoint
		if aL[i] == one {
			secp256k1.AddNonConst(&accA, gs[i], &next)
		} else {
			// aR[i] = -1: subtract Hi.
			neg := *hs[i]
			neg.Y.Negate(1).Normalize()
			secp256k1.AddNonConst(&accA, &neg, &next)
		}
		accA = next
	}
	aBytes, err := serializePoint(&accA)
	if err != nil {
		return nil, nil, err
	}

	// S = rho*G + <sL,Gi> + <sR,Hi>
	rho, err := randomScalar()
	if err != nil {
		return nil, nil, err
	}
	sL := make([][32]byte, n)
	sR := make([][32]byte, n)
	for i := 0; i < n; i++ {
		if sL[i], err = randomScalar(); err != nil {
			return nil, nil, err
		}
		if sR[i], err = randomScalar(); err != nil {
			return nil, nil, err
		}
	}
	var accS secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(reduceToScalar(rho), &accS)
	sTerm := multiScalarMul(sL, gs)
	var tmp secp256k1.JacobianPoint
	secp256k1.AddNonConst(&accS, &sTerm, &tmp)
	sTerm = multiScalarMul(sR, hs)
	secp256k1.AddNonConst(&tmp, &sTerm, &accS)
	sBytes, err := serializePoint(&accS)
	if err != nil {
		return nil, nil, err
	}

	transcript := make([]byte, 0, (m+4)*33+4*32)
	for j := range commitments {
		transcript = append(transcript, commitments[j][:]...)
	}
	transcript = append(transcript, aBytes[:]...)
	transcript = append(transcript, sBytes[:]...)
	y := challengeScalar("y", transcript)
	transcript = append(transcript, y[:]...)
	z := challengeScalar("z", transcript)

	yPow := powersOf(y, n)
	two := twoPowerScalars()
	zz := scalarMul(z, z)
	zOut := powersOf(z, mPad)
	for j := range zOut {
		zOut[j] = scalarMul(zOut[j], zz) // z^(2+j)
	}

	// l(X) = (aL - z*1) + sL*X
	// r(X) = y^i o (aR + z*1 + sR*X) + z^(2+j)*2^(i mod 64)
	l0 := make([][32]byte, n)
	r0 := make([][32]byte, n)
	r1 := make([][32]byte, n)
	for i := 0; i < n; i++ {
		l0[i] = scalarSub(aL[i], z)
		base := scalarMul(yPow[i], scalarAdd(aR[i], z))
		r0[i] = scalarAdd(base, scalarMul(zOut[i/rangeProofBits], two[i%rangeProofBits]))
		r1[i] = scalarMul(yPow[i], sR[i])
	}
	l1 := sL

	t1 := scalarAdd(innerProduct(l0, r1), innerProduct(l1, r0))
	t2 := innerProduct(l1, r1)

	// T1 = t1*H + tau1*G, T2 = t2*H + tau2*G
	tau1, err := randomScalar()
	if err != nil {
		return nil, nil, err
	}
	tau2, err := randomScalar()
	if err != nil {
		return nil, nil, err
	}
	t1Acc := mulAndAdd(reduceToScalar(t1), hPoint, reduceToScalar(tau1), basePointJacobian())
	t1Bytes, err := serializePoint(&t1Acc)
	if err != nil {
		return nil, nil, err
	}
	t2Acc := mulAndAdd(reduceToScalar(t2), hPoint, reduceToScalar(tau2), basePointJacobian())
	t2Bytes, err := serializePoint(&t2Acc)
	if err != nil {
		return nil, nil, err
	}

	transcript = append(transcript, t1Bytes[:]...)
	transcript = append(transcript, t2Bytes[:]...)
	x := challengeScalar("x", transcript)
	x2 := scalarMul(x, x)

	// tauX = tau1*x + tau2*x^2 + sum(z^(2+j) * gamma_j)
	tauX := scalarAdd(scalarMul(tau1, x), scalarMul(tau2, x2))
	for j := 0; j < m; j++ {
		tauX = scalarAdd(tauX, scalarMul(zOut[j], blindings[j]))
	}
	mu := scalarAdd(alpha, scalarMul(rho, x))

	lVec := make([][32]byte, n)
	rVec := make([][32]byte, n)
	for i := 0; i < n; i++ {
		lVec[i] = scalarAdd(l0[i], scalarMul(x, l1[i]))
		rVec[i] = scalarAdd(r0[i], scalarMul(x, r1[i]))
	}
	tHat := innerProduct(lVec, rVec)

	// The inner-product argument runs over Gi and Hi' = y^-i * Hi with
	// the binding generator w*U, tying A, S and mu to the opening.
	transcript = append(transcript, tauX[:]...)
	transcript = append(transcript, mu[:]...)
	transcript = append(transcript, tHat[:]...)
	w := challengeScalar("w", transcript)
	uPrime, err := scalarMultPoint(w, generatorU)
	if err != nil {
		return nil, nil, err
	}

	yInv, err := scalarInverse(y)
	if err != nil {
		return nil, nil, err
	}
	yInvPow := powersOf(yInv, n)
	hPrime := make([][33]byte, n)
	for i := 0; i < n; i++ {
		var p secp256k1.JacobianPoint
		secp256k1.ScalarMultNonConst(reduceToScalar(yInvPow[i]), hs[i], &p)
		if hPrime[i], err = serializePoint(&p); err != nil {
			return nil, nil, err
		}
	}

	ipa, err := CreateInnerProductProof(gVec, hPrime, uPrime, lVec, rVec)
	if err != nil {
		return nil, nil, err
	}

	body := &rangeProofBody{
		A:    aBytes,
		S:    sBytes,
		T1:   t1Bytes,
		T2:   t2Bytes,
		TauX: tauX,
		Mu:   mu,
		THat: tHat,
	}
	return body, ipa, nil
}

// verifyBulletproof checks both halves of the proof: the polynomial
// consistency equation
//
//	tHat*H + tauX*G == sum(z^(2+j)*V_j) + delta(y,z)*H + x*T1 + x^2*T2
//
// and the inner-product opening of A and S, which forces tHat to be the
// inner product of honestly decomposed bit vectors.
func verifyBulletproof(commitments [][33]byte, body *rangeProofBody, ipa *InnerProductProof) bool {
	m := len(commitments)
	if m == 0 || m > maxAggregatedOutputs {
		return false
	}
	mPad := nextPowerOfTwo(m)
	n := mPad * rangeProofBits
	if len(ipa.L) != proofRounds(m) || len(ipa.R) != len(ipa.L) {
		return false
	}

	if _, err := GeneratorH(); err != nil {
		return false
	}
	gVec, hVec, err := bitGenerators(n)
	if err != nil {
		return false
	}
	gs, err := parsePoints(gVec)
	if err != nil {
		return false
	}
	hs, err := parsePoints(hVec)
	if err != nil {
		return false
	}
	hPoint, err := parsePoint(generatorH)
	if err != nil {
		return false
	}
	aPoint, err := parsePoint(body.A)
	if err != nil {
		return false
	}
	sPoint, err := parsePoint(body.S)
	if err != nil {
		return false
	}
	t1Point, err := parsePoint(body.T1)
	if err != nil {
		return false
	}
	t2Point, err := parsePoint(body.T2)
	if err != nil {
		return false
	}

	transcript := make([]byte, 0, (m+4)*33+4*32)
	for j := range commitments {
		transcript = append(transcript, commitments[j][:]...)
	}
	transcript = append(transcript, body.A[:]...)
	transcript = append(transcript, body.S[:]...)
	y := challengeScalar("y", transcript)
	transcript = append(transcript, y[:]...)
	z := challengeScalar("z", transcript)
	transcript = append(transcript, body.T1[:]...)
	transcript = append(transcript, body.T2[:]...)
	x := challengeScalar("x", transcript)
	transcript = append(transcript, body.TauX[:]...)
	transcript = append(transcript, body.Mu[:]...)
	transcript = append(transcript, body.THat[:]...)
	w := challengeScalar("w", transcript)

	yPow := powersOf(y, n)
	yInv, err := scalarInverse(y)
	if err != nil {
		return false
	}
	yInvPow := powersOf(yInv, n)
	two := twoPowerScalars()
	zz := scalarMul(z, z)
	zOut := powersOf(z, mPad)
	for j := range zOut {
		zOut[j] = scalarMul(zOut[j], zz)
	}

	// delta(y,z) = (z - z^2)*<1,y^n> - sum(z^(3+j)) * (2^64 - 1)
	var sumY [32]byte
	for i := 0; i < n; i++ {
		sumY = scalarAdd(sumY, yPow[i])
	}
	delta := scalarMul(scalarSub(z, zz), sumY)
	maxVal := amountScalar(^uint64(0)).Bytes()
	for j := 0; j < mPad; j++ {
		delta = scalarSub(delta, scalarMul(scalarMul(zOut[j], z), maxVal))
	}

	// Consistency equation, folded into one accumulator.
	lhs := mulAndAdd(reduceToScalar(body.THat), hPoint, reduceToScalar(body.TauX), basePointJacobian())
	rhs := mulAndAdd(reduceToScalar(x), t1Point, reduceToScalar(scalarMul(x, x)), t2Point)
	var deltaH secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(reduceToScalar(delta), hPoint, &deltaH)
	var next secp256k1.JacobianPoint
	secp256k1.AddNonConst(&rhs, &deltaH, &next)
	rhs = next
	for j := 0; j < m; j++ {
		v, perr := parsePoint(commitments[j])
		if perr != nil {
			return false
		}
		var term secp256k1.JacobianPoint
		secp256k1.ScalarMultNonConst(reduceToScalar(zOut[j]), v, &term)
		secp256k1.AddNonConst(&rhs, &term, &next)
		rhs = next
	}
	rhs.ToAffine()
	rhs.Y.Negate(1).Normalize()
	var diff secp256k1.JacobianPoint
	secp256k1.AddNonConst(&lhs, &rhs, &diff)
	if !isInfinity(&diff) {
		return false
	}

	// Recover the inner-product commitment
	//
	//	P = A + x*S - z*<1,Gi> + <c,Hi> - mu*G + (w*tHat)*U
	//
	// with c_i = z + z^(2+j)*2^(i mod 64)*y^-i, then verify the folding
	// argument over Gi / Hi' = y^-i*Hi.
	var xS secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(reduceToScalar(x), sPoint, &xS)
	var acc secp256k1.JacobianPoint
	secp256k1.AddNonConst(aPoint, &xS, &acc)

	var sumG secp256k1.JacobianPoint
	for i := 0; i < n; i++ {
		secp256k1.AddNonConst(&sumG, gs[i], &next)
		sumG = next
	}
	var zG secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(reduceToScalar(scalarNegate(z)), &sumG, &zG)
	secp256k1.AddNonConst(&acc, &zG, &next)
	acc = next

	cs := make([][32]byte, n)
	for i := 0; i < n; i++ {
		cs[i] = scalarAdd(z, scalarMul(scalarMul(zOut[i/rangeProofBits], two[i%rangeProofBits]), yInvPow[i]))
	}
	hTerm := multiScalarMul(cs, hs)
	secp256k1.AddNonConst(&acc, &hTerm, &next)
	acc = next

	var muG secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(reduceToScalar(scalarNegate(body.Mu)), &muG)
	secp256k1.AddNonConst(&acc, &muG, &next)
	acc = next

	uPoint, err := parsePoint(generatorU)
	if err != nil {
		return false
	}
	var uTerm secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(reduceToScalar(scalarMul(w, body.THat)), uPoint, &uTerm)
	secp256k1.AddNonConst(&acc, &uTerm, &next)
	acc = next

	pBytes, err := serializePoint(&acc)
	if err != nil {
		return false
	}

	uPrime, err := scalarMultPoint(w, generatorU)
	if err != nil {
		return false
	}
	hPrime := make([][33]byte, n)
	for i := 0; i < n; i++ {
		var p secp256k1.JacobianPoint
		secp256k1.ScalarMultNonConst(reduceToScalar(yInvPow[i]), hs[i], &p)
		if hPrime[i], err = serializePoint(&p); err != nil {
			return false
		}
	}

	return VerifyInnerProductProof(gVec, hPrime, uPrime, pBytes, ipa)
}

// CreateRangeProof proves that the commitment to (amount, blinding) hides a
// value in [0, 2^64).
func CreateRangeProof(amount uint64, blinding [32]byte, commitment [33]byte) ([]byte, error) {
	body, ipa, err := proveBulletproof([]uint64{amount}, [][32]byte{blinding}, [][33]byte{commitment})
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+rangeProofBodySize+ipaSize(proofRounds(1)))
	out = append(out, rangeProofVersionSingle)
	out = body.append(out)
	return appendInnerProduct(out, ipa), nil
}

// VerifyRangeProof verifies a single-output range proof against its
// commitment.
func VerifyRangeProof(commitment [33]byte, proof []byte) bool {
	rounds := proofRounds(1)
	if len(proof) != 1+rangeProofBodySize+ipaSize(rounds) || proof[0] != rangeProofVersionSingle {
		return false
	}
	body, err := parseRangeProofBody(proof[1 : 1+rangeProofBodySize])
	if err != nil {
		return false
	}
	ipa, err := parseInnerProduct(proof[1+rangeProofBodySize:], rounds)
	if err != nil {
		return false
	}
	return verifyBulletproof([][33]byte{commitment}, body, ipa)
}

// CreateAggregatedRangeProof proves all commitments hide values in
// [0, 2^64) with one proof whose size grows with the logarithm of the
// output count.
func CreateAggregatedRangeProof(amounts []uint64, blindings [][32]byte, commitments [][33]byte) ([]byte, error) {
	n := len(amounts)
	if n == 0 || n != len(blindings) || n != len(commitments) {
		return nil, errors.New("mismatched aggregation inputs")
	}
	if n > maxAggregatedOutputs {
		return nil, fmt.Errorf("too many outputs to aggregate: %d", n)
	}
	for j := range amounts {
		if err := VerifyCommitment(commitments[j], amounts[j], blindings[j]); err != nil {
			return nil, err
		}
	}

	body, ipa, err := proveBulletproof(amounts, blindings, commitments)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 2+rangeProofBodySize+ipaSize(proofRounds(n)))
	out = append(out, rangeProofVersionAggregated, byte(n))
	out = body.append(out)
	return appendInnerProduct(out, ipa), nil
}

// VerifyAggregatedRangeProof verifies an aggregated proof against the
// ordered commitment list.
func VerifyAggregatedRangeProof(commitments [][33]byte, proof []byte) bool {
	if len(proof) < 2 || proof[0] != rangeProofVersionAggregated {
		return false
	}
	n := int(proof[1])
	if n == 0 || n != len(commitments) {
		return false
	}
	rounds := proofRounds(n)
	if len(proof) != 2+rangeProofBodySize+ipaSize(rounds) {
		return false
	}
	body, err := parseRangeProofBody(proof[2 : 2+rangeProofBodySize])
	if err != nil {
		return false
	}
	ipa, err := parseInnerProduct(proof[2+rangeProofBodySize:], rounds)
	if err != nil {
		return false
	}
	return verifyBulletproof(commitments, body, ipa)
}

// ===== Inner-product argument =====

// InnerProductProof is a log-round folding argument that <a,b> opens the
// point P = <a,G> + <b,H> + <a,b>*U. It is the compression component for
// vector commitments over the Gi/Hi/U generators.
type InnerProductProof struct {
	L [][33]byte
	R [][33]byte
	A [32]byte
	B [32]byte
}

// multiScalarMul returns sum(scalars[i] * points[i]).
func multiScalarMul(scalars [][32]byte, points []*secp256k1.JacobianPoint) secp256k1.JacobianPoint {
	var acc secp256k1.JacobianPoint
	for i := range scalars {
		var term, next secp256k1.JacobianPoint
		secp256k1.ScalarMultNonConst(reduceToScalar(scalars[i]), points[i], &term)
		secp256k1.AddNonConst(&acc, &term, &next)
		acc = next
	}
	return acc
}

func parsePoints(compressed [][33]byte) ([]*secp256k1.JacobianPoint, error) {
	out := make([]*secp256k1.JacobianPoint, len(compressed))
	for i := range compressed {
		p, err := parsePoint(compressed[i])
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func innerProduct(a, b [][32]byte) [32]byte {
	var sum [32]byte
	for i := range a {
		sum = scalarAdd(sum, scalarMul(a[i], b[i]))
	}
	return sum
}

// ipaChallenge derives the round challenge and appends L,R to the
// transcript.
func ipaChallenge(transcript *[]byte, l, r [33]byte) [32]byte {
	*transcript = append(*transcript, l[:]...)
	*transcript = append(*transcript, r[:]...)
	return challengeScalar("IPA_x", *transcript)
}

// scalarInverse returns a^-1 mod n. a must be non-zero.
func scalarInverse(a [32]byte) ([32]byte, error) {
	s := reduceToScalar(a)
	if s.IsZero() {
		return [32]byte{}, ErrInvalidScalar
	}
	s.InverseNonConst()
	return s.Bytes(), nil
}

// foldPoints returns xa*pa + xb*pb for each index.
func foldPoints(xa [32]byte, pa []*secp256k1.JacobianPoint, xb [32]byte, pb []*secp256k1.JacobianPoint) []*secp256k1.JacobianPoint {
	out := make([]*secp256k1.JacobianPoint, len(pa))
	for i := range pa {
		p := mulAndAdd(reduceToScalar(xa), pa[i], reduceToScalar(xb), pb[i])
		out[i] = &p
	}
	return out
}

func foldScalars(xa [32]byte, sa [][32]byte, xb [32]byte, sb [][32]byte) [][32]byte {
	out := make([][32]byte, len(sa))
	for i := range sa {
		out[i] = scalarAdd(scalarMul(xa, sa[i]), scalarMul(xb, sb[i]))
	}
	return out
}

// CreateInnerProductProof proves <a,b> against generators gVec/hVec/u.
// Vector lengths must be equal powers of two.
func CreateInnerProductProof(gVec, hVec [][33]byte, u [33]byte, a, b [][32]byte) (*InnerProductProof, error) {
	n := len(a)
	if n == 0 || n != len(b) || n != len(gVec) || n != len(hVec) {
		return nil, errors.New("mismatched inner-product vectors")
	}
	if n&(n-1) != 0 {
		return nil, errors.New("inner-product vector length must be a power of two")
	}

	gs, err := parsePoints(gVec)
	if err != nil {
		return nil, err
	}
	hs, err := parsePoints(hVec)
	if err != nil {
		return nil, err
	}
	uPoint, err := parsePoint(u)
	if err != nil {
		return nil, err
	}

	proof := &InnerProductProof{}
	transcript := make([]byte, 0, 128)

	as := append([][32]byte(nil), a...)
	bs := append([][32]byte(nil), b...)

	for n > 1 {
		half := n / 2

		cL := innerProduct(as[:half], bs[half:])
		cR := innerProduct(as[half:], bs[:half])

		// L = <a_lo, G_hi> + <b_hi, H_lo> + cL*U
		lAcc := multiScalarMul(as[:half], gs[half:])
		lTerm := multiScalarMul(bs[half:], hs[:half])
		var tmp secp256k1.JacobianPoint
		secp256k1.AddNonConst(&lAcc, &lTerm, &tmp)
		var cLU secp256k1.JacobianPoint
		secp256k1.ScalarMultNonConst(reduceToScalar(cL), uPoint, &cLU)
		var lFinal secp256k1.JacobianPoint
		secp256k1.AddNonConst(&tmp, &cLU, &lFinal)
		lBytes, serr := serializePoint(&lFinal)
		if serr != nil {
			return nil, serr
		}

		// R = <a_hi, G_lo> + <b_lo, H_hi> + cR*U
		rAcc := multiScalarMul(as[half:], gs[:half])
		rTerm := multiScalarMul(bs[:half], hs[half:])
		secp256k1.AddNonConst(&rAcc, &rTerm, &tmp)
		var cRU secp256k1.JacobianPoint
		secp256k1.ScalarMultNonConst(reduceToScalar(cR), uPoint, &cRU)
		var rFinal secp256k1.JacobianPoint
		secp256k1.AddNonConst(&tmp, &cRU, &rFinal)
		rBytes, serr := serializePoint(&rFinal)
		if serr != nil {
			return nil, serr
		}

		proof.L = append(proof.L, lBytes)
		proof.R = append(proof.R, rBytes)

		xc := ipaChallenge(&transcript, lBytes, rBytes)
		xInv, ierr := scalarInverse(xc)
		if ierr != nil {
			return nil, ierr
		}

		as = foldScalars(xc, as[:half], xInv, as[half:])
		bs = foldScalars(xInv, bs[:half], xc, bs[half:])
		gs = foldPoints(xInv, gs[:half], xc, gs[half:])
		hs = foldPoints(xc, hs[:half], xInv, hs[half:])
		n = half
	}

	proof.A = as[0]
	proof.B = bs[0]
	return proof, nil
}

// VerifyInnerProductProof checks the proof against commitment point p,
// which must equal <a,G> + <b,H> + <a,b>*U for the claimed vectors.
func VerifyInnerProductProof(gVec, hVec [][33]byte, u [33]byte, p [33]byte, proof *InnerProductProof) bool {
	n := len(gVec)
	if n == 0 || n != len(hVec) || n&(n-1) != 0 {
		return false
	}
	rounds := 0
	for size := n; size > 1; size /= 2 {
		rounds++
	}
	if len(proof.L) != rounds || len(proof.R) != rounds {
		return false
	}

	gs, err := parsePoints(gVec)
	if err != nil {
		return false
	}
	hs, err := parsePoints(hVec)
	if err != nil {
		return false
	}
	uPoint, err := parsePoint(u)
	if err != nil {
		return false
	}
	acc, err := parsePoint(p)
	if err != nil {
		return false
	}

	transcript := make([]byte, 0, 128)
	for i := 0; i < rounds; i++ {
		xc := ipaChallenge(&transcript, proof.L[i], proof.R[i])
		xInv, ierr := scalarInverse(xc)
		if ierr != nil {
			return false
		}
		x2 := scalarMul(xc, xc)
		xInv2 := scalarMul(xInv, xInv)

		l, perr := parsePoint(proof.L[i])
		if perr != nil {
			return false
		}
		r, perr := parsePoint(proof.R[i])
		if perr != nil {
			return false
		}

		// P' = x^2*L + P + x^-2*R
		adj := mulAndAdd(reduceToScalar(x2), l, reduceToScalar(xInv2), r)
		var next secp256k1.JacobianPoint
		secp256k1.AddNonConst(acc, &adj, &next)
		*acc = next

		half := len(gs) / 2
		gs = foldPoints(xInv, gs[:half], xc, gs[half:])
		hs = foldPoints(xc, hs[:half], xInv, hs[half:])
	}

	// Expected final point: a*G + b*H + (a*b)*U.
	expected := mulAndAdd(reduceToScalar(proof.A), gs[0], reduceToScalar(proof.B), hs[0])
	ab := scalarMul(proof.A, proof.B)
	var abU secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(reduceToScalar(ab), uPoint, &abU)
	var final secp256k1.JacobianPoint
	secp256k1.AddNonConst(&expected, &abU, &final)

	final.ToAffine()
	final.Y.Negate(1).Normalize()
	var diff secp256k1.JacobianPoint
	secp256k1.AddNonConst(acc, &final, &diff)
	return isInfinity(&diff)
}

// VectorGenerators exposes the first n per-bit generator pairs for callers
// building inner-product commitments.
func VectorGenerators(n int) (g, h [][33]byte, err error) {
	initGenerators()
	if generatorErr != nil {
		return nil, nil, generatorErr
	}
	if n <= 0 || n > maxProofBits {
		return nil, nil, fmt.Errorf("generator count out of range: %d", n)
	}
	return bitGenerators(n)
}
