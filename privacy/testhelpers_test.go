package privacy

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func mustParsePoints(t *testing.T, compressed [][33]byte) []*secp256k1.JacobianPoint {
	t.Helper()
	points, err := parsePoints(compressed)
	if err != nil {
		t.Fatalf("failed to parse points: %v", err)
	}
	return points
}

func pointAddJacobian(t *testing.T, a, b *secp256k1.JacobianPoint) *secp256k1.JacobianPoint {
	t.Helper()
	var sum secp256k1.JacobianPoint
	secp256k1.AddNonConst(a, b, &sum)
	return &sum
}

func scalarMulJacobian(t *testing.T, s [32]byte, p *secp256k1.JacobianPoint) *secp256k1.JacobianPoint {
	t.Helper()
	var out secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(reduceToScalar(s), p, &out)
	return &out
}
