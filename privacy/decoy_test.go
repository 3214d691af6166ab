package privacy

import (
	"encoding/binary"
	"testing"
)

// fakeProvider serves a synthetic output set with one output per height.
type fakeProvider struct {
	outputs []DecoyCandidate
}

func newFakeProvider(t *testing.T, count int) *fakeProvider {
	t.Helper()
	p := &fakeProvider{outputs: make([]DecoyCandidate, count)}
	for i := range p.outputs {
		_, pub := mustKeypair(t)
		var txHash [32]byte
		binary.LittleEndian.PutUint32(txHash[:], uint32(i))
		p.outputs[i] = DecoyCandidate{
			OutPoint:   OutPoint{TxHash: txHash, Index: 0},
			PubKey:     pub,
			Height:     uint64(i),
			IsCoinbase: i%10 == 0,
		}
	}
	return p
}

func (p *fakeProvider) OutputCount() uint64 { return uint64(len(p.outputs)) }
func (p *fakeProvider) Height() uint64      { return uint64(len(p.outputs)) }

func (p *fakeProvider) OutputByIndex(index uint64) (DecoyCandidate, bool) {
	if index >= uint64(len(p.outputs)) {
		return DecoyCandidate{}, false
	}
	return p.outputs[index], true
}

func (p *fakeProvider) RandomOutputs(count int, minHeight, maxHeight uint64) []DecoyCandidate {
	var out []DecoyCandidate
	for attempts := 0; len(out) < count && attempts < count*20; attempts++ {
		c := p.outputs[randomUint64()%uint64(len(p.outputs))]
		if c.Height < minHeight || c.Height > maxHeight {
			continue
		}
		out = append(out, c)
	}
	return out
}

func TestSelectDecoys(t *testing.T) {
	provider := newFakeProvider(t, 1000)
	real := provider.outputs[500].OutPoint
	params := DefaultDecoySelectionParams()

	const ringSize = 11
	decoys, err := SelectDecoys(provider, real, ringSize, params)
	if err != nil {
		t.Fatalf("failed to select decoys: %v", err)
	}
	if len(decoys) != ringSize-1 {
		t.Fatalf("decoy count: got %d, want %d", len(decoys), ringSize-1)
	}

	seen := map[OutPoint]struct{}{}
	for i, d := range decoys {
		if d.OutPoint == real {
			t.Error("real outpoint selected as decoy")
		}
		if _, dup := seen[d.OutPoint]; dup {
			t.Errorf("duplicate decoy at %d", i)
		}
		seen[d.OutPoint] = struct{}{}
	}
}

func TestSelectDecoysHonorsMaturity(t *testing.T) {
	provider := newFakeProvider(t, 200)
	params := DefaultDecoySelectionParams()
	params.MinConfirmations = 50

	decoys, err := SelectDecoys(provider, provider.outputs[10].OutPoint, 8, params)
	if err != nil {
		t.Fatalf("failed to select decoys: %v", err)
	}
	maxEligible := provider.Height() - params.MinConfirmations
	for _, d := range decoys {
		height := binary.LittleEndian.Uint32(d.OutPoint.TxHash[:4])
		if uint64(height) > maxEligible {
			t.Errorf("immature decoy at height %d (max %d)", height, maxEligible)
		}
	}
}

func TestSelectDecoysExcludesCoinbase(t *testing.T) {
	provider := newFakeProvider(t, 500)
	params := DefaultDecoySelectionParams()
	params.ExcludeCoinbase = true

	decoys, err := SelectDecoys(provider, provider.outputs[77].OutPoint, 16, params)
	if err != nil {
		t.Fatalf("failed to select decoys: %v", err)
	}
	for _, d := range decoys {
		idx := binary.LittleEndian.Uint32(d.OutPoint.TxHash[:4])
		if idx%10 == 0 {
			t.Errorf("coinbase output %d selected as decoy", idx)
		}
	}
}

func TestSelectDecoysErrors(t *testing.T) {
	params := DefaultDecoySelectionParams()

	if _, err := SelectDecoys(nil, OutPoint{}, 4, params); err == nil {
		t.Error("expected error for nil provider")
	}
	if _, err := SelectDecoys(newFakeProvider(t, 2), OutPoint{}, 4, params); err == nil {
		t.Error("expected error for tiny output set")
	}
	if _, err := SelectDecoys(newFakeProvider(t, 100), OutPoint{}, 1, params); err == nil {
		t.Error("expected error for ring size below two")
	}
}

func TestBuildRing(t *testing.T) {
	provider := newFakeProvider(t, 300)
	params := DefaultDecoySelectionParams()

	realCandidate := provider.outputs[150]
	real := RingMember{OutPoint: realCandidate.OutPoint, PubKey: realCandidate.PubKey}

	decoys, err := SelectDecoys(provider, real.OutPoint, 7, params)
	if err != nil {
		t.Fatalf("failed to select decoys: %v", err)
	}

	ring, realIndex, err := BuildRing(real, decoys)
	if err != nil {
		t.Fatalf("failed to build ring: %v", err)
	}
	if ring.Size() != 7 {
		t.Fatalf("ring size: got %d, want 7", ring.Size())
	}
	if realIndex < 0 || realIndex >= ring.Size() {
		t.Fatalf("real index %d outside ring", realIndex)
	}
	if ring.Members[realIndex].PubKey != real.PubKey {
		t.Error("real member not at reported index")
	}
}

func TestResolverRingPolicy(t *testing.T) {
	provider := newFakeProvider(t, 100)
	policy := &ResolverRingPolicy{
		Resolver: resolverFunc(func(op OutPoint) (DecoyCandidate, bool) {
			for _, c := range provider.outputs {
				if c.OutPoint == op {
					return c, true
				}
			}
			return DecoyCandidate{}, false
		}),
		Params: DecoySelectionParams{MinConfirmations: 10},
	}

	good := Ring{Members: []RingMember{
		{OutPoint: provider.outputs[20].OutPoint, PubKey: provider.outputs[20].PubKey},
		{OutPoint: provider.outputs[30].OutPoint, PubKey: provider.outputs[30].PubKey},
	}}
	if err := policy.CheckRingMembers(&good, 90); err != nil {
		t.Errorf("valid ring rejected: %v", err)
	}

	unknown := Ring{Members: []RingMember{
		{OutPoint: OutPoint{TxHash: [32]byte{0xFF}}, PubKey: provider.outputs[20].PubKey},
	}}
	if err := policy.CheckRingMembers(&unknown, 90); err == nil {
		t.Error("unknown outpoint accepted")
	}

	wrongKey := Ring{Members: []RingMember{
		{OutPoint: provider.outputs[20].OutPoint, PubKey: provider.outputs[30].PubKey},
	}}
	if err := policy.CheckRingMembers(&wrongKey, 90); err == nil {
		t.Error("mismatched key accepted")
	}

	immature := Ring{Members: []RingMember{
		{OutPoint: provider.outputs[85].OutPoint, PubKey: provider.outputs[85].PubKey},
	}}
	if err := policy.CheckRingMembers(&immature, 90); err == nil {
		t.Error("immature member accepted")
	}

	// Nil resolver accepts everything.
	var nilPolicy *ResolverRingPolicy
	if err := nilPolicy.CheckRingMembers(&unknown, 90); err != nil {
		t.Errorf("nil policy rejected: %v", err)
	}
}

type resolverFunc func(OutPoint) (DecoyCandidate, bool)

func (f resolverFunc) ResolveOutput(op OutPoint) (DecoyCandidate, bool) { return f(op) }
