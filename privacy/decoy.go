package privacy

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Decoy selection draws ring members from the global output set so the real
// input is indistinguishable. Age is sampled from a gamma distribution to
// mimic observed spending patterns; uniform sampling is the fallback.

var (
	// ErrNoDecoyProvider is returned when ring building is attempted
	// without a provider.
	ErrNoDecoyProvider = errors.New("no decoy provider configured")

	// ErrInsufficientDecoys is returned when the chain does not hold
	// enough eligible outputs for the requested ring size.
	ErrInsufficientDecoys = errors.New("not enough eligible outputs for ring")
)

// DecoyCandidate is one eligible output returned by a provider.
type DecoyCandidate struct {
	OutPoint   OutPoint
	PubKey     [33]byte
	Commitment [33]byte
	Amount     uint64
	Height     uint64
	IsCoinbase bool
}

// DecoyProvider is the external view of the global output set. The
// surrounding chain supplies it; this package never touches chain state
// directly.
type DecoyProvider interface {
	// OutputCount returns the number of spendable outputs on chain.
	OutputCount() uint64

	// Height returns the current chain height.
	Height() uint64

	// OutputByIndex resolves a global output index.
	OutputByIndex(index uint64) (DecoyCandidate, bool)

	// RandomOutputs returns up to count outputs confirmed within
	// [minHeight, maxHeight].
	RandomOutputs(count int, minHeight, maxHeight uint64) []DecoyCandidate
}

// DecoySelectionParams tunes decoy selection. The zero value is not
// usable; start from DefaultDecoySelectionParams.
type DecoySelectionParams struct {
	// MinConfirmations excludes outputs too young to spend from.
	MinConfirmations uint64

	// MaxConfirmations excludes outputs older than this, 0 meaning
	// unbounded.
	MaxConfirmations uint64

	// GammaShape is the shape parameter of the age distribution.
	GammaShape float64

	// UseGamma selects gamma-distributed ages; false falls back to
	// uniform sampling.
	UseGamma bool

	// ExcludeCoinbase skips coinbase outputs, whose provenance is
	// public.
	ExcludeCoinbase bool
}

// DefaultDecoySelectionParams mirrors mainnet relay policy.
func DefaultDecoySelectionParams() DecoySelectionParams {
	return DecoySelectionParams{
		MinConfirmations: 10,
		MaxConfirmations: 0,
		GammaShape:       19.28,
		UseGamma:         true,
		ExcludeCoinbase:  true,
	}
}

// randomFloat returns a uniformly random float in [0, 1).
func randomFloat() float64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0.5
	}
	return float64(binary.LittleEndian.Uint64(b[:])>>11) / float64(1<<53)
}

// randomUint64 returns a uniformly random uint64.
func randomUint64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b[:])
}

// sampleGamma draws from a gamma distribution with the given shape using
// Marsaglia and Tsang's method, clamped to [0, maxValue].
func sampleGamma(shape, scale float64, maxValue uint64) uint64 {
	if shape < 1.0 {
		shape = 1.0
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)

	for {
		var x, v float64
		for {
			u1 := randomFloat()
			u2 := randomFloat()
			if u1 <= 0 {
				u1 = 1e-10
			}
			x = math.Sqrt(-2.0*math.Log(u1)) * math.Cos(2.0*math.Pi*u2)
			v = 1.0 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v

		u := randomFloat()
		accept := u < 1.0-0.0331*(x*x)*(x*x) ||
			math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v))
		if !accept {
			continue
		}

		result := d * v * scale
		if result < 0 {
			result = 0
		}
		if result > float64(maxValue) {
			result = float64(maxValue)
		}
		return uint64(result)
	}
}

// SelectDecoys picks ringSize-1 decoys for the real output, excluding the
// real outpoint and any duplicates.
func SelectDecoys(provider DecoyProvider, realOutput OutPoint, ringSize int, params DecoySelectionParams) ([]RingMember, error) {
	if ringSize < 2 {
		return nil, ErrInvalidRing
	}
	if provider == nil {
		return nil, ErrNoDecoyProvider
	}

	totalOutputs := provider.OutputCount()
	currentHeight := provider.Height()
	if totalOutputs < uint64(ringSize) {
		return nil, ErrInsufficientDecoys
	}

	needed := ringSize - 1
	seen := map[OutPoint]struct{}{realOutput: {}}

	var minHeight uint64
	if params.MaxConfirmations > 0 && currentHeight > params.MaxConfirmations {
		minHeight = currentHeight - params.MaxConfirmations
	}
	var maxHeight uint64
	if currentHeight > params.MinConfirmations {
		maxHeight = currentHeight - params.MinConfirmations
	}

	eligible := func(c *DecoyCandidate) bool {
		if c.Height < minHeight || c.Height > maxHeight {
			return false
		}
		if params.ExcludeCoinbase && c.IsCoinbase {
			return false
		}
		if _, dup := seen[c.OutPoint]; dup {
			return false
		}
		return true
	}

	decoys := make([]RingMember, 0, needed)
	add := func(c DecoyCandidate) {
		seen[c.OutPoint] = struct{}{}
		decoys = append(decoys, RingMember{
			OutPoint:   c.OutPoint,
			PubKey:     c.PubKey,
			Commitment: c.Commitment,
		})
	}

	if params.UseGamma {
		maxAttempts := needed * 10
		for attempts := 0; len(decoys) < needed && attempts < maxAttempts; attempts++ {
			// Gamma favors small ages; invert so recent outputs
			// (high indices) are preferred.
			age := sampleGamma(params.GammaShape, 1.0, totalOutputs)
			index := totalOutputs - 1 - age
			if index >= totalOutputs {
				index = 0
			}

			candidate, ok := provider.OutputByIndex(index)
			if !ok || !eligible(&candidate) {
				continue
			}
			add(candidate)
		}
	}

	if len(decoys) < needed {
		// Uniform fallback, also used when gamma sampling is off or
		// could not fill the ring.
		for _, candidate := range provider.RandomOutputs(needed*2, minHeight, maxHeight) {
			if len(decoys) >= needed {
				break
			}
			if !eligible(&candidate) {
				continue
			}
			add(candidate)
		}
	}

	if len(decoys) < needed {
		return nil, fmt.Errorf("%w: got %d of %d", ErrInsufficientDecoys, len(decoys), needed)
	}
	return decoys, nil
}

// BuildRing places the real member at a random position among the decoys.
func BuildRing(real RingMember, decoys []RingMember) (Ring, int, error) {
	ringSize := len(decoys) + 1
	if ringSize < 2 {
		return Ring{}, 0, ErrInvalidRing
	}

	realIndex := int(randomUint64() % uint64(ringSize))
	members := make([]RingMember, 0, ringSize)
	decoyIdx := 0
	for i := 0; i < ringSize; i++ {
		if i == realIndex {
			members = append(members, real)
		} else {
			members = append(members, decoys[decoyIdx])
			decoyIdx++
		}
	}
	return Ring{Members: members}, realIndex, nil
}

// RingPolicy decides whether a ring's members are acceptable at validation
// time: resolvable, sufficiently mature, key matching the referenced
// output. Pluggable so relay policy can tighten without a consensus change.
type RingPolicy interface {
	CheckRingMembers(ring *Ring, height uint64) error
}

// OutputResolver resolves outpoint references against the chain's output
// set.
type OutputResolver interface {
	ResolveOutput(op OutPoint) (DecoyCandidate, bool)
}

// ResolverRingPolicy validates ring members against an OutputResolver using
// the same maturity window used at selection time.
type ResolverRingPolicy struct {
	Resolver OutputResolver
	Params   DecoySelectionParams
}

// CheckRingMembers implements RingPolicy. Members without an outpoint
// reference are accepted structurally; referenced members must resolve,
// match the recorded key and satisfy the maturity window. A validation
// height of 0 (mempool policy) skips the maturity check.
func (p *ResolverRingPolicy) CheckRingMembers(ring *Ring, height uint64) error {
	if p == nil || p.Resolver == nil {
		return nil
	}
	for i := range ring.Members {
		member := &ring.Members[i]
		if member.OutPoint == (OutPoint{}) {
			continue
		}

		candidate, ok := p.Resolver.ResolveOutput(member.OutPoint)
		if !ok {
			return fmt.Errorf("ring member %d references unknown output", i)
		}
		if candidate.PubKey != member.PubKey {
			return fmt.Errorf("ring member %d key does not match referenced output", i)
		}
		if height > 0 && candidate.Height+p.Params.MinConfirmations > height {
			return fmt.Errorf("ring member %d not mature at height %d", i, height)
		}
		if p.Params.ExcludeCoinbase && candidate.IsCoinbase {
			return fmt.Errorf("ring member %d is a coinbase output", i)
		}
	}
	return nil
}
