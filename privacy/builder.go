package privacy

import (
	"errors"
	"fmt"
)

// TxBuilder assembles a RingCT transaction: stealth outputs with derived
// blindings, pseudo-commitments that re-blind the spent amounts, a
// balancing final blinding factor, one aggregated range proof and one
// MLSAG over all input rings.
//
// The MLSAG links all rings at a shared real column, so every input's
// decoy set must have the same size; the builder places the real members
// at one random column across all rings.

var (
	// ErrUnbalancedAmounts is returned when inputs do not cover outputs
	// plus fee exactly.
	ErrUnbalancedAmounts = errors.New("input amounts do not balance outputs plus fee")

	// ErrEmptyBuilder is returned when Build runs without inputs or
	// outputs.
	ErrEmptyBuilder = errors.New("builder needs at least one input and one output")
)

type builderInput struct {
	privKey  [32]byte
	real     RingMember
	decoys   []RingMember
	amount   uint64
	blinding [32]byte
}

type builderOutput struct {
	addr   StealthAddress
	amount uint64
}

// TxBuilder is single-use: Build consumes the accumulated state.
type TxBuilder struct {
	inputs  []builderInput
	outputs []builderOutput
	fee     uint64
}

// NewTxBuilder creates an empty builder.
func NewTxBuilder() *TxBuilder {
	return &TxBuilder{}
}

// AddInput adds a spend: the real output (with its private key, amount and
// commitment blinding) and the decoys that will hide it.
func (b *TxBuilder) AddInput(privKey [32]byte, real RingMember, decoys []RingMember, amount uint64, blinding [32]byte) *TxBuilder {
	b.inputs = append(b.inputs, builderInput{
		privKey:  privKey,
		real:     real,
		decoys:   decoys,
		amount:   amount,
		blinding: blinding,
	})
	return b
}

// AddOutput adds a payment to a stealth address.
func (b *TxBuilder) AddOutput(addr StealthAddress, amount uint64) *TxBuilder {
	b.outputs = append(b.outputs, builderOutput{addr: addr, amount: amount})
	return b
}

// SetFee sets the explicit fee.
func (b *TxBuilder) SetFee(fee uint64) *TxBuilder {
	b.fee = fee
	return b
}

// Build derives all destinations, balances the commitments, proves the
// ranges and signs. The returned transaction is complete and ready for
// embedding.
func (b *TxBuilder) Build() (*PrivacyTransaction, error) {
	if len(b.inputs) == 0 || len(b.outputs) == 0 {
		return nil, ErrEmptyBuilder
	}

	// Each spend must open its real commitment with the claimed amount
	// and blinding.
	for i := range b.inputs {
		in := &b.inputs[i]
		if err := VerifyCommitment(in.real.Commitment, in.amount, in.blinding); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}

	var inputTotal, outputTotal uint64
	for i := range b.inputs {
		inputTotal += b.inputs[i].amount
	}
	for i := range b.outputs {
		outputTotal += b.outputs[i].amount
	}
	if inputTotal != outputTotal+b.fee {
		return nil, fmt.Errorf("%w: in=%d out=%d fee=%d", ErrUnbalancedAmounts, inputTotal, outputTotal, b.fee)
	}

	ringSize := len(b.inputs[0].decoys) + 1
	for i := range b.inputs {
		if len(b.inputs[i].decoys)+1 != ringSize {
			return nil, errors.New("all inputs must use the same ring size")
		}
	}
	if ringSize < 2 {
		return nil, ErrInvalidRing
	}

	tx := &PrivacyTransaction{
		Version: 1,
		Type:    TypeRingCT,
		Fee:     b.fee,
	}

	// Outputs: stealth destination, derived blinding, encrypted amount.
	// Blindings come from the shared secret so the recipient can reopen
	// its commitments; the pseudo-commitments below absorb the balance.
	outputBlinds := make([][32]byte, len(b.outputs))
	outputAmounts := make([]uint64, len(b.outputs))
	outputCommitments := make([][33]byte, len(b.outputs))

	for j := range b.outputs {
		out := &b.outputs[j]
		ephemeralPriv, stealth, err := GenerateStealthDestination(&out.addr, uint32(j))
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", j, err)
		}

		sharedSecret, err := ComputeSharedSecret(ephemeralPriv, out.addr.ScanPubKey)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", j, err)
		}

		outputBlinds[j] = DeriveOutputBlinding(sharedSecret, uint32(j))
		outputAmounts[j] = out.amount

		tx.Outputs = append(tx.Outputs, PrivacyOutput{
			Stealth:         *stealth,
			EncryptedAmount: EncryptAmount(out.amount, sharedSecret),
		})
	}

	// Pseudo-commitments: fresh blindings for all but the last input,
	// which balances sum(pseudo) == sum(outputs).
	pseudoBlinds := make([][32]byte, len(b.inputs))
	for i := 0; i < len(b.inputs)-1; i++ {
		var err error
		if pseudoBlinds[i], err = GenerateBlinding(); err != nil {
			return nil, err
		}
	}
	balancing, err := ComputeBalancingBlindingFactor(outputBlinds, pseudoBlinds[:len(b.inputs)-1])
	if err != nil {
		return nil, err
	}
	pseudoBlinds[len(b.inputs)-1] = balancing

	for j := range b.outputs {
		commit, cerr := CreateCommitmentWithBlinding(outputAmounts[j], outputBlinds[j])
		if cerr != nil {
			return nil, cerr
		}
		tx.Outputs[j].Commitment = commit.Commitment
		outputCommitments[j] = commit.Commitment
	}

	// Rings: one shared real column across all inputs.
	realIndex := int(randomUint64() % uint64(ringSize))
	rings := make([]Ring, len(b.inputs))
	privKeys := make([][32]byte, len(b.inputs))
	for i := range b.inputs {
		in := &b.inputs[i]

		members := make([]RingMember, 0, ringSize)
		decoyIdx := 0
		for pos := 0; pos < ringSize; pos++ {
			if pos == realIndex {
				members = append(members, in.real)
			} else {
				members = append(members, in.decoys[decoyIdx])
				decoyIdx++
			}
		}
		rings[i] = Ring{Members: members}
		privKeys[i] = in.privKey

		pseudo, perr := CreateCommitmentWithBlinding(in.amount, pseudoBlinds[i])
		if perr != nil {
			return nil, perr
		}

		keyImage, kerr := GenerateKeyImage(in.privKey, in.real.PubKey)
		if kerr != nil {
			return nil, kerr
		}

		tx.Inputs = append(tx.Inputs, PrivacyInput{
			Ring:            rings[i],
			KeyImage:        keyImage,
			InputCommitment: pseudo.Commitment,
		})
	}

	if tx.AggregatedRangeProof, err = CreateAggregatedRangeProof(outputAmounts, outputBlinds, outputCommitments); err != nil {
		return nil, fmt.Errorf("failed to create range proof: %w", err)
	}

	sig, err := CreateMLSAGSignature(tx.SigningHash(), rings, realIndex, privKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	tx.MLSAG = sig
	return tx, nil
}
