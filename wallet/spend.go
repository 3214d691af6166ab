package wallet

import (
	"errors"
	"fmt"

	"wattx/privacy"
)

// ErrViewOnly is returned when a view-only wallet attempts to spend.
var ErrViewOnly = errors.New("view-only wallet cannot spend")

// SpendRequest describes an outgoing payment.
type SpendRequest struct {
	Recipient string // stealth address string
	Amount    uint64
	Fee       uint64
}

// CreateTransaction selects inputs, draws decoys from the provider and
// assembles a signed RingCT transaction paying the recipient, with change
// returned to this wallet. The wallet state is not modified; callers mark
// inputs spent when the transaction confirms and the scanner sees its key
// images.
func (w *Wallet) CreateTransaction(req SpendRequest, provider privacy.DecoyProvider, currentHeight uint64) (*privacy.PrivacyTransaction, error) {
	if w.IsViewOnly() {
		return nil, ErrViewOnly
	}
	if req.Amount == 0 {
		return nil, errors.New("amount must be positive")
	}

	recipient, err := privacy.ParseStealthAddress(req.Recipient)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}

	target := req.Amount + req.Fee
	if target < req.Amount {
		return nil, errors.New("amount plus fee overflows")
	}

	inputs, err := SelectInputs(w.MatureOutputs(currentHeight), target)
	if err != nil {
		return nil, err
	}

	var total uint64
	for _, in := range inputs {
		total += in.Amount
	}
	change := total - target

	ringSize := privacy.GetDefaultRingSize(currentHeight)
	decoyParams := privacy.DefaultDecoySelectionParams()

	builder := privacy.NewTxBuilder().SetFee(req.Fee)
	for _, in := range inputs {
		real := privacy.RingMember{
			OutPoint:   privacy.OutPoint{TxHash: in.TxID, Index: in.OutputIndex},
			PubKey:     in.OneTimePubKey,
			Commitment: in.Commitment,
		}
		decoys, derr := privacy.SelectDecoys(provider, real.OutPoint, ringSize, decoyParams)
		if derr != nil {
			return nil, fmt.Errorf("failed to select decoys: %w", derr)
		}
		builder.AddInput(in.OneTimePrivKey, real, decoys, in.Amount, in.Blinding)
	}

	builder.AddOutput(*recipient, req.Amount)
	if change > 0 {
		keys := w.Keys()
		builder.AddOutput(keys.Address(), change)
	}

	tx, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	return tx, nil
}
