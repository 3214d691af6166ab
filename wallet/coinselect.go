package wallet

import (
	"crypto/rand"
	"errors"
	"math/big"
	"sort"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrNoSpendableOutputs = errors.New("no spendable outputs")
	ErrInputLimitExceeded = errors.New("input limit exceeded")
)

const maxSelectedInputs = 256

// SelectInputs chooses outputs to spend for a given target amount.
// Exact matches are preferred (no change output), then smallest-first
// consolidation under the input cap.
func SelectInputs(available []*OwnedOutput, targetAmount uint64) ([]*OwnedOutput, error) {
	if len(available) == 0 {
		return nil, ErrNoSpendableOutputs
	}

	var spendable []*OwnedOutput
	var totalAvailable uint64
	for _, out := range available {
		if !out.Spent {
			spendable = append(spendable, out)
			totalAvailable += out.Amount
		}
	}

	if totalAvailable < targetAmount {
		return nil, ErrInsufficientFunds
	}

	// Randomize iteration order so stable wallet storage ordering doesn't
	// produce fingerprintable selection patterns.
	RandomShuffle(spendable)

	if exact := findExactMatch(spendable, targetAmount); exact != nil {
		return exact, nil
	}

	if selected, ok := selectSmallestFirstCapped(spendable, targetAmount, maxSelectedInputs); ok {
		return selected, nil
	}

	if selected, ok := selectLargestFirstCapped(spendable, targetAmount, maxSelectedInputs); ok {
		return selected, nil
	}

	return nil, ErrInputLimitExceeded
}

func randIndex(n int) (int, bool) {
	if n <= 0 {
		return 0, false
	}
	jBig, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, false
	}
	return int(jBig.Int64()), true
}

// findExactMatch looks for a single output or a pair matching the target
// exactly, with a random tie-break when several candidates exist.
func findExactMatch(outputs []*OwnedOutput, target uint64) []*OwnedOutput {
	var singles []*OwnedOutput
	for _, out := range outputs {
		if out.Amount == target {
			singles = append(singles, out)
		}
	}
	if len(singles) > 0 {
		if j, ok := randIndex(len(singles)); ok {
			return []*OwnedOutput{singles[j]}
		}
		return []*OwnedOutput{singles[0]}
	}

	var pairs [][2]*OwnedOutput
	for i, a := range outputs {
		for j := i + 1; j < len(outputs); j++ {
			b := outputs[j]
			if a.Amount+b.Amount == target {
				pairs = append(pairs, [2]*OwnedOutput{a, b})
			}
		}
	}
	if len(pairs) > 0 {
		if j, ok := randIndex(len(pairs)); ok {
			return []*OwnedOutput{pairs[j][0], pairs[j][1]}
		}
		return []*OwnedOutput{pairs[0][0], pairs[0][1]}
	}

	return nil
}

func selectSmallestFirstCapped(outputs []*OwnedOutput, target uint64, maxInputs int) ([]*OwnedOutput, bool) {
	return selectSortedCapped(outputs, target, maxInputs, func(a, b uint64) bool { return a < b })
}

func selectLargestFirstCapped(outputs []*OwnedOutput, target uint64, maxInputs int) ([]*OwnedOutput, bool) {
	return selectSortedCapped(outputs, target, maxInputs, func(a, b uint64) bool { return a > b })
}

func selectSortedCapped(outputs []*OwnedOutput, target uint64, maxInputs int, less func(a, b uint64) bool) ([]*OwnedOutput, bool) {
	if maxInputs <= 0 {
		return nil, false
	}

	sorted := make([]*OwnedOutput, len(outputs))
	copy(sorted, outputs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return less(sorted[i].Amount, sorted[j].Amount)
	})

	var selected []*OwnedOutput
	var total uint64
	for _, out := range sorted {
		if len(selected) >= maxInputs {
			return nil, false
		}
		selected = append(selected, out)
		total += out.Amount
		if total >= target {
			return selected, true
		}
	}
	return nil, false
}

// RandomShuffle shuffles outputs using cryptographically secure
// randomness so output order doesn't reveal which is the change output.
// If crypto/rand fails the slice is left as-is.
func RandomShuffle(outputs []*OwnedOutput) {
	for i := len(outputs) - 1; i > 0; i-- {
		j, ok := randIndex(i + 1)
		if !ok {
			return
		}
		outputs[i], outputs[j] = outputs[j], outputs[i]
	}
}
