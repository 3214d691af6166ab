package privacy

import (
	"sync"

	"github.com/rs/zerolog"
)

// KeyImageTracker is the first line of defense against double-spend races:
// it tracks key images committed to unconfirmed transactions so a second
// spend of the same output is rejected before it ever reaches consensus.
//
// Per key image the states are Free -> InMempool (on accept) -> Free (on
// remove); the ledger-owned Spent state is disjoint and supersedes mempool
// tracking once a block confirms.

// Mempool-level reject reasons that have no consensus counterpart.
const (
	RejectKeyImageInMempool = "key-image-in-mempool"
	RejectMalformedPayload  = "malformed-privacy-data"
)

// PreValidationResult is the outcome of mempool pre-validation.
type PreValidationResult struct {
	IsPrivacyTx  bool
	IsValid      bool
	RejectReason string
	KeyImages    []KeyImage
}

// KeyImageTracker guards its two maps with one RWMutex. It never calls out
// while holding the lock except for ledger reads, which take the ledger's
// own lock; the two are never taken in the opposite order.
type KeyImageTracker struct {
	mu sync.RWMutex

	// byImage maps key image hash -> txid of the mempool tx holding it.
	byImage map[[32]byte][32]byte

	// byTx maps txid -> key image hashes, for removal.
	byTx map[[32]byte][][32]byte

	deps ContextualCheckDeps
	log  zerolog.Logger
}

// NewKeyImageTracker creates a tracker validating against deps.
func NewKeyImageTracker(deps ContextualCheckDeps, log zerolog.Logger) *KeyImageTracker {
	return &KeyImageTracker{
		byImage: make(map[[32]byte][32]byte),
		byTx:    make(map[[32]byte][][32]byte),
		deps:    deps,
		log:     log,
	}
}

// mempoolHeight is the sentinel validation height for mempool policy.
const mempoolHeight = 0

// PreValidateTransaction checks a host transaction before mempool
// acceptance. Non-privacy transactions pass through untouched. For privacy
// transactions every key image must be absent from both the mempool maps
// and the ledger, and the full two-phase validation must pass. Without a
// configured ledger only the structural check runs and the transaction
// passes through without key image tracking.
func (t *KeyImageTracker) PreValidateTransaction(host *HostTransaction) PreValidationResult {
	result := PreValidationResult{IsValid: true}

	if !HasPrivacyData(host) {
		return result
	}
	result.IsPrivacyTx = true

	priv, err := ExtractPrivacyTransaction(host)
	if err != nil || priv == nil {
		result.IsValid = false
		result.RejectReason = RejectMalformedPayload
		return result
	}

	if res := CheckPrivacyTransaction(priv, mempoolHeight); !res.Valid() {
		result.IsValid = false
		result.RejectReason = res.String()
		return result
	}

	// No ledger configured: the transaction relays on its structural
	// merits alone and nothing is tracked, since contextual validation
	// could not run. KeyImages stays empty so OnTransactionAccepted is
	// a no-op.
	if t.deps.Ledger == nil {
		t.log.Warn().Msg("no key image ledger configured, privacy tx passed through untracked")
		return result
	}

	keyImages := priv.KeyImages()
	result.KeyImages = keyImages

	t.mu.RLock()
	for _, ki := range keyImages {
		if _, inMempool := t.byImage[ki.Hash()]; inMempool {
			t.mu.RUnlock()
			result.IsValid = false
			result.RejectReason = RejectKeyImageInMempool
			t.log.Debug().Hex("key_image", ki[:]).Msg("privacy tx rejected: key image already in mempool")
			return result
		}
	}
	t.mu.RUnlock()

	for _, ki := range keyImages {
		spent, lerr := t.deps.Ledger.IsSpent(ki)
		if lerr != nil {
			result.IsValid = false
			result.RejectReason = ResultInternalError.String()
			return result
		}
		if spent {
			result.IsValid = false
			result.RejectReason = ResultKeyImageSpent.String()
			t.log.Debug().Hex("key_image", ki[:]).Msg("privacy tx rejected: key image already spent on chain")
			return result
		}
	}

	if res := ContextualCheckPrivacyTransaction(priv, t.deps, mempoolHeight); !res.Valid() {
		result.IsValid = false
		result.RejectReason = res.String()
		return result
	}

	return result
}

// OnTransactionAccepted records the accepted transaction's key images. It
// assumes PreValidateTransaction already passed and repeats no validation.
func (t *KeyImageTracker) OnTransactionAccepted(txid [32]byte, result PreValidationResult) {
	if !result.IsPrivacyTx || !result.IsValid {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	hashes := make([][32]byte, 0, len(result.KeyImages))
	for _, ki := range result.KeyImages {
		h := ki.Hash()
		t.byImage[h] = txid
		hashes = append(hashes, h)
	}
	t.byTx[txid] = hashes

	t.log.Debug().Hex("txid", txid[:]).Int("key_images", len(hashes)).
		Msg("privacy tx accepted to mempool")
}

// OnTransactionRemoved drops the transaction's tracking entries. Idempotent
// for transactions that were never tracked.
func (t *KeyImageTracker) OnTransactionRemoved(txid [32]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	hashes, tracked := t.byTx[txid]
	if !tracked {
		return
	}
	for _, h := range hashes {
		delete(t.byImage, h)
	}
	delete(t.byTx, txid)

	t.log.Debug().Hex("txid", txid[:]).Msg("privacy tx removed from mempool")
}

// IsKeyImageInMempool reports whether a key image is held by a mempool
// transaction.
func (t *KeyImageTracker) IsKeyImageInMempool(ki KeyImage) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byImage[ki.Hash()]
	return ok
}

// MempoolKeyImages returns the hashes of all tracked key images.
func (t *KeyImageTracker) MempoolKeyImages() [][32]byte {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([][32]byte, 0, len(t.byImage))
	for h := range t.byImage {
		out = append(out, h)
	}
	return out
}

// Clear wipes all tracking, used on events that invalidate mempool
// assumptions such as a deep reorg.
func (t *KeyImageTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.byImage = make(map[[32]byte][32]byte)
	t.byTx = make(map[[32]byte][][32]byte)
	t.log.Debug().Msg("cleared mempool key image tracking")
}
