package privacy

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Engine owns the privacy layer's stateful collaborators: the key image
// ledger, the mempool tracker, the signature verifier, the ring policy and
// the optional FCMP backend. It is constructed once at startup and passed
// by reference to every consumer; there are no package-level singletons.

// EngineConfig configures an Engine. LedgerPath is required; everything
// else has a usable default.
type EngineConfig struct {
	LedgerPath string

	// Verifier overrides the in-process MLSAG verification.
	Verifier MLSAGVerifier

	// RingPolicy validates ring members contextually; nil accepts all
	// structurally valid rings.
	RingPolicy RingPolicy

	// FCMP enables full-chain membership proof transactions; nil
	// rejects them.
	FCMP FCMPBackend

	Logger zerolog.Logger
}

// Engine is safe for concurrent use. Callers that validate transactions
// racing on the same key image must serialize their check-then-act
// sequence externally; see KeyImageLedger.
type Engine struct {
	ledger  *KeyImageLedger
	tracker *KeyImageTracker
	deps    ContextualCheckDeps
	log     zerolog.Logger
}

// NewEngine opens the ledger and wires the collaborators together.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.LedgerPath == "" {
		return nil, errors.New("engine requires a ledger path")
	}

	ledger, err := OpenKeyImageLedger(cfg.LedgerPath)
	if err != nil {
		return nil, err
	}

	verifier := cfg.Verifier
	if verifier == nil {
		verifier = StandardVerifier{}
	}

	deps := ContextualCheckDeps{
		Ledger:     ledger,
		Verifier:   verifier,
		RingPolicy: cfg.RingPolicy,
		FCMP:       cfg.FCMP,
	}

	e := &Engine{
		ledger:  ledger,
		tracker: NewKeyImageTracker(deps, cfg.Logger),
		deps:    deps,
		log:     cfg.Logger,
	}
	return e, nil
}

// Close flushes and releases the ledger.
func (e *Engine) Close() error {
	if err := e.ledger.Sync(); err != nil && !errors.Is(err, ErrLedgerClosed) {
		return err
	}
	return e.ledger.Close()
}

// Ledger exposes the key image ledger for direct queries.
func (e *Engine) Ledger() *KeyImageLedger {
	return e.ledger
}

// Tracker exposes the mempool key image tracker.
func (e *Engine) Tracker() *KeyImageTracker {
	return e.tracker
}

// ===== Boundary functions for the surrounding validation pipeline =====

// CheckTransactionPrivacy is the mempool-entry hook: it pre-validates the
// host transaction and returns the result for the caller's accept/reject
// decision. Non-privacy transactions pass through with IsPrivacyTx=false.
func (e *Engine) CheckTransactionPrivacy(host *HostTransaction) PreValidationResult {
	return e.tracker.PreValidateTransaction(host)
}

// OnTransactionAccepted records a mempool acceptance.
func (e *Engine) OnTransactionAccepted(host *HostTransaction, result PreValidationResult) {
	e.tracker.OnTransactionAccepted(host.TxID(), result)
}

// OnTransactionRemoved records a mempool removal (confirmed or evicted).
func (e *Engine) OnTransactionRemoved(host *HostTransaction) {
	e.tracker.OnTransactionRemoved(host.TxID())
}

// ConnectPrivacyTx is the block-connection hook: it marks the
// transaction's key images spent and drops them from mempool tracking.
// Non-privacy transactions are a no-op. A malformed payload in a block is
// an error; the block should never have connected.
func (e *Engine) ConnectPrivacyTx(host *HostTransaction, height uint64) error {
	if !HasPrivacyData(host) {
		return nil
	}
	priv, err := ExtractPrivacyTransaction(host)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	txid := host.TxID()
	if err := ConnectPrivacyTransaction(priv, e.ledger, txid, height); err != nil {
		e.log.Error().Err(err).Hex("txid", txid[:]).Uint64("height", height).
			Msg("failed to connect privacy tx key images")
		return err
	}

	e.tracker.OnTransactionRemoved(txid)
	return nil
}

// DisconnectPrivacyTx is the reorg hook: it unmarks the transaction's key
// images. Transactions must be disconnected in reverse order within a
// block, and blocks in reverse height order.
func (e *Engine) DisconnectPrivacyTx(host *HostTransaction) error {
	if !HasPrivacyData(host) {
		return nil
	}
	priv, err := ExtractPrivacyTransaction(host)
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}

	if err := DisconnectPrivacyTransaction(priv, e.ledger); err != nil {
		txid := host.TxID()
		e.log.Error().Err(err).Hex("txid", txid[:]).
			Msg("failed to disconnect privacy tx key images")
		return err
	}
	return nil
}

// IsKeyImageSpent reports whether the key image is spent on the canonical
// chain.
func (e *Engine) IsKeyImageSpent(ki KeyImage) (bool, error) {
	return e.ledger.IsSpent(ki)
}

// ValidateBlockTransaction runs the full two-phase validation for a
// transaction being connected at the given height.
func (e *Engine) ValidateBlockTransaction(tx *PrivacyTransaction, height uint64) ValidationResult {
	res := ContextualCheckPrivacyTransaction(tx, e.deps, height)
	if !res.Valid() {
		txHash := tx.TxHash()
		e.log.Info().Hex("tx_hash", txHash[:]).Uint64("height", height).
			Str("reason", res.String()).Msg("privacy tx rejected")
	}
	return res
}
