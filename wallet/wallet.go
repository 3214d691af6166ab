package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/argon2"

	"wattx/privacy"
)

// wipeBytes best-effort zeroes a byte slice.
// This is not a guarantee in Go (copies may exist), but it reduces exposure windows.
func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// OwnedOutput represents an output the wallet can spend.
type OwnedOutput struct {
	TxID           [32]byte         `json:"txid"`
	OutputIndex    uint32           `json:"output_index"`
	Amount         uint64           `json:"amount"`
	Blinding       [32]byte         `json:"blinding"`
	OneTimePrivKey [32]byte         `json:"one_time_priv"`
	OneTimePubKey  [33]byte         `json:"one_time_pub"`
	Commitment     [33]byte         `json:"commitment"`
	KeyImage       privacy.KeyImage `json:"key_image"`
	BlockHeight    uint64           `json:"block_height"`
	IsCoinbase     bool             `json:"is_coinbase"`
	Spent          bool             `json:"spent"`
	SpentHeight    uint64           `json:"spent_height,omitempty"`
}

// WalletData is the serializable wallet state.
type WalletData struct {
	Version      uint32              `json:"version"`
	ViewOnly     bool                `json:"view_only"`
	Keys         privacy.StealthKeys `json:"keys"`
	Outputs      []*OwnedOutput      `json:"outputs"`
	SyncedHeight uint64              `json:"synced_height"`
}

// ViewOnlyKeys contains only the keys needed for a view-only wallet:
// the scan private key detects payments, the spend public key confirms
// destinations, and neither can author a spend.
type ViewOnlyKeys struct {
	ScanPrivKey [32]byte `json:"scan_priv"`
	ScanPubKey  [33]byte `json:"scan_pub"`
	SpendPubKey [33]byte `json:"spend_pub"`
}

// Wallet manages stealth keys and tracks owned outputs. All methods are
// safe for concurrent use.
type Wallet struct {
	mu sync.RWMutex

	data     WalletData
	filename string
	password []byte // kept in memory for re-encryption on save
}

// NewWallet creates a wallet with fresh stealth keys and saves it.
func NewWallet(filename string, password []byte) (*Wallet, error) {
	keys, err := privacy.GenerateStealthKeys()
	if err != nil {
		return nil, fmt.Errorf("failed to generate stealth keys: %w", err)
	}
	return newWalletWithKeys(filename, password, *keys, false)
}

// NewViewOnlyWallet creates a view-only wallet from exported keys.
// View-only wallets can scan for incoming funds but cannot spend.
func NewViewOnlyWallet(filename string, password []byte, keys ViewOnlyKeys) (*Wallet, error) {
	stealthKeys := privacy.StealthKeys{
		ScanPrivKey: keys.ScanPrivKey,
		ScanPubKey:  keys.ScanPubKey,
		SpendPubKey: keys.SpendPubKey,
	}
	return newWalletWithKeys(filename, password, stealthKeys, true)
}

func newWalletWithKeys(filename string, password []byte, keys privacy.StealthKeys, viewOnly bool) (*Wallet, error) {
	w := &Wallet{
		filename: filename,
		password: cloneBytes(password),
	}
	w.data = WalletData{
		Version:  1,
		ViewOnly: viewOnly,
		Keys:     keys,
		Outputs:  make([]*OwnedOutput, 0),
	}
	if err := w.Save(); err != nil {
		return nil, fmt.Errorf("failed to save new wallet: %w", err)
	}
	return w, nil
}

// LoadWallet loads an existing encrypted wallet.
func LoadWallet(filename string, password []byte) (*Wallet, error) {
	encrypted, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet file: %w", err)
	}

	plaintext, err := decrypt(encrypted, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt wallet (wrong password?): %w", err)
	}
	defer wipeBytes(plaintext)

	var data WalletData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("failed to parse wallet data: %w", err)
	}

	return &Wallet{
		data:     data,
		filename: filename,
		password: cloneBytes(password),
	}, nil
}

// LoadOrCreateWallet loads an existing wallet or creates a new one.
func LoadOrCreateWallet(filename string, password []byte) (*Wallet, error) {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		return NewWallet(filename, password)
	}
	return LoadWallet(filename, password)
}

// Save encrypts and writes the wallet to disk.
func (w *Wallet) Save() error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	plaintext, err := json.MarshalIndent(w.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal wallet: %w", err)
	}
	defer wipeBytes(plaintext)

	encrypted, err := encrypt(plaintext, w.password)
	if err != nil {
		return fmt.Errorf("failed to encrypt wallet: %w", err)
	}

	if err := os.WriteFile(w.filename, encrypted, 0600); err != nil {
		return fmt.Errorf("failed to write wallet file: %w", err)
	}
	return nil
}

// Address returns the wallet's public stealth address.
func (w *Wallet) Address() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	addr := w.data.Keys.Address()
	return addr.String()
}

// Keys returns a copy of the wallet's stealth keys.
func (w *Wallet) Keys() privacy.StealthKeys {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.data.Keys
}

// IsViewOnly reports whether this wallet lacks the spend private key.
func (w *Wallet) IsViewOnly() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.data.ViewOnly
}

// ExportViewOnlyKeys exports the keys needed to create a view-only wallet.
func (w *Wallet) ExportViewOnlyKeys() ViewOnlyKeys {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return ViewOnlyKeys{
		ScanPrivKey: w.data.Keys.ScanPrivKey,
		ScanPubKey:  w.data.Keys.ScanPubKey,
		SpendPubKey: w.data.Keys.SpendPubKey,
	}
}

// Maturity constants.
const (
	CoinbaseMaturity  = 60 // Mined coins locked for 60 blocks
	SafeConfirmations = 10 // Regular coins need 10 confirmations
)

// IsOutputMature checks if an output is mature enough to spend.
func IsOutputMature(out *OwnedOutput, currentHeight uint64) bool {
	if out.Spent {
		return false
	}

	confirmations := uint64(0)
	if currentHeight >= out.BlockHeight {
		confirmations = currentHeight - out.BlockHeight
	}

	if out.IsCoinbase {
		return confirmations >= CoinbaseMaturity
	}
	return confirmations >= SafeConfirmations
}

// Balance returns total unspent balance regardless of maturity.
func (w *Wallet) Balance() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var total uint64
	for _, out := range w.data.Outputs {
		if !out.Spent {
			total += out.Amount
		}
	}
	return total
}

// SpendableBalance returns balance that can actually be spent now.
func (w *Wallet) SpendableBalance(currentHeight uint64) uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var total uint64
	for _, out := range w.data.Outputs {
		if IsOutputMature(out, currentHeight) {
			total += out.Amount
		}
	}
	return total
}

// SpendableOutputs returns snapshots of all unspent outputs.
func (w *Wallet) SpendableOutputs() []*OwnedOutput {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var outputs []*OwnedOutput
	for _, out := range w.data.Outputs {
		if out != nil && !out.Spent {
			c := *out
			outputs = append(outputs, &c)
		}
	}
	return outputs
}

// MatureOutputs returns snapshots of outputs mature enough to spend.
func (w *Wallet) MatureOutputs(currentHeight uint64) []*OwnedOutput {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var outputs []*OwnedOutput
	for _, out := range w.data.Outputs {
		if out != nil && IsOutputMature(out, currentHeight) {
			c := *out
			outputs = append(outputs, &c)
		}
	}
	return outputs
}

// AddOutput adds a newly discovered output.
// Deduplicates by (TxID, OutputIndex) so rescans or repeated block
// notifications don't inflate balances.
func (w *Wallet) AddOutput(out *OwnedOutput) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, existing := range w.data.Outputs {
		if existing.TxID == out.TxID && existing.OutputIndex == out.OutputIndex {
			return
		}
	}
	w.data.Outputs = append(w.data.Outputs, out)
}

// MarkSpent marks the output bearing the given key image as spent.
func (w *Wallet) MarkSpent(keyImage privacy.KeyImage, height uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, out := range w.data.Outputs {
		if out.KeyImage == keyImage && !out.Spent {
			out.Spent = true
			out.SpentHeight = height
			return true
		}
	}
	return false
}

// SyncedHeight returns the last synced block height.
func (w *Wallet) SyncedHeight() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.data.SyncedHeight
}

// SetSyncedHeight updates the sync height.
func (w *Wallet) SetSyncedHeight(height uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.data.SyncedHeight = height
}

// RewindToHeight removes outputs from blocks above the given height and
// resets synced height. Used when the chain has been reorged. Outputs
// whose spend landed above the rewind point become unspent again.
func (w *Wallet) RewindToHeight(height uint64) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	var kept []*OwnedOutput
	removed := 0
	for _, out := range w.data.Outputs {
		if out.BlockHeight <= height {
			if out.Spent && out.SpentHeight > height {
				out.Spent = false
				out.SpentHeight = 0
			}
			kept = append(kept, out)
		} else {
			removed++
		}
	}
	w.data.Outputs = kept
	if w.data.SyncedHeight > height {
		w.data.SyncedHeight = height
	}
	return removed
}

// OutputCount returns total and unspent output counts.
func (w *Wallet) OutputCount() (total, unspent int) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	total = len(w.data.Outputs)
	for _, out := range w.data.Outputs {
		if !out.Spent {
			unspent++
		}
	}
	return
}

// ============================================================================
// Encryption helpers (Argon2id + AES-GCM)
// ============================================================================

type kdfParams struct {
	Version uint8
	Time    uint32 // iterations
	Memory  uint32 // KiB
	Threads uint8
}

const (
	walletEncMagic = "WATTXWLT" // 8 bytes

	walletEncFormatVersion uint8 = 1

	walletEncSaltLen = 16
	walletEncKeyLen  = 32

	// Header = magic(8) + formatVer(1) + kdfVer(1) + time(4) + memKiB(4) + threads(1) + reserved(3)
	walletEncHeaderLen = 8 + 1 + 1 + 4 + 4 + 1 + 3
)

var defaultKDFParams = kdfParams{
	Version: 1,
	Time:    3,
	Memory:  64 * 1024, // 64 MiB
	Threads: 4,
}

func deriveKeyWithParams(password, salt []byte, p kdfParams) []byte {
	if p.Time == 0 {
		p.Time = defaultKDFParams.Time
	}
	if p.Memory == 0 {
		p.Memory = defaultKDFParams.Memory
	}
	if p.Threads == 0 {
		p.Threads = defaultKDFParams.Threads
	}
	return argon2.IDKey(password, salt, p.Time, p.Memory, p.Threads, walletEncKeyLen)
}

func encrypt(plaintext, password []byte) ([]byte, error) {
	salt := make([]byte, walletEncSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	key := deriveKeyWithParams(password, salt, defaultKDFParams)
	defer wipeBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	// magic(8) || formatVer(1) || kdfVer(1) || time(4) || memKiB(4) ||
	// threads(1) || reserved(3) || salt(16) || nonce || ciphertext
	result := make([]byte, walletEncHeaderLen+walletEncSaltLen+gcm.NonceSize()+len(ciphertext))
	off := 0
	copy(result[off:off+8], []byte(walletEncMagic))
	off += 8
	result[off] = walletEncFormatVersion
	off++
	result[off] = defaultKDFParams.Version
	off++
	binary.BigEndian.PutUint32(result[off:off+4], defaultKDFParams.Time)
	off += 4
	binary.BigEndian.PutUint32(result[off:off+4], defaultKDFParams.Memory)
	off += 4
	result[off] = defaultKDFParams.Threads
	off++
	off += 3 // reserved
	copy(result[off:off+walletEncSaltLen], salt)
	off += walletEncSaltLen
	copy(result[off:off+gcm.NonceSize()], nonce)
	off += gcm.NonceSize()
	copy(result[off:], ciphertext)

	return result, nil
}

func decrypt(data, password []byte) ([]byte, error) {
	if len(data) < walletEncHeaderLen+walletEncSaltLen+12 {
		return nil, errors.New("ciphertext too short")
	}
	if string(data[:8]) != walletEncMagic {
		return nil, errors.New("not a wallet file")
	}
	if data[8] != walletEncFormatVersion {
		return nil, fmt.Errorf("unsupported wallet encryption format version: %d", data[8])
	}

	p := kdfParams{
		Version: data[9],
		Time:    binary.BigEndian.Uint32(data[10:14]),
		Memory:  binary.BigEndian.Uint32(data[14:18]),
		Threads: data[18],
	}

	off := walletEncHeaderLen
	salt := data[off : off+walletEncSaltLen]
	off += walletEncSaltLen

	key := deriveKeyWithParams(password, salt, p)
	defer wipeBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < off+nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce := data[off : off+nonceSize]
	ciphertext := data[off+nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
