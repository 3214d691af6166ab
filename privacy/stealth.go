package privacy

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"wattx/protocol/params"
)

// Stealth addresses follow the dual-key scheme: the published address is a
// (scan, spend) public key pair, and every payment derives a fresh one-time
// destination key that only the scan key holder can detect and only the
// spend key holder can spend.

var (
	// ErrBadAddressPrefix is returned when the address string does not
	// start with the stealth HRP.
	ErrBadAddressPrefix = errors.New("stealth address missing sx1 prefix")

	// ErrBadAddressVersion is returned when the Base58Check payload has
	// the wrong version byte.
	ErrBadAddressVersion = errors.New("stealth address has wrong version byte")

	// ErrBadAddressLength is returned when the decoded payload is too
	// short to hold both public keys.
	ErrBadAddressLength = errors.New("stealth address payload too short")

	// ErrInvalidStealthAddress is returned for addresses whose embedded
	// keys do not decode to curve points.
	ErrInvalidStealthAddress = errors.New("invalid stealth address keys")
)

// StealthAddress is a recipient's published receiving capability. Immutable
// once published.
type StealthAddress struct {
	ScanPubKey  [33]byte
	SpendPubKey [33]byte
	Label       string

	// Optional prefix filter: when PrefixLength > 0, the first
	// PrefixLength bits of Prefix identify a scan partition.
	PrefixLength uint8
	Prefix       uint32
}

// StealthKeys holds both halves of a stealth identity. The scan private key
// alone detects incoming payments; spending requires both private keys.
type StealthKeys struct {
	ScanPrivKey  [32]byte
	ScanPubKey   [33]byte
	SpendPrivKey [32]byte
	SpendPubKey  [33]byte
}

// EphemeralData is the per-output sender-published material a recipient
// needs to scan.
type EphemeralData struct {
	EphemeralPubKey [33]byte
	ViewTag         byte
}

// StealthOutput is a derived one-time destination.
type StealthOutput struct {
	OneTimePubKey [33]byte
	Ephemeral     EphemeralData
	OutputIndex   uint32
}

// GenerateStealthKeys creates a fresh stealth identity.
func GenerateStealthKeys() (*StealthKeys, error) {
	scanPriv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate scan key: %w", err)
	}
	spendPriv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate spend key: %w", err)
	}

	keys := &StealthKeys{}
	copy(keys.ScanPrivKey[:], scanPriv.Serialize())
	copy(keys.SpendPrivKey[:], spendPriv.Serialize())
	copy(keys.ScanPubKey[:], scanPriv.PubKey().SerializeCompressed())
	copy(keys.SpendPubKey[:], spendPriv.PubKey().SerializeCompressed())
	return keys, nil
}

// Address returns the public stealth address for these keys.
func (k *StealthKeys) Address() StealthAddress {
	return StealthAddress{
		ScanPubKey:  k.ScanPubKey,
		SpendPubKey: k.SpendPubKey,
	}
}

// Valid reports whether both embedded keys decode to curve points.
func (a *StealthAddress) Valid() bool {
	if _, err := secp256k1.ParsePubKey(a.ScanPubKey[:]); err != nil {
		return false
	}
	if _, err := secp256k1.ParsePubKey(a.SpendPubKey[:]); err != nil {
		return false
	}
	return true
}

// String encodes the address as
// "sx1" + Base58Check(version || scanPub || spendPub || prefixLen [|| prefix]).
// Value receiver so it works directly on returned addresses.
func (a StealthAddress) String() string {
	if !a.Valid() {
		return ""
	}

	payload := make([]byte, 0, 1+33+33+1+4)
	payload = append(payload, a.ScanPubKey[:]...)
	payload = append(payload, a.SpendPubKey[:]...)
	payload = append(payload, a.PrefixLength)
	if a.PrefixLength > 0 {
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], a.Prefix)
		payload = append(payload, prefix[:]...)
	}

	return params.StealthAddressHRP + base58.CheckEncode(payload, params.StealthAddressVersion)
}

// ParseStealthAddress decodes a stealth address string. The label is not
// part of the wire form and is left empty.
func ParseStealthAddress(s string) (*StealthAddress, error) {
	if !strings.HasPrefix(s, params.StealthAddressHRP) {
		return nil, ErrBadAddressPrefix
	}

	payload, version, err := base58.CheckDecode(s[len(params.StealthAddressHRP):])
	if err != nil {
		return nil, fmt.Errorf("failed to decode stealth address: %w", err)
	}
	if version != params.StealthAddressVersion {
		return nil, ErrBadAddressVersion
	}
	if len(payload) < 66 {
		return nil, ErrBadAddressLength
	}

	addr := &StealthAddress{}
	copy(addr.ScanPubKey[:], payload[0:33])
	copy(addr.SpendPubKey[:], payload[33:66])

	if len(payload) > 66 {
		addr.PrefixLength = payload[66]
		if addr.PrefixLength > 0 {
			if len(payload) < 71 {
				return nil, ErrBadAddressLength
			}
			addr.Prefix = binary.BigEndian.Uint32(payload[67:71])
		}
	}

	if !addr.Valid() {
		return nil, ErrInvalidStealthAddress
	}
	return addr, nil
}

// ===== Derivation =====

// ComputeViewTag returns the one-byte scan prefilter derived from the
// shared secret. It must never produce a false negative for a genuinely
// matching key pair, so both sides derive it from the identical point.
func ComputeViewTag(sharedSecret [33]byte) byte {
	h := sha256.New()
	h.Write([]byte(stealthDomain))
	h.Write([]byte("ViewTag"))
	h.Write(sharedSecret[:])
	var digest [32]byte
	h.Sum(digest[:0])
	return digest[0]
}

// hashSharedSecret derives the per-output tweak scalar
// h = H(domain || S || outputIndex) mod n.
func hashSharedSecret(sharedSecret [33]byte, outputIndex uint32) [32]byte {
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], outputIndex)
	return hashToScalar([]byte(stealthDomain), []byte("SharedSecret"), sharedSecret[:], idx[:])
}

// GenerateStealthDestination derives a one-time destination for a payment
// to addr at the given output index. The returned ephemeral private key is
// never persisted here; the caller owns its lifetime.
func GenerateStealthDestination(addr *StealthAddress, outputIndex uint32) (ephemeralPriv [32]byte, out *StealthOutput, err error) {
	if !addr.Valid() {
		return ephemeralPriv, nil, ErrInvalidStealthAddress
	}

	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return ephemeralPriv, nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	copy(ephemeralPriv[:], priv.Serialize())

	var ephemeralPub [33]byte
	copy(ephemeralPub[:], priv.PubKey().SerializeCompressed())

	// S = r * scanPub (ECDH)
	sharedSecret, err := scalarMultPoint(ephemeralPriv, addr.ScanPubKey)
	if err != nil {
		return [32]byte{}, nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}

	oneTime, err := deriveOneTimeKey(sharedSecret, addr.SpendPubKey, outputIndex)
	if err != nil {
		return [32]byte{}, nil, err
	}

	out = &StealthOutput{
		OneTimePubKey: oneTime,
		Ephemeral: EphemeralData{
			EphemeralPubKey: ephemeralPub,
			ViewTag:         ComputeViewTag(sharedSecret),
		},
		OutputIndex: outputIndex,
	}
	return ephemeralPriv, out, nil
}

// deriveOneTimeKey computes P = spendPub + H(S, idx)*G.
func deriveOneTimeKey(sharedSecret [33]byte, spendPub [33]byte, outputIndex uint32) ([33]byte, error) {
	tweak := hashSharedSecret(sharedSecret, outputIndex)
	tweakPoint, err := scalarBaseMult(tweak)
	if err != nil {
		return [33]byte{}, fmt.Errorf("failed to derive tweak point: %w", err)
	}
	oneTime, err := pointAdd(spendPub, tweakPoint)
	if err != nil {
		return [33]byte{}, fmt.Errorf("failed to derive one-time key: %w", err)
	}
	return oneTime, nil
}

// ScanStealthOutput reports whether out pays the holder of scanPrivKey and
// spendPubKey. The view tag check runs first so mismatches are rejected
// with one hash instead of two point multiplications.
func ScanStealthOutput(out *StealthOutput, scanPrivKey [32]byte, spendPubKey [33]byte) bool {
	// S' = scanPriv * R
	sharedSecret, err := scalarMultPoint(scanPrivKey, out.Ephemeral.EphemeralPubKey)
	if err != nil {
		return false
	}

	if ComputeViewTag(sharedSecret) != out.Ephemeral.ViewTag {
		return false
	}

	expected, err := deriveOneTimeKey(sharedSecret, spendPubKey, out.OutputIndex)
	if err != nil {
		return false
	}
	return bytes.Equal(expected[:], out.OneTimePubKey[:])
}

// ComputeSharedSecret returns the ECDH point priv*pub in compressed form.
// Sender side passes (ephemeralPriv, scanPub); recipient side passes
// (scanPriv, ephemeralPub). Both arrive at the same secret.
func ComputeSharedSecret(privKey [32]byte, pubKey [33]byte) ([33]byte, error) {
	return scalarMultPoint(privKey, pubKey)
}

// DeriveStealthSpendingKey recovers the private key for a matched stealth
// output: x = spendPriv + H(S, idx) mod n. Requires both private keys.
func DeriveStealthSpendingKey(scanPrivKey, spendPrivKey [32]byte, ephemeralPubKey [33]byte, outputIndex uint32) ([32]byte, error) {
	sharedSecret, err := scalarMultPoint(scanPrivKey, ephemeralPubKey)
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to compute shared secret: %w", err)
	}

	tweak := hashSharedSecret(sharedSecret, outputIndex)
	derived := scalarAdd(spendPrivKey, tweak)
	if scalarIsZero(derived) {
		return [32]byte{}, ErrInvalidScalar
	}
	return derived, nil
}

// MatchesPrefix reports whether a one-time public key falls into the
// address's prefix partition. Addresses without a prefix match everything.
func (a *StealthAddress) MatchesPrefix(oneTimePubKey [33]byte) bool {
	if a.PrefixLength == 0 {
		return true
	}
	bits := a.PrefixLength
	if bits > 32 {
		bits = 32
	}
	keyBits := binary.BigEndian.Uint32(oneTimePubKey[1:5])
	shift := 32 - uint32(bits)
	return keyBits>>shift == a.Prefix>>shift
}
