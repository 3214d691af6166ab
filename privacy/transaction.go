package privacy

import (
	"golang.org/x/crypto/sha3"
	"encoding/binary"
	"errors"
	"fmt"

	"wattx/protocol/params"
)

// PrivacyType is the explicit wire discriminant of a privacy transaction.
// The tag is authoritative: validation checks that the populated fields
// agree with it rather than inferring a type from structure.
type PrivacyType uint8

const (
	TypeTransparent  PrivacyType = 0
	TypeStealth      PrivacyType = 1
	TypeRing         PrivacyType = 2
	TypeConfidential PrivacyType = 3
	TypeRingCT       PrivacyType = 4
	TypeFCMP         PrivacyType = 5
)

// Valid reports whether the tag is a known privacy type.
func (t PrivacyType) Valid() bool {
	return t <= TypeFCMP
}

func (t PrivacyType) String() string {
	switch t {
	case TypeTransparent:
		return "transparent"
	case TypeStealth:
		return "stealth"
	case TypeRing:
		return "ring"
	case TypeConfidential:
		return "confidential"
	case TypeRingCT:
		return "ringct"
	case TypeFCMP:
		return "fcmp"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// usesRings reports whether the type carries ring-signature inputs.
func (t PrivacyType) usesRings() bool {
	return t == TypeRing || t == TypeRingCT
}

// usesCommitments reports whether the type carries confidential amounts.
func (t PrivacyType) usesCommitments() bool {
	return t == TypeConfidential || t == TypeRingCT || t == TypeFCMP
}

// PrivacyInput spends one output hidden in a ring.
type PrivacyInput struct {
	Ring     Ring
	KeyImage KeyImage

	// InputCommitment is the pseudo-commitment re-blinding the spent
	// amount so inputs and outputs balance without linking the real
	// ring member.
	InputCommitment [33]byte
}

// PrivacyOutput is a stealth destination with a confidential amount.
type PrivacyOutput struct {
	Stealth         StealthOutput
	Commitment      [33]byte
	EncryptedAmount [8]byte
}

// FCMPInput spends an output under a full-chain membership proof instead of
// a ring.
type FCMPInput struct {
	Root     [32]byte
	KeyImage KeyImage
	Proof    []byte
}

// PrivacyTransaction is the privacy-domain transaction. Built once by the
// builder, serialized for broadcast, never mutated after signing.
type PrivacyTransaction struct {
	Version uint32
	Type    PrivacyType
	Inputs  []PrivacyInput
	Outputs []PrivacyOutput

	// MLSAG is present for ring-bearing types. Its rings are not
	// serialized; they rebind to the inputs' rings on decode.
	MLSAG *MLSAGSignature

	// FCMP-type transactions replace rings with membership proofs and
	// an aggregated signature blob verified by the external backend.
	FCMPInputs []FCMPInput
	FCMPAggSig []byte

	AggregatedRangeProof []byte
	Fee                  uint64
	LockTime             uint32
}

var (
	// ErrMalformedTransaction is returned when a payload fails structural
	// decoding.
	ErrMalformedTransaction = errors.New("malformed privacy transaction")

	// ErrPayloadTooLarge is returned when a size prefix exceeds its
	// bound.
	ErrPayloadTooLarge = errors.New("privacy payload exceeds size bound")
)

// ===== Wire codec =====

type txWriter struct {
	buf []byte
}

func (w *txWriter) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *txWriter) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *txWriter) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *txWriter) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *txWriter) bytes(b []byte) {
	w.buf = append(w.buf, b...)
}
func (w *txWriter) blob(b []byte) {
	w.u32(uint32(len(b)))
	w.bytes(b)
}

type txReader struct {
	buf []byte
	off int
}

func (r *txReader) remaining() int { return len(r.buf) - r.off }

func (r *txReader) take(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, ErrMalformedTransaction
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *txReader) u8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *txReader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *txReader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *txReader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *txReader) blob(maxSize int) ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if int(n) > maxSize {
		return nil, ErrPayloadTooLarge
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func writeRingMember(w *txWriter, m *RingMember) {
	w.bytes(m.OutPoint.TxHash[:])
	w.u32(m.OutPoint.Index)
	w.bytes(m.PubKey[:])
	w.bytes(m.Commitment[:])
}

func readRingMember(r *txReader) (RingMember, error) {
	var m RingMember
	b, err := r.take(32)
	if err != nil {
		return m, err
	}
	copy(m.OutPoint.TxHash[:], b)
	if m.OutPoint.Index, err = r.u32(); err != nil {
		return m, err
	}
	if b, err = r.take(33); err != nil {
		return m, err
	}
	copy(m.PubKey[:], b)
	if b, err = r.take(33); err != nil {
		return m, err
	}
	copy(m.Commitment[:], b)
	return m, nil
}

// Serialize encodes the transaction:
// version | type | inputs | outputs | type-specific signature |
// aggregated range proof | fee | lockTime. All integers little-endian.
func (tx *PrivacyTransaction) Serialize() []byte {
	w := &txWriter{buf: make([]byte, 0, 512)}

	w.u32(tx.Version)
	w.u8(uint8(tx.Type))

	w.u16(uint16(len(tx.Inputs)))
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		w.bytes(in.KeyImage[:])
		w.bytes(in.InputCommitment[:])
		w.u16(uint16(in.Ring.Size()))
		for j := range in.Ring.Members {
			writeRingMember(w, &in.Ring.Members[j])
		}
	}

	w.u16(uint16(len(tx.Outputs)))
	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		w.bytes(out.Stealth.OneTimePubKey[:])
		w.bytes(out.Stealth.Ephemeral.EphemeralPubKey[:])
		w.u8(out.Stealth.Ephemeral.ViewTag)
		w.u32(out.Stealth.OutputIndex)
		w.bytes(out.Commitment[:])
		w.bytes(out.EncryptedAmount[:])
	}

	if tx.Type == TypeFCMP {
		w.u16(uint16(len(tx.FCMPInputs)))
		for i := range tx.FCMPInputs {
			in := &tx.FCMPInputs[i]
			w.bytes(in.Root[:])
			w.bytes(in.KeyImage[:])
			w.blob(in.Proof)
		}
		w.blob(tx.FCMPAggSig)
	} else {
		w.blob(tx.serializeMLSAG())
	}

	w.blob(tx.AggregatedRangeProof)
	w.u64(tx.Fee)
	w.u32(tx.LockTime)

	return w.buf
}

// serializeMLSAG encodes the signature without its rings; they rebind to
// the inputs' rings on decode.
func (tx *PrivacyTransaction) serializeMLSAG() []byte {
	if tx.MLSAG == nil {
		return nil
	}
	sig := tx.MLSAG
	m := len(sig.KeyImages)
	n := sig.RingSize()

	w := &txWriter{buf: make([]byte, 0, 36+m*33+m*n*32)}
	w.u16(uint16(m))
	w.u16(uint16(n))
	w.bytes(sig.C0[:])
	for j := 0; j < m; j++ {
		w.bytes(sig.KeyImages[j][:])
	}
	for j := 0; j < m; j++ {
		for i := 0; i < n; i++ {
			w.bytes(sig.S[j][i][:])
		}
	}
	return w.buf
}

func parseMLSAG(blob []byte, rings []Ring) (*MLSAGSignature, error) {
	r := &txReader{buf: blob}
	m16, err := r.u16()
	if err != nil {
		return nil, err
	}
	n16, err := r.u16()
	if err != nil {
		return nil, err
	}
	m, n := int(m16), int(n16)
	if m == 0 || m > params.MaxPrivacyInputs || n == 0 || n > params.MaxRingSize {
		return nil, ErrMalformedTransaction
	}
	if m != len(rings) {
		return nil, ErrMalformedTransaction
	}

	sig := &MLSAGSignature{
		Rings:     rings,
		KeyImages: make([]KeyImage, m),
		S:         make([][][32]byte, m),
	}
	b, err := r.take(32)
	if err != nil {
		return nil, err
	}
	copy(sig.C0[:], b)

	for j := 0; j < m; j++ {
		if b, err = r.take(33); err != nil {
			return nil, err
		}
		copy(sig.KeyImages[j][:], b)
	}
	for j := 0; j < m; j++ {
		if rings[j].Size() != n {
			return nil, ErrMalformedTransaction
		}
		sig.S[j] = make([][32]byte, n)
		for i := 0; i < n; i++ {
			if b, err = r.take(32); err != nil {
				return nil, err
			}
			copy(sig.S[j][i][:], b)
		}
	}
	if r.remaining() != 0 {
		return nil, ErrMalformedTransaction
	}
	return sig, nil
}

// DeserializePrivacyTransaction decodes a payload produced by Serialize,
// enforcing structural bounds before any cryptographic work.
func DeserializePrivacyTransaction(payload []byte) (*PrivacyTransaction, error) {
	if len(payload) > params.MaxPrivacyPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	r := &txReader{buf: payload}
	tx := &PrivacyTransaction{}

	var err error
	if tx.Version, err = r.u32(); err != nil {
		return nil, err
	}
	typeByte, err := r.u8()
	if err != nil {
		return nil, err
	}
	tx.Type = PrivacyType(typeByte)
	if !tx.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown privacy type %d", ErrMalformedTransaction, typeByte)
	}

	inputCount, err := r.u16()
	if err != nil {
		return nil, err
	}
	if int(inputCount) > params.MaxPrivacyInputs {
		return nil, ErrPayloadTooLarge
	}
	tx.Inputs = make([]PrivacyInput, inputCount)
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		b, terr := r.take(33)
		if terr != nil {
			return nil, terr
		}
		copy(in.KeyImage[:], b)
		if b, terr = r.take(33); terr != nil {
			return nil, terr
		}
		copy(in.InputCommitment[:], b)

		ringSize, terr := r.u16()
		if terr != nil {
			return nil, terr
		}
		if int(ringSize) > params.MaxRingSize {
			return nil, ErrPayloadTooLarge
		}
		in.Ring.Members = make([]RingMember, ringSize)
		for j := range in.Ring.Members {
			if in.Ring.Members[j], terr = readRingMember(r); terr != nil {
				return nil, terr
			}
		}
	}

	outputCount, err := r.u16()
	if err != nil {
		return nil, err
	}
	if int(outputCount) > params.MaxPrivacyOutputs {
		return nil, ErrPayloadTooLarge
	}
	tx.Outputs = make([]PrivacyOutput, outputCount)
	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		b, terr := r.take(33)
		if terr != nil {
			return nil, terr
		}
		copy(out.Stealth.OneTimePubKey[:], b)
		if b, terr = r.take(33); terr != nil {
			return nil, terr
		}
		copy(out.Stealth.Ephemeral.EphemeralPubKey[:], b)
		if out.Stealth.Ephemeral.ViewTag, terr = r.u8(); terr != nil {
			return nil, terr
		}
		if out.Stealth.OutputIndex, terr = r.u32(); terr != nil {
			return nil, terr
		}
		if b, terr = r.take(33); terr != nil {
			return nil, terr
		}
		copy(out.Commitment[:], b)
		if b, terr = r.take(8); terr != nil {
			return nil, terr
		}
		copy(out.EncryptedAmount[:], b)
	}

	if tx.Type == TypeFCMP {
		fcmpCount, terr := r.u16()
		if terr != nil {
			return nil, terr
		}
		if int(fcmpCount) > params.MaxPrivacyInputs {
			return nil, ErrPayloadTooLarge
		}
		tx.FCMPInputs = make([]FCMPInput, fcmpCount)
		for i := range tx.FCMPInputs {
			in := &tx.FCMPInputs[i]
			b, ferr := r.take(32)
			if ferr != nil {
				return nil, ferr
			}
			copy(in.Root[:], b)
			if b, ferr = r.take(33); ferr != nil {
				return nil, ferr
			}
			copy(in.KeyImage[:], b)
			if in.Proof, ferr = r.blob(params.MaxSignatureSize); ferr != nil {
				return nil, ferr
			}
		}
		if tx.FCMPAggSig, err = r.blob(params.MaxSignatureSize); err != nil {
			return nil, err
		}
	} else {
		sigBlob, serr := r.blob(params.MaxSignatureSize)
		if serr != nil {
			return nil, serr
		}
		if len(sigBlob) > 0 {
			rings := make([]Ring, len(tx.Inputs))
			for i := range tx.Inputs {
				rings[i] = tx.Inputs[i].Ring
			}
			if tx.MLSAG, err = parseMLSAG(sigBlob, rings); err != nil {
				return nil, err
			}
		}
	}

	if tx.AggregatedRangeProof, err = r.blob(params.MaxRangeProofSize); err != nil {
		return nil, err
	}
	if tx.Fee, err = r.u64(); err != nil {
		return nil, err
	}
	if tx.LockTime, err = r.u32(); err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, ErrMalformedTransaction
	}

	return tx, nil
}

// TxHash returns the transaction id over the full serialized form.
func (tx *PrivacyTransaction) TxHash() [32]byte {
	return sha3.Sum256(tx.Serialize())
}

// SigningHash is the message signed by the MLSAG: everything except the
// signature blob itself.
func (tx *PrivacyTransaction) SigningHash() [32]byte {
	stripped := *tx
	stripped.MLSAG = nil
	stripped.FCMPAggSig = nil
	return sha3.Sum256(stripped.Serialize())
}

// KeyImages returns every key image the transaction commits to, across
// both ring and FCMP inputs.
func (tx *PrivacyTransaction) KeyImages() []KeyImage {
	out := make([]KeyImage, 0, len(tx.Inputs)+len(tx.FCMPInputs))
	for i := range tx.Inputs {
		out = append(out, tx.Inputs[i].KeyImage)
	}
	for i := range tx.FCMPInputs {
		out = append(out, tx.FCMPInputs[i].KeyImage)
	}
	return out
}

// ===== Host transaction adapter =====

// HostTxOut is the minimal view of a host-chain output.
type HostTxOut struct {
	Value  uint64
	Script []byte
}

// HostTransaction is the minimal view of a host-chain transaction this
// layer needs: the version word and the outputs that may carry the privacy
// payload.
type HostTransaction struct {
	Version  uint32
	Outputs  []HostTxOut
	LockTime uint32
}

// TxID hashes the host transaction's observable fields.
func (tx *HostTransaction) TxID() [32]byte {
	w := &txWriter{buf: make([]byte, 0, 64)}
	w.u32(tx.Version)
	w.u16(uint16(len(tx.Outputs)))
	for i := range tx.Outputs {
		w.u64(tx.Outputs[i].Value)
		w.blob(tx.Outputs[i].Script)
	}
	w.u32(tx.LockTime)
	return sha3.Sum256(w.buf)
}

const opReturn = 0x6a

// pushData encodes a minimal-push script payload.
func pushData(b []byte) []byte {
	switch {
	case len(b) <= 75:
		return append([]byte{byte(len(b))}, b...)
	case len(b) <= 0xff:
		return append([]byte{0x4c, byte(len(b))}, b...)
	case len(b) <= 0xffff:
		out := []byte{0x4d, byte(len(b)), byte(len(b) >> 8)}
		return append(out, b...)
	default:
		out := []byte{0x4e, byte(len(b)), byte(len(b) >> 8), byte(len(b) >> 16), byte(len(b) >> 24)}
		return append(out, b...)
	}
}

// parsePushData decodes the first push after OP_RETURN.
func parsePushData(script []byte) ([]byte, bool) {
	if len(script) < 2 || script[0] != opReturn {
		return nil, false
	}
	rest := script[1:]
	var n int
	switch {
	case rest[0] <= 75:
		n = int(rest[0])
		rest = rest[1:]
	case rest[0] == 0x4c:
		if len(rest) < 2 {
			return nil, false
		}
		n = int(rest[1])
		rest = rest[2:]
	case rest[0] == 0x4d:
		if len(rest) < 3 {
			return nil, false
		}
		n = int(rest[1]) | int(rest[2])<<8
		rest = rest[3:]
	case rest[0] == 0x4e:
		if len(rest) < 5 {
			return nil, false
		}
		n = int(rest[1]) | int(rest[2])<<8 | int(rest[3])<<16 | int(rest[4])<<24
		rest = rest[5:]
	default:
		return nil, false
	}
	if n < 0 || len(rest) < n {
		return nil, false
	}
	return rest[:n], true
}

// privacyPayload returns the embedded payload, if any.
func privacyPayload(tx *HostTransaction) ([]byte, bool) {
	marker := []byte(params.PrivacyPayloadMarker)
	for i := range tx.Outputs {
		data, ok := parsePushData(tx.Outputs[i].Script)
		if !ok || len(data) < len(marker) {
			continue
		}
		if string(data[:len(marker)]) == params.PrivacyPayloadMarker {
			return data[len(marker):], true
		}
	}
	return nil, false
}

// HasPrivacyData reports whether the host transaction carries a privacy
// payload, by version flag or marker output.
func HasPrivacyData(tx *HostTransaction) bool {
	if tx.Version&params.PrivacyTxVersionFlag != 0 {
		return true
	}
	_, ok := privacyPayload(tx)
	return ok
}

// ExtractPrivacyTransaction decodes the embedded privacy transaction.
// Returns (nil, nil) when the host transaction carries no payload; a
// payload that is present but malformed is an error.
func ExtractPrivacyTransaction(tx *HostTransaction) (*PrivacyTransaction, error) {
	payload, ok := privacyPayload(tx)
	if !ok {
		if tx.Version&params.PrivacyTxVersionFlag != 0 {
			// Flagged but missing its payload output.
			return nil, ErrMalformedTransaction
		}
		return nil, nil
	}
	return DeserializePrivacyTransaction(payload)
}

// EmbedPrivacyTransaction appends the marker output carrying the serialized
// privacy transaction and sets the version flag.
func EmbedPrivacyTransaction(priv *PrivacyTransaction, host *HostTransaction) error {
	payload := priv.Serialize()
	if len(payload)+len(params.PrivacyPayloadMarker) > params.MaxPrivacyPayloadSize {
		return ErrPayloadTooLarge
	}

	data := make([]byte, 0, len(payload)+4)
	data = append(data, params.PrivacyPayloadMarker...)
	data = append(data, payload...)

	script := append([]byte{opReturn}, pushData(data)...)
	host.Version |= params.PrivacyTxVersionFlag
	host.Outputs = append(host.Outputs, HostTxOut{Value: 0, Script: script})
	return nil
}
