package params

// Protocol-level privacy constants shared by consensus, wallet and CLI code.
//
// Keep these out of the privacy package itself so tooling can reference the
// bounds without pulling in curve dependencies.
const (
	// StealthAddressVersion is the version byte inside the Base58Check
	// payload of a stealth address.
	StealthAddressVersion = byte(0x2A)

	// StealthAddressHRP is the human-readable prefix of stealth addresses.
	StealthAddressHRP = "sx1"

	// PrivacyTxVersionFlag marks a host transaction version as carrying a
	// privacy payload.
	PrivacyTxVersionFlag = uint32(0x8000)

	// PrivacyPayloadMarker is the 4-byte tag at the start of the OP_RETURN
	// pushdata that carries a serialized privacy transaction.
	PrivacyPayloadMarker = "WTXP"
)

// Ring size schedule. The minimum steps up at fixed heights so older small
// rings remain valid at the heights they confirmed at.
const (
	MinRingSizeInitial = 3
	MinRingSizeMid     = 7
	MinRingSizeFinal   = 11

	RingSizeMidHeight   = 100000
	RingSizeFinalHeight = 500000

	// MaxRingSize bounds ring size in both consensus and relay policy.
	MaxRingSize = 64

	// DefaultRingSize is the ring size new transactions target, raised
	// to the height minimum once the schedule overtakes it.
	DefaultRingSize = 11
)

// Structural bounds applied before any cryptographic work during decode.
const (
	MaxPrivacyInputs  = 256
	MaxPrivacyOutputs = 256

	// MaxRangeProofSize bounds a single or aggregated range proof blob.
	MaxRangeProofSize = 10240

	// MaxSignatureSize bounds the aggregated MLSAG (or FCMP) signature blob.
	MaxSignatureSize = 131072

	// MaxPrivacyPayloadSize bounds the whole embedded payload.
	MaxPrivacyPayloadSize = 1 << 20
)
