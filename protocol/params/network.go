package params

// NetworkID is a public network identifier used as a domain separator in
// wallet/protocol constructions.
const NetworkID = "wattx_mainnet"

// ChainID is a fixed epoch identifier used in envelopes and handshakes.
// It is intentionally a constant (not derived) for auditability.
const ChainID uint32 = 0x20260401
