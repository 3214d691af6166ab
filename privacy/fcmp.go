package privacy

// Full-chain membership proofs replace rings with a zero-knowledge proof
// that the spent output belongs to the full output set. The proof system
// lives in an external backend; this package only defines the request and
// response shapes the validator consumes.

// FCMPTree is the backend's view of the output accumulator it proves
// membership against.
type FCMPTree interface {
	// Root returns the current accumulator root.
	Root() [32]byte

	// LeafCount returns the number of outputs in the tree.
	LeafCount() uint64
}

// FCMPBackend is the opaque proof-system capability. Implementations are
// supplied by an external collaborator at engine construction; no default
// exists in-process, so FCMP transactions are rejected until one is
// configured.
type FCMPBackend interface {
	// GenerateProof proves that output sits at leafIndex in the tree.
	GenerateProof(tree FCMPTree, output [33]byte, leafIndex uint64) ([]byte, error)

	// Verify checks a membership proof against the input it authorizes.
	Verify(root [32]byte, input *FCMPInput, proof []byte) bool
}
