package shared

// Witness is a backend specific encoding of the values a circuit is evaluated
// over. Its structure is only interpreted by the backend that produced it.
type Witness []byte

// Proof is a backend specific proof: raw bytes for the native and WASM
// backends, a JSON document for the gnark backend.
type Proof []byte

// PrivateInput is never revealed to a verifier.
type PrivateInput struct {
	Key []byte
}

// PublicInput locates a ciphertext chunk in the stream.
type PublicInput struct {
	Ciphertext []byte
	IV         []byte
	// Offset is the index of the chunk in the stream.
	Offset uint32
}

// ProofInput holds everything needed to build a witness.
type ProofInput struct {
	Key     []byte
	Nonce   []byte
	Counter uint32
	// In is the ciphertext, padded to the chunk size.
	In []byte
	// Out is the plaintext of In.
	Out []byte

	TOPRF *TOPRFPublicSignals
	// Mask blinds the TOPRF request. Only set together with TOPRF.
	Mask []byte
}

// PublicSignals are the values a proof is verified against.
type PublicSignals struct {
	Nonce   []byte
	Counter uint32
	In      []byte
	Out     []byte

	TOPRF *TOPRFPublicSignals
}

// Public returns the public part of the input.
func (in *ProofInput) Public() *PublicSignals {
	return &PublicSignals{
		Nonce:   in.Nonce,
		Counter: in.Counter,
		In:      in.In,
		Out:     in.Out,
		TOPRF:   in.TOPRF,
	}
}

// ProofResult is returned by a backend's prove call.
type ProofResult struct {
	Proof Proof
	// PublicSignals is set by backends that report the public inputs they proved.
	PublicSignals []byte
}
