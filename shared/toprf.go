package shared

// KeyShare is the key of one threshold participant.
type KeyShare struct {
	Index      int
	PublicKey  []byte
	PrivateKey []byte
}

// ThresholdKeys is the combined group key and the shares it was split into.
type ThresholdKeys struct {
	PublicKey  []byte
	PrivateKey []byte
	Shares     []KeyShare
	// Threshold is the number of shares needed to finalize an evaluation.
	Threshold int
}

// OPRFRequest is single use: Mask and SecretElements must stay with the
// requester, MaskedData is sent to the evaluators.
type OPRFRequest struct {
	Mask           []byte
	MaskedData     []byte
	SecretElements [2][]byte
}

// OPRFResponse is an evaluation of masked data with a DLEQ proof (C, R) that
// it was computed with the key behind the evaluator's public share.
type OPRFResponse struct {
	Evaluated []byte
	C         []byte
	R         []byte
}

// TOPRFResponse is an OPRFResponse attributed to a share.
type TOPRFResponse struct {
	Index          int
	PublicKeyShare []byte
	OPRFResponse
}

// TOPRFPublicSignals bind a nullifier to an attribute of the plaintext.
type TOPRFPublicSignals struct {
	// Pos is the byte offset of the attribute in the plaintext chunk.
	Pos int
	// Len is the attribute's length in bytes.
	Len             int
	DomainSeparator string
	// Output is the nullifier.
	Output    []byte
	Responses []TOPRFResponse
}
