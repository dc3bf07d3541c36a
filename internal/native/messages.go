package native

// Byte fields are base64 encoded by encoding/json, the encoding the
// libraries expect.

type ProveResult struct {
	Proof struct {
		ProofJSON string `json:"proofJson"`
	} `json:"proof"`
	PublicSignals []byte `json:"publicSignals"`
}

type VerifyParams struct {
	Cipher        string `json:"cipher"`
	Proof         string `json:"proof"`
	PublicSignals []byte `json:"publicSignals"`
}

type ThresholdKeysParams struct {
	Total     int `json:"total"`
	Threshold int `json:"threshold"`
}

type ShareDocument struct {
	Index      int    `json:"index"`
	PublicKey  []byte `json:"publicKey"`
	PrivateKey []byte `json:"privateKey"`
}

type ThresholdKeysResult struct {
	PublicKey  []byte          `json:"publicKey"`
	PrivateKey []byte          `json:"privateKey"`
	Shares     []ShareDocument `json:"shares"`
}

type EvaluateParams struct {
	ServerPrivate []byte `json:"serverPrivate"`
	MaskedData    []byte `json:"maskedData"`
}

type EvaluateResult struct {
	Evaluated []byte `json:"evaluated"`
	C         []byte `json:"c"`
	R         []byte `json:"r"`
}

type RequestParams struct {
	Data            []byte `json:"data"`
	DomainSeparator string `json:"domainSeparator"`
}

type RequestDocument struct {
	Mask           []byte    `json:"mask"`
	MaskedData     []byte    `json:"maskedData"`
	SecretElements [2][]byte `json:"secretElements"`
}

type ResponseDocument struct {
	Index          int    `json:"index"`
	PublicKeyShare []byte `json:"publicKeyShare"`
	Evaluated      []byte `json:"evaluated"`
	C              []byte `json:"c"`
	R              []byte `json:"r"`
}

type FinalizeParams struct {
	ServerPublicKey []byte             `json:"serverPublicKey"`
	Request         RequestDocument    `json:"request"`
	Responses       []ResponseDocument `json:"responses"`
}

type FinalizeResult struct {
	Output []byte `json:"output"`
}
