package proving

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spacemeshos/zksym/config"
	"github.com/spacemeshos/zksym/oracle"
	"github.com/spacemeshos/zksym/shared"
)

const toprfSuffix = "-toprf"

// WitnessDocument is the JSON witness of the gnark circuits. Byte fields are
// base64 encoded by encoding/json.
type WitnessDocument struct {
	Cipher  string         `json:"cipher"`
	Key     []byte         `json:"key,omitempty"`
	Nonce   []byte         `json:"nonce"`
	Counter uint32         `json:"counter"`
	Input   []byte         `json:"input"`
	TOPRF   *TOPRFDocument `json:"toprf,omitempty"`
}

type TOPRFDocument struct {
	Pos             int                `json:"pos"`
	Len             int                `json:"len"`
	DomainSeparator []byte             `json:"domainSeparator"`
	Output          []byte             `json:"output"`
	Responses       []ResponseDocument `json:"responses"`
	Mask            []byte             `json:"mask"`
}

type ResponseDocument struct {
	Index          int    `json:"index"`
	PublicKeyShare []byte `json:"publicKeyShare"`
	Evaluated      []byte `json:"evaluated"`
	C              []byte `json:"c"`
	R              []byte `json:"r"`
}

// EncodeWitness returns the JSON witness of input. The plaintext is not part
// of the document, the circuit derives it from the key.
func EncodeWitness(alg config.EncryptionAlgorithm, input *shared.ProofInput) ([]byte, error) {
	doc := newDocument(alg, input.Nonce, input.Counter, input.In, input.TOPRF)
	doc.Key = input.Key
	if doc.TOPRF != nil {
		doc.TOPRF.Mask = input.Mask
	}
	return json.Marshal(doc)
}

// EncodePublicSignals returns the JSON witness without its secret parts.
func EncodePublicSignals(alg config.EncryptionAlgorithm, signals *shared.PublicSignals) ([]byte, error) {
	return json.Marshal(newDocument(alg, signals.Nonce, signals.Counter, signals.In, signals.TOPRF))
}

func newDocument(alg config.EncryptionAlgorithm, nonce []byte, counter uint32, in []byte, toprf *shared.TOPRFPublicSignals) *WitnessDocument {
	doc := &WitnessDocument{
		Cipher:  string(alg),
		Nonce:   nonce,
		Counter: counter,
		Input:   in,
	}
	if toprf == nil {
		return doc
	}

	doc.Cipher += toprfSuffix
	doc.TOPRF = &TOPRFDocument{
		Pos:             toprf.Pos,
		Len:             toprf.Len,
		DomainSeparator: []byte(toprf.DomainSeparator),
		Output:          toprf.Output,
		Responses:       make([]ResponseDocument, 0, len(toprf.Responses)),
		Mask:            []byte{},
	}
	for _, r := range toprf.Responses {
		doc.TOPRF.Responses = append(doc.TOPRF.Responses, ResponseDocument{
			Index:          r.Index,
			PublicKeyShare: r.PublicKeyShare,
			Evaluated:      r.Evaluated,
			C:              r.C,
			R:              r.R,
		})
	}
	return doc
}

// DecodeWitness parses a JSON witness. The plaintext is recomputed from the
// key, so a witness that carries no key is rejected.
func DecodeWitness(data []byte) (config.EncryptionAlgorithm, *shared.ProofInput, error) {
	var doc WitnessDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", nil, fmt.Errorf("decode witness: %w", err)
	}

	alg := config.EncryptionAlgorithm(strings.TrimSuffix(doc.Cipher, toprfSuffix))
	cfg, err := config.Lookup(alg)
	if err != nil {
		return "", nil, err
	}
	if hasTOPRF := strings.HasSuffix(doc.Cipher, toprfSuffix); hasTOPRF != (doc.TOPRF != nil) {
		return "", nil, fmt.Errorf("decode witness: cipher %q disagrees with toprf block", doc.Cipher)
	}
	if len(doc.Input) != cfg.ChunkSizeBytes() {
		return "", nil, shared.LengthError("input", cfg.ChunkSizeBytes(), len(doc.Input))
	}

	out, err := oracle.XORKeyStream(alg, doc.Key, doc.Nonce, doc.Counter, doc.Input)
	if err != nil {
		return "", nil, err
	}

	input := &shared.ProofInput{
		Key:     doc.Key,
		Nonce:   doc.Nonce,
		Counter: doc.Counter,
		In:      doc.Input,
		Out:     out,
	}
	if doc.TOPRF != nil {
		input.TOPRF = doc.TOPRF.signals()
		input.Mask = doc.TOPRF.Mask
	}
	return alg, input, nil
}

func (d *TOPRFDocument) signals() *shared.TOPRFPublicSignals {
	s := &shared.TOPRFPublicSignals{
		Pos:             d.Pos,
		Len:             d.Len,
		DomainSeparator: string(d.DomainSeparator),
		Output:          d.Output,
		Responses:       make([]shared.TOPRFResponse, 0, len(d.Responses)),
	}
	for _, r := range d.Responses {
		s.Responses = append(s.Responses, shared.TOPRFResponse{
			Index:          r.Index,
			PublicKeyShare: r.PublicKeyShare,
			OPRFResponse: shared.OPRFResponse{
				Evaluated: r.Evaluated,
				C:         r.C,
				R:         r.R,
			},
		})
	}
	return s
}
