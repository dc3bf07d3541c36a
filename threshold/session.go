// Package threshold drives the TOPRF protocol over an OPRF capable operator:
// key generation, request construction, evaluation by the share holders and
// finalization into a nullifier.
package threshold

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/spacemeshos/zksym/proving"
	"github.com/spacemeshos/zksym/shared"
)

// ErrPhase is returned when a step is run out of order.
var ErrPhase = errors.New("protocol step out of order")

// Phase is a step of the protocol. A session only moves forward.
type Phase int

const (
	PhaseKeyGen Phase = iota
	PhaseRequest
	PhaseEvaluate
	PhaseFinalize
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseKeyGen:
		return "keygen"
	case PhaseRequest:
		return "request"
	case PhaseEvaluate:
		return "evaluate"
	case PhaseFinalize:
		return "finalize"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Session is a single TOPRF evaluation. It is safe for concurrent use; the
// evaluation step in particular may run for several shares at once.
type Session struct {
	op     proving.OPRFOperator
	logger *zap.Logger

	mu        sync.Mutex
	phase     Phase
	keys      *shared.ThresholdKeys
	request   *shared.OPRFRequest
	dataLen   int
	domain    string
	responses map[int]shared.TOPRFResponse
	output    []byte
}

type option struct {
	logger  *zap.Logger
	keys    *shared.ThresholdKeys
	request *resumedRequest
}

type resumedRequest struct {
	req     *shared.OPRFRequest
	dataLen int
	domain  string
}

// OptionFunc is a function that sets an option for a Session.
type OptionFunc func(*option) error

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) OptionFunc {
	return func(o *option) error {
		o.logger = logger
		return nil
	}
}

// WithKeys starts the session with existing keys, skipping key generation.
// Only the public parts of the shares are required.
func WithKeys(keys *shared.ThresholdKeys) OptionFunc {
	return func(o *option) error {
		if err := validateKeys(keys); err != nil {
			return err
		}
		o.keys = keys
		return nil
	}
}

// WithRequest resumes the session at the evaluation step with a request
// made earlier for data of dataLen bytes. Requires WithKeys.
func WithRequest(req *shared.OPRFRequest, dataLen int, domainSeparator string) OptionFunc {
	return func(o *option) error {
		switch {
		case req == nil:
			return errors.New("`req` is nil")
		case len(req.MaskedData) == 0:
			return errors.New("`req` has no masked data")
		case dataLen < 1:
			return fmt.Errorf("invalid `dataLen`; expected: >= 1, given: %d", dataLen)
		}
		o.request = &resumedRequest{req: req, dataLen: dataLen, domain: domainSeparator}
		return nil
	}
}

func validateKeys(keys *shared.ThresholdKeys) error {
	switch {
	case keys == nil:
		return errors.New("`keys` is nil")
	case len(keys.PublicKey) == 0:
		return errors.New("`keys` has no public key")
	case keys.Threshold < 1 || keys.Threshold > len(keys.Shares):
		return fmt.Errorf("invalid `keys`; threshold %d with %d shares", keys.Threshold, len(keys.Shares))
	}
	return nil
}

func NewSession(op proving.OPRFOperator, opts ...OptionFunc) (*Session, error) {
	options := &option{logger: zap.NewNop()}
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}

	s := &Session{
		op:        op,
		logger:    options.logger,
		responses: make(map[int]shared.TOPRFResponse),
	}
	if options.keys != nil {
		s.keys = options.keys
		s.phase = PhaseRequest
	}
	if r := options.request; r != nil {
		if s.keys == nil {
			return nil, errors.New("resuming a request requires keys")
		}
		s.request = r.req
		s.dataLen = r.dataLen
		s.domain = r.domain
		s.phase = PhaseEvaluate
	}
	return s, nil
}

// Phase returns the step the session expects next.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) expect(p Phase) error {
	if s.phase != p {
		return fmt.Errorf("%w: expected %v, session is at %v", ErrPhase, p, s.phase)
	}
	return nil
}

// GenerateKeys creates the group key and its shares.
func (s *Session) GenerateKeys(ctx context.Context, total, threshold int) (*shared.ThresholdKeys, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect(PhaseKeyGen); err != nil {
		return nil, err
	}
	if total < 1 || threshold < 1 {
		return nil, fmt.Errorf("invalid threshold parameters; expected positive values, given: total %d, threshold %d", total, threshold)
	}
	if threshold > total {
		return nil, fmt.Errorf("invalid threshold parameters; threshold %d exceeds total %d", threshold, total)
	}

	keys, err := s.op.GenerateThresholdKeys(ctx, total, threshold)
	if err != nil {
		return nil, fmt.Errorf("generate threshold keys: %w", err)
	}
	if keys.Threshold == 0 {
		keys.Threshold = threshold
	}
	if len(keys.Shares) != total {
		return nil, fmt.Errorf("generate threshold keys: expected %d shares, got %d", total, len(keys.Shares))
	}

	s.keys = keys
	s.phase = PhaseRequest
	s.logger.Debug("threshold keys generated", zap.Int("total", total), zap.Int("threshold", threshold))
	return keys, nil
}

// NewRequest masks the hidden attribute data for evaluation.
func (s *Session) NewRequest(ctx context.Context, data []byte, domainSeparator string) (*shared.OPRFRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect(PhaseRequest); err != nil {
		return nil, err
	}

	req, err := s.op.GenerateOPRFRequest(ctx, data, domainSeparator)
	if err != nil {
		return nil, fmt.Errorf("generate oprf request: %w", err)
	}
	s.request = req
	s.dataLen = len(data)
	s.domain = domainSeparator
	s.phase = PhaseEvaluate
	return req, nil
}

// Evaluate evaluates the request with the share at index. The share must
// carry its private key.
func (s *Session) Evaluate(ctx context.Context, index int) (*shared.TOPRFResponse, error) {
	s.mu.Lock()
	if err := s.expect(PhaseEvaluate); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	share, err := s.share(index)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	masked := s.request.MaskedData
	s.mu.Unlock()

	resp, err := s.op.EvaluateOPRF(ctx, share.PrivateKey, masked)
	if err != nil {
		return nil, fmt.Errorf("evaluate with share %d: %w", index, err)
	}

	r := shared.TOPRFResponse{
		Index:          share.Index,
		PublicKeyShare: share.PublicKey,
		OPRFResponse:   *resp,
	}
	if err := s.AddResponse(r); err != nil {
		return nil, err
	}
	return &r, nil
}

// AddResponse records a response received from a share holder.
func (s *Session) AddResponse(r shared.TOPRFResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect(PhaseEvaluate); err != nil {
		return err
	}
	share, err := s.share(r.Index)
	if err != nil {
		return err
	}
	if string(share.PublicKey) != string(r.PublicKeyShare) {
		return fmt.Errorf("response for share %d: public key doesn't match the share", r.Index)
	}
	if _, ok := s.responses[r.Index]; ok {
		return fmt.Errorf("response for share %d: duplicate", r.Index)
	}
	s.responses[r.Index] = r
	return nil
}

func (s *Session) share(index int) (*shared.KeyShare, error) {
	for i := range s.keys.Shares {
		if s.keys.Shares[i].Index == index {
			return &s.keys.Shares[i], nil
		}
	}
	return nil, fmt.Errorf("no share with index %d", index)
}

// Finalize combines the recorded responses into the nullifier. Fewer
// responses than the threshold fail with shared.ErrThresholdViolation and
// leave the session waiting for more. All recorded responses are passed
// on; responses beyond the threshold yield the same nullifier.
func (s *Session) Finalize(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect(PhaseEvaluate); err != nil {
		return nil, err
	}
	if len(s.responses) < s.keys.Threshold {
		return nil, fmt.Errorf("%w: %d responses, threshold is %d", shared.ErrThresholdViolation, len(s.responses), s.keys.Threshold)
	}

	s.phase = PhaseFinalize
	output, err := s.op.FinaliseOPRF(ctx, s.keys.PublicKey, s.request, s.sortedResponses())
	if err != nil {
		s.phase = PhaseEvaluate
		return nil, fmt.Errorf("finalize oprf: %w", err)
	}
	s.output = output
	s.phase = PhaseDone
	s.logger.Debug("toprf finalized", zap.Int("responses", len(s.responses)))
	return output, nil
}

func (s *Session) sortedResponses() []shared.TOPRFResponse {
	responses := make([]shared.TOPRFResponse, 0, len(s.responses))
	for _, r := range s.responses {
		responses = append(responses, r)
	}
	sort.Slice(responses, func(i, j int) bool { return responses[i].Index < responses[j].Index })
	return responses
}

// PublicSignals returns the TOPRF block of the proof's public signals for
// an attribute of length bytes at pos in the plaintext chunk.
func (s *Session) PublicSignals(pos, length int) (*shared.TOPRFPublicSignals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect(PhaseDone); err != nil {
		return nil, err
	}
	if pos < 0 || length < 1 {
		return nil, fmt.Errorf("invalid attribute location; pos %d, len %d", pos, length)
	}
	if length != s.dataLen {
		return nil, fmt.Errorf("%w: attribute length %d differs from the evaluated data's %d", shared.ErrInvalidLength, length, s.dataLen)
	}
	return &shared.TOPRFPublicSignals{
		Pos:             pos,
		Len:             length,
		DomainSeparator: s.domain,
		Output:          s.output,
		Responses:       s.sortedResponses(),
	}, nil
}

// Request returns the request of the session, nil before NewRequest.
func (s *Session) Request() *shared.OPRFRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.request
}
