package native

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spacemeshos/zksym/config"
	"github.com/spacemeshos/zksym/fetch"
	"github.com/spacemeshos/zksym/proving"
	"github.com/spacemeshos/zksym/shared"
)

// OPRFOperator proves with the TOPRF circuits and runs the OPRF steps in
// the libraries.
type OPRFOperator struct {
	*Operator
}

var _ proving.OPRFOperator = (*OPRFOperator)(nil)

func NewOPRFOperator(alg config.EncryptionAlgorithm, fetcher fetch.Fetcher, opts ...proving.OptionFunc) (*OPRFOperator, error) {
	op, err := newOperator(alg, fetcher, nil, true, opts...)
	if err != nil {
		return nil, err
	}
	return &OPRFOperator{Operator: op}, nil
}

func NewOPRFOperatorWithLibrary(alg config.EncryptionAlgorithm, fetcher fetch.Fetcher, lib Library, opts ...proving.OptionFunc) (*OPRFOperator, error) {
	if lib == nil {
		return nil, errors.New("`lib` is nil")
	}
	op, err := newOperator(alg, fetcher, lib, true, opts...)
	if err != nil {
		return nil, err
	}
	return &OPRFOperator{Operator: op}, nil
}

// exec marshals params, calls fn and unmarshals its result into out.
func exec[P, R any](fn func([]byte) ([]byte, error), params P, out *R) error {
	in, err := json.Marshal(params)
	if err != nil {
		return err
	}
	res, err := fn(in)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(res, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func (o *OPRFOperator) GenerateThresholdKeys(ctx context.Context, total, threshold int) (*shared.ThresholdKeys, error) {
	lib, err := o.library(ctx)
	if err != nil {
		return nil, err
	}
	var res ThresholdKeysResult
	if err := exec(lib.GenerateThresholdKeys, ThresholdKeysParams{Total: total, Threshold: threshold}, &res); err != nil {
		return nil, fmt.Errorf("generate threshold keys: %w", err)
	}

	keys := &shared.ThresholdKeys{
		PublicKey:  res.PublicKey,
		PrivateKey: res.PrivateKey,
		Shares:     make([]shared.KeyShare, 0, len(res.Shares)),
		Threshold:  threshold,
	}
	for _, s := range res.Shares {
		keys.Shares = append(keys.Shares, shared.KeyShare{
			Index:      s.Index,
			PublicKey:  s.PublicKey,
			PrivateKey: s.PrivateKey,
		})
	}
	return keys, nil
}

func (o *OPRFOperator) GenerateOPRFRequest(ctx context.Context, data []byte, domainSeparator string) (*shared.OPRFRequest, error) {
	lib, err := o.library(ctx)
	if err != nil {
		return nil, err
	}
	var res RequestDocument
	if err := exec(lib.GenerateOPRFRequestData, RequestParams{Data: data, DomainSeparator: domainSeparator}, &res); err != nil {
		return nil, fmt.Errorf("generate oprf request: %w", err)
	}
	return &shared.OPRFRequest{
		Mask:           res.Mask,
		MaskedData:     res.MaskedData,
		SecretElements: res.SecretElements,
	}, nil
}

func (o *OPRFOperator) EvaluateOPRF(ctx context.Context, privateKey, maskedData []byte) (*shared.OPRFResponse, error) {
	lib, err := o.library(ctx)
	if err != nil {
		return nil, err
	}
	var res EvaluateResult
	if err := exec(lib.OPRFEvaluate, EvaluateParams{ServerPrivate: privateKey, MaskedData: maskedData}, &res); err != nil {
		return nil, fmt.Errorf("evaluate oprf: %w", err)
	}
	return &shared.OPRFResponse{Evaluated: res.Evaluated, C: res.C, R: res.R}, nil
}

func (o *OPRFOperator) FinaliseOPRF(ctx context.Context, serverPublicKey []byte, request *shared.OPRFRequest, responses []shared.TOPRFResponse) ([]byte, error) {
	if len(responses) == 0 {
		return nil, fmt.Errorf("%w: no responses", shared.ErrThresholdViolation)
	}
	lib, err := o.library(ctx)
	if err != nil {
		return nil, err
	}

	params := FinalizeParams{
		ServerPublicKey: serverPublicKey,
		Request: RequestDocument{
			Mask:           request.Mask,
			MaskedData:     request.MaskedData,
			SecretElements: request.SecretElements,
		},
		Responses: make([]ResponseDocument, 0, len(responses)),
	}
	for _, r := range responses {
		params.Responses = append(params.Responses, ResponseDocument{
			Index:          r.Index,
			PublicKeyShare: r.PublicKeyShare,
			Evaluated:      r.Evaluated,
			C:              r.C,
			R:              r.R,
		})
	}

	var res FinalizeResult
	if err := exec(lib.TOPRFFinalize, params, &res); err != nil {
		return nil, fmt.Errorf("finalize oprf: %w", err)
	}
	return res.Output, nil
}
