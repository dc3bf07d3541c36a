package gnark

import (
	"context"

	"github.com/spacemeshos/zksym/config"
	"github.com/spacemeshos/zksym/fetch"
	"github.com/spacemeshos/zksym/proving"
	"github.com/spacemeshos/zksym/shared"
	"github.com/spacemeshos/zksym/toprf"
)

// OPRFOperator proves with the TOPRF circuits and runs the OPRF steps in
// process.
type OPRFOperator struct {
	*Operator
}

var _ proving.OPRFOperator = (*OPRFOperator)(nil)

func NewOPRFOperator(alg config.EncryptionAlgorithm, fetcher fetch.Fetcher, opts ...proving.OptionFunc) (*OPRFOperator, error) {
	op, err := newOperator(alg, fetcher, true, opts...)
	if err != nil {
		return nil, err
	}
	return &OPRFOperator{Operator: op}, nil
}

func (o *OPRFOperator) GenerateThresholdKeys(_ context.Context, total, threshold int) (*shared.ThresholdKeys, error) {
	return toprf.GenerateKeys(total, threshold, nil)
}

func (o *OPRFOperator) GenerateOPRFRequest(_ context.Context, data []byte, domainSeparator string) (*shared.OPRFRequest, error) {
	return toprf.NewRequest(data, domainSeparator, nil)
}

func (o *OPRFOperator) EvaluateOPRF(_ context.Context, privateKey, maskedData []byte) (*shared.OPRFResponse, error) {
	return toprf.Evaluate(privateKey, maskedData, nil)
}

func (o *OPRFOperator) FinaliseOPRF(_ context.Context, serverPublicKey []byte, request *shared.OPRFRequest, responses []shared.TOPRFResponse) ([]byte, error) {
	return toprf.Finalize(serverPublicKey, request, responses)
}
