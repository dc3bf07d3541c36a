package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spacemeshos/zksym/shared"
	"github.com/spacemeshos/zksym/threshold"
)

// requestDocument is an OPRF request with what finalization needs to know
// about the data it was made for. It holds the mask, so it stays with the
// requester.
type requestDocument struct {
	Request         shared.OPRFRequest `json:"request"`
	DomainSeparator string             `json:"domainSeparator"`
	DataLen         int                `json:"dataLen"`
}

func toprfCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toprf",
		Short: "Run the steps of a threshold OPRF evaluation",
	}
	cmd.AddCommand(
		keygenCmd(a),
		requestCmd(a),
		evaluateCmd(a),
		finalizeCmd(a),
	)
	return cmd
}

func keygenCmd(a *app) *cobra.Command {
	var (
		total, thresh int
		out           string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a group key split into threshold shares",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			op, err := a.oprfOperator()
			if err != nil {
				return err
			}
			defer op.Release()

			s, err := threshold.NewSession(op, threshold.WithLogger(a.logger))
			if err != nil {
				return err
			}
			keys, err := s.GenerateKeys(cmd.Context(), total, thresh)
			if err != nil {
				return err
			}
			a.logger.Info("threshold keys generated", zap.Int("total", total), zap.Int("threshold", thresh))
			return writeJSON(cmd, out, keys)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&total, "total", 3, "Number of shares")
	flags.IntVar(&thresh, "threshold", 2, "Number of shares needed to finalize")
	flags.StringVarP(&out, "out", "o", "", "Write the keys to a file instead of stdout")
	return cmd
}

func requestCmd(a *app) *cobra.Command {
	var data, domain, out string
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Mask data for evaluation by the share holders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			op, err := a.oprfOperator()
			if err != nil {
				return err
			}
			defer op.Release()

			req, err := op.GenerateOPRFRequest(cmd.Context(), []byte(data), domain)
			if err != nil {
				return err
			}
			return writeJSON(cmd, out, requestDocument{
				Request:         *req,
				DomainSeparator: domain,
				DataLen:         len(data),
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&data, "data", "", "Data to evaluate")
	flags.StringVar(&domain, "domain-separator", "reclaim", "Domain separator of the evaluation")
	flags.StringVarP(&out, "out", "o", "", "Write the request to a file instead of stdout")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

// session resumes a session at the evaluation step from the documents the
// previous steps wrote.
func session(a *app, keysPath, requestPath string) (*threshold.Session, *requestDocument, func(), error) {
	var keys shared.ThresholdKeys
	if err := readJSON(keysPath, &keys); err != nil {
		return nil, nil, nil, err
	}
	var req requestDocument
	if err := readJSON(requestPath, &req); err != nil {
		return nil, nil, nil, err
	}

	op, err := a.oprfOperator()
	if err != nil {
		return nil, nil, nil, err
	}
	s, err := threshold.NewSession(op,
		threshold.WithLogger(a.logger),
		threshold.WithKeys(&keys),
		threshold.WithRequest(&req.Request, req.DataLen, req.DomainSeparator),
	)
	if err != nil {
		op.Release()
		return nil, nil, nil, err
	}
	return s, &req, func() { op.Release() }, nil
}

func evaluateCmd(a *app) *cobra.Command {
	var (
		keysPath, requestPath, out string
		index                      int
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a request with one share",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, release, err := session(a, keysPath, requestPath)
			if err != nil {
				return err
			}
			defer release()

			resp, err := s.Evaluate(cmd.Context(), index)
			if err != nil {
				return err
			}
			return writeJSON(cmd, out, resp)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&keysPath, "keys", "", "Keys document written by keygen")
	flags.StringVar(&requestPath, "request", "", "Request document written by request")
	flags.IntVar(&index, "index", 0, "Index of the evaluating share")
	flags.StringVarP(&out, "out", "o", "", "Write the response to a file instead of stdout")
	for _, name := range []string{"keys", "request"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func finalizeCmd(a *app) *cobra.Command {
	var (
		keysPath, requestPath, out string
		responsePaths              []string
		pos                        int
	)
	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Combine share responses into the nullifier and its proof signals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, req, release, err := session(a, keysPath, requestPath)
			if err != nil {
				return err
			}
			defer release()

			for _, path := range responsePaths {
				var resp shared.TOPRFResponse
				if err := readJSON(path, &resp); err != nil {
					return err
				}
				if err := s.AddResponse(resp); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}
			output, err := s.Finalize(cmd.Context())
			if err != nil {
				return err
			}
			a.logger.Info("nullifier computed", zap.Stringer("output", shared.HexEncoded(output)))

			signals, err := s.PublicSignals(pos, req.DataLen)
			if err != nil {
				return err
			}
			return writeJSON(cmd, out, signals)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&keysPath, "keys", "", "Keys document written by keygen")
	flags.StringVar(&requestPath, "request", "", "Request document written by request")
	flags.StringSliceVar(&responsePaths, "response", nil, "Response documents written by evaluate")
	flags.IntVar(&pos, "pos", 0, "Byte offset of the evaluated data in the plaintext chunk")
	flags.StringVarP(&out, "out", "o", "", "Write the public signals to a file instead of stdout")
	for _, name := range []string{"keys", "request", "response"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
