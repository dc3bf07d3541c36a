package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/natefinch/atomic"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spacemeshos/zksym"
	"github.com/spacemeshos/zksym/config"
	"github.com/spacemeshos/zksym/proving"
	"github.com/spacemeshos/zksym/shared"
)

// proofFile is the document prove writes and verify reads.
type proofFile struct {
	Algorithm config.EncryptionAlgorithm `json:"algorithm"`
	Proof     []byte                     `json:"proof"`
	Plaintext []byte                     `json:"plaintext"`

	TOPRF *shared.TOPRFPublicSignals `json:"toprf,omitempty"`
}

// writeJSON writes v to path, or to the command's output when path is empty.
func writeJSON(cmd *cobra.Command, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func algorithmsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "algorithms",
		Short: "List the supported encryption algorithms and their circuit parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printAlgorithms(cmd.OutOrStdout())
			return nil
		},
	}
}

func printAlgorithms(w io.Writer) {
	var data [][]string
	for _, alg := range config.Algorithms() {
		cfg := config.MustLookup(alg)
		data = append(data, []string{
			string(alg),
			strconv.Itoa(cfg.KeySizeBytes),
			strconv.Itoa(cfg.IVSizeBytes),
			strconv.Itoa(cfg.ChunkSizeBytes()),
			strconv.Itoa(cfg.BitsPerWord),
			strconv.Itoa(int(cfg.BackendIndex)),
			strconv.FormatUint(uint64(cfg.StartCounter), 10),
			strconv.FormatUint(uint64(cfg.BlocksPerChunk), 10),
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"algorithm", "key", "iv", "chunk", "word bits", "index", "start counter", "blocks/chunk"})
	table.SetBorder(true)
	table.AppendBulk(data)
	table.Render()
}

func proveCmd(a *app) *cobra.Command {
	var (
		key, iv, ciphertext         []byte
		offset                      uint32
		toprfFile, requestFile, out string
	)
	cmd := &cobra.Command{
		Use:   "prove",
		Short: "Prove that a ciphertext chunk decrypts under a key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				toprf *shared.TOPRFPublicSignals
				mask  []byte
			)
			if toprfFile != "" {
				if requestFile == "" {
					return errors.New("--request is required with --toprf")
				}
				toprf = new(shared.TOPRFPublicSignals)
				if err := readJSON(toprfFile, toprf); err != nil {
					return err
				}
				var req requestDocument
				if err := readJSON(requestFile, &req); err != nil {
					return err
				}
				mask = req.Request.Mask
			}

			op, err := operatorFor(a, toprf != nil)
			if err != nil {
				return err
			}
			defer op.Release()

			proof, err := zksym.GenerateProof(cmd.Context(), zksym.GenerateOpts{
				Algorithm:    a.cfg.Algorithm,
				PrivateInput: shared.PrivateInput{Key: key},
				PublicInput:  shared.PublicInput{Ciphertext: ciphertext, IV: iv, Offset: offset},
				Operator:     op,
				TOPRF:        toprf,
				Mask:         mask,
				Logger:       a.logger,
			})
			if err != nil {
				return err
			}
			a.logger.Info("proof generated", shared.Size("size", len(proof.ProofData)))
			return writeJSON(cmd, out, proofFile{
				Algorithm: proof.Algorithm,
				Proof:     proof.ProofData,
				Plaintext: proof.Plaintext,
				TOPRF:     toprf,
			})
		},
	}

	flags := cmd.Flags()
	flags.BytesHexVar(&key, "key", nil, "Encryption key, in hex")
	flags.BytesHexVar(&iv, "iv", nil, "Nonce, in hex")
	flags.BytesHexVar(&ciphertext, "ciphertext", nil, "Ciphertext chunk, in hex")
	flags.Uint32Var(&offset, "offset", 0, "Index of the chunk in the stream")
	flags.StringVar(&toprfFile, "toprf", "", "TOPRF public signals document to bind to the proof")
	flags.StringVar(&requestFile, "request", "", "TOPRF request document the signals were finalized for")
	flags.StringVarP(&out, "out", "o", "", "Write the proof to a file instead of stdout")
	for _, name := range []string{"key", "iv", "ciphertext"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func verifyCmd(a *app) *cobra.Command {
	var (
		iv, ciphertext []byte
		offset         uint32
		proofPath      string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a proof against a ciphertext chunk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var doc proofFile
			if err := readJSON(proofPath, &doc); err != nil {
				return err
			}
			if doc.Algorithm != a.cfg.Algorithm {
				return fmt.Errorf("proof is for %s, configured algorithm is %s", doc.Algorithm, a.cfg.Algorithm)
			}

			op, err := operatorFor(a, doc.TOPRF != nil)
			if err != nil {
				return err
			}
			defer op.Release()

			err = zksym.VerifyProof(cmd.Context(), zksym.VerifyOpts{
				Proof: &zksym.Proof{
					Algorithm: doc.Algorithm,
					ProofData: doc.Proof,
					Plaintext: doc.Plaintext,
				},
				PublicInput: shared.PublicInput{Ciphertext: ciphertext, IV: iv, Offset: offset},
				Operator:    op,
				TOPRF:       doc.TOPRF,
				Logger:      a.logger,
			})
			if err != nil {
				return err
			}
			a.logger.Debug("proof verified", zap.String("proof", proofPath))
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "proof is valid")
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&proofPath, "proof", "", "Proof document written by prove")
	flags.BytesHexVar(&iv, "iv", nil, "Nonce, in hex")
	flags.BytesHexVar(&ciphertext, "ciphertext", nil, "Ciphertext chunk, in hex")
	flags.Uint32Var(&offset, "offset", 0, "Index of the chunk in the stream")
	for _, name := range []string{"proof", "iv", "ciphertext", "offset"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// operatorFor returns the TOPRF flavour of the configured operator when
// toprf is set.
func operatorFor(a *app, toprf bool) (proving.Operator, error) {
	if toprf {
		return a.oprfOperator()
	}
	return a.operator()
}
