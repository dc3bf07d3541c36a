package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/zksym/config"
	"github.com/spacemeshos/zksym/internal/gnark/gnarktest"
	"github.com/spacemeshos/zksym/oracle"
	"github.com/spacemeshos/zksym/shared"
)

// run executes the command line and returns the app it ran with and its
// output.
func run(t *testing.T, args ...string) (*app, string, error) {
	t.Helper()
	a := newApp()
	cmd := newRootCmd(a)
	var out, logs bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&logs)
	cmd.SetArgs(args)
	err := cmd.Execute()
	t.Log(logs.String())
	return a, out.String(), err
}

func TestAlgorithms(t *testing.T) {
	_, out, err := run(t, "algorithms")
	require.NoError(t, err)
	for _, alg := range config.Algorithms() {
		require.Contains(t, out, string(alg))
	}
	require.Contains(t, out, "START COUNTER")
}

func TestConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: expander\nmax-workers: 2\nlog-level: debug\n"), 0o600))

	a, _, err := run(t, "--config", path, "algorithms")
	require.NoError(t, err)
	require.Equal(t, config.EngineExpander, a.cfg.Engine)
	require.Equal(t, 2, a.cfg.MaxWorkers)
	require.Equal(t, config.ChaCha20, a.cfg.Algorithm)

	// Flags override the file.
	a, _, err = run(t, "--config", path, "--max-workers", "3", "algorithms")
	require.NoError(t, err)
	require.Equal(t, 3, a.cfg.MaxWorkers)

	t.Setenv("ZKSYM_MAX_PROOF_CONCURRENCY", "4")
	a, _, err = run(t, "algorithms")
	require.NoError(t, err)
	require.Equal(t, 4, a.cfg.MaxProofConcurrency)

	_, _, err = run(t, "--engine", "snark", "algorithms")
	require.ErrorContains(t, err, "invalid `Engine`")

	_, _, err = run(t, "--log-level", "loud", "algorithms")
	require.ErrorContains(t, err, "invalid log level")

	_, _, err = run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "algorithms")
	require.ErrorContains(t, err, "failed to read config file")
}

type chunk struct {
	key, iv, ciphertext, plaintext []byte
}

func newChunk(t *testing.T, plaintext []byte) chunk {
	cfg := config.MustLookup(config.ChaCha20)
	c := chunk{
		key:       bytes.Repeat([]byte{2}, cfg.KeySizeBytes),
		iv:        []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
		plaintext: plaintext,
	}
	var err error
	c.ciphertext, err = oracle.XORKeyStream(config.ChaCha20, c.key, c.iv, cfg.StartCounter, plaintext)
	require.NoError(t, err)
	return c
}

func TestProveVerify(t *testing.T) {
	dir := t.TempDir()
	gnarktest.WriteDir(t, dir, config.ChaCha20, -1)
	c := newChunk(t, []byte("a secret message that is forty-five bytes lon"))
	proofPath := filepath.Join(dir, "proof.json")
	metricsPath := filepath.Join(dir, "metrics.prom")

	_, _, err := run(t, "--artifacts-dir", dir, "--metrics-file", metricsPath, "prove",
		"--key", hex.EncodeToString(c.key),
		"--iv", hex.EncodeToString(c.iv),
		"--ciphertext", hex.EncodeToString(c.ciphertext),
		"-o", proofPath,
	)
	require.NoError(t, err)
	exported, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	require.Contains(t, string(exported), `zksym_proving_proofs_total{algorithm="chacha20",engine="gnark",result="success"}`)

	var doc proofFile
	require.NoError(t, readJSON(proofPath, &doc))
	require.Equal(t, config.ChaCha20, doc.Algorithm)
	require.Equal(t, c.plaintext, doc.Plaintext[:len(c.plaintext)])

	verify := []string{"--artifacts-dir", dir, "verify",
		"--proof", proofPath,
		"--iv", hex.EncodeToString(c.iv),
		"--ciphertext", hex.EncodeToString(c.ciphertext),
	}
	_, out, err := run(t, append(verify, "--offset", "0")...)
	require.NoError(t, err)
	require.Equal(t, "proof is valid\n", out)

	// The verifier chooses the chunk position.
	_, _, err = run(t, append(verify, "--offset", "1")...)
	require.ErrorIs(t, err, shared.ErrInvalidProof)
	_, _, err = run(t, verify...)
	require.ErrorContains(t, err, `"offset" not set`)

	doc.Plaintext = make([]byte, len(doc.Plaintext))
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(proofPath, data, 0o600))
	_, _, err = run(t, append(verify, "--offset", "0")...)
	require.ErrorIs(t, err, shared.ErrInvalidProof)

	_, _, err = run(t, "--artifacts-dir", dir, "--algorithm", "aes-128-ctr", "verify",
		"--proof", proofPath,
		"--iv", hex.EncodeToString(c.iv),
		"--ciphertext", hex.EncodeToString(c.ciphertext),
		"--offset", "0",
	)
	require.ErrorContains(t, err, "configured algorithm is aes-128-ctr")
}

func TestTOPRF(t *testing.T) {
	dir := t.TempDir()
	gnarktest.WriteDir(t, dir, config.ChaCha20, 2)
	file := func(name string) string { return filepath.Join(dir, name) }

	attribute := "test@email.com"
	c := newChunk(t, []byte(`{"email":"`+attribute+`"}`))
	pos := bytes.Index(c.plaintext, []byte(attribute))

	_, _, err := run(t, "toprf", "keygen", "--total", "3", "--threshold", "2", "-o", file("keys.json"))
	require.NoError(t, err)
	var keys shared.ThresholdKeys
	require.NoError(t, readJSON(file("keys.json"), &keys))
	require.Len(t, keys.Shares, 3)

	_, _, err = run(t, "toprf", "request", "--data", attribute, "-o", file("request.json"))
	require.NoError(t, err)

	for i, share := range keys.Shares[1:] {
		_, _, err := run(t, "toprf", "evaluate",
			"--keys", file("keys.json"),
			"--request", file("request.json"),
			"--index", strconv.Itoa(share.Index),
			"-o", file("response"+strconv.Itoa(i)+".json"),
		)
		require.NoError(t, err)
	}

	finalize := []string{"toprf", "finalize",
		"--keys", file("keys.json"),
		"--request", file("request.json"),
		"--pos", strconv.Itoa(pos),
		"--response", file("response0.json"),
	}
	_, _, err = run(t, finalize...)
	require.ErrorIs(t, err, shared.ErrThresholdViolation)

	_, _, err = run(t, append(finalize, "--response", file("response1.json"), "-o", file("signals.json"))...)
	require.NoError(t, err)
	var signals shared.TOPRFPublicSignals
	require.NoError(t, readJSON(file("signals.json"), &signals))
	require.Equal(t, pos, signals.Pos)
	require.Equal(t, len(attribute), signals.Len)
	require.Len(t, signals.Output, 32)

	_, _, err = run(t, "--artifacts-dir", dir, "prove",
		"--key", hex.EncodeToString(c.key),
		"--iv", hex.EncodeToString(c.iv),
		"--ciphertext", hex.EncodeToString(c.ciphertext),
		"--toprf", file("signals.json"),
		"--request", file("request.json"),
		"-o", file("proof.json"),
	)
	require.NoError(t, err)

	_, out, err := run(t, "--artifacts-dir", dir, "verify",
		"--proof", file("proof.json"),
		"--iv", hex.EncodeToString(c.iv),
		"--ciphertext", hex.EncodeToString(c.ciphertext),
		"--offset", "0",
	)
	require.NoError(t, err)
	require.Equal(t, "proof is valid\n", out)
}

func TestFetch(t *testing.T) {
	artifacts := t.TempDir()
	gnarktest.WriteDir(t, artifacts, config.AES128CTR, -1)
	srv := httptest.NewServer(http.FileServer(http.Dir(artifacts)))
	t.Cleanup(srv.Close)

	cache := t.TempDir()
	_, out, err := run(t, "--algorithm", "aes-128-ctr", "--artifacts-url", srv.URL, "--artifacts-dir", cache, "fetch")
	require.NoError(t, err)
	require.Contains(t, out, "pk.aes128")
	for _, name := range []string{"r1cs.aes128", "pk.aes128", "vk.aes128"} {
		require.FileExists(t, filepath.Join(cache, "gnark", name))
	}

	_, _, err = run(t, "--algorithm", "aes-128-ctr", "--artifacts-url", srv.URL, "--artifacts-dir", cache, "fetch", "--toprf")
	require.Error(t, err)

	_, _, err = run(t, "fetch")
	require.ErrorContains(t, err, "--artifacts-url is required")
}
