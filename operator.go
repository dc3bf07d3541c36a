package zksym

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/spacemeshos/zksym/config"
	"github.com/spacemeshos/zksym/fetch"
	"github.com/spacemeshos/zksym/internal/expander"
	"github.com/spacemeshos/zksym/internal/gnark"
	"github.com/spacemeshos/zksym/internal/native"
	"github.com/spacemeshos/zksym/proving"
)

// configOptions translates cfg into operator options. opts are applied
// after them and take precedence.
func configOptions(cfg config.Config, opts []proving.OptionFunc) []proving.OptionFunc {
	return append([]proving.OptionFunc{
		proving.WithMaxWorkers(cfg.MaxWorkers),
		proving.WithMaxProofConcurrency(cfg.MaxProofConcurrency),
		proving.WithLibDir(cfg.LibDir),
	}, opts...)
}

// NewOperator returns an operator of the engine and algorithm selected by
// cfg.
func NewOperator(cfg config.Config, fetcher fetch.Fetcher, opts ...proving.OptionFunc) (proving.Operator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts = configOptions(cfg, opts)

	var (
		op  proving.Operator
		err error
	)
	switch cfg.Engine {
	case config.EngineGnark:
		op, err = gnark.NewOperator(cfg.Algorithm, fetcher, opts...)
	case config.EngineNative:
		op, err = native.NewOperator(cfg.Algorithm, fetcher, opts...)
	case config.EngineExpander:
		op, err = expander.NewOperator(cfg.Algorithm, fetcher, opts...)
	default:
		return nil, fmt.Errorf("unsupported engine: %q", cfg.Engine)
	}
	if err != nil {
		return nil, fmt.Errorf("create %v operator: %w", cfg.Engine, err)
	}
	return op, nil
}

// NewOPRFOperator returns an operator proving TOPRF outputs along with the
// encryption. Only the gnark and native engines have TOPRF circuits.
func NewOPRFOperator(cfg config.Config, fetcher fetch.Fetcher, opts ...proving.OptionFunc) (proving.OPRFOperator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts = configOptions(cfg, opts)

	var (
		op  proving.OPRFOperator
		err error
	)
	switch cfg.Engine {
	case config.EngineGnark:
		op, err = gnark.NewOPRFOperator(cfg.Algorithm, fetcher, opts...)
	case config.EngineNative:
		op, err = native.NewOPRFOperator(cfg.Algorithm, fetcher, opts...)
	default:
		return nil, fmt.Errorf("engine %v doesn't support toprf", cfg.Engine)
	}
	if err != nil {
		return nil, fmt.Errorf("create %v oprf operator: %w", cfg.Engine, err)
	}
	return op, nil
}

// NewFetcher returns the artifact fetcher configured by cfg: downloads from
// ArtifactsURL cached in ArtifactsDir when a URL is set, otherwise reads from
// ArtifactsDir.
func NewFetcher(cfg config.Config, logger *zap.Logger) (fetch.Fetcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ArtifactsURL == "" {
		return fetch.Local{Dir: cfg.ArtifactsDir}, nil
	}
	opts := []fetch.OptionFunc{fetch.WithLogger(logger)}
	if cfg.ArtifactsDir != "" {
		opts = append(opts, fetch.WithCacheDir(cfg.ArtifactsDir))
	}
	f, err := fetch.NewHTTP(cfg.ArtifactsURL, opts...)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Artifact names a file an operator fetches.
type Artifact struct {
	Namespace string
	Filename  string
}

// Artifacts returns the files the engine selected by cfg fetches to prove
// and verify, for the TOPRF circuits when oprf is set.
func Artifacts(cfg config.Config, oprf bool) ([]Artifact, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Engine {
	case config.EngineGnark, config.EngineNative:
		ext := gnark.Extension(cfg.Algorithm, oprf)
		artifacts := []Artifact{
			{gnark.Namespace, "r1cs." + ext},
			{gnark.Namespace, "pk." + ext},
		}
		// The verifier library carries its own keys.
		if cfg.Engine == config.EngineGnark {
			artifacts = append(artifacts, Artifact{gnark.Namespace, "vk." + ext})
		}
		return artifacts, nil
	case config.EngineExpander:
		if oprf {
			return nil, fmt.Errorf("engine %v doesn't support toprf", cfg.Engine)
		}
		return []Artifact{
			{expander.Namespace, expander.ModuleName},
			{expander.Namespace, expander.SolverName(cfg.Algorithm)},
			{expander.Namespace, expander.CircuitName(cfg.Algorithm)},
		}, nil
	}
	return nil, fmt.Errorf("unsupported engine: %q", cfg.Engine)
}
