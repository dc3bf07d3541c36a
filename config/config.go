package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Engine selects the proving backend.
type Engine string

const (
	// EngineGnark proves in-process with the gnark library.
	EngineGnark Engine = "gnark"
	// EngineNative proves through the prebuilt libprove/libverify shared libraries.
	EngineNative Engine = "native"
	// EngineExpander proves with the expander WASM module.
	EngineExpander Engine = "expander"
)

const (
	DefaultDataDirName = "zksym"

	DefaultEngine              = EngineGnark
	DefaultAlgorithm           = ChaCha20
	DefaultMaxWorkers          = 0
	DefaultMaxProofConcurrency = 2
	DefaultLogLevel            = "info"
)

// DefaultArtifactsDir is where circuits, keys and modules are looked up when
// no other location is configured.
var DefaultArtifactsDir = filepath.Join(homeDir(), DefaultDataDirName, "artifacts")

type Config struct {
	Engine    Engine              `mapstructure:"engine"`
	Algorithm EncryptionAlgorithm `mapstructure:"algorithm"`

	// MaxWorkers is the number of worker contexts of the expander engine.
	// 0 disables the pool and proves in the caller's context.
	MaxWorkers int `mapstructure:"max-workers"`
	// MaxProofConcurrency bounds concurrent proofs of the gnark engine.
	MaxProofConcurrency int `mapstructure:"max-proof-concurrency"`

	ArtifactsDir string `mapstructure:"artifacts-dir"`
	// ArtifactsURL, when set, is the base URL artifacts are downloaded from
	// into ArtifactsDir.
	ArtifactsURL string `mapstructure:"artifacts-url"`
	// LibDir is the directory holding the native engine's shared libraries.
	LibDir string `mapstructure:"lib-dir"`

	LogLevel string `mapstructure:"log-level"`
	// MetricsFile, when set, receives the metrics of the run in the
	// Prometheus text format.
	MetricsFile string `mapstructure:"metrics-file"`
}

func DefaultConfig() Config {
	return Config{
		Engine:              DefaultEngine,
		Algorithm:           DefaultAlgorithm,
		MaxWorkers:          DefaultMaxWorkers,
		MaxProofConcurrency: DefaultMaxProofConcurrency,
		ArtifactsDir:        DefaultArtifactsDir,
		LibDir:              filepath.Join(DefaultArtifactsDir, "lib"),
		LogLevel:            DefaultLogLevel,
	}
}

func (cfg Config) Validate() error {
	switch cfg.Engine {
	case EngineGnark, EngineNative, EngineExpander:
	default:
		return fmt.Errorf("invalid `Engine`; expected one of: %v, %v, %v, given: %q", EngineGnark, EngineNative, EngineExpander, cfg.Engine)
	}

	if _, err := Lookup(cfg.Algorithm); err != nil {
		return fmt.Errorf("invalid `Algorithm`: %w", err)
	}

	if cfg.Engine == EngineExpander && cfg.Algorithm != ChaCha20 {
		return fmt.Errorf("invalid `Algorithm`; engine %v only supports %v, given: %v", EngineExpander, ChaCha20, cfg.Algorithm)
	}

	if cfg.MaxWorkers < 0 {
		return fmt.Errorf("invalid `MaxWorkers`; expected: >= 0, given: %d", cfg.MaxWorkers)
	}

	if max := runtime.NumCPU() * 4; cfg.MaxWorkers > max {
		return fmt.Errorf("invalid `MaxWorkers`; expected: <= %d, given: %d", max, cfg.MaxWorkers)
	}

	if cfg.MaxProofConcurrency < 1 {
		return fmt.Errorf("invalid `MaxProofConcurrency`; expected: >= 1, given: %d", cfg.MaxProofConcurrency)
	}

	if cfg.ArtifactsDir == "" && cfg.ArtifactsURL == "" {
		return fmt.Errorf("either `ArtifactsDir` or `ArtifactsURL` is required")
	}

	return nil
}

func homeDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return dir
	}
	return os.TempDir()
}
