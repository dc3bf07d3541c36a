package proving

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spacemeshos/zksym/metrics"
)

// Options are the settings shared by all backends. A backend ignores the
// settings it has no use for.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// MaxWorkers is the number of worker contexts; 0 proves in the caller's context.
	MaxWorkers int
	// MaxProofConcurrency bounds the number of proofs computed at once.
	MaxProofConcurrency int
	// LibDir is the directory shared libraries are loaded from.
	LibDir string
}

// OptionFunc is a function that sets an option for an Operator.
type OptionFunc func(*Options) error

// NewOptions applies opts over the defaults.
func NewOptions(opts ...OptionFunc) (*Options, error) {
	options := &Options{
		Logger:              zap.NewNop(),
		MaxProofConcurrency: 2,
	}
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}
	if options.Metrics == nil {
		options.Metrics = metrics.Default()
	}
	return options, nil
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) OptionFunc {
	return func(opts *Options) error {
		if logger == nil {
			return errors.New("`logger` is nil")
		}
		opts.Logger = logger
		return nil
	}
}

// WithMetrics sets the collectors proofs and verifications are recorded on.
func WithMetrics(m *metrics.Metrics) OptionFunc {
	return func(opts *Options) error {
		opts.Metrics = m
		return nil
	}
}

// WithMaxWorkers sets the size of the worker pool.
func WithMaxWorkers(n int) OptionFunc {
	return func(opts *Options) error {
		if n < 0 {
			return fmt.Errorf("invalid `maxWorkers`; expected: >= 0, given: %d", n)
		}
		opts.MaxWorkers = n
		return nil
	}
}

// WithMaxProofConcurrency sets the number of proofs computed at once.
func WithMaxProofConcurrency(n int) OptionFunc {
	return func(opts *Options) error {
		if n < 1 {
			return fmt.Errorf("invalid `maxProofConcurrency`; expected: >= 1, given: %d", n)
		}
		opts.MaxProofConcurrency = n
		return nil
	}
}

// WithLibDir sets the directory of the native shared libraries.
func WithLibDir(dir string) OptionFunc {
	return func(opts *Options) error {
		opts.LibDir = dir
		return nil
	}
}
