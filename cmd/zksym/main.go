package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spacemeshos/zksym"
	"github.com/spacemeshos/zksym/config"
	"github.com/spacemeshos/zksym/fetch"
	"github.com/spacemeshos/zksym/metrics"
	"github.com/spacemeshos/zksym/proving"
)

const envPrefix = "ZKSYM"

// app holds what the subcommands share: the configuration resolved from the
// config file, the environment and flags, and the logger.
type app struct {
	vip        *viper.Viper
	configFile string

	cfg    config.Config
	logger *zap.Logger
}

func newApp() *app {
	return &app{vip: viper.New()}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "zksym",
		Short:         "Zero-knowledge proofs of stream cipher encryption",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
			if a.cfg.MetricsFile == "" {
				return nil
			}
			if err := prometheus.WriteToTextfile(a.cfg.MetricsFile, metrics.Registry); err != nil {
				return fmt.Errorf("write metrics: %w", err)
			}
			return nil
		},
	}
	a.setFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		algorithmsCmd(),
		fetchCmd(a),
		proveCmd(a),
		verifyCmd(a),
		toprfCmd(a),
	)
	return cmd
}

func (a *app) setFlags(flags *pflag.FlagSet) {
	def := config.DefaultConfig()

	flags.StringVar(&a.configFile, "config", "", "Path to configuration file")
	flags.String("engine", string(def.Engine), "Proving engine (gnark, native, expander)")
	flags.String("algorithm", string(def.Algorithm), "Encryption algorithm (chacha20, aes-128-ctr, aes-256-ctr)")
	flags.Int("max-workers", def.MaxWorkers, "Number of expander worker contexts, 0 proves in the calling context")
	flags.Int("max-proof-concurrency", def.MaxProofConcurrency, "Number of gnark proofs computed at once")
	flags.String("artifacts-dir", def.ArtifactsDir, "Directory holding circuits, keys and modules")
	flags.String("artifacts-url", def.ArtifactsURL, "Base URL artifacts are downloaded from into the artifacts directory")
	flags.String("lib-dir", def.LibDir, "Directory holding the native engine's shared libraries")
	flags.String("log-level", def.LogLevel, "Log level (debug, info, warn, error)")
	flags.String("metrics-file", def.MetricsFile, "Write the metrics of the run to this file in the Prometheus text format")

	if err := a.vip.BindPFlags(flags); err != nil {
		panic(err)
	}
}

// load resolves the configuration. Flags take precedence over the
// environment, which takes precedence over the config file.
func (a *app) load(logOutput io.Writer) error {
	a.vip.SetEnvPrefix(envPrefix)
	a.vip.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.vip.AutomaticEnv()

	if a.configFile != "" {
		a.vip.SetConfigFile(a.configFile)
		if err := a.vip.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := config.DefaultConfig()
	if err := a.vip.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := newLogger(cfg.LogLevel, logOutput)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

func newLogger(level string, out io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		MessageKey:     "M",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	})
	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(out), lvl)), nil
}

func (a *app) fetcher() (fetch.Fetcher, error) {
	return zksym.NewFetcher(a.cfg, a.logger.Named("fetch"))
}

func (a *app) operator() (proving.Operator, error) {
	f, err := a.fetcher()
	if err != nil {
		return nil, err
	}
	return zksym.NewOperator(a.cfg, f, proving.WithLogger(a.logger))
}

func (a *app) oprfOperator() (proving.OPRFOperator, error) {
	f, err := a.fetcher()
	if err != nil {
		return nil, err
	}
	return zksym.NewOPRFOperator(a.cfg, f, proving.WithLogger(a.logger))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd(newApp()).ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
