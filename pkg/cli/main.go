// Package cli builds the mds command line: serve, import, reindex,
// healthcheck, config and version.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/nimburion/mds/pkg/config"
	"github.com/nimburion/mds/pkg/observability/logger"
)

// Options configures the root command.
type Options struct {
	Name        string
	Description string
	// EnvPrefix defaults to config.DefaultEnvPrefix.
	EnvPrefix string
}

// NewRootCommand creates the mds command tree. Running it without a
// subcommand starts the server.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "mds"
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = config.DefaultEnvPrefix
	}

	root := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root.PersistentFlags())

	serve := newServeCommand(opts)
	root.RunE = serve.RunE
	root.AddCommand(
		serve,
		newImportCommand(opts),
		newReindexCommand(opts),
		newHealthcheckCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(opts),
	)
	return root
}

// Execute runs cmd and exits non-zero on failure.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration for the flags of a command.
func loadConfig(flags *pflag.FlagSet, envPrefix string) (*config.Config, *config.ConfigProvider, error) {
	provider, err := config.NewConfigProvider(flags, envPrefix)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := provider.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, provider, nil
}

// loadConfigAndLogger also builds the logger described by the
// configuration, writing to out.
func loadConfigAndLogger(flags *pflag.FlagSet, envPrefix string, out io.Writer) (*config.Config, logger.Logger, error) {
	cfg, _, err := loadConfig(flags, envPrefix)
	if err != nil {
		return nil, nil, err
	}
	log, err := newLogger(cfg.Observability, out)
	if err != nil {
		return nil, nil, err
	}
	log.Debug("effective configuration", "config", fmt.Sprintf("%+v", *cfg))
	return cfg, log, nil
}

func newLogger(cfg config.ObservabilityConfig, out io.Writer) (logger.Logger, error) {
	level, err := logger.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := logger.ParseLogFormat(cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	log, err := logger.NewZapLogger(logger.Config{Level: level, Format: format, Output: out})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log, nil
}

func formatSettings(settings map[string]interface{}) (string, error) {
	if len(settings) == 0 {
		return "{}\n", nil
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}
