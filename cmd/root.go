// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/telemetry-sync/internal/config"
	"github.com/xkilldash9x/telemetry-sync/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// envPrefix namespaces every config key in the environment, e.g.
// TSYNC_TIMING_MEDIUM. The legacy names (SF_USER, ...) are bound as well.
const envPrefix = "TSYNC"

// siteAnnotation names the session store key a step works against. The root
// command stamps it on every log entry of the run.
const siteAnnotation = "site"

// rootOptions holds the persistent flags.
type rootOptions struct {
	cfgFile string
}

// NewRootCommand builds the command tree. Each call returns an independent
// tree, which keeps tests isolated.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "telemetry-sync",
		Short: "Downloads the telemetry report, uploads it and refreshes the BI workspace.",
		Long: `telemetry-sync automates the recurring telemetry report: it exports the
analytics panel table to Excel, validates the workbook, uploads it to the file
portal and optionally refreshes a BI workspace. Each step is a subcommand;
'pipeline' runs them in order.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(v, opts.cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			run := observability.NewRun(cmd.Name(), cmd.Annotations[siteAnnotation])
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.NewDefaultConfig().Logger(), run)
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger(), run)
			observability.GetLogger().Debug("Starting telemetry-sync",
				zap.String("version", Version),
				zap.String("command", cmd.Name()),
			)

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	cmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	cmd.AddCommand(
		newDownloadCmd(),
		newPrepareCmd(),
		newValidateCmd(),
		newUploadCmd(),
		newRefreshCmd(),
		newClearCredentialsCmd(),
		newCheckConfigCmd(),
		newStatusCmd(),
		newPipelineCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the command tree with ctx and logs a failure at the outermost
// boundary. The caller maps the error to an exit code.
func Execute(ctx context.Context) error {
	defer observability.Sync()
	root := NewRootCommand()
	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}

	logger := observability.GetLogger()
	var missing *config.MissingKeysError
	switch {
	case errors.Is(err, context.Canceled):
		logger.Warn("Interrupted.")
	case errors.As(err, &missing):
		logger.Error("Configuration incomplete.", zap.Strings("missing", missing.Keys))
	default:
		logger.Error("Command execution failed.", zap.Error(err))
	}
	return err
}

// initializeConfig reads the config file, when there is one, and wires the
// environment into v.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// getConfigFromContext returns the configuration built by the root command.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in context")
	}
	return cfg, nil
}

// requireKeys is a PreRunE that fails with a *config.MissingKeysError when
// any of keys is absent.
func requireKeys(keys ...string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfigFromContext(cmd.Context())
		if err != nil {
			return err
		}
		return cfg.Require(keys...)
	}
}
