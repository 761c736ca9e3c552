// File: cmd/pipeline.go
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/telemetry-sync/internal/observability"
	"github.com/xkilldash9x/telemetry-sync/internal/pipeline"
)

func newPipelineCmd(opts *rootOptions) *cobra.Command {
	var (
		workspace   string
		manualLogin bool
		supervised  bool
	)
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run download, validate, upload and refresh in order",
		Long: `Runs each step as a separate process of this binary and stops at the first
step that fails. The refresh step is skipped when --workspace is empty or "nada".`,
		Args:    cobra.NoArgs,
		PreRunE: requireKeys(requiredForPipeline...),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			if !cmd.Flags().Changed("workspace") {
				workspace = cfg.Pipeline().Workspace
			}
			executable := cfg.Pipeline().Executable
			if executable == "" {
				if executable, err = os.Executable(); err != nil {
					return fmt.Errorf("locate own executable: %w", err)
				}
			}
			var global []string
			if opts.cfgFile != "" {
				global = []string{"--config", opts.cfgFile}
			}

			runner := &pipeline.Runner{
				Executable: executable,
				GlobalArgs: global,
				Logger:     logger,
				Stdout:     cmd.OutOrStdout(),
				Stderr:     cmd.ErrOrStderr(),
			}
			steps := pipeline.Plan(pipeline.Options{
				Workspace:   workspace,
				ManualLogin: manualLogin,
				Supervised:  supervised,
			})
			report, err := runner.Run(ctx, steps)
			if report != nil {
				for _, s := range report.Steps {
					status := "ok"
					if s.Err != nil {
						status = "failed"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-10s %-7s %s\n", s.Step, status, s.Elapsed.Round(100*time.Millisecond))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %-7s %s\n", "total", "", report.Total.Round(100*time.Millisecond))
				logger.Debug("Pipeline report.", zap.Int("steps", len(report.Steps)), zap.Duration("total", report.Total))
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", `workspace to refresh at the end, or "nada" to skip (default from config)`)
	cmd.Flags().BoolVar(&manualLogin, "manual-login", false, "give the download and upload steps a manual login window")
	cmd.Flags().BoolVar(&supervised, "supervised", false, "show the browser window in every step")
	return cmd
}
