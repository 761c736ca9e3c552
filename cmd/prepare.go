// File: cmd/prepare.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/telemetry-sync/internal/files"
	"github.com/xkilldash9x/telemetry-sync/internal/observability"
)

func newPrepareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prepare",
		Short: "Rename the newest downloaded export and track it for upload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			paths := cfg.Paths()
			logger := observability.GetLogger().Named("prepare")

			artifact, err := files.Prepare(paths, time.Now())
			if err != nil {
				return fmt.Errorf("%w in %s matching %s*%s", err, paths.DownloadsDir, paths.ArtifactPrefix, paths.ArtifactSuffix)
			}
			logger.Info("File ready for upload.", zap.String("file", artifact.Path), zap.String("tracking_file", paths.TrackingFile))
			fmt.Fprintln(cmd.OutOrStdout(), artifact.Path)
			return nil
		},
	}
}
