// File: cmd/validate.go
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/telemetry-sync/internal/files"
	"github.com/xkilldash9x/telemetry-sync/internal/observability"
	"github.com/xkilldash9x/telemetry-sync/internal/validate"
)

func newValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that the tracked export is a readable workbook with data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger().Named("validate")

			if file == "" {
				if file, err = files.LoadTracking(cfg.Paths().TrackingFile); err != nil {
					return err
				}
				if file == "" {
					return errors.New("no tracked file to validate; run download or prepare first")
				}
			}

			report, err := validate.File(file)
			if err != nil {
				return err
			}
			logger.Info("Workbook is valid.",
				zap.String("file", report.Path),
				zap.Int64("bytes", report.Size),
				zap.Strings("sheets", report.Sheets),
				zap.Int("rows", report.FirstSheetRows),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d sheet(s), %d row(s) in %q\n",
				report.Path, len(report.Sheets), report.FirstSheetRows, report.Sheets[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "workbook to validate (default: the tracked file)")
	return cmd
}
