// File: cmd/download.go
package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/telemetry-sync/internal/downloader"
	"github.com/xkilldash9x/telemetry-sync/internal/observability"
	"github.com/xkilldash9x/telemetry-sync/internal/sessionstore"
)

func newDownloadCmd() *cobra.Command {
	var opts downloader.Options
	var supervised bool

	cmd := &cobra.Command{
		Use:         "download",
		Short:       "Export the analytics panel table to Excel",
		Long:        `Restores the analytics session, logs in when needed, opens the panel and exports its results table. The downloaded file is renamed with today's date and recorded in the tracking file.`,
		Annotations: map[string]string{siteAnnotation: sessionstore.Salesforce},
		Args:        cobra.NoArgs,
		PreRunE:     requireKeys("SALESFORCE_URL", "SF_USER"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			store := sessionstore.New(cfg.Paths(), logger)

			if opts.ManualLogin {
				logger.Info("Manual login requested; starting from a clean session.")
				if err := store.Clear(sessionstore.Salesforce); err != nil {
					logger.Warn("Could not clear the previous session.", zap.Error(err))
				}
			}

			onScreen := supervised || opts.ManualLogin || opts.ManualDownloadLogin
			sess, closeBrowser, err := launchFor(ctx, cfg, store, sessionstore.Salesforce, onScreen, cfg.Paths().DownloadsDir, logger)
			if err != nil {
				return err
			}
			defer closeBrowser()

			flow := &downloader.Flow{
				Page:      sess.Tab(),
				Windows:   sess,
				Downloads: sess.Downloads(),
				Store:     store,
				Config:    cfg,
				Logger:    logger,
			}
			res, err := flow.Run(ctx, opts)
			if err != nil {
				return err
			}
			if res.Artifact == "" {
				logger.Warn("Download step finished without a tracked file.", zap.Bool("downloaded", res.Downloaded))
				return nil
			}
			logger.Info("Download step finished.", zap.String("file", res.Artifact))
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.ManualLogin, "manual-login", false, "clear the stored session and allow time to log in by hand")
	cmd.Flags().BoolVar(&opts.ManualDownloadLogin, "manual-download-login", false, "allow time to log in by hand when the export asks for it")
	cmd.Flags().BoolVar(&supervised, "supervised", false, "show the browser window on screen")
	return cmd
}
