// File: cmd/upload.go
package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/telemetry-sync/internal/observability"
	"github.com/xkilldash9x/telemetry-sync/internal/sessionstore"
	"github.com/xkilldash9x/telemetry-sync/internal/uploader"
)

func newUploadCmd() *cobra.Command {
	var manualLogin, supervised bool

	cmd := &cobra.Command{
		Use:         "upload",
		Short:       "Upload the tracked file to the file portal",
		Annotations: map[string]string{siteAnnotation: sessionstore.SharePoint},
		Args:        cobra.NoArgs,
		PreRunE:     requireKeys("SHAREPOINT_URL"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			// Resolved before the browser starts: no file, no browser.
			file, err := uploader.ResolveSource(cfg.Paths(), cfg.SharePoint(), logger)
			if err != nil {
				return err
			}

			store := sessionstore.New(cfg.Paths(), logger)
			if manualLogin {
				if err := store.Clear(sessionstore.SharePoint); err != nil {
					logger.Warn("Could not clear the previous session.", zap.Error(err))
				}
			}

			sess, closeBrowser, err := launchFor(ctx, cfg, store, sessionstore.SharePoint, supervised || manualLogin, "", logger)
			if err != nil {
				return err
			}
			defer closeBrowser()

			u := &uploader.Uploader{Page: sess.Tab(), Store: store, Config: cfg, Logger: logger}
			return u.Run(ctx, file)
		},
	}

	cmd.Flags().BoolVar(&manualLogin, "manual-login", false, "clear the stored session and log in by hand")
	cmd.Flags().BoolVar(&supervised, "supervised", false, "show the browser window on screen")
	return cmd
}
