// File: cmd/refresh.go
package cmd

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/telemetry-sync/internal/config"
	"github.com/xkilldash9x/telemetry-sync/internal/observability"
	"github.com/xkilldash9x/telemetry-sync/internal/sessionstore"
	"github.com/xkilldash9x/telemetry-sync/internal/workspace"
)

// setupWindow bounds how long setup mode waits for the user to close the browser.
const setupWindow = 30 * time.Minute

var (
	errWorkspaceNotReached = errors.New("could not verify access to the workspace")
	errRefreshNotTriggered = errors.New("dataset refresh was not triggered")
)

func newRefreshCmd() *cobra.Command {
	var id string
	var clearCreds, supervised bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh a BI workspace dataset",
		Long: `Opens the selected workspace (kpis, defensa, sectores, or any other id for
WORKSPACE_URL), signs in when needed and triggers "refresh now". The setup
workspace only signs in and keeps the browser open until it is closed.`,
		Annotations: map[string]string{siteAnnotation: sessionstore.Workspace},
		Args:        cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if id == "" {
				id = cfg.Workspace().Default
			}
			return cfg.Require(config.WorkspaceURLKey(id))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			id = strings.ToLower(id)
			logger := observability.GetLogger()
			store := sessionstore.New(cfg.Paths(), logger)

			if clearCreds {
				if err := store.Clear(sessionstore.Workspace); err != nil {
					logger.Warn("Could not clear the previous session.", zap.Error(err))
				}
			}

			onScreen := supervised || clearCreds || id == workspace.Setup
			sess, closeBrowser, err := launchFor(ctx, cfg, store, sessionstore.Workspace, onScreen, "", logger)
			if err != nil {
				return err
			}
			defer closeBrowser()

			r := &workspace.Refresher{
				Page:   sess.Tab(),
				Store:  store,
				Config: cfg,
				Logger: logger,
				WaitForClose: func(ctx context.Context) error {
					return sess.WaitForClose(ctx, setupWindow)
				},
			}
			res, err := r.Run(ctx, id)
			if err != nil {
				return err
			}
			switch {
			case !res.Authenticated:
				return errWorkspaceNotReached
			case id != workspace.Setup && !res.Refreshed:
				return errRefreshNotTriggered
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&id, "workspace", "w", "", "workspace id: setup, kpis, defensa, sectores (default from workspace.default)")
	cmd.Flags().BoolVar(&clearCreds, "clear-credentials", false, "clear the stored workspace session first")
	cmd.Flags().BoolVar(&supervised, "supervised", false, "show the browser window on screen")
	return cmd
}
