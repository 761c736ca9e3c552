// File: cmd/credentials.go
package cmd

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/telemetry-sync/internal/observability"
	"github.com/xkilldash9x/telemetry-sync/internal/sessionstore"
)

func newClearCredentialsCmd() *cobra.Command {
	var site string
	cmd := &cobra.Command{
		Use:   "clear-credentials",
		Short: "Delete stored sessions and browser profiles",
		Long:  `Deletes the stored cookies, storage and browser profile of one site, or of every site when --site is not given. The next run of that site starts logged out.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			store := sessionstore.New(cfg.Paths(), observability.GetLogger().Named("credentials"))

			sites := sessionstore.Sites
			if site != "" {
				site = strings.ToLower(site)
				if !slices.Contains(sessionstore.Sites, site) {
					return fmt.Errorf("unknown site %q (known: %s)", site, strings.Join(sessionstore.Sites, ", "))
				}
				sites = []string{site}
			}
			if err := store.ClearAll(ctx, sites...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared: %s\n", strings.Join(sites, ", "))
			return nil
		},
	}
	cmd.Flags().StringVar(&site, "site", "", "site to clear: salesforce, sharepoint or workspace (default: all)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what is stored for each site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			store := sessionstore.New(cfg.Paths(), observability.GetLogger().Named("status"))
			out := cmd.OutOrStdout()
			now := time.Now()

			for _, site := range sessionstore.Sites {
				st, err := store.Inspect(site)
				if err != nil {
					fmt.Fprintf(out, "%-11s unreadable: %v\n", site, err)
					continue
				}
				if !st.Stored {
					fmt.Fprintf(out, "%-11s no stored session (profile: %s)\n", site, yesNo(st.ProfileExists))
					continue
				}
				fmt.Fprintf(out, "%-11s %d cookie(s), earliest expiry %s, profile: %s\n",
					site, st.Cookies, formatExpiry(st.EarliestExpiry, now), yesNo(st.ProfileExists))
				if len(st.LocalKeys) > 0 {
					fmt.Fprintf(out, "%-11s localStorage: %s\n", "", strings.Join(st.LocalKeys, ", "))
				}
				if len(st.SessionKeys) > 0 {
					fmt.Fprintf(out, "%-11s sessionStorage: %s\n", "", strings.Join(st.SessionKeys, ", "))
				}
				for _, tok := range st.Tokens {
					fmt.Fprintf(out, "%-11s token %s/%s expires %s\n", "", tok.Area, tok.Key, formatExpiry(tok.ExpiresAt, now))
				}
			}
			return nil
		},
	}
}

func formatExpiry(t, now time.Time) string {
	switch {
	case t.IsZero():
		return "never (session cookies only)"
	case t.Before(now):
		return t.Format(time.RFC3339) + " (expired)"
	default:
		return t.Format(time.RFC3339)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
