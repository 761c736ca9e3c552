// File: cmd/checkconfig.go
package cmd

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/telemetry-sync/internal/config"
	"github.com/xkilldash9x/telemetry-sync/internal/observability"
	"github.com/xkilldash9x/telemetry-sync/internal/sessionstore"
)

// requiredForPipeline are the keys without which no step can run.
var requiredForPipeline = []string{"SALESFORCE_URL", "SF_USER", "SHAREPOINT_URL"}

var secretKeys = []string{"SF_PASSWORD", "WORKSPACE_PASSWORD"}

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Report which configuration entries and session directories are present",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "Required:")
			for _, key := range requiredForPipeline {
				val, ok := cfg.Lookup(key)
				fmt.Fprintf(out, "  %-3s %-20s %s\n", mark(ok, "X"), key, display(key, val))
			}

			fmt.Fprintln(out, "Optional:")
			for _, key := range config.LegacyEnvNames() {
				if slices.Contains(requiredForPipeline, key) {
					continue
				}
				val, ok := cfg.Lookup(key)
				fmt.Fprintf(out, "  %-3s %-20s %s\n", mark(ok, "-"), key, display(key, val))
			}

			fmt.Fprintln(out, "Session directories:")
			store := sessionstore.New(cfg.Paths(), observability.GetLogger().Named("check-config"))
			for _, site := range sessionstore.Sites {
				dir := store.Paths(site).Dir
				_, statErr := os.Stat(dir)
				note := ""
				if statErr != nil {
					note = "(created on first run)"
				}
				fmt.Fprintf(out, "  %-3s %s %s\n", mark(statErr == nil, "-"), dir, note)
			}

			return cfg.Require(requiredForPipeline...)
		},
	}
}

func mark(ok bool, missing string) string {
	if ok {
		return "OK"
	}
	return missing
}

// display masks secrets and marks absent values.
func display(key, val string) string {
	switch {
	case val == "":
		return "(not set)"
	case slices.Contains(secretKeys, key):
		return "********"
	default:
		return val
	}
}
