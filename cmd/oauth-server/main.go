// Command oauth-server runs the OAuth 2.0 authorization server engine as a
// standalone service.
//
// Configuration is read from OAUTH_* environment variables, optionally
// layered over a YAML file given with --config. Flags override both.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "oauth-server",
	Short: "OAuth 2.0 authorization server",
	Long: `oauth-server issues and validates OAuth 2.0 access tokens.

It supports the authorization code (with PKCE), implicit, password,
client credentials, refresh token and device authorization grants, and
token introspection for resource servers.

Configuration can be provided via flags, OAUTH_* environment variables,
or a YAML configuration file.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "oauth-server %s (commit %s, built %s)\n", Version, Commit, BuildDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
