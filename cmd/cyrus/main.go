// Cyrus edge orchestrator: bridges tracker agent sessions to a local
// coding agent, one workspace per issue.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ceedaragents/cyrus/pkg/config"
	"github.com/ceedaragents/cyrus/pkg/version"
)

var (
	flagEnvFile   string
	flagCyrusHome string
)

func main() {
	root := &cobra.Command{
		Use:     "cyrus",
		Short:   "Edge orchestrator bridging tracker agent sessions to a local coding agent",
		Version: version.Full(),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagEnvFile != "" {
				if err := godotenv.Load(flagEnvFile); err != nil {
					slog.Warn("Could not load env file, continuing with existing environment",
						"path", flagEnvFile, "error", err)
				}
			} else {
				// Best-effort default; a missing ./.env is not an error.
				_ = godotenv.Load()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "Path to a .env file to load before reading configuration")
	root.PersistentFlags().StringVar(&flagCyrusHome, "cyrus-home", "", "Configuration directory (default $CYRUS_HOME or ~/.cyrus)")

	root.AddCommand(
		newCheckTokensCmd(),
		newRefreshTokenCmd(),
		newAddRepositoryCmd(),
		newBillingCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func cyrusHome() string {
	if flagCyrusHome != "" {
		return flagCyrusHome
	}
	return config.DefaultHome()
}
