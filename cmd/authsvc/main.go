// Command authsvc runs the user authentication service and its admin tasks.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"userauth/auth-service/internal/config"
	"userauth/auth-service/internal/observability"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:   "authsvc",
		Short: "User authentication service",
		Long: `authsvc serves registration, login and password reset over HTTP and
guards the /api/v1 routes with the strategy named by AUTH_TYPE.

Example usage:
  authsvc serve
  authsvc user add --email ada@example.com --password s3cret
  authsvc user reset-token --email ada@example.com
  authsvc user verify --email ada@example.com --password s3cret
  authsvc wait-db --timeout 30s`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file seeding the environment (skipped when missing)")

	root.AddCommand(newServeCmd(), newUserCmd(), newWaitDBCmd())
	return root
}

// loadRuntime reads the configuration and builds the logger it names.
func loadRuntime() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, logger, nil
}
