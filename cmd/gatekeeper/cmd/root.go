// Package cmd provides the CLI commands for the gatekeeper.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/gatekeeper/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Gatekeeper - rate limiting and bearer token authentication",
	Long: `Gatekeeper admits HTTP requests only when the caller is within its
fixed-window rate limit and presents a valid bearer credential (JWT or API key).
Admitted requests are forwarded to an upstream or answered with the caller identity.

Quick start:
  1. Create a config file: gatekeeper.yaml (auth.jwt.secret is required)
  2. Run: gatekeeper start

Configuration:
  Config is loaded from gatekeeper.yaml in the current directory,
  $HOME/.gatekeeper/, or /etc/gatekeeper/.

  Environment variables can override config values with the GATEKEEPER_ prefix.
  Example: GATEKEEPER_AUTH_JWT_SECRET=...

Commands:
  start       Start the gatekeeper server
  stop        Stop the running server
  hash-key    Hash an API key for the config file
  token       Mint a test JWT with the configured secret
  keys        Manage API keys in the SQLite key store
  config      Print the effective configuration (secrets redacted)
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./gatekeeper.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
