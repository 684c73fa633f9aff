package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
)

// configPath overrides the default configuration directory
// (~/.config/driftsync) for every command.
var configPath string

// debug enables verbose logging across the application.
var debug bool

// rootCmd is the entry point when the binary is called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "driftsync",
	Short: "Keep Kubernetes clusters converged on git-declared state",
	Long: `driftsync continuously reconciles Kubernetes clusters against manifests
declared in git repositories. Applications declare a repository, revision and
path; driftsync detects new commits and cluster drift, applies the declared
state and reports per-resource sync and health status.

Run 'driftsync serve' to start the controller and API server, then manage
Applications with 'driftsync app'.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from the main
// package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the CLI. Called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "driftsync version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", "", "configuration directory (default is ~/.config/driftsync)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newAppCmd())
}
