// Command botbuilder turns a conversation about a Telegram bot into a running
// container: it gathers requirements, generates the code, deploys it with
// Docker and keeps fixing it until the logs are clean.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"botbuilder/internal/config"
	"botbuilder/internal/logging"
)

var version = "dev"

var (
	configPath  string
	verbose     bool
	timeout     time.Duration
	projectsDir string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "botbuilder",
	Short:         "Build and deploy Telegram bots from a conversation",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil {
			// Try parent directory for .env
			_ = godotenv.Load("../.env")
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if projectsDir != "" {
			loaded.ProjectsDir = projectsDir
		}
		if timeout > 0 {
			loaded.Build.SessionTimeout = timeout
		}
		cfg = loaded

		if err := logging.Init(logging.Options{
			Environment: cfg.Environment,
			Verbose:     verbose,
		}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBuild(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "overall session timeout (e.g. 90m)")
	rootCmd.PersistentFlags().StringVar(&projectsDir, "projects-dir", "", "directory that holds generated projects")

	rootCmd.AddCommand(buildCmd, resumeCmd, logsCmd, stopCmd, statusCmd, serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
