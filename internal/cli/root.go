package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/prreview/internal/config"
	"github.com/dshills/prreview/internal/logging"
)

const version = "0.3.0"

// Exit codes returned by Run.
const (
	ExitSuccess      = 0
	ExitFindings     = 1
	ExitUsageError   = 2
	ExitAuthError    = 3
	ExitRuntimeError = 4
)

// Global flags
var (
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "prreview",
	Short: "Pull request review assistant",
	Long: "prreview receives GitHub pull request webhooks, asks two LLM experts about the diff, " +
		"and broadcasts a Markdown report to connected dashboards.",
	SilenceUsage: true,
}

// Run executes the root command and returns an exit code.
func Run() int {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(githubCmd)
	rootCmd.AddCommand(webhookCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error
		return ExitUsageError
	}

	return exitCode
}

// exitCode is set by command handlers to control the process exit code.
var exitCode = ExitSuccess

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print prreview version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "prreview version %s\n", version)
	},
}

// loadConfig loads the effective config with the global flags and the
// command's overrides applied.
func loadConfig(overrides map[string]string) (config.Config, error) {
	if overrides == nil {
		overrides = make(map[string]string)
	}
	if flagConfig != "" {
		overrides["config"] = flagConfig
	}
	if flagLogLevel != "" {
		overrides["log.level"] = flagLogLevel
	}
	return config.Load(overrides)
}

func newLogger(cfg config.Config) *zap.Logger {
	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v; logging disabled\n", err)
		return zap.NewNop()
	}
	return log
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default: $PRREVIEW_CONFIG or the user config dir)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
}
