package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/prreview/internal/app"
)

var (
	flagAddr    string
	flagOrigins string
	flagRepos   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook receiver, push channel and dashboard API",
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides := make(map[string]string)
		if flagAddr != "" {
			overrides["server.addr"] = flagAddr
		}
		if origins := splitComma(flagOrigins); len(origins) > 0 {
			overrides["server.allowedOrigins"] = strings.Join(origins, ",")
		}
		if repos := splitComma(flagRepos); len(repos) > 0 {
			overrides["github.repositories"] = strings.Join(repos, ",")
		}
		if flagProvider != "" {
			overrides["provider"] = flagProvider
		}
		if flagModel != "" {
			overrides["model"] = flagModel
		}

		cfg, err := loadConfig(overrides)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitUsageError
			return nil
		}

		log := newLogger(cfg)
		defer log.Sync()

		a, err := app.New(cfg, log)
		if err != nil {
			reportError(err)
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := a.Run(ctx); err != nil {
			log.Error("server stopped", zap.Error(err))
			exitCode = ExitRuntimeError
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (default :3000, or :$PORT)")
	serveCmd.Flags().StringVar(&flagOrigins, "origins", "", "Allowed dashboard origins (comma-separated)")
	serveCmd.Flags().StringVar(&flagRepos, "repos", "", "Repositories to list, owner/repo (comma-separated)")
	serveCmd.Flags().StringVar(&flagProvider, "provider", "", "LLM provider (anthropic, openai, gemini, ollama)")
	serveCmd.Flags().StringVar(&flagModel, "model", "", "Model name")
}
