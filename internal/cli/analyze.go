package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/dshills/prreview/internal/app"
	"github.com/dshills/prreview/internal/broadcast"
	"github.com/dshills/prreview/internal/config"
	"github.com/dshills/prreview/internal/output"
	"github.com/dshills/prreview/internal/pipeline"
)

var (
	flagDiffURL string
)

var (
	runIDStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("247"))
	progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
	completeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [pr]",
	Short: "Run the two-expert analysis on a pull request",
	Long: "Fetch a pull request diff, run the critical-bug and style-suggestion experts, " +
		"and write the merged findings. Progress is printed to stderr as the run advances.",
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var ref pipeline.PRRef
		if len(args) > 0 || flagDiffURL == "" {
			var err error
			ref, err = parsePRArgs(args, flagRepo)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				exitCode = ExitUsageError
				return nil
			}
		}

		cfg, err := loadConfig(buildOverrides())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitUsageError
			return nil
		}
		if flagLogLevel == "" {
			cfg.Log.Level = "warn"
		}
		runAnalyze(cmd.Context(), cfg, pipeline.Request{PR: ref, DiffURL: flagDiffURL})
		return nil
	},
}

func runAnalyze(ctx context.Context, cfg config.Config, req pipeline.Request) {
	if ctx == nil {
		ctx = context.Background()
	}
	log := newLogger(cfg)
	defer log.Sync()

	a, err := app.New(cfg, log)
	if err != nil {
		reportError(err)
		return
	}
	a.Broadcaster.Subscribe(broadcast.ChannelAnalysis, func(m broadcast.Message) error {
		if e, ok := m.Payload.(pipeline.Event); ok {
			printStatus(os.Stderr, e)
		}
		return nil
	}, broadcast.WithName("cli"))

	if req.DiffURL == "" {
		req = a.Pipeline.RequestFor(req.PR.Owner, req.PR.Repo, req.PR.Number)
	}
	res := a.Pipeline.Run(ctx, req)

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		log.Warn("shutdown incomplete")
	}

	target := req.DiffURL
	if req.PR.Valid() {
		target = req.PR.String()
	}
	report := &output.Report{
		Target:     target,
		RunID:      res.RunID,
		Status:     string(res.Status),
		Findings:   res.Findings,
		Summary:    res.Summary,
		Markdown:   res.Report,
		Error:      res.Error,
		DurationMs: res.DurationMs,
	}
	if err := output.WriteReport(report, cfg.Output.Format, flagOut); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		exitCode = ExitRuntimeError
		return
	}

	if res.Status == pipeline.StatusFailed {
		exitCode = ExitRuntimeError
		return
	}
	failOnExit(res.Findings, cfg.Output.FailOn)
}

// printStatus renders one status event as a terminal line.
func printStatus(w io.Writer, e pipeline.Event) {
	id := e.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	prefix := runIDStyle.Render("[" + id + "]")

	switch e.Status {
	case pipeline.StatusComplete:
		fmt.Fprintf(w, "%s %s %d findings\n", prefix, completeStyle.Render("✓ complete"), len(e.Findings))
	case pipeline.StatusFailed:
		fmt.Fprintf(w, "%s %s %s\n", prefix, failedStyle.Render("✗ failed"), e.Error)
	default:
		fmt.Fprintf(w, "%s %s\n", prefix, progressStyle.Render("• "+e.Message))
	}
}

func init() {
	addReviewFlags(analyzeCmd)
	analyzeCmd.Flags().StringVar(&flagDiffURL, "diff-url", "", "Analyze the diff at this URL instead of a pull request")
}
