package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/prreview/internal/app"
	"github.com/dshills/prreview/internal/config"
	"github.com/dshills/prreview/internal/github"
	"github.com/dshills/prreview/internal/output"
	"github.com/dshills/prreview/internal/pipeline"
	"github.com/dshills/prreview/internal/providers"
	"github.com/dshills/prreview/internal/review"
)

// Shared review flags
var (
	flagProvider string
	flagModel    string
	flagLanguage string
	flagFormat   string
	flagOut      string
	flagFailOn   string
	flagRules    string
	flagRepo     string
	flagNoRedact bool
	flagNoCache  bool
)

// Review command flags
var (
	flagPost bool
)

func addReviewFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagProvider, "provider", "", "LLM provider (anthropic, openai, gemini, ollama)")
	cmd.Flags().StringVar(&flagModel, "model", "", "Model name")
	cmd.Flags().StringVar(&flagLanguage, "language", "", "Language of review comments")
	cmd.Flags().StringVar(&flagFormat, "format", "", "Output format (text, json, markdown)")
	cmd.Flags().StringVar(&flagOut, "out", "", "Output file path (default: stdout)")
	cmd.Flags().StringVar(&flagFailOn, "fail-on", "", "Fail on severity threshold (none, low, medium, high, rule_violation)")
	cmd.Flags().StringVar(&flagRules, "rules", "", "Rules file path")
	cmd.Flags().StringVar(&flagRepo, "repo", "", "Repository as owner/repo (auto-detected from the git remote if omitted)")
	cmd.Flags().BoolVar(&flagNoRedact, "no-redact", false, "Disable secret redaction (use with caution)")
	cmd.Flags().BoolVar(&flagNoCache, "no-cache", false, "Disable the LLM response cache")
}

func buildOverrides() map[string]string {
	m := make(map[string]string)
	if flagProvider != "" {
		m["provider"] = flagProvider
	}
	if flagModel != "" {
		m["model"] = flagModel
	}
	if flagLanguage != "" {
		m["llm.language"] = flagLanguage
	}
	if flagFormat != "" {
		m["format"] = flagFormat
	}
	if flagFailOn != "" {
		m["failOn"] = flagFailOn
	}
	if flagRules != "" {
		m["rulesFile"] = flagRules
	}
	if flagNoRedact {
		m["privacy.redactSecrets"] = "false"
	}
	if flagNoCache {
		m["llm.cache.enabled"] = "false"
	}
	return m
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// parsePRArgs accepts "owner/repo#N", "owner/repo N", or "N" with the
// repository taken from --repo or the git remote.
func parsePRArgs(args []string, repoFlag string) (pipeline.PRRef, error) {
	switch len(args) {
	case 1:
		if strings.Contains(args[0], "#") {
			return pipeline.ParsePRRef(args[0])
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return pipeline.PRRef{}, fmt.Errorf("invalid PR number %q", args[0])
		}
		owner, repo, ok := github.ParseRepoSlug(repoFlag)
		if !ok {
			if repoFlag != "" {
				return pipeline.PRRef{}, fmt.Errorf("invalid repository %q: want owner/repo", repoFlag)
			}
			var err error
			owner, repo, err = github.DetectRepo()
			if err != nil {
				return pipeline.PRRef{}, fmt.Errorf("%w; use --repo owner/repo", err)
			}
		}
		return pipeline.PRRef{Owner: owner, Repo: repo, Number: n}, nil
	case 2:
		owner, repo, ok := github.ParseRepoSlug(args[0])
		if !ok {
			return pipeline.PRRef{}, fmt.Errorf("invalid repository %q: want owner/repo", args[0])
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return pipeline.PRRef{}, fmt.Errorf("invalid PR number %q", args[1])
		}
		return pipeline.PRRef{Owner: owner, Repo: repo, Number: n}, nil
	default:
		return pipeline.PRRef{}, fmt.Errorf("expected a pull request, got %d arguments", len(args))
	}
}

// failOnExit sets ExitFindings when any finding meets the threshold.
func failOnExit(findings []review.Finding, threshold string) {
	for _, f := range findings {
		if review.MeetsThreshold(f.Severity, threshold) {
			exitCode = ExitFindings
			return
		}
	}
}

func reportError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if providers.IsAuthError(err) {
		exitCode = ExitAuthError
		return
	}
	exitCode = ExitRuntimeError
}

var reviewCmd = &cobra.Command{
	Use:   "review <pr>",
	Short: "Write a detailed review of a pull request",
	Long: "Fetch the changed files of a pull request, ask for a structured review " +
		"(summary, code quality, security, performance, tests to add) and print it as Markdown. " +
		"With --post the review is also posted as a PR comment.",
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := parsePRArgs(args, flagRepo)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitUsageError
			return nil
		}

		cfg, err := loadConfig(buildOverrides())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitUsageError
			return nil
		}
		runDetailedReview(cmd.Context(), cfg, ref)
		return nil
	},
}

func runDetailedReview(ctx context.Context, cfg config.Config, ref pipeline.PRRef) {
	if ctx == nil {
		ctx = context.Background()
	}
	log := newLogger(cfg)
	defer log.Sync()

	reviewer, err := app.NewReviewer(cfg.LLM)
	if err != nil {
		reportError(err)
		return
	}
	gh := app.NewGitHub(cfg.GitHub)

	fmt.Fprintf(os.Stderr, "Fetching files of %s...\n", ref)
	files, err := gh.GetPRFiles(ctx, ref.Owner, ref.Repo, ref.Number)
	if err != nil {
		reportError(err)
		return
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stdout, "PR has no changed files, nothing to review.")
		return
	}

	in := review.PRInput{Owner: ref.Owner, Repo: ref.Repo, Number: ref.Number}
	for _, f := range files {
		in.Files = append(in.Files, review.FileChange{Filename: f.Filename, Patch: f.Patch})
	}

	detailed := review.NewDetailedReviewer(reviewer, review.DetailedOptions{
		MaxTokens:     cfg.LLM.MaxTokens,
		CallTimeout:   cfg.LLM.CallTimeout,
		RedactSecrets: cfg.Privacy.RedactSecrets,
		RedactPaths:   cfg.Privacy.RedactPaths,
		Logger:        log,
	})
	result, err := detailed.Review(ctx, in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: review incomplete: %v\n", err)
		if providers.IsAuthError(err) {
			exitCode = ExitAuthError
		}
	}

	body := output.FormatReview(result)
	if err := writeText(body, flagOut); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		exitCode = ExitRuntimeError
		return
	}

	if flagPost && err == nil {
		if err := gh.PostComment(ctx, ref.Owner, ref.Repo, ref.Number, body); err != nil {
			fmt.Fprintf(os.Stderr, "Error posting review: %v\n", err)
			exitCode = ExitRuntimeError
			return
		}
		fmt.Fprintf(os.Stderr, "Review posted to %s.\n", ref)
	}
}

func writeText(s, outPath string) error {
	if outPath == "" {
		_, err := fmt.Fprintln(os.Stdout, s)
		return err
	}
	return os.WriteFile(outPath, []byte(s+"\n"), 0o644)
}

func init() {
	addReviewFlags(reviewCmd)
	reviewCmd.Flags().BoolVar(&flagPost, "post", false, "Post the review as a PR comment")
}
