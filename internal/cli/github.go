package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"

	"github.com/dshills/prreview/internal/app"
	"github.com/dshills/prreview/internal/github"
	"github.com/dshills/prreview/internal/pulls"
)

var (
	flagGHState string
	flagGHLimit int
)

var githubCmd = &cobra.Command{
	Use:   "github",
	Short: "Inspect GitHub pull requests and repositories",
}

var githubPRsCmd = &cobra.Command{
	Use:   "prs [owner/repo...]",
	Short: "List pull requests of the given or configured repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitUsageError
			return nil
		}

		repos := args
		if len(repos) == 0 {
			repos = cfg.GitHub.Repositories
		}
		if len(repos) == 0 && cfg.GitHub.DefaultRepository != "" {
			repos = []string{cfg.GitHub.DefaultRepository}
		}
		if len(repos) == 0 {
			fmt.Fprintln(os.Stderr, "Error: no repositories given or configured (github.repositories)")
			exitCode = ExitUsageError
			return nil
		}
		for _, r := range repos {
			if _, _, ok := github.ParseRepoSlug(r); !ok {
				fmt.Fprintf(os.Stderr, "Error: invalid repository %q: want owner/repo\n", r)
				exitCode = ExitUsageError
				return nil
			}
		}

		store := pulls.NewStore(app.NewGitHub(cfg.GitHub), pulls.Options{
			Repositories: func() []string { return repos },
		})
		page, err := store.List(context.Background(), pulls.Query{Status: flagGHState, Limit: flagGHLimit})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitRuntimeError
			return nil
		}
		writePulls(cmd.OutOrStdout(), page.Data)
		return nil
	},
}

var githubReposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List repositories the configured token can access",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = ExitUsageError
			return nil
		}

		repos, err := app.NewGitHub(cfg.GitHub).ListRepositories(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			if errors.Is(err, github.ErrAuthRequired) {
				exitCode = ExitAuthError
			} else {
				exitCode = ExitRuntimeError
			}
			return nil
		}

		t := newTable("REPOSITORY", "VISIBILITY", "DEFAULT BRANCH")
		for _, r := range repos {
			visibility := "public"
			if r.Private {
				visibility = "private"
			}
			t.Row(r.FullName, visibility, r.DefaultBranch)
		}
		fmt.Fprintln(cmd.OutOrStdout(), t.Render())
		return nil
	},
}

const maxTitleWidth = 60

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(runIDStyle).
		Headers(headers...)
}

func writePulls(w io.Writer, prs []pulls.PullRequest) {
	t := newTable("PR", "STATUS", "AUTHOR", "TITLE")
	for _, p := range prs {
		t.Row(p.Repository+"#"+strconv.Itoa(p.Number), p.Status, p.Author, ansi.Truncate(p.Title, maxTitleWidth, "…"))
	}
	fmt.Fprintln(w, t.Render())
}

func init() {
	githubCmd.AddCommand(githubPRsCmd)
	githubCmd.AddCommand(githubReposCmd)
	githubPRsCmd.Flags().StringVar(&flagGHState, "status", "", "Filter by status (open, closed, merged)")
	githubPRsCmd.Flags().IntVar(&flagGHLimit, "limit", 20, "Maximum number of pull requests")
}
