// Package output renders review results.
//
// FormatFindings produces the PR analysis report sent with every completed
// run, grouping findings into critical bugs and improvement suggestions.
// FormatReview renders the structured whole-PR review as a PR comment.
//
// For the CLI, three report formats are supported:
//   - text: human-readable terminal output (default)
//   - json: full structured JSON report
//   - markdown: the PR analysis report
//
// Use [GetWriter] to obtain a [Writer] for a given format string.
package output
