// Package review contains the finding model and the LLM-backed reviewers.
//
// A Classifier sends a diff to two expert personas concurrently: one looks
// for critical defects, the other for style and best-practice problems. Both
// check only the lines the diff adds, against a closed rule set (rules.go)
// that can be replaced with a YAML rules pack. Expert answers are parsed
// tolerantly; malformed entries are dropped and a failing expert simply
// contributes no findings.
//
// Merge assigns each finding the fixed confidence of its category and
// orders the combined list by line.
//
// The DetailedReviewer produces a structured whole-PR review (summary,
// issues by type, tests to add) in a single call, falling back to a fixed
// result when the model cannot be reached or answers badly.
package review
