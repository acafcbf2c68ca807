// Package pipeline runs pull request analyses end to end.
//
// A run fetches the PR's unified diff, asks the classifier's two experts
// about it, merges their findings and renders the Markdown report. Progress
// is published on the analysis channel as ANALYSIS_STARTED, then
// ANALYSIS_RUNNING and ANALYSIS_PROCESSING as the run advances, and finally
// exactly one of ANALYSIS_COMPLETE or ANALYSIS_FAILED. Every error or panic
// after the start becomes the FAILED event; nothing escapes to the caller.
//
// Submit runs analyses in the background, one goroutine per run, and can
// refuse a second concurrent run for the same PR. The last result per PR is
// kept in memory for a configurable TTL.
package pipeline
