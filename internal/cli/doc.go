// Package cli wires together the Cobra command tree for the prreview binary.
//
// It defines the root command and all subcommands (serve, analyze, review,
// github, webhook, config, models, version), binds flags, reads
// configuration, builds the application, and returns deterministic exit
// codes for CI gating.
package cli
