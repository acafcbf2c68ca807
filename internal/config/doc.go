// Package config loads and merges prreview configuration from multiple sources.
//
// Precedence (highest to lowest):
//  1. CLI flags
//  2. Environment variables (PRREVIEW_*, plus GITHUB_TOKEN, WEBHOOK_SECRET,
//     SLACK_BOT_TOKEN, PORT and the providers' API key variables)
//  3. Config file (PRREVIEW_CONFIG, or $XDG_CONFIG_HOME/prreview/config.yaml)
//  4. Built-in defaults
//
// Use [Load] to obtain a merged [Config], [Save] to write a config file,
// and [SetField] to update a single dotted key such as "llm.model".
package config
