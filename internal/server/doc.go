// Package server exposes the webhook, the push channel and the dashboard
// REST API over HTTP.
//
// Handlers are thin: they read the pull request listing, the activity log,
// the settings store and stored analysis results, and start analyses
// through the pipeline. Analysis progress never travels through these
// responses; it reaches observers over the push channel.
package server
